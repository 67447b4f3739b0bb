// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound messages buffered per client before it is dropped.
	sendBufferSize = 256
)

// newUpgrader accepts same-host origins and any origin in allowedOrigins.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if slices.Contains(allowedOrigins, origin) {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

// HubRequest types
const (
	ReqTypeFrame       = "FRAME"
	ReqTypeLeaderboard = "LEADERBOARD"
	ReqTypeUsers       = "USERS"
	ReqTypeMessages    = "MESSAGES"
	ReqTypeStats       = "STATS"
)

// HubRequest represents a request to the Hub
type HubRequest struct {
	Type    string
	Client  *wsClient        // For WS frames
	Payload []byte           // Raw WS frame
	Limit   int              // For HTTP reads
	Reply   chan HubResponse // For HTTP requests
}

// HubResponse represents a response from the Hub
type HubResponse struct {
	Data  []byte // JSON encoded result
	Error error
}

// Hub is the single event loop of the server. It owns the Coordinator and
// the set of active clients; every connect, disconnect, inbound frame and
// read request runs to completion on the Hub goroutine before the next one.
type Hub struct {
	coord *Coordinator

	// Registered clients, by connection id.
	clients map[string]*wsClient

	// Inbound requests
	requests chan HubRequest

	// Register requests from the clients.
	register chan *wsClient

	// Unregister requests from clients.
	unregister chan *wsClient

	// Closed when Run returns.
	done chan struct{}

	metrics *Metrics
	debugf  func(string, ...any)
}

// NewHub creates a Hub around coord. Call Run to start it.
func NewHub(coord *Coordinator, metrics *Metrics, debugf func(string, ...any)) *Hub {
	if debugf == nil {
		debugf = func(string, ...any) {}
	}
	return &Hub{
		coord:      coord,
		clients:    make(map[string]*wsClient),
		requests:   make(chan HubRequest, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		metrics:    metrics,
		debugf:     debugf,
	}
}

// Run processes events until ctx is cancelled. All clients are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		for id, c := range h.clients {
			delete(h.clients, id)
			close(c.send)
		}
		h.metrics.setConnections(0)
	}()

	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.metrics.setConnections(len(h.clients))
			h.debugf("client %s connected (%d open)", c.id, len(h.clients))
			h.deliver(c.id, h.coord.Connect(c.id))
		case c := <-h.unregister:
			h.drop(c)
		case req := <-h.requests:
			h.handleRequest(req)
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed once the Hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) handleRequest(req HubRequest) {
	switch req.Type {
	case ReqTypeFrame:
		if req.Client == nil || h.clients[req.Client.id] != req.Client {
			return
		}
		h.deliver(req.Client.id, h.coord.HandleFrame(req.Client.id, req.Payload))
	case ReqTypeLeaderboard:
		h.reply(req, h.coord.Leaderboard.Top(req.Limit))
	case ReqTypeUsers:
		h.reply(req, h.coord.Sessions.List())
	case ReqTypeMessages:
		h.reply(req, h.coord.Relay.Recent(req.Limit))
	case ReqTypeStats:
		h.reply(req, h.coord.Stats())
	default:
		if req.Reply != nil {
			req.Reply <- HubResponse{Error: fmt.Errorf("unknown request type %q", req.Type)}
		}
	}
}

func (h *Hub) reply(req HubRequest, v any) {
	if req.Reply == nil {
		return
	}
	data, err := json.Marshal(v)
	req.Reply <- HubResponse{Data: data, Error: err}
}

// deliver sends effects triggered by origin. A client whose buffer is full is
// dropped after the remaining effects have been delivered to everyone else.
func (h *Hub) deliver(origin string, effects []Effect) {
	var stale []*wsClient
	for _, e := range effects {
		switch e.Target {
		case ToOrigin:
			if c, ok := h.clients[origin]; ok && !c.trySend(e.Message) {
				stale = append(stale, c)
			}
		case ToAll:
			for _, c := range h.clients {
				if !c.trySend(e.Message) {
					stale = append(stale, c)
				}
			}
		}
	}
	for _, c := range stale {
		if h.clients[c.id] == c {
			log.Printf("Dropping slow client %s", c.id)
			h.metrics.clientDropped()
			h.drop(c)
		}
	}
}

// drop removes c and runs its disconnect. It is a no-op for unknown clients.
func (h *Hub) drop(c *wsClient) {
	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.metrics.setConnections(len(h.clients))
	h.debugf("client %s disconnected (%d open)", c.id, len(h.clients))
	h.deliver(c.id, h.coord.Disconnect(c.id))
}

// wsClient is a middleman between the websocket connection and the hub.
type wsClient struct {
	id  string
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Only the hub sends on or
	// closes it.
	send chan Message
}

func (c *wsClient) trySend(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			return
		}
		select {
		case c.hub.requests <- HubRequest{Type: ReqTypeFrame, Client: c, Payload: data}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles websocket requests from the peer.
func ServeWS(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBufferSize),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
