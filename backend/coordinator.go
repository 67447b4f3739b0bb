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
	"encoding/json"
	"log"
	"time"
)

// Event types for WebSocket communication
const (
	// Client -> server
	EvtUserJoin    = "user_join"
	EvtSubmitScore = "submit_score"
	EvtPing        = "ping"

	// Both directions
	EvtChatMessage = "chat message"

	// Server -> client
	EvtUserList      = "user_list"
	EvtSystemMessage = "system_message"
	EvtLeaderboard   = "leaderboard"
	EvtInitialData   = "initial_data"
	EvtError         = "error"
	EvtPong          = "pong"
)

// InitialHistory is the number of chat messages sent to a new connection.
const InitialHistory = 50

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InitialData is the payload of EvtInitialData.
type InitialData struct {
	Users    []Session     `json:"users"`
	Messages []ChatMessage `json:"messages"`
}

func newMessage(typ string, data any) Message {
	if data == nil {
		return Message{Type: typ}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to encode %s payload: %v", typ, err)
		return Message{Type: typ}
	}
	return Message{Type: typ, Data: raw}
}

// Target selects the recipients of an Effect.
type Target int

const (
	ToOrigin Target = iota // the connection that triggered the event
	ToAll                  // every open connection, origin included
)

func (t Target) String() string {
	if t == ToAll {
		return "all"
	}
	return "origin"
}

// Effect is an outbound message produced by handling an event. Delivery is
// left to the caller so that one failed send never affects the others.
type Effect struct {
	Target  Target
	Message Message
}

func toOrigin(typ string, data any) Effect {
	return Effect{Target: ToOrigin, Message: newMessage(typ, data)}
}

func toAll(typ string, data any) Effect {
	return Effect{Target: ToAll, Message: newMessage(typ, data)}
}

// ConnState is the protocol state of one connection.
type ConnState int

const (
	StateConnected ConnState = iota + 1
	StateIdentified
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateIdentified:
		return "Identified"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// Stats is a snapshot of the coordinator's state.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Messages    int `json:"messages"`
	Leaderboard int `json:"leaderboard"`
}

type eventHandler func(c *Coordinator, connId string, data json.RawMessage) []Effect

// eventHandlers is the dispatch table for inbound events.
var eventHandlers = map[string]eventHandler{
	EvtUserJoin:    (*Coordinator).handleJoin,
	EvtChatMessage: (*Coordinator).handleChat,
	EvtSubmitScore: (*Coordinator).handleScore,
	EvtPing:        (*Coordinator).handlePing,
}

// Coordinator owns the lifecycle of every connection and wires inbound events
// to the session registry, the message relay and the leaderboard. It never
// touches the network: each call returns the effects to deliver.
//
// A Coordinator is not safe for concurrent use. The Hub serializes all calls.
type Coordinator struct {
	Sessions    *SessionRegistry
	Relay       *MessageRelay
	Leaderboard *Leaderboard

	conns   map[string]ConnState // open connections; absent means Closed
	metrics *Metrics
}

// NewCoordinator creates a coordinator with empty state. now and metrics may
// be nil.
func NewCoordinator(now func() time.Time, metrics *Metrics) *Coordinator {
	sessions := NewSessionRegistry(now)
	return &Coordinator{
		Sessions:    sessions,
		Relay:       NewMessageRelay(sessions, HistoryCapacity, now),
		Leaderboard: NewLeaderboard(sessions),
		conns:       make(map[string]ConnState),
		metrics:     metrics,
	}
}

// State returns the protocol state of connId.
func (c *Coordinator) State(connId string) ConnState {
	if s, ok := c.conns[connId]; ok {
		return s
	}
	return StateClosed
}

// Connect registers a new transport connection and returns its initial sync.
func (c *Coordinator) Connect(connId string) []Effect {
	if _, ok := c.conns[connId]; ok {
		return nil
	}
	c.conns[connId] = StateConnected
	return []Effect{
		toOrigin(EvtLeaderboard, c.Leaderboard.Top(LeaderboardSize)),
		toOrigin(EvtInitialData, InitialData{
			Users:    c.Sessions.List(),
			Messages: c.Relay.Recent(InitialHistory),
		}),
	}
}

// Disconnect closes connId. Calling it again is a no-op.
func (c *Coordinator) Disconnect(connId string) []Effect {
	if _, ok := c.conns[connId]; !ok {
		return nil
	}
	delete(c.conns, connId)

	s, ok := c.Sessions.Leave(connId)
	if !ok {
		return nil
	}
	c.metrics.setSessions(c.Sessions.Len())
	return []Effect{
		toAll(EvtUserList, c.Sessions.List()),
		toAll(EvtSystemMessage, s.Username+" has left the chat"),
	}
}

// HandleFrame decodes one raw WebSocket frame and handles it.
func (c *Coordinator) HandleFrame(connId string, frame []byte) []Effect {
	if _, ok := c.conns[connId]; !ok {
		return nil
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.metrics.eventRejected("malformed")
		return []Effect{toOrigin(EvtError, "Malformed message")}
	}
	return c.Handle(connId, msg)
}

// Handle dispatches one inbound event from connId. Events from connections
// that are not open are ignored.
func (c *Coordinator) Handle(connId string, msg Message) []Effect {
	if _, ok := c.conns[connId]; !ok {
		return nil
	}
	h, ok := eventHandlers[msg.Type]
	if !ok {
		c.metrics.eventRejected("unknown_type")
		return []Effect{toOrigin(EvtError, "Unknown message type")}
	}
	return h(c, connId, msg.Data)
}

func (c *Coordinator) reject(err error) []Effect {
	c.metrics.eventRejected(errorKind(err))
	return []Effect{toOrigin(EvtError, errorText(err))}
}

func (c *Coordinator) handleJoin(connId string, data json.RawMessage) []Effect {
	name, ok := decodeString(data)
	if !ok {
		return c.reject(ErrInvalidIdentity)
	}
	s, err := c.Sessions.Join(connId, name)
	if err != nil {
		return c.reject(err)
	}
	c.conns[connId] = StateIdentified
	c.metrics.setSessions(c.Sessions.Len())
	return []Effect{
		toAll(EvtUserList, c.Sessions.List()),
		toAll(EvtSystemMessage, s.Username+" has joined the chat"),
	}
}

func (c *Coordinator) handleChat(connId string, data json.RawMessage) []Effect {
	if c.conns[connId] != StateIdentified {
		return c.reject(ErrNotJoined)
	}
	text, ok := decodeString(data)
	if !ok {
		return c.reject(ErrInvalidMessage)
	}
	msg, err := c.Relay.Accept(connId, text)
	if err != nil {
		return c.reject(err)
	}
	c.metrics.chatAccepted()
	return []Effect{toAll(EvtChatMessage, msg)}
}

func (c *Coordinator) handleScore(connId string, data json.RawMessage) []Effect {
	if c.conns[connId] != StateIdentified {
		return c.reject(ErrNotJoined)
	}
	score, ok := decodeNumber(data)
	if !ok {
		return c.reject(ErrInvalidScore)
	}
	_, changed, err := c.Leaderboard.Submit(connId, score)
	if err != nil {
		return c.reject(err)
	}
	c.metrics.scoreAccepted(changed)
	return []Effect{toAll(EvtLeaderboard, c.Leaderboard.Top(LeaderboardSize))}
}

func (c *Coordinator) handlePing(connId string, data json.RawMessage) []Effect {
	return []Effect{toOrigin(EvtPong, nil)}
}

// Stats returns counts of the coordinator's state.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Connections: len(c.conns),
		Users:       c.Sessions.Len(),
		Messages:    c.Relay.Len(),
		Leaderboard: c.Leaderboard.Len(),
	}
}
