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
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub, handler := NewServerHandler(ctx, opts)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		server.Close()
	})
	return server, hub
}

func getWSURL(server *httptest.Server) string {
	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// dial connects to the server and consumes the initial sync.
func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(getWSURL(server), nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	expect(t, conn, EvtLeaderboard)
	expect(t, conn, EvtInitialData)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	if err := conn.WriteJSON(newMessage(typ, data)); err != nil {
		t.Fatalf("Failed to send %s: %v", typ, err)
	}
}

func expect(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	var msg Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read %s: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("Expected %s, got %s: %s", typ, msg.Type, msg.Data)
	}
	return msg
}

// expectQuiet checks that nothing but the answer to a ping is pending.
func expectQuiet(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, EvtPing, nil)
	expect(t, conn, EvtPong)
}

func dataString(t *testing.T, msg Message) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		t.Fatalf("Expected string payload in %s, got %s", msg.Type, msg.Data)
	}
	return s
}

func TestWebSocket(t *testing.T) {
	t.Run("InitialSync", func(t *testing.T) {
		server, _ := newTestServer(t, Options{})
		conn, _, err := websocket.DefaultDialer.Dial(getWSURL(server), nil)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer conn.Close()

		lb := expect(t, conn, EvtLeaderboard)
		if string(lb.Data) != "[]" {
			t.Errorf("Expected empty leaderboard, got %s", lb.Data)
		}
		initial := expect(t, conn, EvtInitialData)
		var data InitialData
		if err := json.Unmarshal(initial.Data, &data); err != nil {
			t.Fatalf("Bad initial_data: %v", err)
		}
		if len(data.Users) != 0 || len(data.Messages) != 0 {
			t.Errorf("Expected empty initial data, got %+v", data)
		}
	})

	t.Run("JoinChatAndScore", func(t *testing.T) {
		server, _ := newTestServer(t, Options{})
		a := dial(t, server)
		send(t, a, EvtUserJoin, "Ace")
		expect(t, a, EvtUserList)
		if got := dataString(t, expect(t, a, EvtSystemMessage)); got != "Ace has joined the chat" {
			t.Errorf("Unexpected notice %q", got)
		}

		b := dial(t, server)
		send(t, b, EvtUserJoin, "Rex")
		for _, conn := range []*websocket.Conn{a, b} {
			var roster []Session
			json.Unmarshal(expect(t, conn, EvtUserList).Data, &roster)
			if len(roster) != 2 || roster[0].Username != "Ace" || roster[1].Username != "Rex" {
				t.Errorf("Unexpected roster %+v", roster)
			}
			expect(t, conn, EvtSystemMessage)
		}

		send(t, a, EvtChatMessage, "hi")
		got := map[*websocket.Conn][]ChatMessage{}
		for _, conn := range []*websocket.Conn{a, b} {
			var m ChatMessage
			json.Unmarshal(expect(t, conn, EvtChatMessage).Data, &m)
			got[conn] = append(got[conn], m)
		}
		send(t, b, EvtChatMessage, "yo")
		for _, conn := range []*websocket.Conn{a, b} {
			var m ChatMessage
			json.Unmarshal(expect(t, conn, EvtChatMessage).Data, &m)
			got[conn] = append(got[conn], m)
		}
		for _, conn := range []*websocket.Conn{a, b} {
			msgs := got[conn]
			if msgs[0].Username != "Ace" || msgs[0].Content != "hi" || msgs[1].Username != "Rex" || msgs[1].Content != "yo" {
				t.Errorf("Unexpected chat order %+v", msgs)
			}
			if msgs[1].ID <= msgs[0].ID {
				t.Errorf("Message ids not increasing: %d, %d", msgs[0].ID, msgs[1].ID)
			}
		}

		send(t, a, EvtSubmitScore, 50)
		for _, conn := range []*websocket.Conn{a, b} {
			var top []LeaderboardEntry
			json.Unmarshal(expect(t, conn, EvtLeaderboard).Data, &top)
			if len(top) != 1 || top[0] != (LeaderboardEntry{Username: "Ace", Score: 50}) {
				t.Errorf("Unexpected leaderboard %+v", top)
			}
		}

		// A lower score keeps the best but the view is still pushed to all.
		send(t, a, EvtSubmitScore, 30)
		for _, conn := range []*websocket.Conn{a, b} {
			var top []LeaderboardEntry
			json.Unmarshal(expect(t, conn, EvtLeaderboard).Data, &top)
			if len(top) != 1 || top[0] != (LeaderboardEntry{Username: "Ace", Score: 50}) {
				t.Errorf("Unexpected leaderboard after lower score %+v", top)
			}
		}
		expectQuiet(t, a)
		expectQuiet(t, b)
	})

	t.Run("ErrorsGoToOriginOnly", func(t *testing.T) {
		server, _ := newTestServer(t, Options{})
		a := dial(t, server)
		send(t, a, EvtUserJoin, "Ace")
		expect(t, a, EvtUserList)
		expect(t, a, EvtSystemMessage)

		b := dial(t, server)
		send(t, b, EvtChatMessage, "hi")
		if got := dataString(t, expect(t, b, EvtError)); got != "You must join the chat first" {
			t.Errorf("Unexpected error %q", got)
		}
		send(t, b, EvtUserJoin, "")
		if got := dataString(t, expect(t, b, EvtError)); got != "Invalid username" {
			t.Errorf("Unexpected error %q", got)
		}
		send(t, a, EvtSubmitScore, -5)
		if got := dataString(t, expect(t, a, EvtError)); got != "Invalid score" {
			t.Errorf("Unexpected error %q", got)
		}

		expectQuiet(t, a)
		expectQuiet(t, b)
	})

	t.Run("MalformedFrame", func(t *testing.T) {
		server, _ := newTestServer(t, Options{})
		a := dial(t, server)
		if err := a.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if got := dataString(t, expect(t, a, EvtError)); got != "Malformed message" {
			t.Errorf("Unexpected error %q", got)
		}
		// The connection survives.
		expectQuiet(t, a)
	})

	t.Run("DisconnectBroadcastsLeave", func(t *testing.T) {
		server, _ := newTestServer(t, Options{})
		a := dial(t, server)
		send(t, a, EvtUserJoin, "Ace")
		expect(t, a, EvtUserList)
		expect(t, a, EvtSystemMessage)

		b := dial(t, server)
		send(t, b, EvtUserJoin, "Rex")
		expect(t, a, EvtUserList)
		expect(t, a, EvtSystemMessage)
		b.Close()

		var roster []Session
		json.Unmarshal(expect(t, a, EvtUserList).Data, &roster)
		if len(roster) != 1 || roster[0].Username != "Ace" {
			t.Errorf("Unexpected roster after leave %+v", roster)
		}
		if got := dataString(t, expect(t, a, EvtSystemMessage)); got != "Rex has left the chat" {
			t.Errorf("Unexpected notice %q", got)
		}

		// A connection that never joined leaves silently.
		c := dial(t, server)
		c.Close()
		expectQuiet(t, a)
	})

	t.Run("OriginCheck", func(t *testing.T) {
		server, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://blockfly.example"}})

		header := http.Header{}
		header.Set("Origin", "https://evil.example")
		if _, resp, err := websocket.DefaultDialer.Dial(getWSURL(server), header); err == nil {
			t.Errorf("Expected handshake to fail for foreign origin")
		} else if resp != nil && resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}

		header.Set("Origin", "https://blockfly.example")
		conn, _, err := websocket.DefaultDialer.Dial(getWSURL(server), header)
		if err != nil {
			t.Fatalf("Expected allowed origin to connect: %v", err)
		}
		conn.Close()
	})

	t.Run("ShutdownClosesClients", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		hub, handler := NewServerHandler(ctx, Options{})
		server := httptest.NewServer(handler)
		defer server.Close()

		conn, _, err := websocket.DefaultDialer.Dial(getWSURL(server), nil)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer conn.Close()
		expect(t, conn, EvtLeaderboard)
		expect(t, conn, EvtInitialData)

		cancel()
		<-hub.Done()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Errorf("Expected connection to be closed after shutdown")
		}
	})
}
