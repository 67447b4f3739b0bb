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
	"time"
)

// HistoryCapacity is the number of chat messages retained by the relay.
const HistoryCapacity = 100

// ChatMessage is an accepted chat line. It is immutable once created.
type ChatMessage struct {
	ID        int64  `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// MessageRelay validates chat lines and keeps the recent history.
// Fan-out to connections is done by the Hub, not here.
type MessageRelay struct {
	sessions *SessionRegistry
	history  *RingBuffer[ChatMessage]
	now      func() time.Time
	lastID   int64
}

func NewMessageRelay(sessions *SessionRegistry, capacity int, now func() time.Time) *MessageRelay {
	if now == nil {
		now = time.Now
	}
	return &MessageRelay{
		sessions: sessions,
		history:  NewRingBuffer[ChatMessage](capacity),
		now:      now,
	}
}

// Accept stamps text with the sender's current display name and appends it to
// the history.
func (m *MessageRelay) Accept(connId, text string) (ChatMessage, error) {
	s, ok := m.sessions.Get(connId)
	if !ok {
		return ChatMessage{}, ErrNotJoined
	}
	if err := ValidateMessage(text); err != nil {
		return ChatMessage{}, err
	}

	ts := m.now().UnixMilli()
	// Ids are time derived but strictly increasing, even within one millisecond.
	id := ts
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id

	msg := ChatMessage{
		ID:        id,
		UserID:    s.ID,
		Username:  s.Username,
		Content:   text,
		Timestamp: ts,
	}
	m.history.Add(msg)
	return msg, nil
}

// Recent returns up to limit of the most recent messages, oldest first.
func (m *MessageRelay) Recent(limit int) []ChatMessage {
	return m.history.Last(limit)
}

func (m *MessageRelay) Len() int {
	return m.history.Len()
}
