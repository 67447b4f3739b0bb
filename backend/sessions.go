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
	"slices"
	"time"
)

// Session is the identity declared by one live connection.
type Session struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	JoinTime int64  `json:"joinTime"` // Unix milliseconds
}

// SessionRegistry tracks the sessions of all identified connections.
// It is not safe for concurrent use; the Hub goroutine owns it.
type SessionRegistry struct {
	sessions map[string]*Session
	order    []string // connection ids in insertion order
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry. If now is nil, time.Now is used.
func NewSessionRegistry(now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// Join creates or overwrites the session for connId. An overwritten session
// keeps its position in the roster.
func (r *SessionRegistry) Join(connId, username string) (Session, error) {
	if err := ValidateUsername(username); err != nil {
		return Session{}, err
	}
	s, ok := r.sessions[connId]
	if !ok {
		s = &Session{ID: connId}
		r.sessions[connId] = s
		r.order = append(r.order, connId)
	}
	s.Username = username
	s.JoinTime = r.now().UnixMilli()
	return *s, nil
}

// Leave removes the session for connId. It reports false if there was none.
func (r *SessionRegistry) Leave(connId string) (Session, bool) {
	s, ok := r.sessions[connId]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connId)
	if i := slices.Index(r.order, connId); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return *s, true
}

// Get returns the session for connId.
func (r *SessionRegistry) Get(connId string) (Session, bool) {
	s, ok := r.sessions[connId]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns the roster in join order.
func (r *SessionRegistry) List() []Session {
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.sessions[id])
	}
	return out
}

func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}
