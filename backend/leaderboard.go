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

// LeaderboardSize is the length of the view pushed to clients.
const LeaderboardSize = 10

// LeaderboardEntry is the best score recorded under one display name.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

type rankedEntry struct {
	LeaderboardEntry
	seq int // creation order, breaks ties
	pos int // index in Leaderboard.ranked
}

// outranks reports whether e sorts before o.
func (e *rankedEntry) outranks(o *rankedEntry) bool {
	if e.Score != o.Score {
		return e.Score > o.Score
	}
	return e.seq < o.seq
}

// Leaderboard keeps the best score per display name, ranked by score
// descending with ties broken by creation order. Entries live for the
// lifetime of the process, even after their owner disconnects.
type Leaderboard struct {
	sessions *SessionRegistry
	byName   map[string]*rankedEntry
	ranked   []*rankedEntry // always sorted
	nextSeq  int
}

func NewLeaderboard(sessions *SessionRegistry) *Leaderboard {
	return &Leaderboard{
		sessions: sessions,
		byName:   make(map[string]*rankedEntry),
	}
}

// Submit records score for the current display name of connId. It returns
// the resulting entry and whether the board changed.
func (lb *Leaderboard) Submit(connId string, score float64) (LeaderboardEntry, bool, error) {
	s, ok := lb.sessions.Get(connId)
	if !ok {
		return LeaderboardEntry{}, false, ErrNotJoined
	}
	value, err := ValidateScore(score)
	if err != nil {
		return LeaderboardEntry{}, false, err
	}

	e, ok := lb.byName[s.Username]
	if ok && e.Score >= value {
		return e.LeaderboardEntry, false, nil
	}
	if !ok {
		e = &rankedEntry{
			LeaderboardEntry: LeaderboardEntry{Username: s.Username},
			seq:              lb.nextSeq,
			pos:              len(lb.ranked),
		}
		lb.nextSeq++
		lb.byName[s.Username] = e
		lb.ranked = append(lb.ranked, e)
	}
	e.Score = value
	lb.promote(e)
	return e.LeaderboardEntry, true, nil
}

// promote moves e towards the front until the ranking is sorted again.
// Scores only ever increase, so e never needs to move back.
func (lb *Leaderboard) promote(e *rankedEntry) {
	for e.pos > 0 {
		prev := lb.ranked[e.pos-1]
		if !e.outranks(prev) {
			return
		}
		lb.ranked[e.pos-1], lb.ranked[e.pos] = e, prev
		prev.pos++
		e.pos--
	}
}

// Top returns the n best entries. Fewer are returned if fewer exist.
func (lb *Leaderboard) Top(n int) []LeaderboardEntry {
	if n > len(lb.ranked) {
		n = len(lb.ranked)
	}
	if n < 0 {
		n = 0
	}
	out := make([]LeaderboardEntry, 0, n)
	for _, e := range lb.ranked[:n] {
		out = append(out, e.LeaderboardEntry)
	}
	return out
}

// Best returns the entry recorded under username.
func (lb *Leaderboard) Best(username string) (LeaderboardEntry, bool) {
	e, ok := lb.byName[username]
	if !ok {
		return LeaderboardEntry{}, false
	}
	return e.LeaderboardEntry, true
}

func (lb *Leaderboard) Len() int {
	return len(lb.ranked)
}
