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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	MaxUsernameLen = 20
	MaxMessageLen  = 500

	// MaxScore is the largest integer a browser client can represent exactly.
	MaxScore = 1 << 53
)

// Errors returned for rejected client events. They never affect shared state
// and are reported only to the originating connection.
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrNotJoined       = errors.New("not joined")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrInvalidScore    = errors.New("invalid score")
)

// validateStringLen checks that s is non-empty and at most max characters long.
func validateStringLen(s string, max int, name string) error {
	if s == "" {
		return fmt.Errorf("%s is empty", name)
	}
	if n := utf8.RuneCountInString(s); n > max {
		return fmt.Errorf("%s too long (%d chars, max %d)", name, n, max)
	}
	return nil
}

// ValidateUsername checks a display name declared at join.
func ValidateUsername(name string) error {
	if err := validateStringLen(name, MaxUsernameLen, "username"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

// ValidateMessage checks the text of a chat line.
func ValidateMessage(text string) error {
	if err := validateStringLen(text, MaxMessageLen, "message"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ValidateScore checks a submitted score and returns it as an integer.
// Scores must be finite, non-negative whole numbers no larger than MaxScore.
func ValidateScore(score float64) (int64, error) {
	switch {
	case math.IsNaN(score) || math.IsInf(score, 0):
		return 0, fmt.Errorf("%w: not a finite number", ErrInvalidScore)
	case score < 0:
		return 0, fmt.Errorf("%w: negative score %v", ErrInvalidScore, score)
	case score != math.Trunc(score):
		return 0, fmt.Errorf("%w: fractional score %v", ErrInvalidScore, score)
	case score > MaxScore:
		return 0, fmt.Errorf("%w: score %v out of range", ErrInvalidScore, score)
	}
	return int64(score), nil
}

// decodeString extracts a JSON string payload. Any other JSON type is rejected.
func decodeString(data json.RawMessage) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeNumber extracts a JSON number payload. Any other JSON type is rejected.
func decodeNumber(data json.RawMessage) (float64, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || (data[0] != '-' && (data[0] < '0' || data[0] > '9')) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, false
	}
	return f, true
}

// errorText maps a rejection to the text sent back to the client.
func errorText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		return "Invalid username"
	case errors.Is(err, ErrNotJoined):
		return "You must join the chat first"
	case errors.Is(err, ErrInvalidMessage):
		return "Invalid message"
	case errors.Is(err, ErrInvalidScore):
		return "Invalid score"
	}
	return "Internal server error"
}

// errorKind is the metrics label for a rejection.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrInvalidScore):
		return "invalid_score"
	}
	return "other"
}
