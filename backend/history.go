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

// RingBuffer is a fixed-size circular buffer. Once full, every Add overwrites
// the oldest element.
type RingBuffer[T any] struct {
	data []T
	head int // Points to the *next* write position
	size int
}

// NewRingBuffer returns an empty buffer holding at most capacity elements.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data: make([]T, capacity),
	}
}

// Add appends v, evicting the oldest element if the buffer is full.
func (rb *RingBuffer[T]) Add(v T) {
	rb.data[rb.head] = v
	rb.head = (rb.head + 1) % len(rb.data)
	if rb.size < len(rb.data) {
		rb.size++
	}
}

// Last returns up to n of the most recent elements, oldest first.
func (rb *RingBuffer[T]) Last(n int) []T {
	if n > rb.size {
		n = rb.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]T, 0, n)
	start := rb.head - n + len(rb.data)
	for i := 0; i < n; i++ {
		out = append(out, rb.data[(start+i)%len(rb.data)])
	}
	return out
}

func (rb *RingBuffer[T]) Len() int { return rb.size }

func (rb *RingBuffer[T]) Cap() int { return len(rb.data) }
