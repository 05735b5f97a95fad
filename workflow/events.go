// ABOUTME: Fan-out of run lifecycle events to interested subscribers.
// ABOUTME: Broadcast never blocks; a subscriber with a full buffer misses events.

package workflow

import (
	"sync"
	"time"
)

// EventKind discriminates RunEvent payloads.
type EventKind string

const (
	EventStatus  EventKind = "status"
	EventAttempt EventKind = "attempt"
)

// RunEvent reports a status change or a resolved stage attempt.
type RunEvent struct {
	Kind      EventKind     `json:"kind"`
	RunID     string        `json:"run_id"`
	SessionID string        `json:"session_id"`
	Status    Status        `json:"status"`
	Attempt   *StageAttempt `json:"attempt,omitempty"`
	At        time.Time     `json:"at"`
}

// EventBroadcaster provides a fan-out mechanism for run events.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers []chan RunEvent
}

// NewEventBroadcaster creates a broadcaster with no initial subscribers.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{}
}

// Subscribe creates a new buffered channel for receiving events.
func (b *EventBroadcaster) Subscribe() chan RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan RunEvent, 256)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a channel from the subscriber list and closes it.
func (b *EventBroadcaster) Unsubscribe(ch chan RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Broadcast sends an event to all subscribers without blocking.
func (b *EventBroadcaster) Broadcast(event RunEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
