package healthbeat

import (
	"sync"
	"time"
)

// Status is an instance health verdict.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Event records one instance health transition.
type Event struct {
	Service    string    `json:"service"`
	InstanceID string    `json:"instance_id"`
	Endpoint   string    `json:"endpoint"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
}

const defaultMaxHistory = 100

// Events fans health transitions out to subscribers and keeps a bounded
// history for late joiners.
type Events struct {
	mu          sync.RWMutex
	subscribers map[chan Event]bool
	history     []Event
	maxHistory  int
}

// NewEvents creates an event hub keeping up to maxHistory past events.
func NewEvents(maxHistory int) *Events {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Events{
		subscribers: make(map[chan Event]bool),
		history:     make([]Event, 0, maxHistory),
		maxHistory:  maxHistory,
	}
}

// Subscribe registers a receiver. Slow receivers drop events rather
// than stalling the monitor.
func (e *Events) Subscribe() chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Event, 10)
	e.subscribers[ch] = true
	return ch
}

// Unsubscribe removes and closes a receiver.
func (e *Events) Unsubscribe(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(ch)
	}
}

func (e *Events) publish(event Event) {
	e.mu.Lock()
	if len(e.history) >= e.maxHistory {
		e.history = append(e.history[1:], event)
	} else {
		e.history = append(e.history, event)
	}
	e.mu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	for ch := range e.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Recent returns up to limit most recent events, oldest first.
func (e *Events) Recent(limit int) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	start := len(e.history) - limit
	out := make([]Event, limit)
	copy(out, e.history[start:])
	return out
}
