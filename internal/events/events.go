// Package events carries progress notifications from long-running runs to interested sinks.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// Event names.
const (
	PHashCalculated      = "pHash-calculated"
	FindSimilarIteration = "find-similar-iteration"
	MD5Calculated        = "md5-calculated"
)

// Progress is the payload of every event.
type Progress struct {
	RunID    string `json:"runId"`
	Finished int    `json:"finished"`
	Total    int    `json:"total"`
}

// Done reports whether this is the final event of a run.
func (p Progress) Done() bool {
	return p.Finished == p.Total
}

// Event is a named progress notification.
type Event struct {
	Name     string   `json:"name"`
	Progress Progress `json:"progress"`
}

// Sink receives events. Publish must not block the publisher for long; it is fire-and-forget.
type Sink interface {
	Publish(name string, payload Progress)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(name string, payload Progress)

// Publish calls f.
func (f SinkFunc) Publish(name string, payload Progress) {
	f(name, payload)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(string, Progress) {})

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

type multi []Sink

func (m multi) Publish(name string, payload Progress) {
	for _, s := range m {
		s.Publish(name, payload)
	}
}

// Multi fans every event out to all sinks in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// LogSink logs every event at debug level and the final one at info.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(name string, p Progress) {
		level := slog.LevelDebug
		if p.Done() {
			level = slog.LevelInfo
		}
		logger.Log(context.Background(), level, "progress",
			"event", name, "run_id", p.RunID, "finished", p.Finished, "total", p.Total)
	})
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(name string, payload Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Progress: payload})
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Broadcaster provides listener management and event broadcasting.
type Broadcaster struct {
	listeners []chan Event
	closed    bool
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(listener)
			return
		}
	}
}

// Publish sends an event to all listeners.
func (b *Broadcaster) Publish(name string, payload Progress) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- Event{Name: name, Progress: payload}:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Close closes every listener channel. Later listeners receive a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
	b.closed = true
}
