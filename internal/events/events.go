// Package events carries domain notifications from the core components
// to whatever front end is attached. The sink is injected at
// construction; core code never calls back into presentation code.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	KindStatus      Kind = "status"
	KindError       Kind = "error"
	KindSignRequest Kind = "sign_request"
	KindConnection  Kind = "connection"
)

type Event struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Sink is a bounded buffer of events. Publish never blocks: when the
// buffer is full the event is dropped and counted instead of stalling
// a core component. A nil Sink swallows everything.
type Sink struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
}

func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sink{ch: make(chan Event, capacity)}
}

func (s *Sink) Publish(kind Kind, text string) {
	if s == nil {
		return
	}
	ev := Event{Kind: kind, Text: text, At: time.Now()}
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Events exposes the receive side for the presentation layer.
func (s *Sink) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

// Next pops the oldest buffered event without blocking.
func (s *Sink) Next() (Event, bool) {
	if s == nil {
		return Event{}, false
	}
	select {
	case ev := <-s.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

func (s *Sink) Dropped() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
