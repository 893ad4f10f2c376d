// Package memory keeps job lifecycle events in process. It stands in for
// Pub/Sub in local mode and lets tests assert on published events.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// Publisher records published job events per topic.
type Publisher struct {
	mu     sync.RWMutex
	nextID int
	events []Event
}

// Event is one recorded publish call.
type Event struct {
	ID      string
	Topic   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a locally scoped ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("local-%d", p.nextID)
	p.events = append(p.events, Event{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Events returns the recorded publishes in order.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// JobEvents returns the recorded payloads that are job lifecycle events,
// skipping anything published with another payload type.
func (p *Publisher) JobEvents() []pipeline.JobEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]pipeline.JobEvent, 0, len(p.events))
	for _, e := range p.events {
		if event, ok := e.Payload.(pipeline.JobEvent); ok {
			out = append(out, event)
		}
	}
	return out
}
