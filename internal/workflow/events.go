package workflow

import (
	"sync"
	"time"

	"image-stitcher/internal/domain"
)

// EventType classifies messages pushed to the presentation layer.
type EventType string

const (
	EventTypeState   EventType = "state"
	EventTypeImages  EventType = "images"
	EventTypeResult  EventType = "result"
	EventTypeFailure EventType = "failure"
)

// Event is a sequenced notification consumed by UI subscribers.
type Event struct {
	Seq       int64                      `json:"seq"`
	Timestamp time.Time                  `json:"timestamp"`
	Type      EventType                  `json:"type"`
	State     domain.WorkflowState       `json:"state,omitempty"`
	Size      int                        `json:"size"`
	Images    []domain.WorkingImage      `json:"images,omitempty"`
	Result    *domain.ResultSummary      `json:"result,omitempty"`
	Failure   *domain.CategorizedFailure `json:"failure,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
