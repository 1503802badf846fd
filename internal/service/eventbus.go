package service

import (
	"sync"

	"github.com/bnema/webmclip/internal/domain"
)

type EventType string

const (
	EventTypeState    EventType = "state"
	EventTypeProgress EventType = "progress"
	EventTypeOutput   EventType = "output"
)

// Event is one notification about the controller's session.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"session_id,omitempty"`
	State      domain.SessionState `json:"state,omitempty"`
	Progress   float64             `json:"progress"`
	OutputPath string              `json:"output_path,omitempty"`
	Message    string              `json:"message,omitempty"`
}

type EventPublisher interface {
	Publish(event Event)
}

type EventBus struct {
	subscribers []chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (eb *EventBus) Subscribe() chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}

func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}
