package services

import (
	"log"
	"sync"

	"ocr-task-server/internal/models"
)

const subscriptionBuffer = 64

// Subscription is the single live channel attached to one task
type Subscription struct {
	TaskID string
	events chan models.ProgressEvent
	once   sync.Once
}

// Events delivers progress events until the subscription is replaced or detached
func (s *Subscription) Events() <-chan models.ProgressEvent {
	return s.events
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// ProgressHub fans progress out to at most one subscriber per task.
// Its state lives for the process uptime only; durable progress is in the state store.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewProgressHub creates an empty hub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[string]*Subscription),
	}
}

// Attach registers a new subscriber for taskID, replacing and closing any previous one
func (h *ProgressHub) Attach(taskID string) *Subscription {
	sub := &Subscription{
		TaskID: taskID,
		events: make(chan models.ProgressEvent, subscriptionBuffer),
	}

	h.mu.Lock()
	prev := h.subs[taskID]
	h.subs[taskID] = sub
	h.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	return sub
}

// Detach removes sub if it is still the current subscriber of taskID
func (h *ProgressHub) Detach(taskID string, sub *Subscription) {
	h.mu.Lock()
	current, ok := h.subs[taskID]
	if ok && current == sub {
		delete(h.subs, taskID)
	}
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Subscribed reports whether taskID has a live subscriber
func (h *ProgressHub) Subscribed(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[taskID]
	return ok
}

// Publish delivers event to the subscriber of taskID, if any. It never blocks:
// events for a subscriber whose buffer is full are dropped.
func (h *ProgressHub) Publish(taskID string, event models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[taskID]
	if !ok {
		return
	}
	select {
	case sub.events <- event:
	default:
		log.Printf("[WARN] Progress subscriber for task %s is not keeping up, event dropped", taskID)
	}
}

// Close detaches every subscriber
func (h *ProgressHub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
