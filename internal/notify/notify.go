// Package notify fan-outs workflow events to SSE clients and delivery
// channels (SMS/WhatsApp adapters subscribe like any other consumer).
// Delivery is best-effort: a slow or absent subscriber never blocks or
// rolls back the transition that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"sahayata.org/internal/workflow"
)

// Event is one workflow notification.
type Event struct {
	ApplicationID string          `json:"application_id"`
	From          workflow.Status `json:"from_status,omitempty"`
	To            workflow.Status `json:"to_status"`
	ActorID       string          `json:"actor_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Dispatcher fan-outs events to all active subscribers.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewDispatcher initialises an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (d *Dispatcher) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = ch
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.subs, id)
		close(ch)
		d.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (d *Dispatcher) Publish(evt Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range d.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Notify adapts a workflow transition into a published event. Satisfies
// the workflow notifier interface.
func (d *Dispatcher) Notify(applicationID string, ev workflow.TransitionEvent) {
	d.Publish(Event{
		ApplicationID: applicationID,
		From:          ev.From,
		To:            ev.To,
		ActorID:       ev.ActorID,
		Timestamp:     ev.Timestamp,
	})
}
