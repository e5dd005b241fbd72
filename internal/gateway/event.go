package gateway

import (
	"context"
	"time"

	"github.com/user/stevebot/internal/types"
)

// Event is one unit of work bound to a session lane. Events sharing a key
// are handled strictly in dispatch order.
type Event struct {
	ID        types.EventID
	Key       types.SessionKey
	Kind      string
	Handle    func(ctx context.Context) error
	CreatedAt time.Time

	done chan error
}

// NewEvent creates an Event for key. kind only labels the event in logs.
func NewEvent(key types.SessionKey, kind string, handle func(ctx context.Context) error) *Event {
	return &Event{
		ID:        types.NewEventID(),
		Key:       key,
		Kind:      kind,
		Handle:    handle,
		CreatedAt: time.Now(),
	}
}

func (e *Event) finish(err error) {
	if e.done != nil {
		e.done <- err
	}
}
