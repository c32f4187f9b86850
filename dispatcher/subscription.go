package dispatcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/goliatone/go-statemachine"
)

// Handler receives delivered events.
type Handler func(ctx context.Context, evt statemachine.Event) error

// Filter decides per delivery whether a subscription wants an event.
type Filter func(evt statemachine.Event) bool

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscription)

// WithFilter limits deliveries to events the predicate accepts.
func WithFilter(filter Filter) SubscribeOption {
	return func(s *subscription) {
		s.filter = filter
	}
}

// Once removes the subscription after its first successful delivery.
func Once() SubscribeOption {
	return func(s *subscription) {
		s.once = true
	}
}

type subscription struct {
	id      string
	events  map[string]struct{}
	handler Handler
	filter  Filter
	once    bool
}

func newSubscription(events []string, handler Handler, opts ...SubscribeOption) *subscription {
	sub := &subscription{
		id:      uuid.NewString(),
		events:  make(map[string]struct{}, len(events)),
		handler: handler,
	}
	for _, evt := range events {
		if name := statemachine.NormalizeEvent(evt); name != "" {
			sub.events[name] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	return sub
}

func (s *subscription) wants(evt statemachine.Event) bool {
	if _, ok := s.events[statemachine.NormalizeEvent(evt.Name)]; !ok {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}
	return true
}
