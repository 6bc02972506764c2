// Package feed delivers per-user, per-resource-type change streams.
//
// The Broker is the push side: repositories publish committed writes to it and
// it fans them out to subscriptions, in process or over a websocket. The
// Subscriber is the consuming side: it owns one logical channel per
// (user, resource type), reconnects with exponential backoff and validates
// every payload before handing it to the reconciliation layer.
package feed

import (
	"context"
	"fmt"

	"github.com/templui/healthsync/internal/model"
)

// Topic identifies one change stream.
type Topic struct {
	UserID string
	Type   model.ResourceType
}

func (t Topic) String() string {
	return fmt.Sprintf("%s/%s", t.UserID, t.Type)
}

// Filter decides whether an envelope is delivered. Nil accepts everything.
type Filter func(Envelope) bool

// Handler receives envelopes in publish order for one subscription.
type Handler func(Envelope)

// Subscription is a live handle. Done is closed when the subscription ends,
// either through Unsubscribe or because the transport failed; Err reports the
// failure, nil for a clean unsubscribe.
type Subscription interface {
	Topic() Topic
	Done() <-chan struct{}
	Err() error
}

// PubSub is the push channel API the subscriber consumes.
type PubSub interface {
	Subscribe(ctx context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error)
	Unsubscribe(sub Subscription) error
}
