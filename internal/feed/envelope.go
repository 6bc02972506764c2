package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/templui/healthsync/internal/model"
)

// ErrMalformed marks an envelope that failed boundary validation. Such events
// are quarantined and never reach the coordinator.
var ErrMalformed = errors.New("malformed change event")

// Envelope is the loosely-typed wire form of a change event.
type Envelope struct {
	Type    model.ResourceType `json:"type"`
	Op      model.Operation    `json:"op"`
	ID      string             `json:"id"`
	UserID  string             `json:"user_id"`
	Version int64              `json:"version"`
	Origin  string             `json:"origin,omitempty"`
	SentAt  time.Time          `json:"sent_at"`
	Payload json.RawMessage    `json:"payload"`
}

func (e Envelope) Topic() Topic {
	return Topic{UserID: e.UserID, Type: e.Type}
}

// Encode converts a change event into its wire form.
func Encode(ev model.ChangeEvent) (Envelope, error) {
	if ev.Payload == nil {
		return Envelope{}, fmt.Errorf("%w: event %s has no payload", ErrMalformed, ev.ResourceID)
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	return Envelope{
		Type:    ev.ResourceType,
		Op:      ev.Operation,
		ID:      ev.ResourceID,
		UserID:  ev.Payload.Owner(),
		Version: ev.Version,
		Origin:  ev.OriginSession,
		SentAt:  time.Now().UTC(),
		Payload: payload,
	}, nil
}

// Decode validates an envelope into a typed change event.
func Decode(env Envelope) (model.ChangeEvent, error) {
	switch env.Op {
	case model.OpInsert, model.OpUpdate, model.OpDelete:
	default:
		return model.ChangeEvent{}, fmt.Errorf("%w: unknown operation %q", ErrMalformed, env.Op)
	}
	if env.ID == "" || env.UserID == "" {
		return model.ChangeEvent{}, fmt.Errorf("%w: missing id or user", ErrMalformed)
	}
	if len(env.Payload) == 0 {
		return model.ChangeEvent{}, fmt.Errorf("%w: empty payload for %s", ErrMalformed, env.ID)
	}

	r, err := model.NewResource(env.Type)
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := json.Unmarshal(env.Payload, r); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.ResourceID() != env.ID || r.Owner() != env.UserID {
		return model.ChangeEvent{}, fmt.Errorf("%w: payload identity does not match envelope", ErrMalformed)
	}
	if r.Version() != env.Version {
		return model.ChangeEvent{}, fmt.Errorf("%w: payload version %d, envelope %d", ErrMalformed, r.Version(), env.Version)
	}

	return model.ChangeEvent{
		ResourceType:  env.Type,
		Operation:     env.Op,
		ResourceID:    env.ID,
		Payload:       r,
		ReceivedAt:    time.Now(),
		Source:        model.SourceRemotePush,
		OriginSession: env.Origin,
		Version:       env.Version,
	}, nil
}
