package model

import (
	"fmt"
	"time"
)

type ResourceType string

const (
	ResourceSymptom    ResourceType = "symptom"
	ResourceGoal       ResourceType = "goal"
	ResourceMood       ResourceType = "mood_entry"
	ResourceMeditation ResourceType = "meditation_session"
)

// ResourceTypes lists every tracked resource type in subscription order.
var ResourceTypes = []ResourceType{
	ResourceSymptom,
	ResourceGoal,
	ResourceMood,
	ResourceMeditation,
}

func ParseResourceType(s string) (ResourceType, error) {
	for _, t := range ResourceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "resource_type", Reason: fmt.Sprintf("unknown resource type %q", s)}
}

// Resource is a persisted domain entity owned by a single user.
type Resource interface {
	ResourceID() string
	Owner() string
	Kind() ResourceType
	// Version is the server updated_at in unix nanoseconds. Higher wins.
	Version() int64
	Clone() Resource
}

// Base holds the fields every resource row carries.
type Base struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (b Base) ResourceID() string { return b.ID }
func (b Base) Owner() string      { return b.UserID }
func (b Base) Version() int64     { return b.UpdatedAt.UnixNano() }

// NewResource returns an empty value of the concrete type behind t, ready to
// be decoded into.
func NewResource(t ResourceType) (Resource, error) {
	switch t {
	case ResourceSymptom:
		return &Symptom{}, nil
	case ResourceGoal:
		return &HealthGoal{}, nil
	case ResourceMood:
		return &MoodEntry{}, nil
	case ResourceMeditation:
		return &MeditationSession{}, nil
	}
	return nil, &ValidationError{Field: "resource_type", Reason: fmt.Sprintf("unknown resource type %q", t)}
}
