package model

import "time"

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type EventSource string

const (
	SourceRemotePush    EventSource = "remote-push"
	SourceOptimistic    EventSource = "optimistic-local"
	SourceManualRefresh EventSource = "manual-refresh"
)

// ChangeEvent is a validated change to one resource. Payload is already typed;
// for deletes it carries the last known row.
type ChangeEvent struct {
	ResourceType  ResourceType
	Operation     Operation
	ResourceID    string
	Payload       Resource
	ReceivedAt    time.Time
	Source        EventSource
	OriginSession string
	Version       int64
}

// EventKey identifies a logical delivery for at-least-once deduplication.
type EventKey struct {
	ResourceID string
	Operation  Operation
	Version    int64
}

func (e ChangeEvent) Key() EventKey {
	return EventKey{ResourceID: e.ResourceID, Operation: e.Operation, Version: e.Version}
}

// CacheEntry is the coordinator's unit of truth for one resource id.
type CacheEntry struct {
	Value    Resource
	Version  int64
	Pending  bool
	Deleting bool
}
