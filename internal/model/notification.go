package model

import "time"

type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
)

type Notification struct {
	ID        int64            `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	TTL       time.Duration    `json:"ttl"`
	Retryable bool             `json:"retryable,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Sticky notifications stay until removed explicitly.
func (n Notification) Sticky() bool {
	return n.TTL <= 0
}
