package model

import "time"

type MeditationSession struct {
	Base
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Technique       string    `db:"technique" json:"technique"`
	Note            string    `db:"note" json:"note"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
}

func (m *MeditationSession) Kind() ResourceType { return ResourceMeditation }

func (m *MeditationSession) Clone() Resource {
	c := *m
	return &c
}

func (m *MeditationSession) Validate() error {
	if m.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if m.DurationMinutes <= 0 {
		return &ValidationError{Field: "duration_minutes", Reason: "must be positive"}
	}
	return nil
}

type MeditationPatch struct {
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Technique       *string `json:"technique,omitempty"`
	Note            *string `json:"note,omitempty"`
}
