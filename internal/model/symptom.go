package model

import "time"

const (
	SeverityMin = 1
	SeverityMax = 10
)

type Symptom struct {
	Base
	Name       string    `db:"name" json:"name"`
	Severity   int       `db:"severity" json:"severity"`
	Notes      string    `db:"notes" json:"notes"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

func (s *Symptom) Kind() ResourceType { return ResourceSymptom }

func (s *Symptom) Clone() Resource {
	c := *s
	return &c
}

func (s *Symptom) Validate() error {
	if s.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if s.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if s.Severity < SeverityMin || s.Severity > SeverityMax {
		return &ValidationError{Field: "severity", Reason: "must be between 1 and 10"}
	}
	return nil
}

type SymptomPatch struct {
	Name     *string `json:"name,omitempty"`
	Severity *int    `json:"severity,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}
