package model

import "time"

const (
	MoodMin = 1
	MoodMax = 10
)

type MoodEntry struct {
	Base
	Mood       int       `db:"mood" json:"mood"`
	Energy     int       `db:"energy" json:"energy"` // 0 when not recorded
	Note       string    `db:"note" json:"note"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

func (m *MoodEntry) Kind() ResourceType { return ResourceMood }

func (m *MoodEntry) Clone() Resource {
	c := *m
	return &c
}

func (m *MoodEntry) Validate() error {
	if m.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if m.Mood < MoodMin || m.Mood > MoodMax {
		return &ValidationError{Field: "mood", Reason: "must be between 1 and 10"}
	}
	if m.Energy != 0 && (m.Energy < MoodMin || m.Energy > MoodMax) {
		return &ValidationError{Field: "energy", Reason: "must be between 1 and 10"}
	}
	return nil
}

type MoodPatch struct {
	Mood   *int    `json:"mood,omitempty"`
	Energy *int    `json:"energy,omitempty"`
	Note   *string `json:"note,omitempty"`
}
