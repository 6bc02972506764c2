package model

import (
	"time"
)

// DateLayout is the calendar-day format used for goal dates.
const DateLayout = "2006-01-02"

type HealthGoal struct {
	Base
	GoalType     string  `db:"goal_type" json:"goal_type"`
	Title        string  `db:"title" json:"title"`
	TargetValue  float64 `db:"target_value" json:"target_value"`
	CurrentValue float64 `db:"current_value" json:"current_value"`
	Unit         string  `db:"unit" json:"unit"`
	Date         string  `db:"date" json:"date"`
	// Achieved is derived from CurrentValue and TargetValue. Never set it directly.
	Achieved         bool   `db:"achieved" json:"achieved"`
	Streak           int    `db:"streak" json:"streak"`
	LastAchievedDate string `db:"last_achieved_date" json:"last_achieved_date"`
}

func (g *HealthGoal) Kind() ResourceType { return ResourceGoal }

func (g *HealthGoal) Clone() Resource {
	c := *g
	return &c
}

func (g *HealthGoal) Validate() error {
	if g.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if g.GoalType == "" {
		return &ValidationError{Field: "goal_type", Reason: "required"}
	}
	if g.TargetValue <= 0 {
		return &ValidationError{Field: "target_value", Reason: "must be positive"}
	}
	if g.CurrentValue < 0 {
		return &ValidationError{Field: "current_value", Reason: "must not be negative"}
	}
	if _, err := time.Parse(DateLayout, g.Date); err != nil {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return nil
}

// GoalPatch holds the mutable goal fields. Nil fields are left unchanged.
type GoalPatch struct {
	Title        *string  `json:"title,omitempty"`
	TargetValue  *float64 `json:"target_value,omitempty"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	Unit         *string  `json:"unit,omitempty"`
	Date         *string  `json:"date,omitempty"`
}

// Apply returns g with the non-nil patch fields written over it.
func (p GoalPatch) Apply(g HealthGoal) HealthGoal {
	if p.Title != nil {
		g.Title = *p.Title
	}
	if p.TargetValue != nil {
		g.TargetValue = *p.TargetValue
	}
	if p.CurrentValue != nil {
		g.CurrentValue = *p.CurrentValue
	}
	if p.Unit != nil {
		g.Unit = *p.Unit
	}
	if p.Date != nil {
		g.Date = *p.Date
	}
	return g
}
