// Package streak computes goal progress transitions. It is pure: no I/O, no
// clock, no shared state.
package streak

import (
	"github.com/templui/healthsync/internal/model"
)

// Apply returns a copy of goal with delta added to its current value.
//
// The current value is clamped at zero from below only; overshooting the
// target is allowed. The streak advances when the goal flips from not
// achieved to achieved on a date other than the last achievement date, and is
// never decremented here.
func Apply(goal model.HealthGoal, delta float64) model.HealthGoal {
	next := goal
	next.CurrentValue = max(goal.CurrentValue+delta, 0)
	return Settle(goal, next)
}

// Settle recomputes achievement for after, an edited copy of before, and
// advances the streak the same way Apply does. Edits that reach the target
// by changing the current or target value directly count as achievements.
func Settle(before, after model.HealthGoal) model.HealthGoal {
	after.Achieved = Achieved(after.CurrentValue, after.TargetValue)
	if after.Achieved && !before.Achieved && after.Date != before.LastAchievedDate {
		after.Streak = before.Streak + 1
		after.LastAchievedDate = after.Date
	}
	return after
}

func Achieved(current, target float64) bool {
	return current >= target
}

// Transition describes what changed between two goal states.
type Transition struct {
	BecameAchieved bool
	LostAchieved   bool
	StreakAdvanced bool
}

func Diff(before, after model.HealthGoal) Transition {
	return Transition{
		BecameAchieved: after.Achieved && !before.Achieved,
		LostAchieved:   before.Achieved && !after.Achieved,
		StreakAdvanced: after.Streak > before.Streak,
	}
}
