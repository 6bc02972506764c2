package streak

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/templui/healthsync/internal/model"
)

func goal(current, target float64) model.HealthGoal {
	return model.HealthGoal{
		CurrentValue: current,
		TargetValue:  target,
		Achieved:     current >= target,
		Date:         "2026-10-17",
	}
}

func TestApplyProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		g := goal(float64(r.IntN(20)), float64(r.IntN(10)+1))
		d := float64(r.IntN(30) - 15)

		got := Apply(g, d)

		want := g.CurrentValue + d
		if want < 0 {
			want = 0
		}
		assert.Equal(t, want, got.CurrentValue)
		assert.Equal(t, got.CurrentValue >= got.TargetValue, got.Achieved)
		assert.GreaterOrEqual(t, got.Streak, g.Streak)
	}
}

func TestApplyAchievesAndAdvancesStreak(t *testing.T) {
	g := goal(7, 8)
	g.Streak = 3
	g.LastAchievedDate = "2026-10-16"

	got := Apply(g, 1)

	assert.True(t, got.Achieved)
	assert.Equal(t, 4, got.Streak)
	assert.Equal(t, "2026-10-17", got.LastAchievedDate)
	assert.Equal(t, Transition{BecameAchieved: true, StreakAdvanced: true}, Diff(g, got))
}

func TestApplySameDayDoesNotAdvanceTwice(t *testing.T) {
	g := goal(7, 8)
	g.Streak = 4
	g.LastAchievedDate = "2026-10-17"

	got := Apply(g, 1)

	assert.True(t, got.Achieved)
	assert.Equal(t, 4, got.Streak)
}

func TestApplyNeverDecrementsStreak(t *testing.T) {
	g := goal(9, 8)
	g.Streak = 5

	got := Apply(g, -4)

	assert.False(t, got.Achieved)
	assert.Equal(t, 5, got.Streak)
	assert.True(t, Diff(g, got).LostAchieved)
}

func TestApplyClampsAtZeroAndAllowsOvershoot(t *testing.T) {
	assert.Equal(t, 0.0, Apply(goal(2, 8), -5).CurrentValue)
	assert.Equal(t, 12.0, Apply(goal(7, 8), 5).CurrentValue)
}

func TestApplyAlreadyAchievedKeepsStreak(t *testing.T) {
	g := goal(8, 8)
	g.Streak = 2

	got := Apply(g, 1)

	assert.True(t, got.Achieved)
	assert.Equal(t, 2, got.Streak)
}

func TestSettleDirectEdit(t *testing.T) {
	before := goal(7, 8)
	before.Streak = 2
	before.LastAchievedDate = "2026-10-16"

	after := before
	after.CurrentValue = 8
	got := Settle(before, after)
	assert.True(t, got.Achieved)
	assert.Equal(t, 3, got.Streak)
	assert.Equal(t, "2026-10-17", got.LastAchievedDate)

	lowered := before
	lowered.TargetValue = 7
	got = Settle(before, lowered)
	assert.True(t, got.Achieved)
	assert.Equal(t, 3, got.Streak)

	renamed := before
	renamed.Title = "Hydrate"
	got = Settle(before, renamed)
	assert.False(t, got.Achieved)
	assert.Equal(t, 2, got.Streak)
}
