package repository

import (
	"context"
	"iter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/model"
)

// Set groups the typed repositories behind one constructor and gives the
// reconciliation layer type-agnostic list and delete access.
type Set struct {
	Symptoms    SymptomRepository
	Goals       GoalRepository
	Moods       MoodRepository
	Meditations MeditationRepository
}

func NewSet(db *sqlx.DB, pub Publisher, timeout time.Duration) *Set {
	return &Set{
		Symptoms:    NewSymptomRepository(db, pub, timeout),
		Goals:       NewGoalRepository(db, pub, timeout),
		Moods:       NewMoodRepository(db, pub, timeout),
		Meditations: NewMeditationRepository(db, pub, timeout),
	}
}

// List returns every resource of the given type owned by userID.
func (s *Set) List(ctx context.Context, t model.ResourceType, userID string) iter.Seq2[model.Resource, error] {
	f := Filter{UserID: userID}
	switch t {
	case model.ResourceSymptom:
		return erase(s.Symptoms.Query(ctx, f))
	case model.ResourceGoal:
		return erase(s.Goals.Query(ctx, f))
	case model.ResourceMood:
		return erase(s.Moods.Query(ctx, f))
	case model.ResourceMeditation:
		return erase(s.Meditations.Query(ctx, f))
	}
	return func(yield func(model.Resource, error) bool) {
		yield(nil, &model.ValidationError{Field: "resource_type", Reason: string(t)})
	}
}

func (s *Set) Delete(ctx context.Context, t model.ResourceType, userID, id string) error {
	switch t {
	case model.ResourceSymptom:
		return s.Symptoms.Delete(ctx, userID, id)
	case model.ResourceGoal:
		return s.Goals.Delete(ctx, userID, id)
	case model.ResourceMood:
		return s.Moods.Delete(ctx, userID, id)
	case model.ResourceMeditation:
		return s.Meditations.Delete(ctx, userID, id)
	}
	return &model.ValidationError{Field: "resource_type", Reason: string(t)}
}

func erase[T model.Resource](seq iter.Seq2[T, error]) iter.Seq2[model.Resource, error] {
	return func(yield func(model.Resource, error) bool) {
		for v, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
