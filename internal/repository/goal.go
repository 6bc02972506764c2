package repository

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/model"
)

type GoalRepository interface {
	Create(ctx context.Context, goal *model.HealthGoal) (*model.HealthGoal, error)
	CreateOrUpdate(ctx context.Context, goal *model.HealthGoal) (*model.HealthGoal, error)
	ByID(ctx context.Context, userID, goalID string) (*model.HealthGoal, error)
	ByTypeAndDate(ctx context.Context, userID, goalType, date string) (*model.HealthGoal, error)
	Update(ctx context.Context, userID, goalID string, patch model.GoalPatch) (*model.HealthGoal, error)
	Save(ctx context.Context, goal *model.HealthGoal) (*model.HealthGoal, error)
	Delete(ctx context.Context, userID, goalID string) error
	Query(ctx context.Context, f Filter) iter.Seq2[*model.HealthGoal, error]
	Count(ctx context.Context, f Filter) (int, error)
}

type goalRepository struct {
	base
}

func NewGoalRepository(db *sqlx.DB, pub Publisher, timeout time.Duration) GoalRepository {
	return &goalRepository{base: newBase(db, pub, timeout)}
}

func (r *goalRepository) Create(ctx context.Context, goal *model.HealthGoal) (*model.HealthGoal, error) {
	if err := goal.Validate(); err != nil {
		return nil, err
	}
	if err := authorize(ctx, goal.UserID); err != nil {
		return nil, err
	}

	g := *goal
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	now := nextVersion(time.Time{})
	g.CreatedAt = now
	g.UpdatedAt = now
	g.Achieved = g.CurrentValue >= g.TargetValue

	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO goals (id, user_id, goal_type, title, target_value, current_value, unit, date,
	                             achieved, streak, last_achieved_date, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx2, query,
		g.ID,
		g.UserID,
		g.GoalType,
		g.Title,
		g.TargetValue,
		g.CurrentValue,
		g.Unit,
		g.Date,
		g.Achieved,
		g.Streak,
		g.LastAchievedDate,
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpInsert, &g)
	return &g, nil
}

// CreateOrUpdate inserts the goal, falling back to updating the existing goal
// of the same type and date when the unique constraint rejects the insert.
func (r *goalRepository) CreateOrUpdate(ctx context.Context, goal *model.HealthGoal) (*model.HealthGoal, error) {
	created, err := r.Create(ctx, goal)
	if !errors.Is(err, model.ErrConflict) {
		return created, err
	}

	existing, err := r.ByTypeAndDate(ctx, goal.UserID, goal.GoalType, goal.Date)
	if err != nil {
		return nil, err
	}

	return r.Update(ctx, goal.UserID, existing.ID, model.GoalPatch{
		Title:        &goal.Title,
		TargetValue:  &goal.TargetValue,
		CurrentValue: &goal.CurrentValue,
		Unit:         &goal.Unit,
	})
}

func (r *goalRepository) ByID(ctx context.Context, userID, goalID string) (*model.HealthGoal, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	goal := &model.HealthGoal{}
	query := `SELECT * FROM goals WHERE id = $1 AND user_id = $2`

	err := r.db.GetContext(ctx, goal, query, goalID, userID)
	if err != nil {
		return nil, classify(err)
	}

	return goal, nil
}

func (r *goalRepository) ByTypeAndDate(ctx context.Context, userID, goalType, date string) (*model.HealthGoal, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	goal := &model.HealthGoal{}
	query := `SELECT * FROM goals WHERE user_id = $1 AND goal_type = $2 AND date = $3`

	err := r.db.GetContext(ctx, goal, query, userID, goalType, date)
	if err != nil {
		return nil, classify(err)
	}

	return goal, nil
}

func (r *goalRepository) Update(ctx context.Context, userID, goalID string, patch model.GoalPatch) (*model.HealthGoal, error) {
	return r.write(ctx, userID, goalID, func(g *model.HealthGoal) {
		*g = patch.Apply(*g)
	})
}

// Save writes every mutable field of goal, including the streak bookkeeping
// produced by the progress calculator. Achieved is recomputed here.
func (r *goalRepository) Save(ctx context.Context, goal *model.HealthGoal) (*model.HealthGoal, error) {
	return r.write(ctx, goal.UserID, goal.ID, func(g *model.HealthGoal) {
		g.Title = goal.Title
		g.TargetValue = goal.TargetValue
		g.CurrentValue = goal.CurrentValue
		g.Unit = goal.Unit
		g.Date = goal.Date
		g.Streak = goal.Streak
		g.LastAchievedDate = goal.LastAchievedDate
	})
}

func (r *goalRepository) write(ctx context.Context, userID, goalID string, mutate func(*model.HealthGoal)) (*model.HealthGoal, error) {
	if err := authorize(ctx, userID); err != nil {
		return nil, err
	}

	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	goal := &model.HealthGoal{}
	err = tx.GetContext(ctx2, goal, `SELECT * FROM goals WHERE id = $1 AND user_id = $2`, goalID, userID)
	if err != nil {
		return nil, classify(err)
	}

	mutate(goal)
	if err := goal.Validate(); err != nil {
		return nil, err
	}
	goal.Achieved = goal.CurrentValue >= goal.TargetValue
	goal.UpdatedAt = nextVersion(goal.UpdatedAt)

	query := `UPDATE goals
	          SET title = $1, target_value = $2, current_value = $3, unit = $4, date = $5,
	              achieved = $6, streak = $7, last_achieved_date = $8, updated_at = $9
	          WHERE id = $10 AND user_id = $11`

	_, err = tx.ExecContext(ctx2, query,
		goal.Title,
		goal.TargetValue,
		goal.CurrentValue,
		goal.Unit,
		goal.Date,
		goal.Achieved,
		goal.Streak,
		goal.LastAchievedDate,
		goal.UpdatedAt,
		goal.ID,
		goal.UserID,
	)
	if err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpUpdate, goal)
	return goal, nil
}

func (r *goalRepository) Delete(ctx context.Context, userID, goalID string) error {
	if err := authorize(ctx, userID); err != nil {
		return err
	}

	goal, err := deleteRow[model.HealthGoal](ctx, r.base, "goals", userID, goalID)
	if err != nil {
		return err
	}

	r.publish(ctx, model.OpDelete, goal)
	return nil
}

func (r *goalRepository) Query(ctx context.Context, f Filter) iter.Seq2[*model.HealthGoal, error] {
	if err := f.validate(); err != nil {
		return func(yield func(*model.HealthGoal, error) bool) { yield(nil, err) }
	}

	where, args := f.where("date")
	return query[model.HealthGoal](ctx, r.base, `SELECT * FROM goals `+where+` ORDER BY date DESC, updated_at DESC`+f.limit(), args...)
}

func (r *goalRepository) Count(ctx context.Context, f Filter) (int, error) {
	return count(ctx, r.base, "goals", "date", f)
}
