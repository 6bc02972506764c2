package repository

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/model"
)

type SymptomRepository interface {
	Create(ctx context.Context, symptom *model.Symptom) (*model.Symptom, error)
	ByID(ctx context.Context, userID, symptomID string) (*model.Symptom, error)
	Update(ctx context.Context, userID, symptomID string, patch model.SymptomPatch) (*model.Symptom, error)
	Delete(ctx context.Context, userID, symptomID string) error
	Query(ctx context.Context, f Filter) iter.Seq2[*model.Symptom, error]
	Count(ctx context.Context, f Filter) (int, error)
}

type symptomRepository struct {
	base
}

func NewSymptomRepository(db *sqlx.DB, pub Publisher, timeout time.Duration) SymptomRepository {
	return &symptomRepository{base: newBase(db, pub, timeout)}
}

func (r *symptomRepository) Create(ctx context.Context, symptom *model.Symptom) (*model.Symptom, error) {
	if err := symptom.Validate(); err != nil {
		return nil, err
	}
	if err := authorize(ctx, symptom.UserID); err != nil {
		return nil, err
	}

	s := *symptom
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := nextVersion(time.Time{})
	if s.OccurredAt.IsZero() {
		s.OccurredAt = now
	}
	s.OccurredAt = s.OccurredAt.UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO symptoms (id, user_id, name, severity, notes, occurred_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx2, query,
		s.ID,
		s.UserID,
		s.Name,
		s.Severity,
		s.Notes,
		s.OccurredAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpInsert, &s)
	return &s, nil
}

func (r *symptomRepository) ByID(ctx context.Context, userID, symptomID string) (*model.Symptom, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	symptom := &model.Symptom{}
	err := r.db.GetContext(ctx, symptom, `SELECT * FROM symptoms WHERE id = $1 AND user_id = $2`, symptomID, userID)
	if err != nil {
		return nil, classify(err)
	}

	return symptom, nil
}

func (r *symptomRepository) Update(ctx context.Context, userID, symptomID string, patch model.SymptomPatch) (*model.Symptom, error) {
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

	s := &model.Symptom{}
	err = tx.GetContext(ctx2, s, `SELECT * FROM symptoms WHERE id = $1 AND user_id = $2`, symptomID, userID)
	if err != nil {
		return nil, classify(err)
	}

	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.Severity != nil {
		s.Severity = *patch.Severity
	}
	if patch.Notes != nil {
		s.Notes = *patch.Notes
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.UpdatedAt = nextVersion(s.UpdatedAt)

	_, err = tx.ExecContext(ctx2,
		`UPDATE symptoms SET name = $1, severity = $2, notes = $3, updated_at = $4 WHERE id = $5 AND user_id = $6`,
		s.Name, s.Severity, s.Notes, s.UpdatedAt, s.ID, s.UserID,
	)
	if err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpUpdate, s)
	return s, nil
}

func (r *symptomRepository) Delete(ctx context.Context, userID, symptomID string) error {
	if err := authorize(ctx, userID); err != nil {
		return err
	}

	symptom, err := deleteRow[model.Symptom](ctx, r.base, "symptoms", userID, symptomID)
	if err != nil {
		return err
	}

	r.publish(ctx, model.OpDelete, symptom)
	return nil
}

func (r *symptomRepository) Query(ctx context.Context, f Filter) iter.Seq2[*model.Symptom, error] {
	if err := f.validate(); err != nil {
		return func(yield func(*model.Symptom, error) bool) { yield(nil, err) }
	}

	where, args := f.where("occurred_at")
	return query[model.Symptom](ctx, r.base, `SELECT * FROM symptoms `+where+` ORDER BY occurred_at DESC`+f.limit(), args...)
}

func (r *symptomRepository) Count(ctx context.Context, f Filter) (int, error) {
	return count(ctx, r.base, "symptoms", "occurred_at", f)
}
