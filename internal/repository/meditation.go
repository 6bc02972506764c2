package repository

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/model"
)

type MeditationRepository interface {
	Create(ctx context.Context, session *model.MeditationSession) (*model.MeditationSession, error)
	ByID(ctx context.Context, userID, sessionID string) (*model.MeditationSession, error)
	Update(ctx context.Context, userID, sessionID string, patch model.MeditationPatch) (*model.MeditationSession, error)
	Delete(ctx context.Context, userID, sessionID string) error
	Query(ctx context.Context, f Filter) iter.Seq2[*model.MeditationSession, error]
	Count(ctx context.Context, f Filter) (int, error)
}

type meditationRepository struct {
	base
}

func NewMeditationRepository(db *sqlx.DB, pub Publisher, timeout time.Duration) MeditationRepository {
	return &meditationRepository{base: newBase(db, pub, timeout)}
}

func (r *meditationRepository) Create(ctx context.Context, session *model.MeditationSession) (*model.MeditationSession, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := authorize(ctx, session.UserID); err != nil {
		return nil, err
	}

	m := *session
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := nextVersion(time.Time{})
	if m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	m.StartedAt = m.StartedAt.UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO meditation_sessions (id, user_id, duration_minutes, technique, note, started_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx2, query,
		m.ID,
		m.UserID,
		m.DurationMinutes,
		m.Technique,
		m.Note,
		m.StartedAt,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpInsert, &m)
	return &m, nil
}

func (r *meditationRepository) ByID(ctx context.Context, userID, sessionID string) (*model.MeditationSession, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	session := &model.MeditationSession{}
	err := r.db.GetContext(ctx, session, `SELECT * FROM meditation_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return nil, classify(err)
	}

	return session, nil
}

func (r *meditationRepository) Update(ctx context.Context, userID, sessionID string, patch model.MeditationPatch) (*model.MeditationSession, error) {
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

	m := &model.MeditationSession{}
	err = tx.GetContext(ctx2, m, `SELECT * FROM meditation_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return nil, classify(err)
	}

	if patch.DurationMinutes != nil {
		m.DurationMinutes = *patch.DurationMinutes
	}
	if patch.Technique != nil {
		m.Technique = *patch.Technique
	}
	if patch.Note != nil {
		m.Note = *patch.Note
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.UpdatedAt = nextVersion(m.UpdatedAt)

	_, err = tx.ExecContext(ctx2,
		`UPDATE meditation_sessions SET duration_minutes = $1, technique = $2, note = $3, updated_at = $4 WHERE id = $5 AND user_id = $6`,
		m.DurationMinutes, m.Technique, m.Note, m.UpdatedAt, m.ID, m.UserID,
	)
	if err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpUpdate, m)
	return m, nil
}

func (r *meditationRepository) Delete(ctx context.Context, userID, sessionID string) error {
	if err := authorize(ctx, userID); err != nil {
		return err
	}

	session, err := deleteRow[model.MeditationSession](ctx, r.base, "meditation_sessions", userID, sessionID)
	if err != nil {
		return err
	}

	r.publish(ctx, model.OpDelete, session)
	return nil
}

func (r *meditationRepository) Query(ctx context.Context, f Filter) iter.Seq2[*model.MeditationSession, error] {
	if err := f.validate(); err != nil {
		return func(yield func(*model.MeditationSession, error) bool) { yield(nil, err) }
	}

	where, args := f.where("started_at")
	return query[model.MeditationSession](ctx, r.base, `SELECT * FROM meditation_sessions `+where+` ORDER BY started_at DESC`+f.limit(), args...)
}

func (r *meditationRepository) Count(ctx context.Context, f Filter) (int, error) {
	return count(ctx, r.base, "meditation_sessions", "started_at", f)
}
