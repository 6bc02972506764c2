package repository

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/model"
)

type MoodRepository interface {
	Create(ctx context.Context, entry *model.MoodEntry) (*model.MoodEntry, error)
	ByID(ctx context.Context, userID, entryID string) (*model.MoodEntry, error)
	Update(ctx context.Context, userID, entryID string, patch model.MoodPatch) (*model.MoodEntry, error)
	Delete(ctx context.Context, userID, entryID string) error
	Query(ctx context.Context, f Filter) iter.Seq2[*model.MoodEntry, error]
	Count(ctx context.Context, f Filter) (int, error)
}

type moodRepository struct {
	base
}

func NewMoodRepository(db *sqlx.DB, pub Publisher, timeout time.Duration) MoodRepository {
	return &moodRepository{base: newBase(db, pub, timeout)}
}

func (r *moodRepository) Create(ctx context.Context, entry *model.MoodEntry) (*model.MoodEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := authorize(ctx, entry.UserID); err != nil {
		return nil, err
	}

	m := *entry
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := nextVersion(time.Time{})
	if m.RecordedAt.IsZero() {
		m.RecordedAt = now
	}
	m.RecordedAt = m.RecordedAt.UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO mood_entries (id, user_id, mood, energy, note, recorded_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx2, query,
		m.ID,
		m.UserID,
		m.Mood,
		m.Energy,
		m.Note,
		m.RecordedAt,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	r.publish(ctx, model.OpInsert, &m)
	return &m, nil
}

func (r *moodRepository) ByID(ctx context.Context, userID, entryID string) (*model.MoodEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	entry := &model.MoodEntry{}
	err := r.db.GetContext(ctx, entry, `SELECT * FROM mood_entries WHERE id = $1 AND user_id = $2`, entryID, userID)
	if err != nil {
		return nil, classify(err)
	}

	return entry, nil
}

func (r *moodRepository) Update(ctx context.Context, userID, entryID string, patch model.MoodPatch) (*model.MoodEntry, error) {
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

	m := &model.MoodEntry{}
	err = tx.GetContext(ctx2, m, `SELECT * FROM mood_entries WHERE id = $1 AND user_id = $2`, entryID, userID)
	if err != nil {
		return nil, classify(err)
	}

	if patch.Mood != nil {
		m.Mood = *patch.Mood
	}
	if patch.Energy != nil {
		m.Energy = *patch.Energy
	}
	if patch.Note != nil {
		m.Note = *patch.Note
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.UpdatedAt = nextVersion(m.UpdatedAt)

	_, err = tx.ExecContext(ctx2,
		`UPDATE mood_entries SET mood = $1, energy = $2, note = $3, updated_at = $4 WHERE id = $5 AND user_id = $6`,
		m.Mood, m.Energy, m.Note, m.UpdatedAt, m.ID, m.UserID,
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

func (r *moodRepository) Delete(ctx context.Context, userID, entryID string) error {
	if err := authorize(ctx, userID); err != nil {
		return err
	}

	entry, err := deleteRow[model.MoodEntry](ctx, r.base, "mood_entries", userID, entryID)
	if err != nil {
		return err
	}

	r.publish(ctx, model.OpDelete, entry)
	return nil
}

func (r *moodRepository) Query(ctx context.Context, f Filter) iter.Seq2[*model.MoodEntry, error] {
	if err := f.validate(); err != nil {
		return func(yield func(*model.MoodEntry, error) bool) { yield(nil, err) }
	}

	where, args := f.where("recorded_at")
	return query[model.MoodEntry](ctx, r.base, `SELECT * FROM mood_entries `+where+` ORDER BY recorded_at DESC`+f.limit(), args...)
}

func (r *moodRepository) Count(ctx context.Context, f Filter) (int, error) {
	return count(ctx, r.base, "mood_entries", "recorded_at", f)
}
