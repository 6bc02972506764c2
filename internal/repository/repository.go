package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	MinTimeout     = 8 * time.Second
	MaxTimeout     = 15 * time.Second
	DefaultTimeout = 10 * time.Second
)

// Publisher receives a change event after every committed write.
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent)
}

// Filter scopes a query. UserID is mandatory; zero times leave the window open.
type Filter struct {
	UserID   string
	From     time.Time
	To       time.Time
	GoalType string // goals only
	Date     string // goals only, YYYY-MM-DD
	Limit    int
}

func (f Filter) validate() error {
	if f.UserID == "" {
		return &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	if f.Limit < 0 {
		return &model.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	return nil
}

// where renders the filter as a WHERE clause. timeColumn is the column the
// From/To window applies to; the goals "date" column holds calendar days and
// is compared as YYYY-MM-DD text.
func (f Filter) where(timeColumn string) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{f.UserID}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	bound := func(t time.Time) any {
		if timeColumn == "date" {
			return t.UTC().Format(model.DateLayout)
		}
		return t.UTC()
	}

	if !f.From.IsZero() {
		add(timeColumn+" >= $%d", bound(f.From))
	}
	if !f.To.IsZero() {
		add(timeColumn+" < $%d", bound(f.To))
	}
	if f.GoalType != "" {
		add("goal_type = $%d", f.GoalType)
	}
	if f.Date != "" {
		add("date = $%d", f.Date)
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) limit() string {
	if f.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return ""
}

// base carries what every typed repository shares.
type base struct {
	db      *sqlx.DB
	pub     Publisher
	timeout time.Duration
}

func newBase(db *sqlx.DB, pub Publisher, timeout time.Duration) base {
	return base{db: db, pub: pub, timeout: ClampTimeout(timeout)}
}

// ClampTimeout keeps a caller-supplied timeout inside the 8s..15s window.
// Zero selects the default.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// authorize rejects writes for a user other than the one on the context.
// Requests without an authenticated user (CLI, tests) pass through.
func authorize(ctx context.Context, userID string) error {
	user := ctxkeys.User(ctx)
	if user != nil && user.ID != userID {
		return model.ErrPermission
	}
	return nil
}

func (b base) publish(ctx context.Context, op model.Operation, r model.Resource) {
	if b.pub == nil {
		return
	}
	b.pub.Publish(ctx, model.ChangeEvent{
		ResourceType:  r.Kind(),
		Operation:     op,
		ResourceID:    r.ResourceID(),
		Payload:       r.Clone(),
		ReceivedAt:    time.Now(),
		Source:        model.SourceRemotePush,
		OriginSession: ctxkeys.SessionID(ctx),
		Version:       r.Version(),
	})
}

// nextVersion returns a write timestamp strictly after prev. Microsecond
// precision keeps versions stable across sqlite and postgres.
func nextVersion(prev time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

// classify maps driver errors onto the model error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %v", model.ErrTransient, err)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed"):
			return fmt.Errorf("%w: %v", model.ErrConflict, err)
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", model.ErrTransient, err)
		}
	}

	return err
}

// query runs q lazily: rows are scanned one at a time as the caller ranges.
// The timeout covers the whole iteration.
func query[T any](ctx context.Context, b base, q string, args ...any) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		ctx, cancel := b.withTimeout(ctx)
		defer cancel()

		rows, err := b.db.QueryxContext(ctx, q, args...)
		if err != nil {
			yield(nil, classify(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			v := new(T)
			if err := rows.StructScan(v); err != nil {
				yield(nil, classify(err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, classify(err))
		}
	}
}

func count(ctx context.Context, b base, table, timeColumn string, f Filter) (int, error) {
	if err := f.validate(); err != nil {
		return 0, err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	where, args := f.where(timeColumn)
	var n int
	err := b.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+table+` `+where, args...)
	return n, classify(err)
}

// deleteRow removes one row inside a transaction and returns what was deleted,
// so the delete event can carry the last known value.
func deleteRow[T any](ctx context.Context, b base, table, userID, id string) (*T, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	v := new(T)
	err = tx.GetContext(ctx, v, `SELECT * FROM `+table+` WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, classify(err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, classify(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, classify(err)
	}

	if rows == 0 {
		return nil, model.ErrNotFound
	}

	return v, classify(tx.Commit())
}

// Collect drains a lazy sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
