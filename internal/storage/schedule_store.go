package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/model"
)

// ScheduleStore persists the full scheduled-task collection. The
// collection is written wholesale on every mutation; a missing or
// unreadable store yields an empty collection, never a startup failure.
type ScheduleStore interface {
	// SaveAll replaces the persisted collection with the given tasks
	SaveAll(ctx context.Context, tasks []*model.ScheduledTask) error

	// LoadAll returns the persisted collection
	LoadAll(ctx context.Context) ([]*model.ScheduledTask, error)

	// Close releases the underlying store
	Close() error
}

// SQLiteScheduleStore implements ScheduleStore using SQLite
type SQLiteScheduleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteScheduleStore opens (or creates) a schedule store at dbPath
func NewSQLiteScheduleStore(logger *zap.Logger, dbPath string) (*SQLiteScheduleStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteScheduleStore{
		logger: logger.Named("schedule-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteScheduleStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			anchor_hour INTEGER NOT NULL,
			anchor_minute INTEGER NOT NULL,
			scope TEXT,
			worker_count INTEGER NOT NULL,
			active INTEGER NOT NULL,
			notify_on_complete INTEGER NOT NULL,
			log_to_file INTEGER NOT NULL,
			last_run_at DATETIME,
			next_run_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_active ON scheduled_tasks(active);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// SaveAll implements ScheduleStore.SaveAll
func (s *SQLiteScheduleStore) SaveAll(ctx context.Context, tasks []*model.ScheduledTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM scheduled_tasks"); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	for _, t := range tasks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_tasks (
				id, name, kind, anchor_hour, anchor_minute, scope,
				worker_count, active, notify_on_complete, log_to_file,
				last_run_at, next_run_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID,
			t.Name,
			string(t.Kind),
			t.AnchorHour,
			t.AnchorMinute,
			sql.NullString{String: t.Scope, Valid: t.Scope != ""},
			t.WorkerCount,
			t.Active,
			t.NotifyOnComplete,
			t.LogToFile,
			nullTime(t.LastRunAt),
			nullTime(t.NextRunAt),
			t.CreatedAt,
			t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tasks: %w", err)
	}

	s.logger.Debug("Schedule collection persisted", zap.Int("tasks", len(tasks)))
	return nil
}

// LoadAll implements ScheduleStore.LoadAll
func (s *SQLiteScheduleStore) LoadAll(ctx context.Context) ([]*model.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, name, kind, anchor_hour, anchor_minute, scope,
			worker_count, active, notify_on_complete, log_to_file,
			last_run_at, next_run_at, created_at, updated_at
		FROM scheduled_tasks
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.ScheduledTask
	for rows.Next() {
		t := &model.ScheduledTask{}
		var kind string
		var scope sql.NullString
		var lastRun, nextRun sql.NullTime

		err := rows.Scan(
			&t.ID,
			&t.Name,
			&kind,
			&t.AnchorHour,
			&t.AnchorMinute,
			&scope,
			&t.WorkerCount,
			&t.Active,
			&t.NotifyOnComplete,
			&t.LogToFile,
			&lastRun,
			&nextRun,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		t.Kind = model.ScheduleKind(kind)
		if scope.Valid {
			t.Scope = scope.String
		}
		if lastRun.Valid {
			t.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			t.NextRunAt = &nextRun.Time
		}

		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return tasks, nil
}

// Close closes the database connection
func (s *SQLiteScheduleStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
