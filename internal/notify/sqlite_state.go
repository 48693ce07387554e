package notify

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteState keeps the operator state in a local database file, for
// single-node setups without Redis.
type SQLiteState struct {
	db         *sql.DB
	operatorID string
}

func OpenSQLiteState(path, operatorID string) (*SQLiteState, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteState{db: db, operatorID: operatorID}, nil
}

func runSQLiteMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{
		MigrationsTable: "notify_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteState) Load(ctx context.Context) (PersistedState, error) {
	state := PersistedState{Acked: make(map[string]time.Time)}

	var checkpoint string
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM notify_checkpoint WHERE operator_id = ?`, s.operatorID).Scan(&checkpoint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return PersistedState{}, fmt.Errorf("query checkpoint: %w", err)
	default:
		t, err := time.Parse(time.RFC3339Nano, checkpoint)
		if err != nil {
			return PersistedState{}, fmt.Errorf("parse checkpoint: %w", err)
		}
		state.Checkpoint = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id FROM notify_unread WHERE operator_id = ? ORDER BY position`, s.operatorID)
	if err != nil {
		return PersistedState{}, fmt.Errorf("query unread: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return PersistedState{}, fmt.Errorf("scan unread row: %w", err)
		}
		state.Unread = append(state.Unread, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return PersistedState{}, fmt.Errorf("row iteration error: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT order_id, created_at FROM notify_acked WHERE operator_id = ?`, s.operatorID)
	if err != nil {
		return PersistedState{}, fmt.Errorf("query acked: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return PersistedState{}, fmt.Errorf("scan acked row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.Acked[id] = t
		}
	}
	if err := rows.Err(); err != nil {
		return PersistedState{}, fmt.Errorf("row iteration error: %w", err)
	}
	return state, nil
}

func (s *SQLiteState) Save(ctx context.Context, state PersistedState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if !state.Checkpoint.IsZero() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notify_checkpoint (operator_id, checkpoint) VALUES (?, ?)
			 ON CONFLICT (operator_id) DO UPDATE SET checkpoint = excluded.checkpoint`,
			s.operatorID, state.Checkpoint.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notify_unread WHERE operator_id = ?`, s.operatorID); err != nil {
		return fmt.Errorf("clear unread: %w", err)
	}
	for i, id := range state.Unread {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notify_unread (operator_id, position, order_id) VALUES (?, ?, ?)`,
			s.operatorID, i, id); err != nil {
			return fmt.Errorf("save unread: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notify_acked WHERE operator_id = ?`, s.operatorID); err != nil {
		return fmt.Errorf("clear acked: %w", err)
	}
	for id, t := range state.Acked {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notify_acked (operator_id, order_id, created_at) VALUES (?, ?, ?)`,
			s.operatorID, id, t.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save acked: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit notify state: %w", err)
	}
	return nil
}

func (s *SQLiteState) Close() error {
	return s.db.Close()
}
