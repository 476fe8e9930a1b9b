package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/obsidianstack/sortline/internal/store/migrations"
	"github.com/obsidianstack/sortline/pkg/types"
)

const (
	pgConnTimeout  = 5 * time.Second
	pgMaxOpenConns = 10
	pgMaxIdleConns = 5
	pgConnMaxLife  = 30 * time.Minute
)

const (
	insertEventSQL = `INSERT INTO sort_events
		(id, material, category, destination, confidence, detector_result, is_fault, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listEventsSQL = `SELECT id, material, category, destination, confidence, detector_result, is_fault, recorded_at
		FROM sort_events
		ORDER BY recorded_at DESC NULLS FIRST`

	deleteEventsSQL = `DELETE FROM sort_events`
)

// Postgres is a Backend over a PostgreSQL table. The schema is migrated on
// open.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres applies pending migrations, opens a pgx-backed pool and pings
// it. dsn must be a postgres:// URL.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, pgConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	slog.Info("store: postgres backend ready")
	return &Postgres{db: db}, nil
}

func migrateUp(dsn string) error {
	src, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("postgres: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("postgres: migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, ev types.SortEvent) error {
	var ts sql.NullTime
	if ev.HasTimestamp() {
		ts = sql.NullTime{Time: ev.Timestamp, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, insertEventSQL,
		ev.ID, ev.Material, string(ev.Category), ev.Destination,
		ev.Confidence, ev.DetectorResult, ev.IsFault, ts,
	)
	return err
}

func (p *Postgres) List(ctx context.Context) ([]types.SortEvent, error) {
	rows, err := p.db.QueryContext(ctx, listEventsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.SortEvent, 0)
	for rows.Next() {
		var (
			ev  types.SortEvent
			cat string
			ts  sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.Material, &cat, &ev.Destination,
			&ev.Confidence, &ev.DetectorResult, &ev.IsFault, &ts); err != nil {
			return nil, err
		}
		ev.Category = types.Category(cat)
		if ts.Valid {
			ev.Timestamp = ts.Time.UTC()
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteAll removes every row in one statement, so readers see either the
// full log or an empty one.
func (p *Postgres) DeleteAll(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, deleteEventsSQL)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
