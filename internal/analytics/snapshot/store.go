// Package snapshot persists successful aggregate analytics loads so recent
// dashboard states can be listed and reopened. PostgreSQL (lib/pq) backs it
// in deployment and SQLite (modernc) locally.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pabbly/hookdash/internal/analytics"
	apperrors "github.com/pabbly/hookdash/pkg/errors"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/postgres"
	"github.com/pabbly/hookdash/pkg/sqlite"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var schemas = map[string]string{
	postgres.DriverName: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id           BIGSERIAL PRIMARY KEY,
		query        TEXT NOT NULL,
		payload      TEXT NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL,
		captured_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	sqlite.DriverName: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		query        TEXT NOT NULL,
		payload      TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		captured_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Snapshot is one stored load.
type Snapshot struct {
	ID          int64             `json:"id"`
	Query       string            `json:"query"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Result      *analytics.Result `json:"result"`
}

// Store reads and writes the analytics_snapshots table.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewStore wraps db, which must have been opened with the postgres or sqlite
// driver, and creates the table if needed.
func NewStore(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("snapshot store: unsupported driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return &Store{
		db:     db,
		driver: driver,
		logger: logger.WithComponent("snapshot-store"),
	}, nil
}

// Save stores res and returns the new snapshot id.
func (s *Store) Save(ctx context.Context, res *analytics.Result) (int64, error) {
	if res == nil {
		return 0, fmt.Errorf("saving snapshot: %w", apperrors.ErrInvalidInput)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("marshaling result: %w", err)
	}
	query := analytics.BuildQueryString(res.Filters)

	var id int64
	err = s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO analytics_snapshots (query, payload, generated_at) VALUES (?, ?, ?) RETURNING id`),
		query, string(payload), s.timeArg(res.GeneratedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"id", id,
		"query", query,
		"total_customers", res.Summary.TotalCustomers,
	)
	return id, nil
}

// Get loads one snapshot.
func (s *Store) Get(ctx context.Context, id int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, query, payload, generated_at FROM analytics_snapshots WHERE id = ?`), id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "snapshot %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %d: %w", id, err)
	}
	return snap, nil
}

// Latest returns the newest snapshot, or nil if there is none.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// List returns up to limit snapshots, newest first. Rows whose payload no
// longer decodes are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, query, payload, generated_at FROM analytics_snapshots ORDER BY id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

// Prune deletes all but the newest keep snapshots.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM analytics_snapshots WHERE id NOT IN (
			SELECT id FROM analytics_snapshots ORDER BY id DESC LIMIT ?
		)`), keep)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database for the readiness report.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		snap    Snapshot
		payload string
		gen     timeValue
	)
	if err := row.Scan(&snap.ID, &snap.Query, &payload, &gen); err != nil {
		return nil, err
	}
	var res analytics.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decoding snapshot %d: %w", snap.ID, err)
	}
	snap.GeneratedAt = gen.t
	snap.Result = &res
	return &snap, nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != postgres.DriverName {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timeArg(t time.Time) any {
	if s.driver == sqlite.DriverName {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

// timeValue scans a timestamp column from either driver.
type timeValue struct{ t time.Time }

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case time.Time:
		v.t = x.UTC()
		return nil
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	case nil:
		v.t = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (v *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	v.t = t.UTC()
	return nil
}
