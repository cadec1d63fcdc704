// Package store keeps the append-only alert event log in SQLite or
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guardian/internal/logger"
	"guardian/internal/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnsupportedDriver = errors.New("unsupported store driver")

// Store appends alert lifecycle events. Each process writes under its own
// run id so logs from several runs can share one database.
type Store struct {
	db     *sql.DB
	driver string
	runID  string
	log    *logger.Logger
}

func Open(ctx context.Context, cfg models.StoreConfig, log *logger.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
		}
		// a single writer avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	s := &Store{
		db:     db,
		driver: cfg.Driver,
		runID:  uuid.NewString(),
		log:    log.With("store"),
	}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Infof("Opened %s event log (run %s)", cfg.Driver, s.runID)
	return s, nil
}

func (s *Store) RunID() string {
	return s.runID
}

// Record implements alert.Recorder.
func (s *Store) Record(ctx context.Context, ev models.AlertEvent) error {
	payload, err := json.Marshal(ev.Alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", ev.Alert.ID, err)
	}

	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO alert_events (
			run_id, kind, alert_id, alert_type, severity, camera, created_at, recorded_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.runID, string(ev.Kind), ev.Alert.ID, ev.Alert.Type, string(ev.Alert.Severity), ev.Alert.Camera,
		ev.Alert.CreatedAt.UnixNano(), recordedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert %s event for %s: %w", ev.Kind, ev.Alert.ID, err)
	}
	return nil
}

// Events returns events recorded at or after since, oldest first. A limit
// of zero or less returns all of them.
func (s *Store) Events(ctx context.Context, since time.Time, limit int) ([]models.AlertEvent, error) {
	query := `SELECT kind, recorded_at, payload FROM alert_events WHERE recorded_at >= ? ORDER BY event_id`
	args := []interface{}{since.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.AlertEvent
	for rows.Next() {
		var (
			kind       string
			recordedAt int64
			payload    string
		)
		if err := rows.Scan(&kind, &recordedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := models.AlertEvent{
			Kind:       models.AlertEventKind(kind),
			RecordedAt: time.Unix(0, recordedAt).UTC(),
		}
		if err := json.Unmarshal([]byte(payload), &ev.Alert); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Alerts replays the log into alert records created at or after since, in
// creation order. A positive limit keeps only the most recent ones.
func (s *Store) Alerts(ctx context.Context, since time.Time, limit int) ([]models.Alert, error) {
	events, err := s.Events(ctx, time.Time{}, 0)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Alert)
	var order []string
	for _, ev := range events {
		switch ev.Kind {
		case models.AlertCreated:
			if _, seen := byID[ev.Alert.ID]; seen {
				continue
			}
			a := ev.Alert.Clone()
			byID[a.ID] = &a
			order = append(order, a.ID)
		case models.AlertResolved:
			a, ok := byID[ev.Alert.ID]
			if !ok {
				s.log.Warnf("Resolution for unknown alert %s", ev.Alert.ID)
				continue
			}
			a.Resolved = true
			if ev.Alert.ResolvedAt != nil {
				t := *ev.Alert.ResolvedAt
				a.ResolvedAt = &t
			}
		}
	}

	var out []models.Alert
	for _, id := range order {
		a := byID[id]
		if a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *a)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
