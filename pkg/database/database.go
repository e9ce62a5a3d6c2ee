package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samogod/trainconf/pkg/config"

	_ "github.com/lib/pq"
)

var DebugLog func(string, ...interface{})

const (
	StatusValid   = "VALID"
	StatusWarn    = "WARN"
	StatusInvalid = "INVALID"
)

type DB struct {
	conn    *sql.DB
	enabled bool
}

type RunRecord struct {
	Name          string
	Path          string
	Digest        string
	MaxSteps      int
	ScheduleSteps int
	Warnings      int
	Status        string
	FirstSeen     time.Time
	LastSeen      time.Time
}

const DBName = "trainconf_registry"

func connString(cfg *config.Database, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, dbname)
}

func New(ctx context.Context, cfg *config.Database) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		if DebugLog != nil {
			DebugLog("run registry disabled")
		}
		return db, nil
	}

	postgresConn, err := sql.Open("postgres", connString(cfg, "postgres"))
	if err != nil {
		return db, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer postgresConn.Close()

	if err := postgresConn.PingContext(ctx); err != nil {
		return db, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var exists bool
	err = postgresConn.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName).Scan(&exists)
	if err != nil {
		return db, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if _, err := postgresConn.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", DBName)); err != nil {
			return db, fmt.Errorf("failed to create database: %w", err)
		}
		if DebugLog != nil {
			DebugLog("database '%s' created", DBName)
		}
	}

	conn, err := sql.Open("postgres", connString(cfg, DBName))
	if err != nil {
		return db, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return db, fmt.Errorf("failed to ping database: %w", err)
	}

	db.conn = conn

	if err := db.initSchema(ctx); err != nil {
		return db, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func (db *DB) initSchema(ctx context.Context) error {
	if !db.enabled || db.conn == nil {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS config_runs (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		path TEXT NOT NULL,
		digest CHAR(64) NOT NULL,
		max_steps BIGINT NOT NULL DEFAULT 0,
		schedule_steps BIGINT NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		first_seen TIMESTAMP NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_config_runs_status ON config_runs(status);
	CREATE INDEX IF NOT EXISTS idx_config_runs_digest ON config_runs(digest);
	`

	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db != nil && db.enabled && db.conn != nil
}

// TrackRun records one checked document. A name seen before keeps its
// first_seen and takes the latest digest, counts and status.
func (db *DB) TrackRun(ctx context.Context, r RunRecord) error {
	if !db.IsEnabled() {
		return nil
	}

	if DebugLog != nil {
		DebugLog("tracking %s (%s) as %s in database", r.Name, shortDigest(r.Digest), r.Status)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO config_runs (name, path, digest, max_steps, schedule_steps, warnings, status, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET path = EXCLUDED.path,
			digest = EXCLUDED.digest,
			max_steps = EXCLUDED.max_steps,
			schedule_steps = EXCLUDED.schedule_steps,
			warnings = EXCLUDED.warnings,
			status = EXCLUDED.status,
			last_seen = NOW()
	`, r.Name, r.Path, r.Digest, r.MaxSteps, r.ScheduleSteps, r.Warnings, r.Status)
	return err
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func (db *DB) QueryRuns(ctx context.Context, name string, status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT name, path, digest, max_steps, schedule_steps, warnings, status, first_seen, last_seen
		FROM config_runs
		WHERE name = $1
	`
	args := []interface{}{name}

	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}

	query += " ORDER BY last_seen DESC"

	return db.query(ctx, query, args...)
}

func (db *DB) QueryAllRuns(ctx context.Context, status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT name, path, digest, max_steps, schedule_steps, warnings, status, first_seen, last_seen
		FROM config_runs
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	query += " ORDER BY name, last_seen DESC"

	return db.query(ctx, query, args...)
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) ([]RunRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.Name, &r.Path, &r.Digest, &r.MaxSteps, &r.ScheduleSteps,
			&r.Warnings, &r.Status, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// StatusFor maps a check outcome to a registry status.
func StatusFor(valid bool, warnings int) string {
	switch {
	case !valid:
		return StatusInvalid
	case warnings > 0:
		return StatusWarn
	default:
		return StatusValid
	}
}
