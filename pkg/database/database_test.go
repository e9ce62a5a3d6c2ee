package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/trainconf/pkg/config"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusInvalid, StatusFor(false, 0))
	assert.Equal(t, StatusInvalid, StatusFor(false, 3))
	assert.Equal(t, StatusWarn, StatusFor(true, 2))
	assert.Equal(t, StatusValid, StatusFor(true, 0))
}

func TestDisabledRegistry(t *testing.T) {
	ctx := context.Background()

	db, err := New(ctx, &config.Database{Enabled: false, Host: "localhost"})
	require.NoError(t, err)
	assert.False(t, db.IsEnabled())

	assert.NoError(t, db.TrackRun(ctx, RunRecord{Name: "gpt", Status: StatusValid}))

	_, err = db.QueryRuns(ctx, "gpt", "")
	assert.EqualError(t, err, "database is not enabled")
	_, err = db.QueryAllRuns(ctx, StatusWarn)
	assert.EqualError(t, err, "database is not enabled")

	assert.NoError(t, db.Close())

	var none *DB
	assert.False(t, none.IsEnabled())
}

func TestConnString(t *testing.T) {
	cfg := &config.Database{Host: "db", Port: 5433, User: "trainer", Password: "pw"}
	assert.Equal(t, "host=db port=5433 user=trainer password=pw dbname=trainconf_registry sslmode=disable", connString(cfg, DBName))
	assert.Equal(t, "0123456789ab", shortDigest("0123456789abcdef"))
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &DB{conn: conn, enabled: true}, mock
}

var runColumns = []string{"name", "path", "digest", "max_steps", "schedule_steps", "warnings", "status", "first_seen", "last_seen"}

func TestInitSchema(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS config_runs`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.initSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackRunUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	assert.True(t, db.IsEnabled())

	rec := RunRecord{
		Name:          "gpt_2_7b",
		Path:          "/configs/gpt_2_7b.yaml",
		Digest:        strings.Repeat("a", 64),
		MaxSteps:      4932121,
		ScheduleSteps: 4932121,
		Warnings:      2,
		Status:        StatusWarn,
	}
	mock.ExpectExec(`(?s)INSERT INTO config_runs .* ON CONFLICT \(name\) DO UPDATE`).
		WithArgs(rec.Name, rec.Path, rec.Digest, rec.MaxSteps, rec.ScheduleSteps, rec.Warnings, rec.Status).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, db.TrackRun(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackRunReportsError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO config_runs`).WillReturnError(errors.New("connection reset"))

	err := db.TrackRun(context.Background(), RunRecord{Name: "gpt", Status: StatusValid})
	assert.EqualError(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRunsFiltersByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	first := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	last := first.Add(48 * time.Hour)

	rows := sqlmock.NewRows(runColumns).
		AddRow("gpt", "/configs/gpt.yaml", "abc", 100, 90, 1, StatusWarn, first, last)
	mock.ExpectQuery(`FROM config_runs\s+WHERE name = \$1\s+AND status = \$2 ORDER BY last_seen DESC`).
		WithArgs("gpt", StatusWarn).
		WillReturnRows(rows)

	records, err := db.QueryRuns(context.Background(), "gpt", StatusWarn)
	require.NoError(t, err)
	assert.Equal(t, []RunRecord{{
		Name:          "gpt",
		Path:          "/configs/gpt.yaml",
		Digest:        "abc",
		MaxSteps:      100,
		ScheduleSteps: 90,
		Warnings:      1,
		Status:        StatusWarn,
		FirstSeen:     first,
		LastSeen:      last,
	}}, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRunsWithoutStatus(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`WHERE name = \$1\s+ORDER BY last_seen DESC`).
		WithArgs("gpt").
		WillReturnRows(sqlmock.NewRows(runColumns))

	records, err := db.QueryRuns(context.Background(), "gpt", "")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryAllRuns(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM config_runs\s+WHERE status = \$1 ORDER BY name, last_seen DESC`).
		WithArgs(StatusInvalid).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow("a", "/a.yaml", "d1", 10, 10, 0, StatusInvalid, now, now).
			AddRow("b", "/b.yaml", "d2", 20, 10, 3, StatusInvalid, now, now))

	records, err := db.QueryAllRuns(context.Background(), StatusInvalid)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Name)
	assert.Equal(t, 3, records[1].Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}
