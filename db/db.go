// Package db archives monitor samples in Postgres for later review.
// The archive is optional; the monitor runs without one.
package db

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/arisehq/live-monitor/types"
)

type Archive struct {
	db *sql.DB
}

// Open connects using the DB_* environment variables and creates the
// schema if needed.
func Open() (*Archive, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
	)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}
	if err = conn.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	a := &Archive{db: conn}
	if err = a.createTables(); err != nil {
		return nil, fmt.Errorf("error creating tables: %v", err)
	}
	return a, nil
}

func (a *Archive) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS monitor_sessions (
			session_id BIGINT PRIMARY KEY,
			course_id BIGINT NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE,
			status VARCHAR(16) NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_samples (
			id SERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			marked_count INTEGER NOT NULL,
			total_students INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS device_samples (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			state VARCHAR(16) NOT NULL,
			signal VARCHAR(8),
			battery INTEGER,
			queue_count INTEGER,
			sync_count INTEGER,
			last_seen_seconds INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_samples_session ON attendance_samples(session_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_device_samples_timestamp ON device_samples(timestamp DESC)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// RecordSession upserts the session row; status is "active" or
// "ended".
func (a *Archive) RecordSession(h types.SessionHandle, status string) error {
	_, err := a.db.Exec(`
		INSERT INTO monitor_sessions (session_id, course_id, end_time, status, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id) DO UPDATE
		SET end_time = $3, status = $4, updated_at = NOW()
	`, h.SessionID, h.CourseID, h.EndTime, status)
	return err
}

func (a *Archive) RecordAttendanceSample(sessionID int64, marked, total int) error {
	_, err := a.db.Exec(`
		INSERT INTO attendance_samples (session_id, marked_count, total_students)
		VALUES ($1, $2, $3)
	`, sessionID, marked, total)
	return err
}

func (a *Archive) RecordDeviceSample(v types.DeviceView) error {
	_, err := a.db.Exec(`
		INSERT INTO device_samples (state, signal, battery, queue_count, sync_count, last_seen_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.State, v.Signal, v.Battery, v.QueueCount, v.SyncCount, v.LastSeenSeconds)
	return err
}

func (a *Archive) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
