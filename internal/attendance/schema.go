package attendance

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is idempotent. day follows time.Weekday (0 = Sunday).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS classes (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		rfid_tag  TEXT NOT NULL UNIQUE,
		class_id  TEXT REFERENCES classes(id),
		active    BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		location   TEXT NOT NULL DEFAULT '',
		class_id   TEXT REFERENCES classes(id),
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		status     TEXT NOT NULL DEFAULT '',
		last_seen  TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id         TEXT PRIMARY KEY,
		class_id   TEXT NOT NULL REFERENCES classes(id),
		subject_id TEXT NOT NULL,
		day        SMALLINT NOT NULL CHECK (day BETWEEN 0 AND 6),
		start_time TIME NOT NULL,
		end_time   TIME NOT NULL,
		room       TEXT NOT NULL DEFAULT '',
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS schedules_class_day ON schedules (class_id, day) WHERE active`,
	`CREATE TABLE IF NOT EXISTS holidays (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		date   DATE NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS holidays_date ON holidays (date)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		student_id  TEXT NOT NULL REFERENCES students(id),
		class_id    TEXT NOT NULL,
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		date        DATE NOT NULL,
		status      TEXT NOT NULL CHECK (status IN ('present', 'late', 'absent')),
		checkin_at  TIMESTAMPTZ NOT NULL,
		device_id   TEXT NOT NULL,
		notes       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT attendance_records_once UNIQUE (student_id, schedule_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		device_id  TEXT NOT NULL,
		token      TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

// Migrate creates the tables the repository reads and writes.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
