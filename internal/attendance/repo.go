package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"rfidattend/internal/scan"
)

// Repository persists directories and the attendance ledger in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// IsDuplicateKey reports whether err is a Postgres unique_violation.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// FindStudentByTag returns the student holding tag, or nil.
func (r *Repository) FindStudentByTag(ctx context.Context, tag string) (*scan.Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, active, COALESCE(class_id, '')
		FROM students WHERE rfid_tag = $1
	`, tag)
	var s scan.Student
	if err := row.Scan(&s.ID, &s.Name, &s.Active, &s.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindDeviceByID returns the reader with id, or nil.
func (r *Repository) FindDeviceByID(ctx context.Context, id string) (*scan.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, name, location, COALESCE(class_id, ''), active
		FROM devices WHERE device_id = $1
	`, id)
	var d scan.Device
	if err := row.Scan(&d.ID, &d.Name, &d.Location, &d.ClassID, &d.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// FindActiveWindows returns active windows of classID on day that cover at.
func (r *Repository) FindActiveWindows(ctx context.Context, classID string, day time.Weekday, at scan.ClockTime) ([]scan.ScheduleWindow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class_id, subject_id, day, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), room, active
		FROM schedules
		WHERE class_id = $1 AND day = $2 AND active
		  AND start_time <= $3::time AND end_time >= $3::time
		ORDER BY start_time, id
	`, classID, int(day), at.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []scan.ScheduleWindow
	for rows.Next() {
		var (
			w          scan.ScheduleWindow
			d          int
			start, end string
		)
		if err := rows.Scan(&w.ID, &w.ClassID, &w.SubjectID, &d, &start, &end, &w.Room, &w.Active); err != nil {
			return nil, err
		}
		w.Day = time.Weekday(d)
		if w.Start, err = scan.ParseClockTime(start); err != nil {
			return nil, err
		}
		if w.End, err = scan.ParseClockTime(end); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// IsHoliday reports whether an active holiday falls on date.
func (r *Repository) IsHoliday(ctx context.Context, date time.Time) (*scan.Holiday, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, date, active
		FROM holidays WHERE date = $1::date AND active
		LIMIT 1
	`, date.Format(scan.DateLayout))
	var h scan.Holiday
	if err := row.Scan(&h.ID, &h.Name, &h.Date, &h.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &h, true, nil
}

const recordColumns = `id, student_id, class_id, schedule_id, date, status, checkin_at, device_id, notes, created_at`

func scanRecord(row interface{ Scan(...any) error }) (scan.AttendanceRecord, error) {
	var rec scan.AttendanceRecord
	var status string
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.ScheduleID, &rec.Date, &status, &rec.CheckinAt, &rec.DeviceID, &rec.Notes, &rec.CreatedAt)
	rec.Status = scan.Status(status)
	return rec, err
}

// FindExisting returns the record for key, or nil.
func (r *Repository) FindExisting(ctx context.Context, key scan.Key) (*scan.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND schedule_id = $2 AND date = $3::date
	`, key.StudentID, key.ScheduleID, key.Date.Format(scan.DateLayout))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InsertRecord writes a new record. A concurrent insert for the same key
// fails with scan.ErrDuplicateKey through the attendance_records unique constraint.
func (r *Repository) InsertRecord(ctx context.Context, rec scan.AttendanceRecord) (scan.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, class_id, schedule_id, date, status, checkin_at, device_id, notes)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.ClassID, rec.ScheduleID, rec.Date.Format(scan.DateLayout), string(rec.Status), rec.CheckinAt, rec.DeviceID, rec.Notes)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if IsDuplicateKey(err) {
			return scan.AttendanceRecord{}, fmt.Errorf("%w: %s", scan.ErrDuplicateKey, rec.Key())
		}
		return scan.AttendanceRecord{}, err
	}
	return rec, nil
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// TouchDevice records the last instant a reader was heard from.
func (r *Repository) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen = $2 WHERE device_id = $1`, deviceID, at)
	return err
}

// SetDeviceStatus stores the status string a reader last reported.
func (r *Repository) SetDeviceStatus(ctx context.Context, deviceID, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET status = $2 WHERE device_id = $1`, deviceID, status)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// ListRecords returns ledger records with basic filters, newest check-in first.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]scan.AttendanceRecord, error) {
	f = f.normalize()
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if f.ClassID != "" {
		args = append(args, f.ClassID)
		clauses = append(clauses, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if !f.Date.IsZero() {
		args = append(args, f.Date.Format(scan.DateLayout))
		clauses = append(clauses, fmt.Sprintf("date = $%d::date", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY checkin_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []scan.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
