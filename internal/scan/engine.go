package scan

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is the terminal state of one scan resolution.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Summary describes who scanned where, for display on the reader or dashboard.
type Summary struct {
	StudentID      string    `json:"student_id"`
	StudentName    string    `json:"student_name"`
	ClassID        string    `json:"class_id"`
	ScheduleID     string    `json:"schedule_id"`
	DeviceID       string    `json:"device_id"`
	DeviceLocation string    `json:"device_location"`
	Status         Status    `json:"status"`
	CheckinAt      time.Time `json:"checkin_at"`
}

// Result is what callers receive for every scan that could be evaluated.
type Result struct {
	Outcome Outcome
	Reason  Reason
	Detail  string
	Record  *AttendanceRecord
	Summary *Summary
}

// Err returns the rejection as an error, or nil for created and duplicate results.
func (r Result) Err() error {
	if r.Outcome != OutcomeRejected {
		return nil
	}
	return &RejectionError{Reason: r.Reason, Detail: r.Detail}
}

func reject(reason Reason, format string, args ...any) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Engine turns scans into attendance records. It keeps no state between scans.
type Engine struct {
	students  StudentDirectory
	devices   DeviceDirectory
	schedules ScheduleDirectory
	holidays  HolidayCalendar
	ledger    Ledger
	clock     Clock
	loc       *time.Location
	maxSkew   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for scans without a timestamp.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocation sets the school time zone used to derive date, weekday and time of day.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithMaxSkew accepts reader timestamps within d of the clock. Scans outside
// that range, or any timestamp when d <= 0, are resolved at the clock's instant.
func WithMaxSkew(d time.Duration) Option {
	return func(e *Engine) { e.maxSkew = d }
}

// NewEngine wires an engine over a single store implementing every port.
func NewEngine(dirs Directories, opts ...Option) *Engine {
	return NewEngineFrom(dirs, dirs, dirs, dirs, dirs, opts...)
}

// NewEngineFrom wires an engine over separate ports.
func NewEngineFrom(students StudentDirectory, devices DeviceDirectory, schedules ScheduleDirectory, holidays HolidayCalendar, ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		students:  students,
		devices:   devices,
		schedules: schedules,
		holidays:  holidays,
		ledger:    ledger,
		clock:     SystemClock(),
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs one scan through the pipeline. A non-nil error is always an
// *InfraError; domain rejections come back as a Result with OutcomeRejected.
// The ledger is written at most once, and only on OutcomeCreated.
func (e *Engine) Resolve(ctx context.Context, s Scan) (Result, error) {
	at, clockNote := e.scanInstant(s)

	student, err := e.students.FindStudentByTag(ctx, s.Tag)
	if err != nil {
		return Result{}, infra("student lookup", err)
	}
	if student == nil {
		return reject(ReasonUnknownTag, "tag %s", s.Tag), nil
	}
	if !student.Active {
		return reject(ReasonStudentInactive, "student %s", student.ID), nil
	}
	if student.ClassID == "" {
		return reject(ReasonStudentUnassigned, "student %s", student.ID), nil
	}

	device, err := e.devices.FindDeviceByID(ctx, s.DeviceID)
	if err != nil {
		return Result{}, infra("device lookup", err)
	}
	if device == nil {
		return reject(ReasonUnknownDevice, "device %s", s.DeviceID), nil
	}
	note, reason := ValidateDeviceBinding(*device, student.ClassID)
	if reason != "" {
		return reject(reason, "device class %s, student class %s", device.ClassID, student.ClassID), nil
	}

	date := CalendarDate(at)
	holiday, reason, err := HolidayGate(ctx, e.holidays, date)
	if err != nil {
		return Result{}, err
	}
	if reason != "" {
		name := ""
		if holiday != nil {
			name = holiday.Name
		}
		return reject(reason, "%s %s", date.Format(DateLayout), name), nil
	}

	now := ClockOf(at)
	window, reason, err := ResolveWindow(ctx, e.schedules, student.ClassID, at.Weekday(), now)
	if err != nil {
		return Result{}, err
	}
	if reason != "" {
		return reject(reason, "class %s on %s at %s", student.ClassID, at.Weekday(), now), nil
	}

	summary := &Summary{
		StudentID:      student.ID,
		StudentName:    student.Name,
		ClassID:        student.ClassID,
		ScheduleID:     window.ID,
		DeviceID:       device.ID,
		DeviceLocation: device.Location,
	}
	key := Key{StudentID: student.ID, ScheduleID: window.ID, Date: date}
	if existing, err := GuardDuplicate(ctx, e.ledger, key); err != nil {
		return Result{}, err
	} else if existing != nil {
		return duplicate(existing, summary), nil
	}

	status, delta := Classify(window.Start.On(at), at)
	rec := AttendanceRecord{
		StudentID:  student.ID,
		ClassID:    student.ClassID,
		ScheduleID: window.ID,
		Date:       date,
		Status:     status,
		CheckinAt:  at,
		DeviceID:   device.ID,
		Notes:      recordNotes(status, delta, note, clockNote),
	}
	created, err := e.ledger.InsertRecord(ctx, rec)
	if errors.Is(err, ErrDuplicateKey) {
		// Lost the insert race to a concurrent scan for the same key.
		existing, ferr := GuardDuplicate(ctx, e.ledger, key)
		if ferr != nil {
			return Result{}, ferr
		}
		if existing == nil {
			return Result{}, infra("record insert", fmt.Errorf("%w but no record found for %s", err, key))
		}
		return duplicate(existing, summary), nil
	}
	if err != nil {
		return Result{}, infra("record insert", err)
	}

	summary.Status = created.Status
	summary.CheckinAt = created.CheckinAt
	return Result{Outcome: OutcomeCreated, Record: &created, Summary: summary}, nil
}

// scanInstant picks the reader timestamp when it is within maxSkew of the
// clock, else the clock. The note is set when a reader timestamp was discarded.
func (e *Engine) scanInstant(s Scan) (time.Time, string) {
	now := e.clock.Now()
	if s.At.IsZero() {
		return now.In(e.loc), ""
	}
	skew := s.At.Sub(now)
	if skew < 0 {
		skew = -skew
	}
	if e.maxSkew <= 0 || skew > e.maxSkew {
		return now.In(e.loc), NoteReaderClockIgnored
	}
	return s.At.In(e.loc), ""
}

func duplicate(existing *AttendanceRecord, summary *Summary) Result {
	summary.Status = existing.Status
	summary.CheckinAt = existing.CheckinAt
	return Result{Outcome: OutcomeDuplicate, Record: existing, Summary: summary}
}
