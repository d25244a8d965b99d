package scan

import (
	"time"
)

// Status is the attendance classification stored on a record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	// StatusAbsent exists for records materialized downstream; the engine never writes it.
	StatusAbsent Status = "absent"
)

// Scan is one badge read reported by a reader device.
type Scan struct {
	Tag      string    `json:"tag"`
	DeviceID string    `json:"device_id"`
	At       time.Time `json:"at,omitempty"`
}

// Student is the directory view of a badge holder. An empty ClassID means unassigned.
type Student struct {
	ID      string
	Name    string
	Active  bool
	ClassID string
}

// Device is an RFID reader. An empty ClassID means the reader is not bound to a class.
type Device struct {
	ID       string
	Name     string
	Location string
	ClassID  string
	Active   bool
}

// ScheduleWindow is one weekly class session.
type ScheduleWindow struct {
	ID        string
	ClassID   string
	SubjectID string
	Day       time.Weekday
	Start     ClockTime
	End       ClockTime
	Room      string
	Active    bool
}

// Covers reports whether t falls inside the window, both ends inclusive.
func (w ScheduleWindow) Covers(t ClockTime) bool {
	return w.Start <= t && t <= w.End
}

// Holiday marks a calendar date with no attendance.
type Holiday struct {
	ID     string
	Name   string
	Date   time.Time
	Active bool
}

// AttendanceRecord is one ledger row. Date is the calendar day at UTC midnight.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	ClassID    string    `json:"class_id"`
	ScheduleID string    `json:"schedule_id"`
	Date       time.Time `json:"date"`
	Status     Status    `json:"status"`
	CheckinAt  time.Time `json:"checkin_at"`
	DeviceID   string    `json:"device_id"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key returns the uniqueness triple of the record.
func (r AttendanceRecord) Key() Key {
	return Key{StudentID: r.StudentID, ScheduleID: r.ScheduleID, Date: r.Date}
}

// Key identifies at most one record per student, schedule window and calendar day.
type Key struct {
	StudentID  string
	ScheduleID string
	Date       time.Time
}

// String renders the key as student/schedule/yyyy-mm-dd.
func (k Key) String() string {
	return k.StudentID + "/" + k.ScheduleID + "/" + k.Date.Format(DateLayout)
}
