package scan

import (
	"context"
	"time"
)

// StudentDirectory looks up badge holders. A nil student with nil error means not found.
type StudentDirectory interface {
	FindStudentByTag(ctx context.Context, tag string) (*Student, error)
}

// DeviceDirectory looks up reader devices. A nil device with nil error means not found.
type DeviceDirectory interface {
	FindDeviceByID(ctx context.Context, id string) (*Device, error)
}

// ScheduleDirectory returns candidate windows for a class on a weekday around a time of day.
type ScheduleDirectory interface {
	FindActiveWindows(ctx context.Context, classID string, day time.Weekday, at ClockTime) ([]ScheduleWindow, error)
}

// HolidayCalendar reports whether an active holiday falls on date.
type HolidayCalendar interface {
	IsHoliday(ctx context.Context, date time.Time) (*Holiday, bool, error)
}

// Ledger stores attendance records. InsertRecord must fail with ErrDuplicateKey
// when a record with the same Key already exists.
type Ledger interface {
	FindExisting(ctx context.Context, key Key) (*AttendanceRecord, error)
	InsertRecord(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error)
}

// Directories bundles every port the engine reads from or writes to.
type Directories interface {
	StudentDirectory
	DeviceDirectory
	ScheduleDirectory
	HolidayCalendar
	Ledger
}
