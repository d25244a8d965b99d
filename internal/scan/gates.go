package scan

import (
	"context"
	"sort"
	"time"
)

// NoteUnassignedDevice annotates records taken through a reader with no class.
const NoteUnassignedDevice = "unassigned device"

// NoteReaderClockIgnored annotates records whose reader timestamp was out of range.
const NoteReaderClockIgnored = "reader clock ignored"

// ValidateDeviceBinding checks the reader's class against the student's class.
// An unbound reader is accepted with an annotation.
func ValidateDeviceBinding(dev Device, classID string) (note string, reason Reason) {
	if dev.ClassID == "" {
		return NoteUnassignedDevice, ""
	}
	if dev.ClassID != classID {
		return "", ReasonDeviceClassMismatch
	}
	return "", ""
}

// HolidayGate rejects dates covered by an active holiday.
func HolidayGate(ctx context.Context, cal HolidayCalendar, date time.Time) (*Holiday, Reason, error) {
	h, ok, err := cal.IsHoliday(ctx, date)
	if err != nil {
		return nil, "", infra("holiday lookup", err)
	}
	if ok && (h == nil || h.Active) {
		return h, ReasonHolidayNoAttendance, nil
	}
	return nil, "", nil
}

// ResolveWindow picks the active window for classID covering at on day.
// Overlapping matches resolve to the earliest start, then the lowest id.
func ResolveWindow(ctx context.Context, dir ScheduleDirectory, classID string, day time.Weekday, at ClockTime) (ScheduleWindow, Reason, error) {
	rows, err := dir.FindActiveWindows(ctx, classID, day, at)
	if err != nil {
		return ScheduleWindow{}, "", infra("schedule lookup", err)
	}
	matches := make([]ScheduleWindow, 0, len(rows))
	for _, w := range rows {
		if w.Active && w.ClassID == classID && w.Day == day && w.Covers(at) {
			matches = append(matches, w)
		}
	}
	if len(matches) == 0 {
		return ScheduleWindow{}, ReasonNoActiveSchedule, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], "", nil
}

// GuardDuplicate returns the existing record for key, or nil when none exists.
func GuardDuplicate(ctx context.Context, ledger Ledger, key Key) (*AttendanceRecord, error) {
	rec, err := ledger.FindExisting(ctx, key)
	if err != nil {
		return nil, infra("existing record lookup", err)
	}
	return rec, nil
}
