package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rfidattend/internal/scan"
)

// MemoryStore is an in-process backend for development and tests. It enforces
// the same uniqueness triple as the attendance_records table. Students are
// keyed by tag, holidays by yyyy-mm-dd and records by Key.String().
type MemoryStore struct {
	mu        sync.RWMutex
	students  map[string]scan.Student
	devices   map[string]*memDevice
	windows   map[string]scan.ScheduleWindow
	holidays  map[string]scan.Holiday
	records   map[string]scan.AttendanceRecord
	refreshes map[string]time.Time
	now       func() time.Time
}

type memDevice struct {
	scan.Device
	Status   string
	LastSeen time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:  make(map[string]scan.Student),
		devices:   make(map[string]*memDevice),
		windows:   make(map[string]scan.ScheduleWindow),
		holidays:  make(map[string]scan.Holiday),
		records:   make(map[string]scan.AttendanceRecord),
		refreshes: make(map[string]time.Time),
		now:       time.Now,
	}
}

// PutStudent registers or replaces the student holding tag.
func (m *MemoryStore) PutStudent(tag string, s scan.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[tag] = s
}

// PutDevice registers or replaces a reader.
func (m *MemoryStore) PutDevice(d scan.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.devices[d.ID]; ok {
		cur.Device = d
		return
	}
	m.devices[d.ID] = &memDevice{Device: d}
}

// PutWindow registers or replaces a schedule window.
func (m *MemoryStore) PutWindow(w scan.ScheduleWindow) error {
	if w.Start >= w.End {
		return fmt.Errorf("window %s: start %s must be before end %s", w.ID, w.Start, w.End)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.ID] = w
	return nil
}

// PutHoliday registers or replaces the holiday on h.Date.
func (m *MemoryStore) PutHoliday(h scan.Holiday) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.Date.Format(scan.DateLayout)] = h
}

// DeviceState returns the reported status and last-seen instant of a reader.
func (m *MemoryStore) DeviceState(id string) (status string, lastSeen time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return "", time.Time{}, false
	}
	return d.Status, d.LastSeen, true
}

// RecordCount returns the number of ledger rows.
func (m *MemoryStore) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// FindStudentByTag returns the student holding tag, or nil.
func (m *MemoryStore) FindStudentByTag(_ context.Context, tag string) (*scan.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[tag]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// FindDeviceByID returns the reader with id, or nil.
func (m *MemoryStore) FindDeviceByID(_ context.Context, id string) (*scan.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, nil
	}
	dev := d.Device
	return &dev, nil
}

// FindActiveWindows returns active windows of classID on day that cover at.
func (m *MemoryStore) FindActiveWindows(_ context.Context, classID string, day time.Weekday, at scan.ClockTime) ([]scan.ScheduleWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []scan.ScheduleWindow
	for _, w := range m.windows {
		if w.Active && w.ClassID == classID && w.Day == day && w.Covers(at) {
			res = append(res, w)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// IsHoliday reports whether an active holiday falls on date.
func (m *MemoryStore) IsHoliday(_ context.Context, date time.Time) (*scan.Holiday, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holidays[date.Format(scan.DateLayout)]
	if !ok || !h.Active {
		return nil, false, nil
	}
	return &h, true, nil
}

// FindExisting returns the record for key, or nil.
func (m *MemoryStore) FindExisting(_ context.Context, key scan.Key) (*scan.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key.String()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// InsertRecord stores rec, failing with scan.ErrDuplicateKey when its key is taken.
func (m *MemoryStore) InsertRecord(_ context.Context, rec scan.AttendanceRecord) (scan.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.Key()
	if _, ok := m.records[key.String()]; ok {
		return scan.AttendanceRecord{}, fmt.Errorf("%w: %s", scan.ErrDuplicateKey, key)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = m.now().UTC()
	m.records[key.String()] = rec
	return rec, nil
}

// UpsertDevice ensures a device record exists.
func (m *MemoryStore) UpsertDevice(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		m.devices[deviceID] = &memDevice{Device: scan.Device{ID: deviceID, Active: true}}
	}
	return nil
}

// TouchDevice records the last instant a reader was heard from.
func (m *MemoryStore) TouchDevice(_ context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		d.LastSeen = at
	}
	return nil
}

// SetDeviceStatus stores the status string a reader last reported.
func (m *MemoryStore) SetDeviceStatus(_ context.Context, deviceID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		d.Status = status
	}
	return nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (m *MemoryStore) SaveRefreshToken(_ context.Context, deviceID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[deviceID+"|"+token] = expiresAt
	return nil
}

// ListRecords returns records matching f, newest check-in first.
func (m *MemoryStore) ListRecords(_ context.Context, f RecordFilter) ([]scan.AttendanceRecord, error) {
	f = f.normalize()
	m.mu.RLock()
	var res []scan.AttendanceRecord
	for _, rec := range m.records {
		if f.StudentID != "" && rec.StudentID != f.StudentID {
			continue
		}
		if f.ClassID != "" && rec.ClassID != f.ClassID {
			continue
		}
		if !f.Date.IsZero() && !rec.Date.Equal(f.Date) {
			continue
		}
		res = append(res, rec)
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].CheckinAt.After(res[j].CheckinAt) })
	if f.Offset >= len(res) {
		return nil, nil
	}
	res = res[f.Offset:]
	if len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}
