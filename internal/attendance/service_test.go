package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rfidattend/internal/metrics"
	"rfidattend/internal/scan"
)

type serviceFixture struct {
	svc  *Service
	st   *MemoryStore
	logs *observer.ObservedLogs
	reg  *prometheus.Registry
}

func newTestService(t *testing.T, now time.Time) serviceFixture {
	t.Helper()
	st := NewMemoryStore()
	st.PutStudent("TAG-S", scan.Student{ID: "S", Name: "Student S", Active: true, ClassID: "C"})
	st.PutDevice(scan.Device{ID: "D", Location: "Room 101", ClassID: "C", Active: true})
	require.NoError(t, st.PutWindow(scan.ScheduleWindow{
		ID: "W1", ClassID: "C", Day: time.Monday,
		Start: scan.NewClockTime(9, 0), End: scan.NewClockTime(10, 0), Active: true,
	}))
	core, logs := observer.New(zap.DebugLevel)
	reg := prometheus.NewRegistry()
	svc := NewService(st, scan.FixedClock(now), time.UTC, zap.New(core), metrics.NewScans(reg))
	return serviceFixture{svc: svc, st: st, logs: logs, reg: reg}
}

func TestServiceScanCreatesAndTouchesDevice(t *testing.T) {
	now := time.Date(2026, 10, 12, 9, 3, 0, 0, time.UTC)
	f := newTestService(t, now)
	svc, st, logs := f.svc, f.st, f.logs

	res, err := svc.Scan(context.Background(), scan.Scan{Tag: "TAG-S", DeviceID: "D"})
	require.NoError(t, err)
	assert.Equal(t, scan.OutcomeCreated, res.Outcome)

	_, lastSeen, ok := st.DeviceState("D")
	require.True(t, ok)
	assert.Equal(t, now, lastSeen)

	entries := logs.FilterMessage("scan resolved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "created", entries[0].ContextMap()["outcome"])

	recs, err := svc.Records(context.Background(), RecordFilter{ClassID: "C"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestServiceScanRejectionIsLoggedAndCounted(t *testing.T) {
	f := newTestService(t, time.Date(2026, 10, 12, 12, 0, 0, 0, time.UTC))
	svc, logs := f.svc, f.logs

	res, err := svc.Scan(context.Background(), scan.Scan{Tag: "TAG-S", DeviceID: "D"})
	require.NoError(t, err)
	assert.Equal(t, scan.ReasonNoActiveSchedule, res.Reason)

	entries := logs.FilterMessage("scan rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(scan.ReasonNoActiveSchedule), entries[0].ContextMap()["reason"])
	n, err := testutil.GatherAndCount(f.reg, "attendance_scans_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServiceScanRequiresTagAndDevice(t *testing.T) {
	svc := newTestService(t, time.Now()).svc
	_, err := svc.Scan(context.Background(), scan.Scan{Tag: "TAG-S"})
	assert.Error(t, err)
}

func TestServiceDeviceStatus(t *testing.T) {
	now := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	f := newTestService(t, now)
	svc, st := f.svc, f.st
	ctx := context.Background()

	require.NoError(t, svc.RegisterDevice(ctx, "NEW"))
	require.NoError(t, svc.UpdateDeviceStatus(ctx, "NEW", "offline"))
	status, lastSeen, ok := st.DeviceState("NEW")
	require.True(t, ok)
	assert.Equal(t, "offline", status)
	assert.Equal(t, now, lastSeen)

	assert.Error(t, svc.RegisterDevice(ctx, ""))
	assert.Error(t, svc.UpdateDeviceStatus(ctx, "", "online"))
}
