package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/metrics"
	"rfidattend/internal/scan"
)

var testNow = time.Date(2026, 10, 12, 9, 10, 0, 0, time.UTC)

const testMaxSkew = 10 * time.Minute

type testAPI struct {
	router *gin.Engine
	store  *attendance.MemoryStore
	signer auth.Signer
}

func newTestAPI(t *testing.T, store attendance.Store) *gin.Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := attendance.NewService(store, scan.FixedClock(testNow), time.UTC, nil, metrics.NewScans(reg),
		scan.WithMaxSkew(testMaxSkew))
	return New(Options{
		Service:  svc,
		Signer:   testSigner(),
		Gatherer: reg,
		Health: map[string]HealthCheck{
			"db": func(context.Context) bool { return true },
		},
	})
}

func testSigner() auth.Signer {
	return auth.Signer{Key: "k", Issuer: "test", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour, Now: func() time.Time { return testNow }}
}

func setup(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := attendance.NewMemoryStore()
	st.PutStudent("TAG-S", scan.Student{ID: "S", Name: "Student S", Active: true, ClassID: "C"})
	st.PutStudent("TAG-B", scan.Student{ID: "B", Name: "Student B", Active: true, ClassID: "OTHER"})
	st.PutDevice(scan.Device{ID: "D", Location: "Room 101", ClassID: "C", Active: true})
	require.NoError(t, st.PutWindow(scan.ScheduleWindow{
		ID: "W1", ClassID: "C", Day: time.Monday,
		Start: scan.NewClockTime(9, 0), End: scan.NewClockTime(10, 0), Active: true,
	}))
	return testAPI{router: newTestAPI(t, st), store: st, signer: testSigner()}
}

func (a testAPI) do(t *testing.T, method, path, device string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		pair, err := a.signer.Issue(device)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) scanResponse {
	t.Helper()
	var resp scanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPostScanCreatedThenDuplicate(t *testing.T) {
	api := setup(t)

	w := api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, scan.OutcomeCreated, first.Outcome)
	require.NotNil(t, first.Record)
	assert.Equal(t, scan.StatusPresent, first.Record.Status)
	assert.Equal(t, "Student S", first.Summary.StudentName)

	w = api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)
	assert.Equal(t, scan.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 1, api.store.RecordCount())
}

func TestPostScanWithReaderTimestamp(t *testing.T) {
	api := setup(t)
	// Six minutes ahead of the server clock, and 16 minutes into the window.
	at := time.Date(2026, 10, 12, 9, 16, 0, 0, time.UTC)
	w := api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D", "at": at})
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decode(t, w).Record
	require.NotNil(t, rec)
	assert.Equal(t, scan.StatusLate, rec.Status)
	assert.True(t, at.Equal(rec.CheckinAt))
}

func TestPostScanWithSkewedReaderTimestamp(t *testing.T) {
	api := setup(t)
	at := time.Date(2019, 1, 7, 9, 1, 0, 0, time.UTC)
	w := api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D", "at": at})
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decode(t, w).Record
	require.NotNil(t, rec)
	assert.Equal(t, "2026-10-12", rec.Date.Format(scan.DateLayout))
	assert.True(t, testNow.Equal(rec.CheckinAt))
	assert.Equal(t, scan.StatusPresent, rec.Status)
	assert.Contains(t, rec.Notes, scan.NoteReaderClockIgnored)

	filter := attendance.RecordFilter{Date: scan.CalendarDate(at)}
	past, err := api.store.ListRecords(context.Background(), filter)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestPostScanRejections(t *testing.T) {
	api := setup(t)

	w := api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "NOPE", "device_id": "D"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, scan.ReasonUnknownTag, decode(t, w).Reason)

	w = api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-B", "device_id": "D"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, scan.ReasonDeviceClassMismatch, decode(t, w).Reason)

	api.store.PutHoliday(scan.Holiday{ID: "H", Name: "Break", Date: scan.CalendarDate(testNow), Active: true})
	w = api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, scan.ReasonHolidayNoAttendance, decode(t, w).Reason)

	assert.Zero(t, api.store.RecordCount())
}

func TestPostScanAuth(t *testing.T) {
	api := setup(t)

	w := api.do(t, http.MethodPost, "/v1/scans", "", gin.H{"tag": "TAG-S", "device_id": "D"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/v1/scans", "OTHER-READER", gin.H{"tag": "TAG-S", "device_id": "D"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"device_id": "D"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type brokenStore struct {
	*attendance.MemoryStore
}

func (brokenStore) FindStudentByTag(context.Context, string) (*scan.Student, error) {
	return nil, errors.New("db down")
}

func TestPostScanInfrastructureFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := testAPI{router: newTestAPI(t, brokenStore{attendance.NewMemoryStore()}), signer: testSigner()}
	w := api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegisterDeviceAndList(t *testing.T) {
	api := setup(t)

	w := api.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{"device_id": "NEW"})
	require.Equal(t, http.StatusCreated, w.Code)
	var tokens map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	assert.NotEmpty(t, tokens["access_token"])
	_, _, ok := api.store.DeviceState("NEW")
	assert.True(t, ok)

	api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D"})

	w = api.do(t, http.MethodGet, "/v1/attendance?class_id=C&date=2026-10-12", "D", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Records []scan.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Records, 1)
	assert.Equal(t, "S", list.Records[0].StudentID)

	w = api.do(t, http.MethodGet, "/v1/attendance?date=12/10/2026", "D", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := setup(t)
	api.do(t, http.MethodPost, "/v1/scans", "D", gin.H{"tag": "TAG-S", "device_id": "D"})

	w := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"db":true`)

	w = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `attendance_scans_total{outcome="created"`)
}
