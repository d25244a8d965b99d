package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rfidattend/internal/metrics"
	"rfidattend/internal/scan"
)

// Store is everything the service needs from a backend. Repository and
// MemoryStore both satisfy it.
type Store interface {
	scan.Directories
	UpsertDevice(ctx context.Context, deviceID string) error
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	SetDeviceStatus(ctx context.Context, deviceID, status string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	ListRecords(ctx context.Context, f RecordFilter) ([]scan.AttendanceRecord, error)
}

// Service coordinates scan resolution with logging, metrics and device heartbeats.
type Service struct {
	store   Store
	engine  *scan.Engine
	clock   scan.Clock
	log     *zap.Logger
	metrics *metrics.Scans
}

// NewService creates a service backed by store. The engine reads the same store
// and receives engineOpts after the clock and location.
func NewService(store Store, clock scan.Clock, loc *time.Location, log *zap.Logger, m *metrics.Scans, engineOpts ...scan.Option) *Service {
	if clock == nil {
		clock = scan.SystemClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		engine:  scan.NewEngine(store, append([]scan.Option{scan.WithClock(clock), scan.WithLocation(loc)}, engineOpts...)...),
		clock:   clock,
		log:     log,
		metrics: m,
	}
}

// RegisterDevice validates and persists device metadata.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	return s.store.UpsertDevice(ctx, deviceID)
}

// SaveRefreshToken stores a device refresh token.
func (s *Service) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	return s.store.SaveRefreshToken(ctx, deviceID, token, expiresAt)
}

// UpdateDeviceStatus stores a status reported by a reader and refreshes its heartbeat.
func (s *Service) UpdateDeviceStatus(ctx context.Context, deviceID, status string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	if err := s.store.SetDeviceStatus(ctx, deviceID, status); err != nil {
		return err
	}
	return s.store.TouchDevice(ctx, deviceID, s.clock.Now())
}

// Records lists ledger rows.
func (s *Service) Records(ctx context.Context, f RecordFilter) ([]scan.AttendanceRecord, error) {
	return s.store.ListRecords(ctx, f)
}

// Scan resolves one badge read.
func (s *Service) Scan(ctx context.Context, in scan.Scan) (scan.Result, error) {
	if in.Tag == "" || in.DeviceID == "" {
		return scan.Result{}, errors.New("tag and device required")
	}
	started := time.Now()
	res, err := s.engine.Resolve(ctx, in)
	elapsed := time.Since(started)

	fields := []zap.Field{
		zap.String("tag", in.Tag),
		zap.String("device_id", in.DeviceID),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		s.metrics.Observe("error", "", elapsed)
		s.log.Error("scan resolution failed", append(fields, zap.Error(err))...)
		return res, err
	}
	s.metrics.Observe(string(res.Outcome), string(res.Reason), elapsed)

	if res.Reason != scan.ReasonUnknownDevice {
		if terr := s.store.TouchDevice(ctx, in.DeviceID, s.clock.Now()); terr != nil {
			s.log.Warn("device heartbeat failed", zap.String("device_id", in.DeviceID), zap.Error(terr))
		}
	}

	switch res.Outcome {
	case scan.OutcomeRejected:
		s.log.Warn("scan rejected", append(fields, zap.String("reason", string(res.Reason)), zap.String("detail", res.Detail))...)
	default:
		s.log.Info("scan resolved", append(fields,
			zap.String("outcome", string(res.Outcome)),
			zap.String("record_id", res.Record.ID),
			zap.String("student_id", res.Record.StudentID),
			zap.String("status", string(res.Record.Status)),
		)...)
	}
	return res, nil
}
