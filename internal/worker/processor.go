package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rfidattend/internal/queue"
	"rfidattend/internal/scan"
)

// Scanner resolves scans and stores reader status reports.
type Scanner interface {
	Scan(ctx context.Context, in scan.Scan) (scan.Result, error)
	UpdateDeviceStatus(ctx context.Context, deviceID, status string) error
}

// Publisher accepts messages the processor could not finish.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Processor consumes bus messages published by reader gateways.
type Processor struct {
	svc         Scanner
	log         *zap.Logger
	attempts    int
	backoff     time.Duration
	scanTimeout time.Duration
	deadLetter  Publisher
}

// NewProcessor builds a processor. Scans that fail on infrastructure errors
// are retried up to attempts times with linear backoff.
func NewProcessor(svc Scanner, log *zap.Logger, attempts int, backoff, scanTimeout time.Duration) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = 1
	}
	if scanTimeout <= 0 {
		scanTimeout = 5 * time.Second
	}
	return &Processor{svc: svc, log: log, attempts: attempts, backoff: backoff, scanTimeout: scanTimeout}
}

// WithDeadLetter parks messages that still fail on infrastructure errors after
// all retries, or that are interrupted by shutdown, on pub for later replay.
func (p *Processor) WithDeadLetter(pub Publisher) *Processor {
	p.deadLetter = pub
	return p
}

// Run starts n consumers on the same message stream and blocks until the
// stream closes or ctx is done.
func (p *Processor) Run(ctx context.Context, messages <-chan queue.Message, n int) error {
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg, ok := <-messages:
					if !ok {
						return nil
					}
					if err := p.Handle(gctx, msg); err != nil {
						p.fail(gctx, msg, err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// Handle processes one message.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeScan:
		in, err := queue.DecodeScan(msg)
		if err != nil {
			return fmt.Errorf("decode scan: %w", err)
		}
		_, err = p.resolve(ctx, in)
		return err
	case queue.TypeDeviceStatus:
		st, err := queue.DecodeDeviceStatus(msg)
		if err != nil {
			return fmt.Errorf("decode device status: %w", err)
		}
		return p.svc.UpdateDeviceStatus(ctx, st.DeviceID, st.Status)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// retryable reports whether a failed message may succeed if replayed.
func retryable(err error) bool {
	return errors.Is(err, scan.ErrInfrastructure) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (p *Processor) fail(ctx context.Context, msg queue.Message, err error) {
	if p.deadLetter == nil || !retryable(err) {
		p.log.Warn("message dropped", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	// ctx may already be cancelled during shutdown.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.scanTimeout)
	defer cancel()
	if perr := p.deadLetter.Publish(pctx, msg); perr != nil {
		p.log.Error("dead letter publish failed",
			zap.String("type", msg.Type),
			zap.ByteString("body", msg.Body),
			zap.NamedError("cause", err),
			zap.Error(perr))
		return
	}
	p.log.Error("message dead-lettered", zap.String("type", msg.Type), zap.Error(err))
}

func (p *Processor) resolve(ctx context.Context, in scan.Scan) (scan.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, p.scanTimeout)
		res, err := p.svc.Scan(sctx, in)
		cancel()
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, scan.ErrInfrastructure) {
			return res, err
		}
		lastErr = err
		if attempt == p.attempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * p.backoff):
		case <-ctx.Done():
			return scan.Result{}, ctx.Err()
		}
	}
	return scan.Result{}, fmt.Errorf("after %d attempts: %w", p.attempts, lastErr)
}
