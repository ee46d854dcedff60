// Package simulation drives the fraud radar pipeline.
//
// After a short warm-up the Loop repeats one tick forever: draw a
// transaction, score it, persist it (with its alert when the level is
// MEDIUM or HIGH), then broadcast it to live subscribers. Ticks run one at
// a time, so subscribers see transactions in generation order.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/fraudradar/internal/circuitbreaker"
	"github.com/mbd888/fraudradar/internal/metrics"
	"github.com/mbd888/fraudradar/internal/retry"
	"github.com/mbd888/fraudradar/internal/risk"
	"github.com/mbd888/fraudradar/internal/traces"
	"github.com/mbd888/fraudradar/internal/transactions"
	"go.opentelemetry.io/otel/codes"
)

// ErrStoreUnavailable means the store failed too many ticks in a row. It is
// fatal to the process.
var ErrStoreUnavailable = errors.New("simulation: store unavailable")

// State of the loop.
type State string

const (
	StateIdle      State = "idle"
	StateWarmingUp State = "warming-up"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
)

// Tick outcomes, used as metric labels.
const (
	outcomeOK            = "ok"
	outcomeScoreRejected = "score_rejected"
	outcomePersistFailed = "persist_failed"
	outcomePanic         = "panic"
)

const breakerName = "store"

// Source produces unscored transactions.
type Source interface {
	Next() *transactions.Transaction
}

// Scorer assigns risk, level and reasons to a transaction.
type Scorer interface {
	Score(tx *transactions.Transaction) (*risk.Assessment, error)
}

// Broadcaster pushes a persisted transaction to live subscribers. It must
// not block.
type Broadcaster interface {
	BroadcastTransaction(tx *transactions.Transaction, reasons []string)
}

// Config holds loop timing and failure policy.
type Config struct {
	WarmupDelay        time.Duration
	Interval           time.Duration
	PersistMaxAttempts int
	PersistBaseDelay   time.Duration
	MaxFailedTicks     int
}

// DefaultConfig returns the standard demo pacing.
func DefaultConfig() Config {
	return Config{
		WarmupDelay:        1500 * time.Millisecond,
		Interval:           800 * time.Millisecond,
		PersistMaxAttempts: 3,
		PersistBaseDelay:   50 * time.Millisecond,
		MaxFailedTicks:     5,
	}
}

// Loop is the simulation driver.
type Loop struct {
	source  Source
	scorer  Scorer
	store   transactions.Store
	hub     Broadcaster
	cfg     Config
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	state   atomic.Value // State
	running atomic.Bool
	stop    chan struct{}
}

// New creates a loop with DefaultConfig.
func New(source Source, scorer Scorer, store transactions.Store, hub Broadcaster, logger *slog.Logger) *Loop {
	l := &Loop{
		source: source,
		scorer: scorer,
		store:  store,
		hub:    hub,
		logger: logger,
		stop:   make(chan struct{}),
	}
	l.state.Store(StateIdle)
	return l.WithConfig(DefaultConfig())
}

// WithConfig replaces the timing and failure policy. Call before Start.
func (l *Loop) WithConfig(cfg Config) *Loop {
	if cfg.PersistMaxAttempts <= 0 {
		cfg.PersistMaxAttempts = 1
	}
	if cfg.MaxFailedTicks <= 0 {
		cfg.MaxFailedTicks = DefaultConfig().MaxFailedTicks
	}
	l.cfg = cfg
	// Once open the loop exits, so the breaker is never re-closed.
	l.breaker = circuitbreaker.New(breakerName, cfg.MaxFailedTicks)
	return l
}

// State reports the current loop state.
func (l *Loop) State() State {
	return l.state.Load().(State)
}

// Running reports whether the loop goroutine is alive.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Start runs the loop until ctx is cancelled, Stop is called, or the store
// stays unavailable. Only the last case returns an error, which wraps
// ErrStoreUnavailable. Call in a goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		l.state.Store(StateStopped)
	}()

	l.state.Store(StateWarmingUp)
	l.logger.Info("simulation warming up", "delay", l.cfg.WarmupDelay)
	if !l.sleep(ctx, l.cfg.WarmupDelay) {
		return nil
	}

	l.state.Store(StateRunning)
	l.logger.Info("simulation running", "interval", l.cfg.Interval)

	for {
		if err := l.safeTick(ctx); err != nil {
			l.logger.Error("simulation stopped", "error", err)
			return err
		}
		if !l.sleep(ctx, l.cfg.Interval) {
			return nil
		}
	}
}

// Stop signals the loop to stop after the current tick.
func (l *Loop) Stop() {
	select {
	case l.stop <- struct{}{}:
	default:
	}
}

// sleep waits d and reports whether the loop should continue.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	case <-t.C:
		return true
	}
}

func (l *Loop) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TicksTotal.WithLabelValues(outcomePanic).Inc()
			l.logger.Error("panic in simulation tick", "panic", fmt.Sprint(r))
			err = nil
		}
	}()
	return l.tick(ctx)
}

// tick runs one generate, score, persist, broadcast pass. Only a fatal
// store condition is returned; everything else is logged and counted.
func (l *Loop) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	tx := l.source.Next()
	ctx, span := traces.StartSpan(ctx, "simulation.tick", traces.Transaction(tx)...)
	defer span.End()

	a, err := l.scorer.Score(tx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues(outcomeScoreRejected).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "score rejected")
		l.logger.Warn("transaction rejected by scorer",
			"user", tx.UserID,
			"country", tx.Country,
			"payment_method", tx.PaymentMethod,
			"device", tx.Device,
			"error", err,
		)
		return nil
	}
	tx.Risk = a.Risk
	tx.Level = a.Level
	span.SetAttributes(traces.Risk(tx.Risk, tx.Level)...)

	var alert *transactions.Alert
	if tx.Level.Alerting() {
		alert = &transactions.Alert{Level: tx.Level, Reasons: a.Reasons}
	}

	if err := l.persist(ctx, tx, alert); err != nil {
		metrics.TicksTotal.WithLabelValues(outcomePersistFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		tripped := l.breaker.RecordFailure()
		l.logger.Error("failed to persist transaction, tick aborted",
			"error", err,
			"failed_ticks", l.breaker.Failures(),
			"max_failed_ticks", l.breaker.Threshold(),
		)
		if tripped {
			return fmt.Errorf("%w: %d consecutive failed ticks: %w", ErrStoreUnavailable, l.breaker.Failures(), err)
		}
		return nil
	}
	l.breaker.RecordSuccess()
	span.SetAttributes(traces.TransactionID(tx.ID))

	metrics.TicksTotal.WithLabelValues(outcomeOK).Inc()
	if alert != nil {
		metrics.AlertsTotal.WithLabelValues(string(alert.Level)).Inc()
		l.logger.Info("alert raised",
			"transaction_id", tx.ID,
			"level", alert.Level,
			"risk", tx.Risk,
			"reasons", alert.Reasons,
		)
	}

	l.hub.BroadcastTransaction(tx, a.Reasons)
	return nil
}

// persist writes the pair with retry. Validation failures are not retried.
func (l *Loop) persist(ctx context.Context, tx *transactions.Transaction, alert *transactions.Alert) error {
	p := retry.Policy{
		MaxAttempts: l.cfg.PersistMaxAttempts,
		BaseDelay:   l.cfg.PersistBaseDelay,
		MaxDelay:    l.cfg.Interval,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			l.logger.Warn("store write failed, retrying",
				"attempt", attempt,
				"max_attempts", l.cfg.PersistMaxAttempts,
				"wait", wait,
				"error", err,
			)
		},
	}
	return retry.Do(ctx, p, func() error {
		err := l.store.Append(ctx, tx, alert)
		switch {
		case err == nil:
			metrics.PersistAttemptsTotal.WithLabelValues("ok").Inc()
			return nil
		case errors.Is(err, transactions.ErrInvalidAlert):
			metrics.PersistAttemptsTotal.WithLabelValues("invalid").Inc()
			return retry.Permanent(err)
		default:
			metrics.PersistAttemptsTotal.WithLabelValues("error").Inc()
			return err
		}
	})
}
