// Package scheduler drives the daily evaluation: wake at the configured
// local time, gate on the day's trading session, decide, execute, persist.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eodbot/internal/broker"
	"eodbot/internal/engine"
	"eodbot/internal/sessions"
	"eodbot/internal/store"
	"eodbot/internal/strategy"
)

// SnapshotWriter is the slice of the position store the loop needs.
type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, snap store.Snapshot) error
}

type Config struct {
	Symbol   string
	Period   int
	Hour     int
	Minute   int
	Location *time.Location
	// Lookback is the number of daily bars requested per cycle; always at
	// least Period.
	Lookback int
}

type Loop struct {
	broker    broker.Broker
	engine    *engine.Engine
	snapshots SnapshotWriter
	cycles    *CycleLog
	logger    *zap.Logger
	cfg       Config

	now        func() time.Time
	sleepChunk time.Duration
}

func New(b broker.Broker, eng *engine.Engine, snapshots SnapshotWriter, cycles *CycleLog, logger *zap.Logger, cfg Config) *Loop {
	if cfg.Lookback < cfg.Period {
		cfg.Lookback = cfg.Period
	}
	if cfg.Lookback < 90 {
		cfg.Lookback = 90
	}
	return &Loop{
		broker:     b,
		engine:     eng,
		snapshots:  snapshots,
		cycles:     cycles,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		sleepChunk: time.Minute,
	}
}

// NextTrigger returns the next hour:minute instant in loc strictly after
// now. Computed as an absolute timestamp each time, so many days of uptime
// accumulate no drift.
func NextTrigger(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run evaluates once per day at the configured time until ctx is cancelled.
// No error from inside a cycle escapes the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		next := NextTrigger(l.now(), l.cfg.Hour, l.cfg.Minute, l.cfg.Location)
		l.logger.Info("next evaluation scheduled",
			zap.String("symbol", l.cfg.Symbol),
			zap.Time("at", next),
		)
		if err := l.sleepUntil(ctx, next); err != nil {
			return err
		}
		l.runCycle(ctx)
	}
}

// sleepUntil sleeps in bounded chunks so a shutdown request is honored
// within one chunk, not at the trigger.
func (l *Loop) sleepUntil(ctx context.Context, target time.Time) error {
	for {
		remaining := target.Sub(l.now())
		if remaining <= 0 {
			return nil
		}
		if remaining > l.sleepChunk {
			remaining = l.sleepChunk
		}
		if err := broker.WaitForContext(ctx, remaining); err != nil {
			return err
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) {
	now := l.now().In(l.cfg.Location)
	rec := CycleRecord{Timestamp: now, Symbol: l.cfg.Symbol}
	defer func() { l.cycles.Append(rec) }()

	descriptor, err := l.broker.TradingHours(ctx, l.cfg.Symbol)
	if err != nil {
		l.logger.Warn("trading hours unavailable, skipping cycle", zap.Error(err))
		rec.Result = "hours_unavailable"
		rec.Detail = err.Error()
		return
	}

	sess, err := sessions.Resolve(descriptor, now, l.cfg.Location)
	if err != nil {
		// Never trade on a calendar we cannot read.
		l.logger.Warn("unparseable trading hours, skipping cycle", zap.Error(err))
		rec.Result = "hours_unparseable"
		rec.Detail = err.Error()
		return
	}
	if !sess.Open {
		l.logger.Info("not a trading day, skipping", zap.String("symbol", l.cfg.Symbol))
		rec.Result = "closed"
		return
	}
	if sess.Contains(now) {
		l.logger.Warn("evaluation time falls inside regular trading hours, skipping",
			zap.Time("session_end", sess.End))
		rec.Result = "inside_rth"
		return
	}

	pos, err := l.findPosition(ctx)
	if err != nil {
		l.logger.Warn("positions unavailable, skipping cycle", zap.Error(err))
		rec.Result = "positions_unavailable"
		rec.Detail = err.Error()
		return
	}
	if pos == nil {
		l.logger.Info("no open position to evaluate", zap.String("symbol", l.cfg.Symbol))
		rec.Result = "no_position"
		return
	}

	// Persist the cycle's snapshot regardless of what the decision turns
	// out to be. A failed write never affects the trading decision.
	snap := store.FromPosition(*pos, l.now().UTC())
	defer func() {
		if err := l.snapshots.InsertSnapshot(ctx, snap); err != nil {
			l.logger.Warn("snapshot write failed", zap.Error(err))
		}
	}()

	bars, err := l.broker.DailyBars(ctx, l.cfg.Symbol, l.cfg.Lookback)
	if err != nil {
		l.logger.Warn("daily bars unavailable, skipping cycle", zap.Error(err))
		rec.Result = "bars_unavailable"
		rec.Detail = err.Error()
		return
	}
	closes := make([]decimal.Decimal, 0, len(bars))
	for _, bar := range bars {
		closes = append(closes, bar.Close)
	}

	advice, err := strategy.Evaluate(closes, l.cfg.Period)
	if err != nil {
		if errors.Is(err, strategy.ErrInsufficientData) {
			l.logger.Warn("insufficient history for moving average",
				zap.Int("period", l.cfg.Period),
				zap.Int("bars", len(closes)),
			)
			rec.Result = "insufficient_data"
			return
		}
		l.logger.Error("evaluation failed", zap.Error(err))
		rec.Result = "evaluation_failed"
		rec.Detail = err.Error()
		return
	}

	rec.Close = advice.Close.String()
	rec.Mean = advice.Mean.String()
	rec.Advice = string(advice.Action)
	l.logger.Info("evaluated",
		zap.String("symbol", l.cfg.Symbol),
		zap.String("close", advice.Close.String()),
		zap.Int("period", l.cfg.Period),
		zap.String("ma", advice.Mean.String()),
		zap.String("advice", string(advice.Action)),
	)

	if advice.Action != strategy.Exit {
		rec.Result = "held"
		return
	}

	if err := l.engine.ExitPosition(ctx); err != nil {
		l.logger.Error("exit failed",
			zap.String("symbol", l.cfg.Symbol),
			zap.String("close", advice.Close.String()),
			zap.String("ma", advice.Mean.String()),
			zap.Error(err),
		)
		rec.Result = "exit_failed"
		rec.Detail = err.Error()
		return
	}
	rec.Result = "exited"
}

func (l *Loop) findPosition(ctx context.Context) (*broker.Position, error) {
	positions, err := l.broker.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		p := &positions[i]
		if p.Symbol == l.cfg.Symbol && !p.Size.IsZero() {
			return p, nil
		}
	}
	return nil, nil
}
