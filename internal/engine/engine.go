// Package engine executes orders against the brokerage: stale-order
// recovery, submission, fill await, and post-trade confirmation. One call
// places at most one order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eodbot/internal/broker"
)

var (
	// ErrOrderRejected means the broker refused the order; never retried
	// within the same cycle.
	ErrOrderRejected = errors.New("order rejected by broker")
	// ErrFillTimeout means the order saw no terminal status before the fill
	// timeout. The order is cancelled; the next cycle's stale check is the
	// backstop if the cancel is lost.
	ErrFillTimeout = errors.New("order not filled before timeout")
)

// ConfirmationError means the portfolio did not reach the expected
// post-trade size within the confirmation window.
type ConfirmationError struct {
	Symbol   string
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("position for %s not confirmed: expected %s, got %s",
		e.Symbol, e.Expected, e.Got)
}

type Config struct {
	Symbol string
	// Tag marks this bot's orders so stale ones are recognizable across
	// process lifetimes. Optional; empty matches by symbol alone.
	Tag string

	PollInterval   time.Duration
	FillTimeout    time.Duration
	ConfirmTimeout time.Duration
	CancelTimeout  time.Duration
}

type Engine struct {
	broker broker.Broker
	logger *zap.Logger
	cfg    Config
}

func New(b broker.Broker, logger *zap.Logger, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 60 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 30 * time.Second
	}
	return &Engine{broker: b, logger: logger, cfg: cfg}
}

// ExitPosition closes the full position for the configured symbol with a
// single market order. The size is re-read from the broker immediately
// before submission; a flat book is a no-op.
func (e *Engine) ExitPosition(ctx context.Context) error {
	if err := e.cancelStaleOrders(ctx); err != nil {
		return err
	}

	pos, err := e.position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if pos == nil || pos.Size.IsZero() {
		e.logger.Info("no position to close", zap.String("symbol", e.cfg.Symbol))
		return nil
	}

	side := broker.Sell
	if pos.Size.IsNegative() {
		side = broker.Buy
	}
	return e.execute(ctx, side, pos.Size.Abs(), decimal.Zero)
}

// BuyTest places a one-off buy of qty shares through the same
// stale-check/submit/await/confirm machinery as an exit.
func (e *Engine) BuyTest(ctx context.Context, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("test buy size must be positive, got %s", qty)
	}
	if err := e.cancelStaleOrders(ctx); err != nil {
		return err
	}

	current := decimal.Zero
	pos, err := e.position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if pos != nil {
		current = pos.Size
	}
	return e.execute(ctx, broker.Buy, qty, current.Add(qty))
}

func (e *Engine) execute(ctx context.Context, side broker.Side, qty, expected decimal.Decimal) error {
	ref := e.orderRef()
	ord, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Qty:        qty,
		Ref:        ref,
		OutsideRTH: true,
	})
	if err != nil {
		e.logger.Error("order submit failed",
			zap.String("symbol", e.cfg.Symbol),
			zap.String("side", string(side)),
			zap.String("qty", qty.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	e.logger.Info("order submitted",
		zap.String("order_id", ord.ID),
		zap.String("symbol", e.cfg.Symbol),
		zap.String("side", string(side)),
		zap.String("qty", qty.String()),
		zap.String("ref", ref),
	)

	if err := e.awaitFill(ctx, ord.ID); err != nil {
		return err
	}
	return e.confirm(ctx, expected)
}

// cancelStaleOrders cancels anything this bot left open in a previous
// lifetime and waits until the broker no longer reports it open.
func (e *Engine) cancelStaleOrders(ctx context.Context) error {
	stale, err := e.openTaggedOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	for _, ord := range stale {
		e.logger.Warn("stale order found, cancelling",
			zap.String("order_id", ord.ID),
			zap.String("ref", ord.Ref),
			zap.String("symbol", ord.Symbol),
		)
		if err := e.broker.CancelOrder(ctx, ord.ID); err != nil {
			return fmt.Errorf("cancel stale order %s: %w", ord.ID, err)
		}
	}

	deadline := time.Now().Add(e.cfg.CancelTimeout)
	for {
		remaining, err := e.openTaggedOrders(ctx)
		if err == nil && len(remaining) == 0 {
			e.logger.Info("stale orders cleared", zap.String("symbol", e.cfg.Symbol))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("stale orders still open after %s", e.cfg.CancelTimeout)
		}
		if err := broker.WaitForContext(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (e *Engine) awaitFill(ctx context.Context, id string) error {
	deadline := time.Now().Add(e.cfg.FillTimeout)
	var last broker.Status
	for {
		ord, err := e.broker.OrderStatus(ctx, id)
		if err != nil {
			e.logger.Warn("order status fetch failed", zap.String("order_id", id), zap.Error(err))
		} else {
			if ord.Status != last {
				e.logger.Info("order status",
					zap.String("order_id", id),
					zap.String("status", string(ord.Status)),
					zap.String("filled", ord.FilledQty.String()),
				)
				last = ord.Status
			}
			switch ord.Status {
			case broker.StatusFilled:
				return nil
			case broker.StatusRejected:
				return fmt.Errorf("%w: order %s", ErrOrderRejected, id)
			case broker.StatusCancelled:
				return fmt.Errorf("order %s cancelled before fill", id)
			}
		}

		if time.Now().After(deadline) {
			if cerr := e.broker.CancelOrder(ctx, id); cerr != nil {
				e.logger.Warn("cancel after fill timeout failed", zap.String("order_id", id), zap.Error(cerr))
			}
			return fmt.Errorf("%w: order %s after %s", ErrFillTimeout, id, e.cfg.FillTimeout)
		}
		if err := broker.WaitForContext(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (e *Engine) confirm(ctx context.Context, expected decimal.Decimal) error {
	deadline := time.Now().Add(e.cfg.ConfirmTimeout)
	got := decimal.Zero
	for {
		pos, err := e.position(ctx)
		if err != nil {
			e.logger.Warn("position fetch failed during confirmation", zap.Error(err))
		} else {
			got = decimal.Zero
			if pos != nil {
				got = pos.Size
			}
			if got.Equal(expected) {
				e.logger.Info("position confirmed",
					zap.String("symbol", e.cfg.Symbol),
					zap.String("size", got.String()),
				)
				return nil
			}
		}

		if time.Now().After(deadline) {
			return &ConfirmationError{Symbol: e.cfg.Symbol, Expected: expected, Got: got}
		}
		if err := broker.WaitForContext(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (e *Engine) position(ctx context.Context) (*broker.Position, error) {
	positions, err := e.broker.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		p := &positions[i]
		if strings.TrimSpace(p.Symbol) == e.cfg.Symbol && (p.SecType == "" || p.SecType == "STK") {
			return p, nil
		}
	}
	return nil, nil
}

func (e *Engine) openTaggedOrders(ctx context.Context) ([]broker.OrderRef, error) {
	orders, err := e.broker.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	var matched []broker.OrderRef
	for _, ord := range orders {
		if ord.Symbol != e.cfg.Symbol {
			continue
		}
		if e.cfg.Tag != "" && !strings.HasPrefix(ord.Ref, e.cfg.Tag) {
			continue
		}
		matched = append(matched, ord)
	}
	return matched, nil
}

func (e *Engine) orderRef() string {
	suffix := uuid.NewString()[:8]
	if e.cfg.Tag == "" {
		return suffix
	}
	return e.cfg.Tag + "-" + suffix
}
