// Package broker defines the brokerage collaborator the bot drives: current
// positions, daily history, trading hours, and order management. The live
// gateway adapter and the in-process simulator both satisfy Broker.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether the order will see no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Position is one portfolio row as reported by the gateway.
type Position struct {
	Account       string
	ConID         int64
	Symbol        string
	Instrument    string
	SecType       string
	Expiry        string
	Strike        decimal.Decimal
	Multiplier    string
	Currency      string
	Exchange      string
	Size          decimal.Decimal
	AvgCost       decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// Bar is one daily bar; only the close matters to the exit rule.
type Bar struct {
	Date  time.Time
	Close decimal.Decimal
}

type OrderRequest struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	// Ref tags the order so a later process lifetime can recognize it.
	Ref        string
	OutsideRTH bool
}

type OrderRef struct {
	ID        string
	Ref       string
	Symbol    string
	Side      Side
	Qty       decimal.Decimal
	Status    Status
	FilledQty decimal.Decimal
}

type Broker interface {
	Positions(ctx context.Context) ([]Position, error)
	DailyBars(ctx context.Context, symbol string, lookback int) ([]Bar, error)
	TradingHours(ctx context.Context, symbol string) (string, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error)
	OrderStatus(ctx context.Context, id string) (OrderRef, error)
	CancelOrder(ctx context.Context, id string) error
	OpenOrders(ctx context.Context) ([]OrderRef, error)
}

// WaitForContext sleeps for delay or until ctx is cancelled, whichever comes
// first. Every sleep in the bot goes through here so shutdown is honored
// within one chunk.
func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
