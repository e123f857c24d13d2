// Package gateway is an in-process stand-in for the brokerage gateway
// client. It satisfies broker.Broker with a seeded position, synthetic
// daily history, a generated session calendar, and an immediate-fill order
// book, so the bot can run end to end without a live connection. The live
// adapter plugs in behind the same interface.
package gateway

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eodbot/internal/broker"
)

type Sim struct {
	mu       sync.Mutex
	symbol   string
	loc      *time.Location
	position broker.Position
	orders   map[string]*broker.OrderRef
	seq      int
	logger   *zap.Logger
}

var _ broker.Broker = (*Sim)(nil)

// Dial connects the simulated gateway. The host/port/clientID triple is
// accepted for interface parity with the live adapter and logged only.
func Dial(ctx context.Context, host string, port, clientID int, symbol string, loc *time.Location, logger *zap.Logger) (*Sim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("gateway connected (simulated)",
		zap.String("host", host),
		zap.Int("port", port),
		zap.Int("client_id", clientID),
	)
	return &Sim{
		symbol: symbol,
		loc:    loc,
		position: broker.Position{
			Account:     "SIM001",
			ConID:       756733,
			Symbol:      symbol,
			Instrument:  symbol,
			SecType:     "STK",
			Multiplier:  "1",
			Currency:    "USD",
			Exchange:    "SMART",
			Size:        decimal.NewFromInt(100),
			AvgCost:     decimal.NewFromFloat(415.00),
			MarketPrice: decimal.NewFromFloat(420.00),
			MarketValue: decimal.NewFromFloat(42000.00),
		},
		orders: make(map[string]*broker.OrderRef),
		logger: logger,
	}, nil
}

func (s *Sim) Positions(ctx context.Context) ([]broker.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position.Size.IsZero() {
		return nil, nil
	}
	return []broker.Position{s.position}, nil
}

// DailyBars returns a deterministic oscillating close series ending at the
// most recent weekday.
func (s *Sim) DailyBars(ctx context.Context, symbol string, lookback int) ([]broker.Bar, error) {
	day := previousWeekday(time.Now().In(s.loc))
	dates := make([]time.Time, lookback)
	for i := lookback - 1; i >= 0; i-- {
		dates[i] = day
		day = previousWeekday(day.AddDate(0, 0, -1))
	}

	bars := make([]broker.Bar, lookback)
	for i, d := range dates {
		px := 420.0 + 12.0*math.Sin(float64(d.YearDay())/9.0)
		bars[i] = broker.Bar{Date: d, Close: decimal.NewFromFloat(px).Round(2)}
	}
	return bars, nil
}

func (s *Sim) TradingHours(ctx context.Context, symbol string) (string, error) {
	today := time.Now().In(s.loc)
	tomorrow := today.AddDate(0, 0, 1)
	return daySegment(today) + ";" + daySegment(tomorrow), nil
}

func (s *Sim) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ord := &broker.OrderRef{
		ID:     fmt.Sprintf("sim-%d", s.seq),
		Ref:    req.Ref,
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		Status: broker.StatusOpen,
	}
	s.orders[ord.ID] = ord
	s.logger.Info("simulated order accepted",
		zap.String("order_id", ord.ID),
		zap.String("side", string(req.Side)),
		zap.String("qty", req.Qty.String()),
	)
	return *ord, nil
}

// OrderStatus fills any open order on first query.
func (s *Sim) OrderStatus(ctx context.Context, id string) (broker.OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return broker.OrderRef{}, fmt.Errorf("unknown order %s", id)
	}
	if ord.Status == broker.StatusOpen {
		ord.Status = broker.StatusFilled
		ord.FilledQty = ord.Qty
		if ord.Side == broker.Buy {
			s.position.Size = s.position.Size.Add(ord.Qty)
		} else {
			s.position.Size = s.position.Size.Sub(ord.Qty)
		}
		s.position.MarketValue = s.position.MarketPrice.Mul(s.position.Size)
	}
	return *ord, nil
}

func (s *Sim) CancelOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	if !ord.Status.Terminal() {
		ord.Status = broker.StatusCancelled
	}
	return nil
}

func (s *Sim) OpenOrders(ctx context.Context) ([]broker.OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []broker.OrderRef
	for _, ord := range s.orders {
		if ord.Status == broker.StatusOpen {
			open = append(open, *ord)
		}
	}
	return open, nil
}

func daySegment(d time.Time) string {
	key := d.Format("20060102")
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return key + ":CLOSED"
	}
	return key + ":0930-1600"
}

func previousWeekday(d time.Time) time.Time {
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
