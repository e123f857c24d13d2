// Package brokertest provides a configurable in-memory Broker for tests.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"eodbot/internal/broker"
)

// Fake implements broker.Broker. Configure the exported fields before use;
// the zero value is an empty brokerage with no position and no orders.
type Fake struct {
	mu sync.Mutex

	// Position is the current row for the traded symbol; fills mutate its
	// Size unless FreezeFills is set. Nil means flat.
	Position *broker.Position
	Bars     []broker.Bar
	BarsErr  error
	Hours    string
	HoursErr error

	// StaleOrders seed OpenOrders, simulating leftovers from a prior run.
	StaleOrders []broker.OrderRef

	RejectOrders bool // PlaceOrder fails
	FillPolls    int  // status polls before a placed order reports filled
	NeverFill    bool // placed orders stay open
	FreezeFills  bool // fills do not move Position (confirm mismatch)

	Placed    []broker.OrderRequest
	Cancelled []string

	orders map[string]*orderState
	seq    int
}

type orderState struct {
	ref    broker.OrderRef
	qty    decimal.Decimal
	side   broker.Side
	polls  int
	placed bool
}

var _ broker.Broker = (*Fake)(nil)

func (f *Fake) ensure() {
	if f.orders == nil {
		f.orders = make(map[string]*orderState)
		for _, o := range f.StaleOrders {
			f.orders[o.ID] = &orderState{ref: o, qty: o.Qty, side: o.Side}
		}
	}
}

func (f *Fake) Positions(ctx context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Position == nil || f.Position.Size.IsZero() {
		return nil, nil
	}
	return []broker.Position{*f.Position}, nil
}

func (f *Fake) DailyBars(ctx context.Context, symbol string, lookback int) ([]broker.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BarsErr != nil {
		return nil, f.BarsErr
	}
	return f.Bars, nil
}

func (f *Fake) TradingHours(ctx context.Context, symbol string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Hours, f.HoursErr
}

func (f *Fake) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	if f.RejectOrders {
		return broker.OrderRef{}, errors.New("simulated rejection")
	}
	f.seq++
	ref := broker.OrderRef{
		ID:     fmt.Sprintf("ord-%d", f.seq),
		Ref:    req.Ref,
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		Status: broker.StatusOpen,
	}
	f.orders[ref.ID] = &orderState{ref: ref, qty: req.Qty, side: req.Side, placed: true}
	f.Placed = append(f.Placed, req)
	return ref, nil
}

func (f *Fake) OrderStatus(ctx context.Context, id string) (broker.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	st, ok := f.orders[id]
	if !ok {
		return broker.OrderRef{}, fmt.Errorf("unknown order %s", id)
	}
	if st.placed && st.ref.Status == broker.StatusOpen && !f.NeverFill {
		st.polls++
		if st.polls >= f.FillPolls {
			st.ref.Status = broker.StatusFilled
			st.ref.FilledQty = st.qty
			f.applyFill(st)
		}
	}
	return st.ref, nil
}

func (f *Fake) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	f.Cancelled = append(f.Cancelled, id)
	if st, ok := f.orders[id]; ok && !st.ref.Status.Terminal() {
		st.ref.Status = broker.StatusCancelled
	}
	return nil
}

func (f *Fake) OpenOrders(ctx context.Context) ([]broker.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	var open []broker.OrderRef
	for _, st := range f.orders {
		if st.ref.Status == broker.StatusOpen {
			open = append(open, st.ref)
		}
	}
	return open, nil
}

func (f *Fake) applyFill(st *orderState) {
	if f.FreezeFills || f.Position == nil {
		return
	}
	if st.side == broker.Buy {
		f.Position.Size = f.Position.Size.Add(st.qty)
	} else {
		f.Position.Size = f.Position.Size.Sub(st.qty)
	}
}
