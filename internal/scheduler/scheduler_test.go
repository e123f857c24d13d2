package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eodbot/internal/broker"
	"eodbot/internal/broker/brokertest"
	"eodbot/internal/engine"
	"eodbot/internal/store"
)

type captureStore struct {
	snaps []store.Snapshot
	err   error
}

func (c *captureStore) InsertSnapshot(ctx context.Context, snap store.Snapshot) error {
	if c.err != nil {
		return c.err
	}
	c.snaps = append(c.snaps, snap)
	return nil
}

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func bars(values ...float64) []broker.Bar {
	day := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	out := make([]broker.Bar, 0, len(values))
	for i, v := range values {
		out = append(out, broker.Bar{
			Date:  day.AddDate(0, 0, i),
			Close: decimal.NewFromFloat(v),
		})
	}
	return out
}

// flatBars returns count bars closing at base, with the last one at last.
func flatBars(count int, base, last float64) []broker.Bar {
	values := make([]float64, count)
	for i := range values {
		values[i] = base
	}
	values[count-1] = last
	return bars(values...)
}

func newTestLoop(t *testing.T, fake *brokertest.Fake, snaps SnapshotWriter, evalTime time.Time) *Loop {
	t.Helper()
	eng := engine.New(fake, zap.NewNop(), engine.Config{
		Symbol:         "SPY",
		Tag:            "eod-exit",
		PollInterval:   time.Millisecond,
		FillTimeout:    50 * time.Millisecond,
		ConfirmTimeout: 50 * time.Millisecond,
		CancelTimeout:  50 * time.Millisecond,
	})
	loop := New(fake, eng, snaps, nil, zap.NewNop(), Config{
		Symbol:   "SPY",
		Period:   3,
		Hour:     evalTime.Hour(),
		Minute:   evalTime.Minute(),
		Location: nyc(t),
	})
	loop.now = func() time.Time { return evalTime }
	loop.sleepChunk = 5 * time.Millisecond
	return loop
}

func spyPosition(size int64) *broker.Position {
	return &broker.Position{
		Account: "DU123",
		ConID:   756733,
		Symbol:  "SPY",
		SecType: "STK",
		Size:    decimal.NewFromInt(size),
		AvgCost: decimal.NewFromFloat(412.50),
	}
}

func TestNextTriggerSameDayWhenStillAhead(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 2, 18, 8, 0, 0, 0, loc)

	next := NextTrigger(now, 9, 29, loc)
	assert.Equal(t, time.Date(2026, 2, 18, 9, 29, 0, 0, loc), next)
}

func TestNextTriggerRollsToTomorrowWhenPassed(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 2, 18, 9, 29, 0, 0, loc)

	next := NextTrigger(now, 9, 29, loc)
	assert.Equal(t, time.Date(2026, 2, 19, 9, 29, 0, 0, loc), next)
}

func TestNextTriggerNoDriftAcrossManyDays(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 1, 5, 9, 29, 30, 0, loc)

	prevDay := now
	for i := 0; i < 400; i++ {
		next := NextTrigger(now, 9, 29, loc)
		// Always exactly at the configured wall-clock time, across DST
		// transitions included.
		assert.Equal(t, 9, next.Hour())
		assert.Equal(t, 29, next.Minute())
		assert.Equal(t, 0, next.Second())
		assert.Equal(t, prevDay.AddDate(0, 0, 1).Format("20060102"), next.Format("20060102"))
		prevDay = next
		now = next.Add(30 * time.Second) // cycle ran, slightly past trigger
	}
}

func TestRunStopsWithinOneSleepChunk(t *testing.T) {
	fake := &brokertest.Fake{}
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	loop := newTestLoop(t, fake, &captureStore{}, evalTime)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestCycleExitsWhenCloseBelowMA(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:0930-1600",
		Bars:     flatBars(10, 100, 99),
	}
	snaps := &captureStore{}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	require.Len(t, fake.Placed, 1)
	assert.Equal(t, broker.Sell, fake.Placed[0].Side)
	assert.True(t, fake.Placed[0].Qty.Equal(decimal.NewFromInt(150)))

	require.Len(t, snaps.snaps, 1)
	// Snapshot captures the position as it stood at evaluation.
	assert.True(t, snaps.snaps[0].Size.Equal(decimal.NewFromInt(150)))
}

func TestCycleHoldsWhenCloseAboveMA(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:0930-1600",
		Bars:     flatBars(10, 100, 101),
	}
	snaps := &captureStore{}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	assert.Empty(t, fake.Placed)
	assert.Len(t, snaps.snaps, 1)
}

func TestCycleHoldsOnExactMean(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:0930-1600",
		Bars:     flatBars(10, 100, 100),
	}
	loop := newTestLoop(t, fake, &captureStore{}, evalTime)

	loop.runCycle(context.Background())
	assert.Empty(t, fake.Placed)
}

func TestCycleSkipsClosedDay(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:CLOSED",
		Bars:     flatBars(10, 100, 99),
	}
	snaps := &captureStore{}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	assert.Empty(t, fake.Placed)
	assert.Empty(t, snaps.snaps)
}

func TestCycleSkipsOnMalformedHours(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:09xx-1600",
		Bars:     flatBars(10, 100, 99),
	}
	loop := newTestLoop(t, fake, &captureStore{}, evalTime)

	loop.runCycle(context.Background())
	assert.Empty(t, fake.Placed)
}

func TestCycleSkipsInsideRegularHours(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 12, 0, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:0930-1600",
		Bars:     flatBars(10, 100, 99),
	}
	loop := newTestLoop(t, fake, &captureStore{}, evalTime)

	loop.runCycle(context.Background())
	assert.Empty(t, fake.Placed)
}

func TestCycleSkipsWhenFlat(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Hours: "20260218:0930-1600",
		Bars:  flatBars(10, 100, 99),
	}
	snaps := &captureStore{}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	assert.Empty(t, fake.Placed)
	assert.Empty(t, snaps.snaps)
}

func TestCycleSkipsOnInsufficientHistory(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:0930-1600",
		Bars:     flatBars(2, 100, 99),
	}
	snaps := &captureStore{}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	assert.Empty(t, fake.Placed)
	// Snapshot is still written: persistence is independent of the decision.
	assert.Len(t, snaps.snaps, 1)
}

func TestCycleSnapshotWrittenEvenWhenExitFails(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position:     spyPosition(150),
		Hours:        "20260218:0930-1600",
		Bars:         flatBars(10, 100, 99),
		RejectOrders: true,
	}
	snaps := &captureStore{}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	assert.Empty(t, fake.Placed)
	assert.Len(t, snaps.snaps, 1)
}

func TestCycleSurvivesPersistenceFailure(t *testing.T) {
	evalTime := time.Date(2026, 2, 18, 21, 29, 0, 0, nyc(t))
	fake := &brokertest.Fake{
		Position: spyPosition(150),
		Hours:    "20260218:0930-1600",
		Bars:     flatBars(10, 100, 99),
	}
	snaps := &captureStore{err: &store.PersistenceError{Err: errors.New("db down")}}
	loop := newTestLoop(t, fake, snaps, evalTime)

	loop.runCycle(context.Background())

	// The exit still executed; persistence failure only got logged.
	require.Len(t, fake.Placed, 1)
}
