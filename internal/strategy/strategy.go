package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Action string

const (
	Hold Action = "HOLD"
	Exit Action = "EXIT"
)

// Advice is the outcome of one evaluation: what to do and the numbers that
// led there.
type Advice struct {
	Action Action
	Close  decimal.Decimal
	Mean   decimal.Decimal
	Reason string
}

// ErrInsufficientData means fewer closes were supplied than the moving
// average period requires. The accompanying advice is always Hold.
var ErrInsufficientData = errors.New("not enough closes for moving average")

// Evaluate applies the moving-average exit rule to a series of daily closes,
// oldest first. It recommends Exit iff the most recent close is strictly
// below the arithmetic mean of the last period closes. Pure: no I/O, and
// closes before the last period entries never influence the result.
func Evaluate(closes []decimal.Decimal, period int) (Advice, error) {
	if period < 1 {
		return Advice{Action: Hold}, fmt.Errorf("period must be >= 1, got %d", period)
	}
	if len(closes) < period {
		return Advice{Action: Hold, Reason: "insufficient_data"}, ErrInsufficientData
	}

	window := closes[len(closes)-period:]
	mean := decimal.Avg(window[0], window[1:]...)
	last := closes[len(closes)-1]

	if last.LessThan(mean) {
		return Advice{Action: Exit, Close: last, Mean: mean, Reason: "close_below_ma"}, nil
	}
	return Advice{Action: Hold, Close: last, Mean: mean, Reason: "close_at_or_above_ma"}, nil
}
