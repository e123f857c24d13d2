// Package sessions resolves the broker's trading-hours descriptor into
// concrete per-day sessions. A descriptor is a semicolon-separated list of
// day segments, e.g.
//
//	20260217:CLOSED;20260218:0930-1600;20260219:1800-20260220:0200
//
// where an end time may carry its own date prefix for overnight sessions.
package sessions

import (
	"fmt"
	"strings"
	"time"
)

const dayFormat = "20060102"

// Session is the resolved trading window for one queried date. When Open is
// false, Start and End are zero.
type Session struct {
	Open  bool
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the session window.
func (s Session) Contains(t time.Time) bool {
	return s.Open && !t.Before(s.Start) && !t.After(s.End)
}

// ParseError reports a malformed segment for the queried date. Callers treat
// it as "session unknown" and skip the cycle rather than trade on it.
type ParseError struct {
	Segment string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed trading-hours segment %q: %s", e.Segment, e.Reason)
}

// Resolve picks the first segment matching day's calendar date and returns
// the session it describes. A date with no segment resolves to closed. The
// first match wins so that multi-session days resolve deterministically to
// the segment the broker lists first (the regular session).
func Resolve(descriptor string, day time.Time, loc *time.Location) (Session, error) {
	key := day.In(loc).Format(dayFormat)

	for _, segment := range strings.Split(descriptor, ";") {
		segment = strings.TrimSpace(segment)
		if !strings.HasPrefix(segment, key+":") {
			continue
		}
		return parseSegment(segment, key, loc)
	}
	return Session{}, nil
}

// IsTradingDay reports whether day has a non-closed session.
func IsTradingDay(descriptor string, day time.Time, loc *time.Location) (bool, error) {
	sess, err := Resolve(descriptor, day, loc)
	if err != nil {
		return false, err
	}
	return sess.Open, nil
}

func parseSegment(segment, dayKey string, loc *time.Location) (Session, error) {
	hours := segment[len(dayKey)+1:]
	if strings.EqualFold(strings.TrimSpace(hours), "CLOSED") {
		return Session{}, nil
	}

	startRaw, endRaw, ok := strings.Cut(hours, "-")
	if !ok {
		return Session{}, &ParseError{Segment: segment, Reason: "no start-end separator"}
	}

	start, err := time.ParseInLocation(dayFormat+"1504", dayKey+startRaw, loc)
	if err != nil {
		return Session{}, &ParseError{Segment: segment, Reason: "bad start time"}
	}

	// Overnight sessions prefix the end time with its own date.
	endDay, endHHMM := dayKey, endRaw
	if d, hm, ok := strings.Cut(endRaw, ":"); ok {
		endDay, endHHMM = d, hm
	}
	end, err := time.ParseInLocation(dayFormat+"1504", endDay+endHHMM, loc)
	if err != nil {
		return Session{}, &ParseError{Segment: segment, Reason: "bad end time"}
	}
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}

	return Session{Open: true, Start: start, End: end}, nil
}
