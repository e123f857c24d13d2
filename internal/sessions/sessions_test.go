package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestResolveClosedDay(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)

	sess, err := Resolve("20260218:CLOSED", day, loc)
	require.NoError(t, err)
	assert.False(t, sess.Open)
}

func TestResolveRegularSession(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)

	sess, err := Resolve("20260218:0930-1600", day, loc)
	require.NoError(t, err)
	require.True(t, sess.Open)
	assert.Equal(t, time.Date(2026, 2, 18, 9, 30, 0, 0, loc), sess.Start)
	assert.Equal(t, time.Date(2026, 2, 18, 16, 0, 0, 0, loc), sess.End)
}

func TestResolveOvernightSession(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)

	sess, err := Resolve("20260218:1800-20260219:0200", day, loc)
	require.NoError(t, err)
	require.True(t, sess.Open)
	assert.Equal(t, time.Date(2026, 2, 18, 18, 0, 0, 0, loc), sess.Start)
	assert.Equal(t, time.Date(2026, 2, 19, 2, 0, 0, 0, loc), sess.End)
}

func TestResolvePicksMatchingSegmentAmongMany(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)
	descriptor := "20260217:CLOSED;20260218:0930-1600;20260219:0930-1600"

	sess, err := Resolve(descriptor, day, loc)
	require.NoError(t, err)
	require.True(t, sess.Open)
	assert.Equal(t, 18, sess.Start.Day())
}

func TestResolveFirstSegmentWinsOnDuplicateDates(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)
	descriptor := "20260218:0930-1600;20260218:1800-2000"

	sess, err := Resolve(descriptor, day, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 18, 16, 0, 0, 0, loc), sess.End)
}

func TestResolveNoSegmentMeansClosed(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 20, 12, 0, 0, 0, loc)

	sess, err := Resolve("20260218:0930-1600", day, loc)
	require.NoError(t, err)
	assert.False(t, sess.Open)
}

func TestResolveMalformedSegment(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)

	for _, descriptor := range []string{
		"20260218:0930",
		"20260218:09xx-1600",
		"20260218:0930-99zz",
	} {
		_, err := Resolve(descriptor, day, loc)
		var perr *ParseError
		require.ErrorAs(t, err, &perr, "descriptor %q", descriptor)
	}
}

func TestSessionContains(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)
	sess, err := Resolve("20260218:0930-1600", day, loc)
	require.NoError(t, err)

	assert.True(t, sess.Contains(time.Date(2026, 2, 18, 12, 0, 0, 0, loc)))
	assert.False(t, sess.Contains(time.Date(2026, 2, 18, 9, 29, 0, 0, loc)))
	assert.False(t, sess.Contains(time.Date(2026, 2, 18, 16, 1, 0, 0, loc)))
}

func TestIsTradingDay(t *testing.T) {
	loc := nyc(t)
	day := time.Date(2026, 2, 18, 12, 0, 0, 0, loc)

	open, err := IsTradingDay("20260218:0930-1600", day, loc)
	require.NoError(t, err)
	assert.True(t, open)

	open, err = IsTradingDay("20260218:CLOSED", day, loc)
	require.NoError(t, err)
	assert.False(t, open)
}
