package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldagecoder1/nifty-options-bot/internal/band"
	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
)

var testLevels = band.Band{Resistance: 100, Support: 90, Mid: 95}

// indexCandle builds a 5m index candle n windows after 10:15 UTC.
func indexCandle(close float64, n int) candle.Candle {
	base := time.Date(2025, 10, 7, 10, 15, 0, 0, time.UTC)
	return candle.Candle{
		Token:     256265,
		Timestamp: base.Add(time.Duration(n) * 5 * time.Minute),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Timeframe: candle.Timeframe5m,
	}
}

func feed(t *testing.T, d *EntryDetector, closes []float64) (Side, bool) {
	t.Helper()
	var side Side
	var fired bool
	for i, c := range closes {
		s, ok := d.OnCandle(indexCandle(c, i), testLevels)
		if ok {
			require.False(t, fired, "second signal fired at close %.2f", c)
			side, fired = s, ok
		}
	}
	return side, fired
}

func TestEntryDetector_OnCandle(t *testing.T) {
	t.Run("waits until trading start", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		early := indexCandle(105, 0)
		early.Timestamp = time.Date(2025, 10, 7, 10, 10, 0, 0, time.UTC)
		side, ok := d.OnCandle(early, testLevels)
		assert.False(t, ok)
		assert.Equal(t, SideNone, side)
		assert.Equal(t, StateWaiting, d.State())
	})

	t.Run("first qualifying candle arms without evaluating", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		_, ok := d.OnCandle(indexCandle(105, 0), testLevels)
		assert.False(t, ok)
		assert.Equal(t, StateArmed, d.State())
	})

	t.Run("two closes above R with rising close fires CALL", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		side, ok := feed(t, d, []float64{98, 101, 105})
		require.True(t, ok)
		assert.Equal(t, SideCall, side)
		assert.Equal(t, StatePositioned, d.State())
	})

	t.Run("prev close at or below R does not fire", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		// (98,101): 101 > R but prev 98 is not.
		_, ok := feed(t, d, []float64{98, 101})
		assert.False(t, ok)
	})

	t.Run("rising close is required", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		// Both above R but 104 < 105.
		_, ok := feed(t, d, []float64{99, 105, 104})
		assert.False(t, ok)
	})

	t.Run("two closes below G with falling close fires PUT", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		side, ok := feed(t, d, []float64{92, 89, 85})
		require.True(t, ok)
		assert.Equal(t, SidePut, side)
	})

	t.Run("no evaluation while positioned", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		_, ok := feed(t, d, []float64{98, 101, 105})
		require.True(t, ok)
		_, ok = d.OnCandle(indexCandle(110, 3), testLevels)
		assert.False(t, ok)
	})
}

func TestEntryDetector_Rearm(t *testing.T) {
	enterAndClose := func(t *testing.T) *EntryDetector {
		t.Helper()
		d := NewEntryDetector(10, 15, time.UTC)
		_, ok := feed(t, d, []float64{98, 101, 105})
		require.True(t, ok)
		d.NotifyClosed(SideCall)
		return d
	}

	t.Run("same-side signal suppressed until two closes back inside", func(t *testing.T) {
		d := enterAndClose(t)
		// Would qualify as CALL pairs, but re-arm is pending.
		_, ok := d.OnCandle(indexCandle(106, 3), testLevels)
		assert.False(t, ok)
		_, ok = d.OnCandle(indexCandle(108, 4), testLevels)
		assert.False(t, ok)
	})

	t.Run("one close inside is not enough", func(t *testing.T) {
		d := enterAndClose(t)
		d.OnCandle(indexCandle(99, 3), testLevels)  // inside
		d.OnCandle(indexCandle(101, 4), testLevels) // back outside, gate stays
		_, ok := d.OnCandle(indexCandle(103, 5), testLevels)
		assert.False(t, ok, "gate must still suppress")
	})

	t.Run("signal resumes after the gate clears", func(t *testing.T) {
		d := enterAndClose(t)
		d.OnCandle(indexCandle(99, 3), testLevels)
		d.OnCandle(indexCandle(98, 4), testLevels) // second close inside clears
		// Fresh qualifying pair after the gate.
		d.OnCandle(indexCandle(101, 5), testLevels)
		side, ok := d.OnCandle(indexCandle(104, 6), testLevels)
		require.True(t, ok)
		assert.Equal(t, SideCall, side)
	})

	t.Run("put re-arm clears against support", func(t *testing.T) {
		d := NewEntryDetector(10, 15, time.UTC)
		_, ok := feed(t, d, []float64{92, 89, 85})
		require.True(t, ok)
		d.NotifyClosed(SidePut)

		d.OnCandle(indexCandle(91, 3), testLevels)
		d.OnCandle(indexCandle(92, 4), testLevels) // both >= G, gate clears
		d.OnCandle(indexCandle(89, 5), testLevels)
		side, ok := d.OnCandle(indexCandle(87, 6), testLevels)
		require.True(t, ok)
		assert.Equal(t, SidePut, side)
	})
}

func TestEntryDetector_NotifyEntryFailed(t *testing.T) {
	d := NewEntryDetector(10, 15, time.UTC)
	_, ok := feed(t, d, []float64{98, 101, 105})
	require.True(t, ok)
	require.Equal(t, StatePositioned, d.State())

	// The order never filled: no trade opened, so no re-arm gate applies.
	d.NotifyEntryFailed()
	assert.Equal(t, StateArmed, d.State())

	// The signal candle stays the baseline, so the next rising close above R
	// confirms again immediately.
	side, ok := d.OnCandle(indexCandle(106, 3), testLevels)
	require.True(t, ok)
	assert.Equal(t, SideCall, side)
}

func TestEntryDetector_Reset(t *testing.T) {
	d := NewEntryDetector(10, 15, time.UTC)
	_, ok := feed(t, d, []float64{98, 101, 105})
	require.True(t, ok)
	d.NotifyClosed(SideCall)

	d.Reset()
	assert.Equal(t, StateWaiting, d.State())

	// A whole fresh day, gate gone.
	side, ok := feed(t, d, []float64{98, 101, 105})
	require.True(t, ok)
	assert.Equal(t, SideCall, side)
}
