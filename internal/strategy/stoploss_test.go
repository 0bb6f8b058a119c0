package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Levels used across the stop-loss tests: entry 100, leg band 90/95/110,
// trailing increment 5. Rule thresholds: mid at price 105, high at 120,
// breakeven at 110.
func newTestStop() *StopLoss {
	return NewStopLoss(100, 90, 95, 110, 5)
}

func TestStopLoss_AdvanceProgressive(t *testing.T) {
	t.Run("starts at the reference low", func(t *testing.T) {
		s := newTestStop()
		assert.Equal(t, 90.0, s.Stop())
		assert.False(t, s.BreakevenReached())
	})

	t.Run("below every threshold nothing moves", func(t *testing.T) {
		s := newTestStop()
		assert.Equal(t, 90.0, s.AdvanceProgressive(104.9))
	})

	t.Run("mid threshold lifts the stop to mid", func(t *testing.T) {
		s := newTestStop()
		assert.Equal(t, 95.0, s.AdvanceProgressive(105))
		assert.False(t, s.BreakevenReached())
	})

	t.Run("a jump past all thresholds advances one stage only", func(t *testing.T) {
		s := newTestStop()
		// 125 satisfies every rule's price condition, but the first match wins.
		assert.Equal(t, 95.0, s.AdvanceProgressive(125))
		assert.False(t, s.BreakevenReached())

		// Next call: rule 1 no longer gates (stop already at mid), rule 2 fires.
		assert.Equal(t, 110.0, s.AdvanceProgressive(125))
		assert.False(t, s.BreakevenReached())

		// With the stop above entry, the breakeven rule can never fire.
		assert.Equal(t, 110.0, s.AdvanceProgressive(125))
		assert.False(t, s.BreakevenReached())
	})

	t.Run("breakeven via rule three", func(t *testing.T) {
		s := newTestStop()
		require.Equal(t, 95.0, s.AdvanceProgressive(109)) // rule 1
		// 109 is below both the high (120) and breakeven (110) thresholds.
		require.Equal(t, 95.0, s.AdvanceProgressive(109))

		assert.Equal(t, 100.0, s.AdvanceProgressive(110))
		assert.True(t, s.BreakevenReached())
	})

	t.Run("no-op after breakeven", func(t *testing.T) {
		s := newTestStop()
		s.AdvanceProgressive(109)
		s.AdvanceProgressive(110)
		require.True(t, s.BreakevenReached())
		assert.Equal(t, 100.0, s.AdvanceProgressive(200))
	})
}

func TestStopLoss_AdvanceTrailing(t *testing.T) {
	atBreakeven := func(t *testing.T) *StopLoss {
		t.Helper()
		s := newTestStop()
		s.AdvanceProgressive(109)
		s.AdvanceProgressive(110)
		require.True(t, s.BreakevenReached())
		return s
	}

	t.Run("inactive before breakeven", func(t *testing.T) {
		s := newTestStop()
		assert.Equal(t, 90.0, s.AdvanceTrailing(130))
	})

	t.Run("advances by whole increments above entry", func(t *testing.T) {
		s := atBreakeven(t)
		assert.Equal(t, 110.0, s.AdvanceTrailing(112)) // floor(12/5)=2
		assert.Equal(t, 110.0, s.AdvanceTrailing(113)) // same level, no move
		assert.Equal(t, 115.0, s.AdvanceTrailing(118)) // floor(18/5)=3
	})

	t.Run("never retreats", func(t *testing.T) {
		s := atBreakeven(t)
		s.AdvanceTrailing(118)
		assert.Equal(t, 115.0, s.AdvanceTrailing(108))
	})

	t.Run("price at entry leaves the stop alone", func(t *testing.T) {
		s := atBreakeven(t)
		assert.Equal(t, 100.0, s.AdvanceTrailing(100))
		assert.Equal(t, 100.0, s.AdvanceTrailing(104.9))
	})
}

func TestStopLoss_Advance(t *testing.T) {
	t.Run("breakeven and trailing never happen in one call", func(t *testing.T) {
		s := newTestStop()
		s.Advance(109) // mid
		s.Advance(110) // breakeven
		require.True(t, s.BreakevenReached())
		// The breakeven call must not also have trailed despite 110 = entry+2*inc.
		assert.Equal(t, 100.0, s.Stop())

		assert.Equal(t, 110.0, s.Advance(112))
	})
}

func TestStopLoss_CheckHit(t *testing.T) {
	s := newTestStop()
	assert.False(t, s.CheckHit(90.1))
	assert.True(t, s.CheckHit(90))
	assert.True(t, s.CheckHit(85))

	s.AdvanceProgressive(105)
	assert.True(t, s.CheckHit(94.5))
}
