package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitOscillator(t *testing.T) {
	t.Run("no signal until enough history", func(t *testing.T) {
		o := NewExitOscillator(14, 10)
		closes := make([]float64, 14) // period+1 needed
		for i := range closes {
			closes[i] = 100 + float64(i)
		}
		_, _, ok := o.Update(closes)
		assert.False(t, ok)
		_, hasPeak := o.Peak()
		assert.False(t, hasPeak)
	})

	t.Run("tracks the running peak", func(t *testing.T) {
		o := NewExitOscillator(3, 10)
		// Rising closes drive RSI to 100, then a dip pulls it down.
		closes := []float64{100, 101, 102, 103}
		rsi, exit, ok := o.Update(closes)
		require.True(t, ok)
		assert.Equal(t, 100.0, rsi)
		assert.False(t, exit)

		peak, hasPeak := o.Peak()
		require.True(t, hasPeak)
		assert.Equal(t, 100.0, peak)

		// A lower RSI must not lower the peak.
		closes = append(closes, 102)
		rsi, _, ok = o.Update(closes)
		require.True(t, ok)
		assert.Less(t, rsi, 100.0)
		peak, _ = o.Peak()
		assert.Equal(t, 100.0, peak)
	})

	t.Run("exits when RSI retraces by the threshold", func(t *testing.T) {
		o := NewExitOscillator(3, 10)
		closes := []float64{100, 102, 104, 106}
		_, exit, ok := o.Update(closes)
		require.True(t, ok)
		require.False(t, exit)

		// Hard reversal drops RSI well below peak-10.
		closes = append(closes, 101, 97)
		rsi, exit, ok := o.Update(closes)
		require.True(t, ok)
		assert.True(t, exit, "RSI %.2f should be more than 10 below the peak", rsi)
	})

	t.Run("a new peak never signals exit", func(t *testing.T) {
		o := NewExitOscillator(3, 10)
		closes := []float64{100, 99, 101, 103, 105}
		for i := 4; i <= len(closes); i++ {
			_, exit, ok := o.Update(closes[:i])
			if ok {
				assert.False(t, exit)
			}
		}
	})

	t.Run("reset clears the peak for the next trade", func(t *testing.T) {
		o := NewExitOscillator(3, 10)
		o.Update([]float64{100, 101, 102, 103})
		_, hasPeak := o.Peak()
		require.True(t, hasPeak)

		o.Reset()
		_, hasPeak = o.Peak()
		assert.False(t, hasPeak)
	})
}
