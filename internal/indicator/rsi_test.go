package indicator

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSI(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		period   int
		expected []float64
		isNil    bool
	}{
		{
			name:   "Basic RSI calculation",
			prices: []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 13, 12, 11, 12},
			period: 5,
			expected: []float64{
				math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(),
				40.00, 52.00, 61.60, 69.28, 75.42, 80.34, 64.27, 51.42, 41.13, 52.91,
			},
		},
		{
			name:   "All increasing prices",
			prices: []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
			period: 3,
			expected: []float64{
				math.NaN(), math.NaN(), math.NaN(),
				100, 100, 100, 100, 100, 100, 100,
			},
		},
		{
			name:   "All decreasing prices",
			prices: []float64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11},
			period: 3,
			expected: []float64{
				math.NaN(), math.NaN(), math.NaN(),
				0, 0, 0, 0, 0, 0, 0,
			},
		},
		{
			name:     "Insufficient data",
			prices:   []float64{10, 11, 12},
			period:   5,
			expected: nil,
			isNil:    true,
		},
		{
			name:     "Invalid period",
			prices:   []float64{10, 11, 12, 13, 14},
			period:   0,
			expected: nil,
			isNil:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateRSI(tt.prices, tt.period)

			if tt.isNil {
				assert.Nil(t, result)
				return
			}

			require.Equal(t, len(tt.expected), len(result))
			for i := range tt.expected {
				if math.IsNaN(tt.expected[i]) {
					assert.True(t, math.IsNaN(result[i]), "expected NaN at index %d", i)
				} else {
					assert.InDelta(t, tt.expected[i], result[i], 0.01, "RSI mismatch at index %d", i)
				}
			}
		})
	}
}

func TestCalculateLastRSI(t *testing.T) {
	t.Run("matches the last element of the full series", func(t *testing.T) {
		prices := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 13, 12, 11, 12}
		for _, period := range []int{5, 9, 14} {
			t.Run("period "+strconv.Itoa(period), func(t *testing.T) {
				full := CalculateRSI(prices, period)
				last, err := CalculateLastRSI(prices, period)
				require.NoError(t, err)
				assert.InDelta(t, full[len(full)-1], last, 0.0001)
			})
		}
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := CalculateLastRSI([]float64{10, 11, 12}, 5)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("invalid period", func(t *testing.T) {
		_, err := CalculateLastRSI([]float64{10, 11, 12, 13, 14}, 0)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}
