package indicator

import (
	"errors"
	"math"
)

// CalculateRSI computes the Relative Strength Index over prices using Wilder
// smoothing. The first period-1 elements are NaN (not enough history); nil is
// returned when the input cannot produce a single value.
func CalculateRSI(prices []float64, period int) []float64 {
	if len(prices) < period || period <= 0 {
		return nil
	}
	rsi := make([]float64, len(prices))
	for i := 0; i < period-1; i++ {
		rsi[i] = math.NaN()
	}
	var gain, loss float64
	for i := 1; i < period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss += -change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	rsi[period-1] = rsiFromAverages(avgGain, avgLoss)

	for i := period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain = change
			loss = 0
		} else {
			gain = 0
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return rsi
}

// ErrInsufficientData is returned when there is not enough price history for
// the requested period.
var ErrInsufficientData = errors.New("insufficient data for RSI calculation")

// CalculateLastRSI returns only the latest value of the series.
func CalculateLastRSI(prices []float64, period int) (float64, error) {
	rsi := CalculateRSI(prices, period)
	if rsi == nil {
		return 0, ErrInsufficientData
	}
	return rsi[len(rsi)-1], nil
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
