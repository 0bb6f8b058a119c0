package indicator

// ExitOscillator tracks the RSI's running peak since trade entry and signals
// exit when the current value retraces from that peak by at least the drop
// threshold.
type ExitOscillator struct {
	period int
	drop   float64

	peak    float64
	hasPeak bool
}

// NewExitOscillator creates a tracker with the RSI period and the peak-drop
// threshold that triggers an exit.
func NewExitOscillator(period int, drop float64) *ExitOscillator {
	return &ExitOscillator{period: period, drop: drop}
}

// Period returns the configured RSI period.
func (o *ExitOscillator) Period() int { return o.period }

// Update evaluates the oscillator against the close history of the traded
// leg. It returns the latest RSI and whether the retracement exit fired.
// Insufficient history is no signal, never a zero reading.
func (o *ExitOscillator) Update(closes []float64) (rsi float64, exit bool, ok bool) {
	// RSI needs one extra close for the first delta.
	if len(closes) < o.period+1 {
		return 0, false, false
	}
	rsi, err := CalculateLastRSI(closes, o.period)
	if err != nil {
		return 0, false, false
	}
	if !o.hasPeak || rsi > o.peak {
		o.peak = rsi
		o.hasPeak = true
	}
	return rsi, o.peak-rsi >= o.drop, true
}

// Peak returns the tracked peak since the last Reset.
func (o *ExitOscillator) Peak() (float64, bool) {
	return o.peak, o.hasPeak
}

// Reset clears the tracked peak. Called on trade entry and day rollover.
func (o *ExitOscillator) Reset() {
	o.peak = 0
	o.hasPeak = false
}
