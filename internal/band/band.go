// Package band computes and publishes the morning reference band used by the
// entry detector and stop-loss initialization. For each tracked instrument
// the band is derived from its candles inside a fixed clock window:
// resistance (R) is the highest high, support (G) the lowest low and mid (B)
// their midpoint.
package band

import (
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
)

// Band holds the three reference levels of one instrument for one session.
type Band struct {
	Resistance float64 `json:"resistance"`
	Support    float64 `json:"support"`
	Mid        float64 `json:"mid"`
}

// Levels is the per-session band set: the underlying index plus the two
// selected option legs. Before strike selection only Index is populated.
type Levels struct {
	Index      Band      `json:"index"`
	Call       Band      `json:"call"`
	Put        Band      `json:"put"`
	HasOptions bool      `json:"has_options"`
	WindowFrom time.Time `json:"window_from"`
	WindowTo   time.Time `json:"window_to"`
	Source     string    `json:"source"`
	ComputedAt time.Time `json:"computed_at"`
}

// Levels sources.
const (
	SourceProvisional   = "provisional"
	SourceAuthoritative = "authoritative"
)

// Compute derives one instrument's band from its candles in the reference
// window. It fails when the window is empty so a half-formed session never
// produces levels.
func Compute(candles []candle.Candle) (Band, error) {
	if len(candles) == 0 {
		return Band{}, fmt.Errorf("compute band: no candles in window")
	}

	r := candles[0].High
	g := candles[0].Low
	for _, c := range candles[1:] {
		if c.High > r {
			r = c.High
		}
		if c.Low < g {
			g = c.Low
		}
	}
	return Band{Resistance: r, Support: g, Mid: (r + g) / 2}, nil
}

// Holder publishes the current level set to readers on other goroutines. The
// strategy goroutine reads it on every candle while the control loop may
// swap in the authoritative recompute at any moment, so the swap is a single
// atomic pointer store and readers always see a complete set.
type Holder struct {
	ptr atomic.Pointer[Levels]
}

// Set replaces the published level set wholesale.
func (h *Holder) Set(l Levels) {
	l.ComputedAt = time.Now()
	h.ptr.Store(&l)
	log.Debugf("Band | published %s levels: index R=%.2f B=%.2f G=%.2f (options=%t)",
		l.Source, l.Index.Resistance, l.Index.Mid, l.Index.Support, l.HasOptions)
}

// Get returns the current level set. ok is false until the first Set.
func (h *Holder) Get() (Levels, bool) {
	p := h.ptr.Load()
	if p == nil {
		return Levels{}, false
	}
	return *p, true
}

// Clear drops the published levels at day rollover.
func (h *Holder) Clear() {
	h.ptr.Store(nil)
}
