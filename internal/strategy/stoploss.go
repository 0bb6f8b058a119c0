package strategy

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// StopLoss is the per-trade stop state machine. The stop starts at the
// option leg's reference low and advances through an ordered, mutually
// exclusive progressive rule set (mid, then high, then breakeven at the
// entry price); once breakeven is reached it trails upward in fixed
// increments. Rules are first-match-wins: a single candle jumping past a
// later stage still advances only the first stage whose condition holds.
type StopLoss struct {
	entry     float64
	stop      float64
	refLow    float64
	refMid    float64
	refHigh   float64
	lastTrail float64
	increment float64
	breakeven bool
}

// NewStopLoss initializes the stop for a fresh trade at the leg's reference
// levels. The initial stop is the reference low.
func NewStopLoss(entry, low, mid, high, increment float64) *StopLoss {
	log.Infof("StopLoss | initialized at %.2f (entry %.2f, mid %.2f, high %.2f)", low, entry, mid, high)
	return &StopLoss{
		entry:     entry,
		stop:      low,
		refLow:    low,
		refMid:    mid,
		refHigh:   high,
		lastTrail: entry,
		increment: increment,
	}
}

// Stop returns the current stop level.
func (s *StopLoss) Stop() float64 { return s.stop }

// BreakevenReached reports whether the stop has advanced to the entry price.
func (s *StopLoss) BreakevenReached() bool { return s.breakeven }

// AdvanceProgressive applies the pre-breakeven rule set to the latest price.
// Only the first matching rule fires per call.
func (s *StopLoss) AdvanceProgressive(price float64) float64 {
	if s.breakeven {
		return s.stop
	}
	switch {
	case price >= s.entry+(s.refMid-s.refLow) && s.stop < s.refMid:
		log.Infof("StopLoss | advanced to mid: %.2f -> %.2f", s.stop, s.refMid)
		s.stop = s.refMid
	case price >= s.entry+(s.refHigh-s.refLow) && s.stop < s.refHigh:
		log.Infof("StopLoss | advanced to high: %.2f -> %.2f", s.stop, s.refHigh)
		s.stop = s.refHigh
	case price >= s.entry+(s.entry-s.refLow) && s.stop < s.entry:
		log.Infof("StopLoss | advanced to breakeven: %.2f -> %.2f", s.stop, s.entry)
		s.stop = s.entry
		s.breakeven = true
	}
	return s.stop
}

// AdvanceTrailing raises the stop by whole increments above entry. Only a
// newly crossed increment level moves it.
func (s *StopLoss) AdvanceTrailing(price float64) float64 {
	if !s.breakeven {
		return s.stop
	}
	n := int(math.Floor((price - s.entry) / s.increment))
	if n > 0 {
		level := s.entry + float64(n)*s.increment
		if level > s.lastTrail {
			log.Infof("StopLoss | trailing advanced: %.2f -> %.2f", s.stop, level)
			s.stop = level
			s.lastTrail = level
		}
	}
	return s.stop
}

// Advance applies one stop update for the candle: progressive before
// breakeven, trailing after. Never both in the same call.
func (s *StopLoss) Advance(price float64) float64 {
	if s.breakeven {
		return s.AdvanceTrailing(price)
	}
	return s.AdvanceProgressive(price)
}

// CheckHit reports whether the candle's low touched the stop.
func (s *StopLoss) CheckHit(low float64) bool {
	if low <= s.stop {
		log.Warnf("StopLoss | hit: low %.2f <= stop %.2f", low, s.stop)
		return true
	}
	return false
}
