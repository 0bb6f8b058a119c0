// Package strike maps the index spot price to the option legs to trade.
package strike

import (
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/instrument"
)

// Lookup is the slice of the instrument master the selector needs.
type Lookup interface {
	NearestExpiry(from time.Time) (time.Time, error)
	Lookup(strike int, optionType string, expiry time.Time) (instrument.Contract, error)
	CheckLiquidity(strike int, optionType string, expiry time.Time) bool
}

// Selection is the result of one strike selection.
type Selection struct {
	Call       instrument.Contract
	Put        instrument.Contract
	CallStrike int
	PutStrike  int
	Expiry     time.Time
	Spot       float64
}

// Selector picks in-the-money legs a fixed offset away from spot: the call
// below spot, the put above it.
type Selector struct {
	lookup Lookup
	offset float64
	step   int
}

// NewSelector creates a selector with the configured strike offset and the
// exchange's strike step.
func NewSelector(lookup Lookup, offset float64, step int) *Selector {
	return &Selector{lookup: lookup, offset: offset, step: step}
}

// RoundToNearest rounds a price to the nearest multiple of base.
func RoundToNearest(value float64, base int) int {
	return base * int(math.Round(value/float64(base)))
}

// Select resolves both option legs for the given spot price at the nearest
// expiry on or after now. A leg missing at the computed strike is retried at
// strike+step then strike-step. If either leg still cannot be resolved the
// whole selection fails: trading one leg only is never acceptable.
func (s *Selector) Select(spot float64, now time.Time) (Selection, error) {
	expiry, err := s.lookup.NearestExpiry(now)
	if err != nil {
		return Selection{}, fmt.Errorf("select strikes: %w", err)
	}

	callStrike := RoundToNearest(spot-s.offset, s.step)
	putStrike := RoundToNearest(spot+s.offset, s.step)
	log.Infof("StrikeSelector | spot %.2f: trying %d CE / %d PE expiring %s",
		spot, callStrike, putStrike, expiry.Format("2006-01-02"))

	call, callStrike, callErr := s.resolveLeg(callStrike, instrument.OptionTypeCall, expiry)
	put, putStrike, putErr := s.resolveLeg(putStrike, instrument.OptionTypePut, expiry)
	switch {
	case callErr != nil && putErr != nil:
		return Selection{}, fmt.Errorf("select strikes: both legs failed: call: %v; put: %v", callErr, putErr)
	case callErr != nil:
		return Selection{}, fmt.Errorf("select strikes: call leg failed: %w", callErr)
	case putErr != nil:
		return Selection{}, fmt.Errorf("select strikes: put leg failed: %w", putErr)
	}

	s.lookup.CheckLiquidity(callStrike, instrument.OptionTypeCall, expiry)
	s.lookup.CheckLiquidity(putStrike, instrument.OptionTypePut, expiry)

	log.Infof("StrikeSelector | selected %s (token %d) / %s (token %d)",
		call.Symbol, call.Token, put.Symbol, put.Token)
	return Selection{
		Call:       call,
		Put:        put,
		CallStrike: callStrike,
		PutStrike:  putStrike,
		Expiry:     expiry,
		Spot:       spot,
	}, nil
}

// resolveLeg looks up one leg, falling back to the adjacent strikes when the
// computed one is missing from the master.
func (s *Selector) resolveLeg(strike int, optionType string, expiry time.Time) (instrument.Contract, int, error) {
	c, err := s.lookup.Lookup(strike, optionType, expiry)
	if err == nil {
		return c, strike, nil
	}
	log.Warnf("StrikeSelector | strike %d %s not found, trying ±%d", strike, optionType, s.step)
	for _, alt := range []int{strike + s.step, strike - s.step} {
		if c, err := s.lookup.Lookup(alt, optionType, expiry); err == nil {
			log.Infof("StrikeSelector | using alternate strike %d %s", alt, optionType)
			return c, alt, nil
		}
	}
	return instrument.Contract{}, 0, fmt.Errorf("no contract at %d %s or ±%d", strike, optionType, s.step)
}
