package strategy

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/band"
	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
)

// EntryState is the detector's position in its lifecycle.
type EntryState int

const (
	// StateWaiting is the initial state before trading-start time.
	StateWaiting EntryState = iota
	// StateArmed means signals are evaluated on each completed candle.
	StateArmed
	// StatePositioned means a trade is open and signal evaluation is off.
	StatePositioned
)

func (s EntryState) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateArmed:
		return "ARMED"
	case StatePositioned:
		return "POSITIONED"
	default:
		return "UNKNOWN"
	}
}

// EntryDetector implements the two-candle breakout confirmation over
// completed index candles. A CALL fires when the previous and current closes
// are both above resistance and the current close exceeds the previous one;
// a PUT is the mirror against support. After a trade closes, a same-process
// signal is gated until two consecutive closes return inside the band.
type EntryDetector struct {
	startHour   int
	startMinute int
	loc         *time.Location

	state EntryState
	prev  *candle.Candle
	rearm Side
}

// NewEntryDetector creates a detector that ignores candles before the given
// local trading-start time.
func NewEntryDetector(startHour, startMinute int, loc *time.Location) *EntryDetector {
	if loc == nil {
		loc = time.UTC
	}
	return &EntryDetector{
		startHour:   startHour,
		startMinute: startMinute,
		loc:         loc,
		state:       StateWaiting,
		rearm:       SideNone,
	}
}

// State returns the detector's current state.
func (d *EntryDetector) State() EntryState { return d.state }

// qualifies reports whether the candle's window is at or after trading start.
func (d *EntryDetector) qualifies(ts time.Time) bool {
	local := ts.In(d.loc)
	return local.Hour()*60+local.Minute() >= d.startHour*60+d.startMinute
}

// OnCandle processes a newly completed index candle and returns the entry
// side if a signal confirmed. Candles before trading start are ignored; the
// first qualifying candle arms the detector and becomes the comparison
// baseline for the next one.
func (d *EntryDetector) OnCandle(c candle.Candle, levels band.Band) (Side, bool) {
	if !d.qualifies(c.Timestamp) {
		return SideNone, false
	}
	if d.state == StateWaiting {
		log.Infof("EntryDetector | armed at %s", c.Timestamp.In(d.loc).Format("15:04"))
		d.state = StateArmed
		d.prev = &c
		return SideNone, false
	}
	if d.prev == nil {
		d.prev = &c
		return SideNone, false
	}
	prev := *d.prev
	d.prev = &c

	if d.state == StatePositioned {
		return SideNone, false
	}

	if d.rearm != SideNone {
		d.checkRearmCleared(prev, c, levels)
		return SideNone, false
	}

	switch {
	case prev.Close > levels.Resistance && c.Close > levels.Resistance && c.Close > prev.Close:
		log.Infof("EntryDetector | CALL signal: closes %.2f, %.2f above R %.2f",
			prev.Close, c.Close, levels.Resistance)
		d.state = StatePositioned
		return SideCall, true
	case prev.Close < levels.Support && c.Close < levels.Support && c.Close < prev.Close:
		log.Infof("EntryDetector | PUT signal: closes %.2f, %.2f below G %.2f",
			prev.Close, c.Close, levels.Support)
		d.state = StatePositioned
		return SidePut, true
	}
	return SideNone, false
}

// checkRearmCleared clears the pending re-arm gate once two consecutive
// closes are back inside the band on the side that just traded. Evaluation
// resumes on the next candle, never on the clearing pair itself.
func (d *EntryDetector) checkRearmCleared(prev, c candle.Candle, levels band.Band) {
	switch d.rearm {
	case SideCall:
		if prev.Close <= levels.Resistance && c.Close <= levels.Resistance {
			log.Infof("EntryDetector | CALL re-arm cleared, closes %.2f, %.2f back under R %.2f",
				prev.Close, c.Close, levels.Resistance)
			d.rearm = SideNone
		}
	case SidePut:
		if prev.Close >= levels.Support && c.Close >= levels.Support {
			log.Infof("EntryDetector | PUT re-arm cleared, closes %.2f, %.2f back over G %.2f",
				prev.Close, c.Close, levels.Support)
			d.rearm = SideNone
		}
	}
}

// Observe updates the comparison baseline without evaluating signals. The
// orchestrator uses it while new entries are disabled so the detector's
// candle history stays continuous.
func (d *EntryDetector) Observe(c candle.Candle) {
	if !d.qualifies(c.Timestamp) {
		return
	}
	if d.state == StateWaiting {
		d.state = StateArmed
	}
	d.prev = &c
}

// NotifyClosed is called by the orchestrator when the open trade has been
// closed. It re-enables evaluation gated on the just-traded side returning
// inside the band.
func (d *EntryDetector) NotifyClosed(side Side) {
	d.state = StateArmed
	d.rearm = side
	log.Infof("EntryDetector | trade closed, re-arm pending on %s", side)
}

// NotifyEntryFailed reverts a confirmed signal whose order never filled. No
// trade opened, so the detector returns to ARMED with no re-arm gate and the
// next qualifying pair may fire.
func (d *EntryDetector) NotifyEntryFailed() {
	if d.state == StatePositioned {
		d.state = StateArmed
		log.Warn("EntryDetector | entry not filled, re-armed")
	}
}

// Reset reinitializes the detector for a new trading day.
func (d *EntryDetector) Reset() {
	d.state = StateWaiting
	d.prev = nil
	d.rearm = SideNone
}
