// Package instrument loads the instrument master CSV and resolves tradeable
// contracts: nearest weekly expiry, (strike, option type, expiry) lookup and
// the underlying index token.
package instrument

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

// Option types as they appear in the instrument master.
const (
	OptionTypeCall  = "CE"
	OptionTypePut   = "PE"
	OptionTypeIndex = "INDEX"
)

// Date is a calendar date parsed from the expiry column.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// UnmarshalCSV implements gocsv decoding for the YYYY-MM-DD expiry format.
func (d *Date) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parse expiry %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// MarshalCSV implements gocsv encoding.
func (d Date) MarshalCSV() (string, error) {
	if d.IsZero() {
		return "", nil
	}
	return d.Format(dateLayout), nil
}

// Contract is one row of the instrument master.
type Contract struct {
	Symbol     string `csv:"symbol"`
	Token      int64  `csv:"token"`
	Strike     int    `csv:"strike"`
	Expiry     Date   `csv:"expiry"`
	OptionType string `csv:"option_type"`
	LotSize    int    `csv:"lot_size"`
}

// IsOption reports whether the contract is a CE or PE leg.
func (c Contract) IsOption() bool {
	return c.OptionType == OptionTypeCall || c.OptionType == OptionTypePut
}

// TradingSymbol returns the exchange-prefixed symbol used by broker APIs.
func (c Contract) TradingSymbol() string {
	if c.IsOption() {
		return "NFO:" + c.Symbol
	}
	return "NSE:" + c.Symbol
}

// Store is an in-memory instrument master.
type Store struct {
	contracts []Contract
}

// NewStore builds a store from already-loaded contracts.
func NewStore(contracts []Contract) *Store {
	return &Store{contracts: contracts}
}

// LoadCSV reads the instrument master from a CSV file with columns
// symbol, token, strike, expiry, option_type, lot_size.
func LoadCSV(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument master: %w", err)
	}
	defer f.Close()

	var contracts []Contract
	if err := gocsv.UnmarshalFile(f, &contracts); err != nil {
		return nil, fmt.Errorf("parse instrument master %s: %w", path, err)
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("instrument master %s is empty", path)
	}
	log.Infof("Instrument | loaded %d contracts from %s", len(contracts), path)
	return &Store{contracts: contracts}, nil
}

// NearestExpiry returns the earliest option expiry on or after the given
// date. When every expiry is already past it falls back to the last known
// one with a warning, so a stale master degrades loudly instead of failing
// the whole session.
func (s *Store) NearestExpiry(from time.Time) (time.Time, error) {
	seen := make(map[time.Time]struct{})
	var expiries []time.Time
	for _, c := range s.contracts {
		if !c.IsOption() || c.Expiry.IsZero() {
			continue
		}
		day := c.Expiry.Truncate(24 * time.Hour)
		if _, ok := seen[day]; !ok {
			seen[day] = struct{}{}
			expiries = append(expiries, day)
		}
	}
	if len(expiries) == 0 {
		return time.Time{}, fmt.Errorf("no option expiries in instrument master")
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for _, e := range expiries {
		if !e.Before(fromDay) {
			return e, nil
		}
	}
	last := expiries[len(expiries)-1]
	log.Warnf("Instrument | no expiry on or after %s, falling back to %s",
		fromDay.Format(dateLayout), last.Format(dateLayout))
	return last, nil
}

// Lookup resolves a (strike, option type, expiry) triple to a contract.
func (s *Store) Lookup(strike int, optionType string, expiry time.Time) (Contract, error) {
	for _, c := range s.contracts {
		if c.Strike == strike && c.OptionType == optionType && sameDay(c.Expiry.Time, expiry) {
			return c, nil
		}
	}
	return Contract{}, fmt.Errorf("no contract for strike %d %s expiring %s",
		strike, optionType, expiry.Format(dateLayout))
}

// ByToken returns the contract with the given instrument token.
func (s *Store) ByToken(token int64) (Contract, error) {
	for _, c := range s.contracts {
		if c.Token == token {
			return c, nil
		}
	}
	return Contract{}, fmt.Errorf("no contract for token %d", token)
}

// IndexToken resolves the underlying index's instrument token: the NIFTY row
// that is not an option leg.
func (s *Store) IndexToken() (int64, error) {
	for _, c := range s.contracts {
		if !c.IsOption() && strings.Contains(c.Symbol, "NIFTY") {
			return c.Token, nil
		}
	}
	return 0, fmt.Errorf("index token not found in instrument master")
}

// CheckLiquidity is an advisory check. It only verifies the strike exists in
// the master; the result is logged and never blocks selection.
func (s *Store) CheckLiquidity(strike int, optionType string, expiry time.Time) bool {
	if _, err := s.Lookup(strike, optionType, expiry); err != nil {
		log.Warnf("Instrument | strike %d %s may be illiquid: %v", strike, optionType, err)
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
