package backtest

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

// DateTime parses the dataset's naive timestamps. They carry exchange-local
// wall time with no zone; the driver rebases them into the session location.
type DateTime struct {
	time.Time
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// UnmarshalCSV implements gocsv decoding.
func (d *DateTime) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("parse datetime %q", s)
}

// MarshalCSV implements gocsv encoding.
func (d DateTime) MarshalCSV() (string, error) {
	return d.Format(dateTimeLayouts[0]), nil
}

// Row is one 1-minute record of the combined historical dataset: the index
// and both option legs side by side.
type Row struct {
	Timestamp  DateTime `csv:"datetime"`
	NiftyOpen  float64  `csv:"nifty_open"`
	NiftyHigh  float64  `csv:"nifty_high"`
	NiftyLow   float64  `csv:"nifty_low"`
	NiftyClose float64  `csv:"nifty_close"`
	CallOpen   float64  `csv:"call_open"`
	CallHigh   float64  `csv:"call_high"`
	CallLow    float64  `csv:"call_low"`
	CallClose  float64  `csv:"call_close"`
	PutOpen    float64  `csv:"put_open"`
	PutHigh    float64  `csv:"put_high"`
	PutLow     float64  `csv:"put_low"`
	PutClose   float64  `csv:"put_close"`
}

// LoadRows reads the historical dataset from a CSV file.
func LoadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var rows []Row
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}
	log.Infof("Backtest | loaded %d one-minute rows from %s", len(rows), path)
	return rows, nil
}
