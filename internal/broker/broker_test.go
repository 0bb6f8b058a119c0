package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryOrder() EntryOrder {
	return EntryOrder{
		TradeID:   "t-1",
		Symbol:    "NFO:NIFTY25SEP25000CE",
		Side:      "CALL",
		Quantity:  75,
		Price:     152.5,
		StopLoss:  130,
		Timestamp: time.Date(2025, 9, 15, 10, 20, 0, 0, time.UTC),
	}
}

func TestRESTSink(t *testing.T) {
	t.Run("entry carries idempotency key and parses confirmation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/signals", r.URL.Path)
			assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
			assert.Equal(t, "t-1", r.Header.Get("Idempotency-Key"))

			var p signalPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.Equal(t, "ENTRY", p.SignalType)
			assert.Equal(t, "BUY", p.Side)
			assert.Equal(t, 75, p.Qty)

			fmt.Fprint(w, `{"status":"success","order_id":"ORD1","filled_qty":75,"average_price":152.5}`)
		}))
		defer srv.Close()

		sink := NewRESTSink(srv.URL, "key")
		conf, err := sink.PlaceEntry(context.Background(), entryOrder())
		require.NoError(t, err)
		assert.Equal(t, "ORD1", conf.OrderID)
		assert.Equal(t, 75, conf.FilledQty)
		assert.Equal(t, 152.5, conf.AveragePrice)
	})

	t.Run("retries 5xx then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"status":"success","order_id":"ORD2","filled_qty":75,"average_price":150}`)
		}))
		defer srv.Close()

		sink := NewRESTSink(srv.URL, "key")
		sink.baseDelay = time.Millisecond

		conf, err := sink.PlaceEntry(context.Background(), entryOrder())
		require.NoError(t, err)
		assert.Equal(t, "ORD2", conf.OrderID)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("4xx fails without retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		sink := NewRESTSink(srv.URL, "key")
		_, err := sink.PlaceEntry(context.Background(), entryOrder())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejected order is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"error","message":"margin exceeded"}`)
		}))
		defer srv.Close()

		sink := NewRESTSink(srv.URL, "key")
		_, err := sink.PlaceEntry(context.Background(), entryOrder())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "margin exceeded")
	})

	t.Run("exit idempotency key includes the reason", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "t-1:STOP_LOSS", r.Header.Get("Idempotency-Key"))
			var p signalPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.Equal(t, "EXIT", p.SignalType)
			assert.Equal(t, "SELL", p.Side)
			assert.Equal(t, "STOP_LOSS", p.ExitReason)
			fmt.Fprint(w, `{"status":"success","order_id":"ORD3","filled_qty":75,"average_price":140}`)
		}))
		defer srv.Close()

		sink := NewRESTSink(srv.URL, "key")
		_, err := sink.PlaceExit(context.Background(), ExitOrder{
			TradeID: "t-1", Symbol: "NFO:NIFTY25SEP25000CE", Side: "CALL",
			Quantity: 75, Price: 140, Reason: "STOP_LOSS", Timestamp: time.Now(),
		})
		require.NoError(t, err)
	})
}

func TestPaperSink(t *testing.T) {
	t.Run("entry and exit round trip with pnl", func(t *testing.T) {
		dir := t.TempDir()
		sink, err := NewPaperSink(dir, time.UTC)
		require.NoError(t, err)

		conf, err := sink.PlaceEntry(context.Background(), entryOrder())
		require.NoError(t, err)
		assert.Equal(t, 75, conf.FilledQty)
		assert.Equal(t, 152.5, conf.AveragePrice)

		_, err = sink.PlaceExit(context.Background(), ExitOrder{
			TradeID: "t-1", Symbol: "NFO:NIFTY25SEP25000CE", Side: "CALL",
			Quantity: 75, Price: 172.5, Reason: "RSI_DROP",
			Timestamp: time.Date(2025, 9, 15, 11, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		matches, err := filepath.Glob(filepath.Join(dir, "paper_trades_*.csv"))
		require.NoError(t, err)
		require.Len(t, matches, 1)

		f, err := os.Open(matches[0])
		require.NoError(t, err)
		defer f.Close()

		var rows []*paperRecord
		require.NoError(t, gocsv.UnmarshalFile(f, &rows))
		require.Len(t, rows, 2)

		assert.Equal(t, "ENTRY", rows[0].Action)
		assert.Equal(t, 130.0, rows[0].StopLoss)
		assert.Equal(t, "EXIT", rows[1].Action)
		assert.Equal(t, "RSI_DROP", rows[1].ExitReason)
		assert.Equal(t, 1500.0, rows[1].PnL) // (172.5-152.5)*75
	})

	t.Run("exit without matching entry fails", func(t *testing.T) {
		sink, err := NewPaperSink(t.TempDir(), time.UTC)
		require.NoError(t, err)

		_, err = sink.PlaceExit(context.Background(), ExitOrder{TradeID: "missing", Quantity: 75, Price: 100, Timestamp: time.Now()})
		require.Error(t, err)
	})
}
