package histdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Fetch(t *testing.T) {
	from := time.Date(2025, 9, 15, 9, 15, 0, 0, time.UTC)
	to := time.Date(2025, 9, 15, 9, 17, 0, 0, time.UTC)

	t.Run("parses and orders bars", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/instruments/historical/256265/minute", r.URL.Path)
			assert.Equal(t, "token key:secret", r.Header.Get("Authorization"))
			assert.Equal(t, "2025-09-15 09:15:00", r.URL.Query().Get("from"))
			// Out of order on purpose.
			fmt.Fprint(w, `{"status":"ok","data":{"candles":[
				["2025-09-15T09:16:00+0000",25010,25030,25005,25025,900],
				["2025-09-15T09:15:00+0000",25000,25020,24990,25010,1200]
			]}}`)
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL, "key", "secret", time.UTC)
		bars, err := p.Fetch(context.Background(), 256265, from, to, "minute")
		require.NoError(t, err)
		require.Len(t, bars, 2)

		assert.Equal(t, from, bars[0].Timestamp)
		assert.Equal(t, 25000.0, bars[0].Open)
		assert.Equal(t, 25020.0, bars[0].High)
		assert.Equal(t, 24990.0, bars[0].Low)
		assert.Equal(t, 25010.0, bars[0].Close)
		assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
	})

	t.Run("retries on 503 then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `{"status":"ok","data":{"candles":[["2025-09-15T09:15:00+0000",100,105,95,101,0]]}}`)
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL, "key", "secret", time.UTC)
		p.baseDelay = time.Millisecond
		p.maxDelay = 5 * time.Millisecond

		bars, err := p.Fetch(context.Background(), 1, from, to, "minute")
		require.NoError(t, err)
		assert.Len(t, bars, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("non-retryable status fails immediately", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL, "key", "secret", time.UTC)
		_, err := p.Fetch(context.Background(), 1, from, to, "minute")
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("exhausts retries on persistent 500", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL, "key", "secret", time.UTC)
		p.baseDelay = time.Millisecond
		p.maxDelay = 5 * time.Millisecond

		_, err := p.Fetch(context.Background(), 1, from, to, "minute")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("skips malformed rows", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"ok","data":{"candles":[
				["garbage",1,2,3,4,5],
				["2025-09-15T09:15:00+0000",100],
				["2025-09-15T09:16:00+0000",100,105,95,101,0]
			]}}`)
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL, "key", "secret", time.UTC)
		bars, err := p.Fetch(context.Background(), 1, from, to, "minute")
		require.NoError(t, err)
		require.Len(t, bars, 1)
		assert.Equal(t, 101.0, bars[0].Close)
	})
}

func TestMockProvider_Fetch(t *testing.T) {
	from := time.Date(2025, 9, 15, 9, 45, 0, 0, time.UTC)
	to := time.Date(2025, 9, 15, 9, 59, 0, 0, time.UTC)

	p := NewMockProvider(map[int64]float64{7: 200}, 1)
	bars, err := p.Fetch(context.Background(), 7, from, to, "minute")
	require.NoError(t, err)
	require.Len(t, bars, 15)

	for i, b := range bars {
		assert.Equal(t, from.Add(time.Duration(i)*time.Minute), b.Timestamp)
		assert.GreaterOrEqual(t, b.High, b.Low)
		assert.GreaterOrEqual(t, b.High, b.Open)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Open)
		assert.LessOrEqual(t, b.Low, b.Close)
	}

	// Consecutive bars chain: each open equals the previous close.
	for i := 1; i < len(bars); i++ {
		assert.Equal(t, bars[i-1].Close, bars[i].Open)
	}
}
