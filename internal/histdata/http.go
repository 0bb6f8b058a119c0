package histdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	backoffFactor = 2.0
	jitterRange   = 0.1 // ±10% jitter
)

// HTTPProvider fetches historical candles from the broker's REST API.
// Transient failures (network errors, 429/5xx) are retried with exponential
// backoff and jitter.
type HTTPProvider struct {
	baseURL     string
	apiKey      string
	accessToken string
	client      *http.Client
	location    *time.Location

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewHTTPProvider creates a provider against the given API base URL.
// Timestamps in responses without a zone offset are interpreted in loc.
func NewHTTPProvider(baseURL, apiKey, accessToken string, loc *time.Location) *HTTPProvider {
	return &HTTPProvider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		client:      &http.Client{Timeout: 30 * time.Second},
		location:    loc,
		maxRetries:  3,
		baseDelay:   2 * time.Second,
		maxDelay:    30 * time.Second,
	}
}

// candleResponse is the broker's historical data envelope. Each candle is an
// array: [timestamp, open, high, low, close, volume].
type candleResponse struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}

func (p *HTTPProvider) Fetch(ctx context.Context, token int64, from, to time.Time, interval string) ([]Bar, error) {
	const tsFormat = "2006-01-02 15:04:05"

	endpoint := fmt.Sprintf("%s/instruments/historical/%d/%s", p.baseURL, token, interval)
	query := url.Values{}
	query.Set("from", from.Format(tsFormat))
	query.Set("to", to.Format(tsFormat))
	requestURL := endpoint + "?" + query.Encode()

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", p.apiKey, p.accessToken))
		req.Header.Set("Accept", "application/json")

		log.Debugf("HistData | attempt %d/%d for token %d [%s → %s]", attempt+1, p.maxRetries, token, from.Format(tsFormat), to.Format(tsFormat))

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
			log.Warnf("HistData | %v", lastErr)
			if err := p.waitRetry(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", resp.StatusCode, attempt+1, string(body))
			log.Warnf("HistData | %v", lastErr)
			if !isRetryableHTTPStatus(resp.StatusCode) {
				return nil, lastErr
			}
			if err := p.waitRetry(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if readErr != nil {
			lastErr = fmt.Errorf("error reading response body on attempt %d: %w", attempt+1, readErr)
			log.Warnf("HistData | %v", lastErr)
			if err := p.waitRetry(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		var envelope candleResponse
		if err := json.Unmarshal(body, &envelope); err != nil {
			lastErr = fmt.Errorf("JSON decode error on attempt %d: %w", attempt+1, err)
			log.Warnf("HistData | %v", lastErr)
			if err := p.waitRetry(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		bars := p.parseBars(envelope.Data.Candles)
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		log.Infof("HistData | fetched %d bars for token %d", len(bars), token)
		return bars, nil
	}

	return nil, fmt.Errorf("failed to fetch bars after %d attempts, last error: %w", p.maxRetries, lastErr)
}

// waitRetry sleeps for the backoff delay of the given attempt, unless it was
// the last one or the context is cancelled.
func (p *HTTPProvider) waitRetry(ctx context.Context, attempt int) error {
	if attempt >= p.maxRetries-1 {
		return nil
	}
	delay := retryDelay(attempt, p.baseDelay, p.maxDelay)
	log.Debugf("HistData | retrying in %v", delay)
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

func (p *HTTPProvider) parseBars(raw [][]any) []Bar {
	bars := make([]Bar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		ts, ok := p.parseTimestamp(row[0])
		if !ok {
			continue
		}
		bars = append(bars, Bar{
			Timestamp: ts,
			Open:      parseNum(row[1]),
			High:      parseNum(row[2]),
			Low:       parseNum(row[3]),
			Close:     parseNum(row[4]),
		})
	}
	return bars
}

func (p *HTTPProvider) parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.In(p.location), true
			}
		}
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", t, p.location); err == nil {
			return ts, true
		}
		log.Warnf("HistData | unparseable timestamp %q", t)
		return time.Time{}, false
	case float64:
		return time.Unix(int64(t)/1000, 0).In(p.location), true
	default:
		log.Warnf("HistData | unexpected timestamp type %T", v)
		return time.Time{}, false
	}
}

func parseNum(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			log.Warnf("HistData | error parsing float string: %v", err)
			return 0
		}
		return f
	default:
		log.Warnf("HistData | unexpected number type %T", v)
		return 0
	}
}

// retryDelay computes exponential backoff with jitter, capped at maxDelay.
func retryDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
