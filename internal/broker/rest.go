package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// RESTSink posts entry/exit signals to the execution API. Each request
// carries the trade ID as an idempotency key so a retried submission cannot
// double-fill.
type RESTSink struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

func NewRESTSink(baseURL, apiKey string) *RESTSink {
	return &RESTSink{
		baseURL:    baseURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		baseDelay:  2 * time.Second,
	}
}

// signalPayload is the wire format for both entry and exit signals.
type signalPayload struct {
	SignalType string  `json:"signal_type"`
	TradeID    string  `json:"trade_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Qty        int     `json:"qty"`
	OrderType  string  `json:"order_type"`
	Price      float64 `json:"price"`
	ExitReason string  `json:"exit_reason,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

type signalResponse struct {
	Status       string  `json:"status"`
	OrderID      string  `json:"order_id"`
	Message      string  `json:"message"`
	FilledQty    int     `json:"filled_qty"`
	AveragePrice float64 `json:"average_price"`
}

func (s *RESTSink) PlaceEntry(ctx context.Context, o EntryOrder) (Confirmation, error) {
	log.Infof("Broker | placing ENTRY %s %s qty=%d @ %.2f", o.Side, o.Symbol, o.Quantity, o.Price)
	return s.send(ctx, signalPayload{
		SignalType: "ENTRY",
		TradeID:    o.TradeID,
		Symbol:     o.Symbol,
		Side:       "BUY",
		Qty:        o.Quantity,
		OrderType:  "MARKET",
		Price:      o.Price,
		Timestamp:  o.Timestamp.Unix(),
	}, o.TradeID)
}

func (s *RESTSink) PlaceExit(ctx context.Context, o ExitOrder) (Confirmation, error) {
	log.Infof("Broker | placing EXIT %s %s qty=%d @ %.2f reason=%s", o.Side, o.Symbol, o.Quantity, o.Price, o.Reason)
	return s.send(ctx, signalPayload{
		SignalType: "EXIT",
		TradeID:    o.TradeID,
		Symbol:     o.Symbol,
		Side:       "SELL",
		Qty:        o.Quantity,
		OrderType:  "MARKET",
		Price:      o.Price,
		ExitReason: o.Reason,
		Timestamp:  o.Timestamp.Unix(),
	}, o.TradeID+":"+o.Reason)
}

func (s *RESTSink) Close() error { return nil }

func (s *RESTSink) send(ctx context.Context, payload signalPayload, idempotencyKey string) (Confirmation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Confirmation{}, fmt.Errorf("error encoding signal: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/signals", bytes.NewReader(body))
		if err != nil {
			return Confirmation{}, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("order API error on attempt %d: %w", attempt, err)
			log.Warnf("Broker | %v", lastErr)
			if err := s.waitRetry(ctx, attempt); err != nil {
				return Confirmation{}, err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("order API status %d on attempt %d: %s", resp.StatusCode, attempt, string(respBody))
			log.Warnf("Broker | %v", lastErr)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return Confirmation{}, lastErr
			}
			if err := s.waitRetry(ctx, attempt); err != nil {
				return Confirmation{}, err
			}
			continue
		}

		if readErr != nil {
			lastErr = fmt.Errorf("error reading order response on attempt %d: %w", attempt, readErr)
			log.Warnf("Broker | %v", lastErr)
			if err := s.waitRetry(ctx, attempt); err != nil {
				return Confirmation{}, err
			}
			continue
		}

		var sr signalResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return Confirmation{}, fmt.Errorf("error decoding order response: %w", err)
		}
		if sr.Status != "success" {
			return Confirmation{}, fmt.Errorf("order rejected: %s", sr.Message)
		}

		log.Infof("Broker | %s confirmed: order=%s filled=%d @ %.2f", payload.SignalType, sr.OrderID, sr.FilledQty, sr.AveragePrice)
		return Confirmation{
			OrderID:      sr.OrderID,
			FilledQty:    sr.FilledQty,
			AveragePrice: sr.AveragePrice,
			ExecutedAt:   time.Now(),
		}, nil
	}

	return Confirmation{}, fmt.Errorf("order failed after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *RESTSink) waitRetry(ctx context.Context, attempt int) error {
	if attempt >= s.maxRetries {
		return nil
	}
	delay := s.baseDelay * time.Duration(1<<(attempt-1))
	log.Infof("Broker | retrying in %v", delay)
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during order retry: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}
