package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ConnectionState is the transport state, for health checks.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// subscribeMessage asks the server to stream the given tokens.
type subscribeMessage struct {
	Action string  `json:"action"`
	Tokens []int64 `json:"tokens"`
}

// tickMessage is one tick on the wire. Timestamp is unix milliseconds.
type tickMessage struct {
	Token     int64   `json:"token"`
	Price     float64 `json:"ltp"`
	Timestamp int64   `json:"ts"`
}

// WebsocketFeed streams ticks over a websocket with automatic reconnect.
// Tokens subscribed before the connection is established are queued and sent
// on connect; after a reconnect the full token set is re-sent, so
// resubscription is idempotent.
type WebsocketFeed struct {
	url   string
	token string

	mu         sync.RWMutex
	conn       *websocket.Conn
	state      ConnectionState
	healthErr  error
	closed     bool
	subscribed map[int64]struct{}
	handler    TickHandler
	cancelFunc context.CancelFunc

	// gorilla/websocket allows one concurrent writer. Subscribe writes from
	// the caller's goroutine while the stream goroutine writes pings, so
	// every write goes through writeMu.
	writeMu sync.Mutex
}

// NewWebsocketFeed creates a feed client for the given endpoint. token is
// the broker access token passed as a query parameter.
func NewWebsocketFeed(url, token string) *WebsocketFeed {
	return &WebsocketFeed{
		url:        url,
		token:      token,
		state:      Disconnected,
		subscribed: make(map[int64]struct{}),
	}
}

// OnTick sets the tick callback.
func (f *WebsocketFeed) OnTick(h TickHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Subscribe adds tokens to the subscription set and, when connected, sends
// the subscribe message immediately. Before connect the tokens are queued.
func (f *WebsocketFeed) Subscribe(tokens ...int64) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("feed is closed")
	}
	var fresh []int64
	for _, t := range tokens {
		if _, ok := f.subscribed[t]; !ok {
			f.subscribed[t] = struct{}{}
			fresh = append(fresh, t)
		}
	}
	conn := f.conn
	connected := f.state == Connected
	f.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	if !connected || conn == nil {
		log.Infof("Feed | queueing %d subscriptions until connect", len(fresh))
		return nil
	}
	return f.sendSubscribe(conn, fresh)
}

func (f *WebsocketFeed) sendSubscribe(conn *websocket.Conn, tokens []int64) error {
	msg, err := json.Marshal(subscribeMessage{Action: "subscribe", Tokens: tokens})
	if err != nil {
		return err
	}
	if err := f.writeMessage(conn, websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	log.Infof("Feed | subscribed to %d tokens", len(tokens))
	return nil
}

func (f *WebsocketFeed) writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// Start runs the connection loop in its own goroutine, reconnecting with
// exponential backoff until the context is cancelled or Close is called.
func (f *WebsocketFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = Connecting
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	f.cancelFunc = cancel

	go func() {
		defer f.Close()
		retryDelay := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := f.connectAndStream(ctx); err != nil {
					f.mu.Lock()
					f.state = Reconnecting
					f.healthErr = err
					f.mu.Unlock()
					log.Warnf("Feed | disconnected, retrying in %v: %v", retryDelay, err)
					time.Sleep(retryDelay)
					if retryDelay < 60*time.Second {
						retryDelay *= 2
					} else {
						retryDelay = 60 * time.Second
					}
					continue
				}
				return
			}
		}
	}()
}

// connectAndStream handles a single websocket session: connect, resubscribe
// the full token set, then pump ticks to the handler until the connection
// drops.
func (f *WebsocketFeed) connectAndStream(ctx context.Context) error {
	f.mu.Lock()
	f.state = Connecting
	f.healthErr = nil
	f.mu.Unlock()

	c, _, err := websocket.DefaultDialer.Dial(f.url+"?access_token="+f.token, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = c
	f.state = Connected
	tokens := make([]int64, 0, len(f.subscribed))
	for t := range f.subscribed {
		tokens = append(tokens, t)
	}
	handler := f.handler
	f.mu.Unlock()

	log.Infof("Feed | connected to %s", f.url)
	defer func() {
		c.Close()
		f.mu.Lock()
		f.conn = nil
		f.state = Disconnected
		f.mu.Unlock()
	}()

	if len(tokens) > 0 {
		if err := f.sendSubscribe(c, tokens); err != nil {
			return err
		}
	}

	c.SetPongHandler(func(string) error { return nil })
	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingTicker.C:
			if err := f.writeMessage(c, websocket.PingMessage, nil); err != nil {
				return err
			}
		default:
			c.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, message, err := c.ReadMessage()
			if err != nil {
				return err
			}
			var tick tickMessage
			if err := json.Unmarshal(message, &tick); err != nil {
				log.Warnf("Feed | dropping unparseable message: %v", err)
				continue
			}
			if handler != nil {
				handler(tick.Token, tick.Price, time.UnixMilli(tick.Timestamp))
			}
		}
	}
}

// IsConnected reports whether the transport is up.
func (f *WebsocketFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state == Connected && f.conn != nil
}

// Health returns the last transport error.
func (f *WebsocketFeed) Health() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.healthErr
}

// Close tears the feed down and stops the connection loop.
func (f *WebsocketFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info("Feed | closed")
}
