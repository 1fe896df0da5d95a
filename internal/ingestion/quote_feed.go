package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// QuoteFeedClient streams quotes from a websocket price feed into the quote
// book. It owns one connection at a time and redials with backoff.
//
// Frames are a QuoteJSON object or an array of them. On connect the client
// sends {"op":"subscribe","feeds":[...]} when Feeds is non-empty.
type QuoteFeedClient struct {
	URL    string
	Feeds  []string
	quotes *QuoteIngester
	dialer *websocket.Dialer
	logger zerolog.Logger

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	WatchdogTimeout time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration

	connected atomic.Bool
}

type subscribeMsg struct {
	Op    string   `json:"op"`
	Feeds []string `json:"feeds"`
}

func NewQuoteFeedClient(url string, feeds []string, quotes *QuoteIngester, logger zerolog.Logger) *QuoteFeedClient {
	return &QuoteFeedClient{
		URL:             url,
		Feeds:           feeds,
		quotes:          quotes,
		dialer:          websocket.DefaultDialer,
		logger:          logger,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    20 * time.Second,
		WatchdogTimeout: 2 * time.Minute,
		ReconnectMin:    500 * time.Millisecond,
		ReconnectMax:    30 * time.Second,
	}
}

// Connected reports whether a session is live. Used by the readiness probe.
func (c *QuoteFeedClient) Connected() bool { return c.connected.Load() }

// Run keeps a session open until ctx ends.
func (c *QuoteFeedClient) Run(ctx context.Context) error {
	backoff := c.ReconnectMin
	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > c.ReconnectMax {
			backoff = c.ReconnectMin
		}
		c.logger.Warn().Err(err).Dur("retry_in", backoff).Str("url", c.URL).Msg("quote feed disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.ReconnectMax)
	}
}

func (c *QuoteFeedClient) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if len(c.Feeds) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Feeds: c.Feeds}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info().Str("url", c.URL).Strs("feeds", c.Feeds).Msg("quote feed connected")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastFrame atomic.Int64
	lastFrame.Store(time.Now().UnixNano())

	go c.writePump(sessCtx, conn)
	go c.watchdog(sessCtx, conn, &lastFrame)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		lastFrame.Store(time.Now().UnixNano())
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		c.handleFrame(frame)
	}
}

// writePump is the connection's only writer once the session starts.
func (c *QuoteFeedClient) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.WriteTimeout))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.WriteTimeout)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// watchdog drops a connection that is open but silent.
func (c *QuoteFeedClient) watchdog(ctx context.Context, conn *websocket.Conn, lastFrame *atomic.Int64) {
	ticker := time.NewTicker(c.WatchdogTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, lastFrame.Load())) > c.WatchdogTimeout {
				c.logger.Warn().Dur("silent_for", c.WatchdogTimeout).Msg("quote feed watchdog fired")
				conn.Close()
				return
			}
		}
	}
}

func (c *QuoteFeedClient) handleFrame(frame []byte) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return
	}
	items := []json.RawMessage{frame}
	if frame[0] == '[' {
		if err := json.Unmarshal(frame, &items); err != nil {
			c.logger.Warn().Err(err).Msg("quote feed frame dropped")
			return
		}
	}
	for _, item := range items {
		u, err := ParseQuote(item)
		if err == nil {
			_, err = c.quotes.Apply(u)
		}
		if err != nil && !errors.Is(err, ErrUnknownFeed) {
			c.logger.Warn().Err(err).Msg("quote feed item dropped")
		}
	}
}
