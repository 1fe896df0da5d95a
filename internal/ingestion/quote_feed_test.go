package ingestion_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// feedServer accepts websocket clients, records the subscribe message and
// writes every frame queued on frames.
type feedServer struct {
	*httptest.Server
	frames chan string

	mu        sync.Mutex
	subscribe map[string]interface{}
	conns     int
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{frames: make(chan string, 16)}
	upgrader := websocket.Upgrader{}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		fs.mu.Lock()
		fs.subscribe = sub
		fs.conns++
		fs.mu.Unlock()

		for frame := range fs.frames {
			if frame == "close" {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(fs.Close)
	t.Cleanup(func() { close(fs.frames) })
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *feedServer) connections() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns
}

func startFeed(t *testing.T, fs *feedServer) (*ingestion.QuoteFeedClient, *oracle.QuoteBook) {
	t.Helper()
	f := testutil.NewFixture(t)
	book := oracle.NewQuoteBook()
	qi := ingestion.NewQuoteIngester(book, f.Registry, nil, zerolog.Nop())

	client := ingestion.NewQuoteFeedClient(fs.wsURL(), []string{"ETH-USD", "BTC-USD"}, qi, zerolog.Nop())
	client.ReconnectMin = 10 * time.Millisecond
	client.ReconnectMax = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return client, book
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =============================================================================
// Quote feed
// =============================================================================

func TestQuoteFeed_SubscribesAndApplies(t *testing.T) {
	fs := newFeedServer(t)
	client, book := startFeed(t, fs)

	waitFor(t, client.Connected)
	fs.frames <- `{"feed":"ETH-USD","round_id":1,"price":"2001.5","updated_at":"2026-03-01T12:00:00Z"}`

	waitFor(t, func() bool {
		q, _ := book.LatestQuote(testutil.WETH)
		return q.RoundID == 1
	})

	fs.mu.Lock()
	sub := fs.subscribe
	fs.mu.Unlock()
	if sub["op"] != "subscribe" {
		t.Errorf("subscribe op: got %v", sub["op"])
	}
	feeds, _ := sub["feeds"].([]interface{})
	if len(feeds) != 2 {
		t.Errorf("subscribe feeds: got %v", sub["feeds"])
	}

	q, _ := book.LatestQuote(testutil.WETH)
	if q.Price.String() != "200150000000" {
		t.Errorf("price: got %s", q.Price)
	}
}

func TestQuoteFeed_ArrayFramesAndBadItems(t *testing.T) {
	fs := newFeedServer(t)
	client, book := startFeed(t, fs)

	waitFor(t, client.Connected)
	fs.frames <- `not json`
	fs.frames <- `[` +
		`{"feed":"DOGE-USD","round_id":1,"price":"1","updated_at":"2026-03-01T12:00:00Z"},` +
		`{"feed":"ETH-USD","round_id":2,"price":"bad","updated_at":"2026-03-01T12:00:00Z"},` +
		`{"feed":"BTC-USD","round_id":9,"price":"61000","updated_at":"2026-03-01T12:00:00Z"}` +
		`]`

	waitFor(t, func() bool {
		q, _ := book.LatestQuote(testutil.WBTC)
		return q.RoundID == 9
	})
	if q, _ := book.LatestQuote(testutil.WETH); q.Price != nil && q.Price.Sign() != 0 {
		t.Errorf("malformed ETH item applied: %+v", q)
	}
}

func TestQuoteFeed_Reconnects(t *testing.T) {
	fs := newFeedServer(t)
	client, book := startFeed(t, fs)

	waitFor(t, func() bool { return fs.connections() == 1 })
	fs.frames <- "close"

	waitFor(t, func() bool { return fs.connections() == 2 })
	waitFor(t, client.Connected)
	fs.frames <- `{"feed":"ETH-USD","round_id":4,"price":"1999","updated_at":"2026-03-01T12:00:00Z"}`

	waitFor(t, func() bool {
		q, _ := book.LatestQuote(testutil.WETH)
		return q.RoundID == 4
	})
}
