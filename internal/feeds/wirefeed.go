package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/models"
)

func init() {
	Register("wirefeed", func(rt *config.Runtime) (Ingestor, error) {
		if rt.Feeds.WireFeedURL == "" {
			return nil, fmt.Errorf("wirefeed_url not configured")
		}
		w := NewWireFeed(rt.Feeds.WireFeedURL, 256)
		w.Start()
		return w, nil
	})
}

type wireMessage struct {
	ID          string   `json:"id"`
	Headline    string   `json:"headline"`
	Body        string   `json:"body"`
	URL         string   `json:"url"`
	Tickers     []string `json:"tickers"`
	PublishedAt string   `json:"published_at"`
}

// WireFeed holds a websocket subscription to a push wire. Messages buffer
// in a bounded ring between cycles; Fetch drains the buffer. The reader
// reconnects with backoff on any error.
type WireFeed struct {
	url     string
	bufSize int

	mu     sync.Mutex
	buf    []*models.NewsItem
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWireFeed builds the adapter without connecting; call Start.
func NewWireFeed(url string, bufSize int) *WireFeed {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &WireFeed{url: url, bufSize: bufSize}
}

func (w *WireFeed) Name() string { return "wirefeed" }

// Start launches the reader goroutine.
func (w *WireFeed) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Close tears down the subscription.
func (w *WireFeed) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *WireFeed) run(ctx context.Context) {
	defer close(w.done)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("wirefeed dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		log.Info().Str("url", w.url).Msg("wirefeed connected")

		w.read(ctx, conn)
		conn.Close()
	}
}

func (w *WireFeed) read(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("wirefeed read failed, reconnecting")
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Msg("wirefeed message unparseable, skipped")
			continue
		}
		if item := wireToItem(msg); item != nil {
			w.push(item)
		}
	}
}

func wireToItem(msg wireMessage) *models.NewsItem {
	title := strings.TrimSpace(msg.Headline)
	if title == "" || msg.ID == "" {
		return nil
	}
	published, err := time.Parse(time.RFC3339, msg.PublishedAt)
	if err != nil {
		published = time.Now()
	}
	item := &models.NewsItem{
		Source:      "wirefeed",
		SourceID:    msg.ID,
		PublishedAt: published.UTC(),
		URL:         msg.URL,
		Title:       title,
		Summary:     strings.TrimSpace(msg.Body),
		Tickers:     msg.Tickers,
	}
	if len(msg.Tickers) == 1 {
		item.Ticker = strings.ToUpper(msg.Tickers[0])
	}
	return item
}

func (w *WireFeed) push(item *models.NewsItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if len(w.buf) >= w.bufSize {
		// Drop the oldest; a stalled pipeline should not grow unbounded.
		w.buf = w.buf[1:]
	}
	w.buf = append(w.buf, item)
}

// Fetch drains the buffered messages newer than since.
func (w *WireFeed) Fetch(_ context.Context, since time.Time) ([]*models.NewsItem, error) {
	w.mu.Lock()
	drained := w.buf
	w.buf = nil
	w.mu.Unlock()

	var items []*models.NewsItem
	for _, item := range drained {
		if item.PublishedAt.Before(since) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
