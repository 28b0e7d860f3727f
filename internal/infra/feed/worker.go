// Package feed maintains a streaming price cache over a websocket
// price feed. The cache sits in front of the HTTP oracle: a fresh
// streamed price answers immediately, anything stale falls through.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"limit_go/internal/domain"
	"limit_go/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

type cacheEntry struct {
	price      decimal.Decimal
	receivedAt time.Time
}

// PriceCache holds the latest streamed price per mint.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{entries: make(map[string]cacheEntry)}
}

// Put stores a streamed price.
func (c *PriceCache) Put(tokenAddress string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tokenAddress] = cacheEntry{price: price, receivedAt: time.Now()}
}

// Get returns the cached price and its age. ok is false when the mint
// has never been streamed.
func (c *PriceCache) Get(tokenAddress string) (price decimal.Decimal, age time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[tokenAddress]
	if !ok {
		return decimal.Zero, 0, false
	}
	return entry.price, time.Since(entry.receivedAt), true
}

// priceMessage is one streamed price update.
type priceMessage struct {
	Type  string  `json:"type"` // "price"
	Mint  string  `json:"mint"`
	Price float64 `json:"price"`
	Ts    int64   `json:"ts"`
}

// Worker handles the price feed websocket connection.
type Worker struct {
	wsURL     string
	mints     []string
	cache     *PriceCache
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a feed worker subscribing to the given mints.
func NewWorker(wsURL string, mints []string, cache *PriceCache) *Worker {
	return &Worker{
		wsURL: wsURL,
		mints: mints,
		cache: cache,
	}
}

// Connect starts the websocket connection loop.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// IsConnected reports whether the feed is currently connected.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Price feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Price feed connected", slog.Int("subs", len(w.mints)))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"op":    "subscribe",
		"mints": w.mints,
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	// The ping goroutine must not outlive this read loop: stopPing
	// releases it when the connection drops, not just on shutdown.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-pingTicker.C:
				if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var update priceMessage
	if json.Unmarshal(msg, &update) != nil || update.Type != "price" {
		return
	}
	if update.Mint == "" || update.Price <= 0 {
		return
	}
	w.cache.Put(update.Mint, decimal.NewFromFloat(update.Price))
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect stops the connection loop and closes the socket.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// CachedOracle serves streamed prices while fresh and falls back to the
// HTTP oracle otherwise.
type CachedOracle struct {
	cache    *PriceCache
	fallback domain.PriceOracle
	maxAge   time.Duration
}

// NewCachedOracle layers the cache in front of fallback. Prices older
// than maxAge are treated as missing.
func NewCachedOracle(cache *PriceCache, fallback domain.PriceOracle, maxAge time.Duration) *CachedOracle {
	return &CachedOracle{
		cache:    cache,
		fallback: fallback,
		maxAge:   maxAge,
	}
}

// GetPrice implements domain.PriceOracle.
func (o *CachedOracle) GetPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	if price, age, ok := o.cache.Get(tokenAddress); ok && age <= o.maxAge {
		return price, nil
	}
	return o.fallback.GetPrice(ctx, tokenAddress)
}
