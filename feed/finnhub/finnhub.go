// Package finnhub streams forex trade prints from the Finnhub websocket
// API and turns them into quotes.
package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/shopspring/decimal"
)

const (
	DefaultURL            = "wss://ws.finnhub.io"
	DefaultMaxReconnects  = 5
	DefaultReconnectDelay = 3 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultPingInterval   = 30 * time.Second

	writeWait = 10 * time.Second

	providerPrefix = "OANDA:"
)

var ErrNotConnected = errors.New("finnhub: not connected")

type Config struct {
	URL            string        `yaml:"url" json:"url"`
	Token          string        `yaml:"token" json:"token"`
	MaxReconnects  int           `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval" json:"ping_interval"`
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
}

// ToProvider maps EURUSD to OANDA:EUR_USD.
func ToProvider(symbol string) string {
	if len(symbol) != 6 || strings.ContainsAny(symbol, ":_") {
		return symbol
	}
	return providerPrefix + symbol[:3] + "_" + symbol[3:]
}

// FromProvider maps OANDA:EUR_USD back to EURUSD.
func FromProvider(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		symbol = symbol[i+1:]
	}
	return strings.ReplaceAll(symbol, "_", "")
}

type request struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type message struct {
	Type string  `json:"type"`
	Data []trade `json:"data"`
}

type trade struct {
	Symbol string          `json:"s"`
	Price  decimal.Decimal `json:"p"`
	Time   int64           `json:"t"`
}

// Client implements feed.Transport. It reconnects after a dropped
// connection and resubscribes every symbol; after MaxReconnects failed
// attempts in a row it gives up and closes Ticks.
type Client struct {
	cfg   Config
	ticks chan pricing.Tick

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}
	started bool
	cancel  context.CancelFunc

	writeMu   sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		ticks:   make(chan pricing.Tick, 256),
		symbols: make(map[string]struct{}),
	}
}

func (c *Client) Ticks() <-chan pricing.Tick { return c.ticks }

// Start runs the connection loop until ctx is done or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.dropConn()
	c.wg.Wait()
	if !started {
		c.closeOnce.Do(func() { close(c.ticks) })
	}
	return nil
}

// Subscribe remembers symbol and sends the subscribe frame when
// connected. Remembered symbols are resubscribed on every reconnect, so
// a subscribe while disconnected succeeds.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	c.mu.Lock()
	c.symbols[symbol] = struct{}{}
	c.mu.Unlock()
	return c.sendIfConnected(ctx, request{Type: "subscribe", Symbol: ToProvider(symbol)})
}

// Unsubscribe forgets symbol. While disconnected there is nothing to
// send; the next connect will not resubscribe it.
func (c *Client) Unsubscribe(ctx context.Context, symbol string) error {
	c.mu.Lock()
	delete(c.symbols, symbol)
	c.mu.Unlock()
	return c.sendIfConnected(ctx, request{Type: "unsubscribe", Symbol: ToProvider(symbol)})
}

func (c *Client) sendIfConnected(ctx context.Context, req request) error {
	if err := c.send(ctx, req); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.closeOnce.Do(func() { close(c.ticks) })

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err == nil {
			failures = 0
			log.Info().Str("url", c.cfg.URL).Msg("finnhub connected")
			c.resubscribe(ctx)
			pingCtx, stopPing := context.WithCancel(ctx)
			go c.pingLoop(pingCtx, conn)
			err = c.read(ctx, conn)
			stopPing()
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		if failures > c.cfg.MaxReconnects {
			log.Error().Err(err).Int("attempts", c.cfg.MaxReconnects).Msg("finnhub giving up")
			return
		}
		log.Warn().Err(err).Int("attempt", failures).Int("max", c.cfg.MaxReconnects).Msg("finnhub reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("finnhub url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("finnhub dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) resubscribe(ctx context.Context) {
	c.mu.Lock()
	syms := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		syms = append(syms, s)
	}
	c.mu.Unlock()

	for _, s := range syms {
		if err := c.send(ctx, request{Type: "subscribe", Symbol: ToProvider(s)}); err != nil {
			log.Warn().Err(err).Str("symbol", s).Msg("finnhub resubscribe failed")
		}
	}
}

// pingLoop keeps the connection alive. A failed ping closes conn, which
// ends read and triggers a reconnect.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Msg("finnhub ping failed")
				conn.Close()
				return
			}
		}
	}
}

// read pumps messages until the connection fails.
func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	defer c.dropConn()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("finnhub read: %w", err)
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("finnhub skipping unparseable message")
			continue
		}
		if msg.Type != "trade" {
			continue
		}

		for _, tr := range msg.Data {
			t, ok := toTick(tr)
			if !ok {
				continue
			}
			select {
			case c.ticks <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func toTick(tr trade) (pricing.Tick, bool) {
	if tr.Symbol == "" || !tr.Price.IsPositive() {
		return pricing.Tick{}, false
	}
	sym, err := broker.NormalizeSymbol(FromProvider(tr.Symbol))
	if err != nil {
		return pricing.Tick{}, false
	}

	at := time.Now().UTC()
	if tr.Time > 0 {
		at = time.UnixMilli(tr.Time).UTC()
	}
	t := pricing.QuoteAt(sym, tr.Price, at)
	t.Source = pricing.SourceLive
	return t, true
}

func (c *Client) send(ctx context.Context, req request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("finnhub %s %s: %w", req.Type, req.Symbol, err)
	}
	return nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
