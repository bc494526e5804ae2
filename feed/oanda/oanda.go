// Package oanda streams live FX prices from the OANDA v20 pricing stream.
//
// The stream is a long-lived HTTP response of newline-delimited JSON. Its
// instrument list is fixed per request, so a change of subscriptions
// reopens the stream.
package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/shopspring/decimal"
)

const (
	PracticeURL           = "https://stream-fxpractice.oanda.com"
	DefaultMaxReconnects  = 5
	DefaultReconnectDelay = 3 * time.Second
)

// BaseURL maps an environment name to the stream host. Live trading
// hosts are refused.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo", "":
		return PracticeURL, nil
	case "live":
		return "", errors.New("oanda: live environment not allowed")
	default:
		return "", fmt.Errorf("oanda: unknown env %q (want practice)", env)
	}
}

type Config struct {
	URL            string        `json:"url" yaml:"url"`
	Token          string        `json:"-" yaml:"-"`
	AccountID      string        `json:"account_id" yaml:"account_id"`
	MaxReconnects  int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	HTTP           *http.Client  `json:"-" yaml:"-"`
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = PracticeURL
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HTTP == nil {
		c.HTTP = http.DefaultClient
	}
}

// ToProvider maps EURUSD to EUR_USD.
func ToProvider(symbol string) string {
	if len(symbol) != 6 {
		return symbol
	}
	return symbol[:3] + "_" + symbol[3:]
}

// FromProvider maps EUR_USD to EURUSD.
func FromProvider(instrument string) string {
	return strings.ReplaceAll(instrument, "_", "")
}

type priceMsg struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Instrument string `json:"instrument"`

	Bids []struct {
		Price decimal.Decimal `json:"price"`
	} `json:"bids"`

	Asks []struct {
		Price decimal.Decimal `json:"price"`
	} `json:"asks"`
}

// Client implements feed.Transport over the pricing stream.
type Client struct {
	cfg   Config
	ticks chan pricing.Tick

	mu      sync.Mutex
	symbols map[string]bool
	changed chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		ticks:   make(chan pricing.Tick, 256),
		symbols: make(map[string]bool),
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (c *Client) Ticks() <-chan pricing.Tick { return c.ticks }

// Start runs the stream until ctx is done, Close is called or the
// reconnect budget is spent.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		c.closeTicks()
		return nil
	}
	cancel()
	<-c.done
	return nil
}

func (c *Client) Subscribe(_ context.Context, symbol string) error {
	return c.update(symbol, true)
}

func (c *Client) Unsubscribe(_ context.Context, symbol string) error {
	return c.update(symbol, false)
}

func (c *Client) update(symbol string, on bool) error {
	c.mu.Lock()
	if c.symbols[symbol] == on {
		c.mu.Unlock()
		return nil
	}
	if on {
		c.symbols[symbol] = true
	} else {
		delete(c.symbols, symbol)
	}
	c.mu.Unlock()

	select {
	case c.changed <- struct{}{}:
	default:
	}
	return nil
}

func (c *Client) instruments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, ToProvider(s))
	}
	sort.Strings(out)
	return out
}

func (c *Client) closeTicks() {
	c.closeOnce.Do(func() { close(c.ticks) })
}

func (c *Client) run(ctx context.Context) {
	defer c.closeTicks()

	failures := 0
	for {
		// changes made before this point are covered by insts
		select {
		case <-c.changed:
		default:
		}
		insts := c.instruments()
		if len(insts) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.changed:
				continue
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		restarted := make(chan struct{})
		watching := make(chan struct{})
		go func() {
			defer close(watching)
			select {
			case <-c.changed:
				close(restarted)
				cancel()
			case <-streamCtx.Done():
			}
		}()

		connected, err := c.stream(streamCtx, insts)
		cancel()
		<-watching

		if ctx.Err() != nil {
			return
		}
		select {
		case <-restarted:
			log.Debug().Strs("instruments", insts).Msg("oanda subscriptions changed, reopening stream")
			continue
		default:
		}

		if connected {
			failures = 0
		}
		failures++
		if failures > c.cfg.MaxReconnects {
			log.Error().Err(err).Int("attempts", failures).Msg("oanda giving up")
			return
		}
		log.Warn().Err(err).Int("attempt", failures).Dur("delay", c.cfg.ReconnectDelay).Msg("oanda stream lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// stream reads one pricing stream response. connected reports whether
// the server accepted the request.
func (c *Client) stream(ctx context.Context, insts []string) (connected bool, err error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return false, err
	}
	u.Path = fmt.Sprintf("/v3/accounts/%s/pricing/stream", c.cfg.AccountID)
	q := u.Query()
	q.Set("instruments", strings.Join(insts, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return false, fmt.Errorf("oanda pricing stream http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	sc := bufio.NewScanner(resp.Body)
	// stream messages can be long
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var msg priceMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			log.Debug().Err(err).Str("line", trimForLog(line)).Msg("oanda: skipping bad line")
			continue
		}
		t, ok := toTick(msg)
		if !ok {
			continue
		}
		select {
		case c.ticks <- t:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return true, err
	}
	return true, io.EOF
}

// toTick converts a PRICE message; heartbeats and partial books are
// skipped.
func toTick(msg priceMsg) (pricing.Tick, bool) {
	if !strings.EqualFold(msg.Type, "PRICE") {
		return pricing.Tick{}, false
	}
	if msg.Instrument == "" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return pricing.Tick{}, false
	}

	at := time.Now().UTC()
	if msg.Time != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			at = parsed
		}
	}
	return pricing.Tick{
		Symbol: FromProvider(msg.Instrument),
		Time:   at,
		Bid:    msg.Bids[0].Price,
		Ask:    msg.Asks[0].Price,
		Source: pricing.SourceLive,
	}, true
}

func trimForLog(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
