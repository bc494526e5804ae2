// Package feed keeps the price cache populated: live ticks from a
// transport when it delivers, synthetic ticks when it does not.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/sony/gobreaker"
)

const (
	DefaultTickInterval     = time.Second
	DefaultStaleAfter       = 5 * time.Second
	DefaultSubscribeTimeout = 5 * time.Second
)

// Transport is a live price source.
type Transport interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error

	// Ticks is closed when the transport gives up for good.
	Ticks() <-chan pricing.Tick
	Close() error
}

// Stats receives feed activity. metrics.Registry implements it.
type Stats interface {
	TickIngested(symbol, source string)
	TickDropped(symbol string)
	TransportFailed(op string)
}

type nopStats struct{}

func (nopStats) TickIngested(string, string) {}
func (nopStats) TickDropped(string)          {}
func (nopStats) TransportFailed(string)      {}

type Options struct {
	TickInterval     time.Duration
	StaleAfter       time.Duration
	SubscribeTimeout time.Duration
	Seed             int64
	Stats            Stats
}

func (o *Options) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Stats == nil {
		o.Stats = nopStats{}
	}
}

type subscription struct {
	refs      int
	confirmed bool // transport accepted the subscribe
	lastLive  time.Time
}

// SymbolStatus describes one subscribed symbol.
type SymbolStatus struct {
	Symbol   string    `json:"symbol"`
	Refs     int       `json:"refs"`
	Live     bool      `json:"live"`
	LastLive time.Time `json:"last_live,omitempty"`
}

// Adapter multiplexes a Transport and the synthetic generator into the
// cache. A nil transport means synthetic prices only.
type Adapter struct {
	transport Transport
	cache     *pricing.Cache
	synth     *pricing.Synthetic
	breaker   *gobreaker.CircuitBreaker
	opts      Options
	now       func() time.Time

	mu   sync.Mutex
	subs map[string]*subscription
}

func NewAdapter(t Transport, cache *pricing.Cache, opts Options) *Adapter {
	opts.setDefaults()

	st := gobreaker.Settings{Name: "feed"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("feed breaker state change")
	}

	return &Adapter{
		transport: t,
		cache:     cache,
		synth:     pricing.NewSynthetic(opts.Seed),
		breaker:   gobreaker.NewCircuitBreaker(st),
		opts:      opts,
		now:       time.Now,
		subs:      make(map[string]*subscription),
	}
}

// Subscribe adds a reference to symbol. Only the first reference reaches
// the transport; if that fails the subscribe is retried from Run and
// synthetic prices cover the gap.
func (a *Adapter) Subscribe(ctx context.Context, symbol string) error {
	sym, err := broker.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}

	a.mu.Lock()
	s, ok := a.subs[sym]
	if !ok {
		s = &subscription{}
		a.subs[sym] = s
	}
	s.refs++
	first := s.refs == 1
	a.mu.Unlock()

	if first {
		a.seed(sym)
		a.subscribeTransport(ctx, sym)
	}
	return nil
}

// Unsubscribe drops a reference. The last reference always reaches the
// transport, confirmed or not, so it forgets the symbol. Extra calls are
// no-ops.
func (a *Adapter) Unsubscribe(ctx context.Context, symbol string) error {
	sym, err := broker.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}

	a.mu.Lock()
	s, ok := a.subs[sym]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	s.refs--
	last := s.refs <= 0
	if last {
		delete(a.subs, sym)
	}
	a.mu.Unlock()

	if last && a.transport != nil {
		a.call(ctx, "unsubscribe", func(ctx context.Context) error {
			return a.transport.Unsubscribe(ctx, sym)
		})
	}
	return nil
}

// Status lists subscribed symbols, sorted.
func (a *Adapter) Status() []SymbolStatus {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]SymbolStatus, 0, len(a.subs))
	for sym, s := range a.subs {
		out = append(out, SymbolStatus{
			Symbol:   sym,
			Refs:     s.refs,
			Live:     !s.lastLive.IsZero() && now.Sub(s.lastLive) <= a.opts.StaleAfter,
			LastLive: s.lastLive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Run pumps ticks into the cache until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.TickInterval)
	defer ticker.Stop()

	var ticks <-chan pricing.Tick
	if a.transport != nil {
		ticks = a.transport.Ticks()
	}

	log.Info().Dur("tick_interval", a.opts.TickInterval).Dur("stale_after", a.opts.StaleAfter).Bool("live", ticks != nil).Msg("price feed running")

	for {
		select {
		case <-ctx.Done():
			return nil

		case t, ok := <-ticks:
			if !ok {
				log.Warn().Msg("price transport closed, continuing on synthetic prices")
				ticks = nil
				continue
			}
			a.ingest(t)

		case now := <-ticker.C:
			a.sweep(ctx, now)
		}
	}
}

// ingest writes a live tick. Malformed ticks are dropped.
func (a *Adapter) ingest(t pricing.Tick) {
	if !t.Valid() {
		a.opts.Stats.TickDropped(t.Symbol)
		log.Debug().Str("symbol", t.Symbol).Str("bid", t.Bid.String()).Str("ask", t.Ask.String()).Msg("dropping malformed tick")
		return
	}

	now := a.now()
	if t.Time.IsZero() {
		t.Time = now
	}
	t.Source = pricing.SourceLive
	a.cache.Set(t)
	a.opts.Stats.TickIngested(t.Symbol, pricing.SourceLive)

	a.mu.Lock()
	if s, ok := a.subs[t.Symbol]; ok {
		s.lastLive = now
	}
	a.mu.Unlock()
}

// sweep retries pending subscribes and fills stale symbols with a
// synthetic step.
func (a *Adapter) sweep(ctx context.Context, now time.Time) {
	var pending, stale []string

	a.mu.Lock()
	for sym, s := range a.subs {
		if a.transport != nil && !s.confirmed {
			pending = append(pending, sym)
		}
		if s.lastLive.IsZero() || now.Sub(s.lastLive) > a.opts.StaleAfter {
			stale = append(stale, sym)
		}
	}
	a.mu.Unlock()

	for _, sym := range pending {
		a.subscribeTransport(ctx, sym)
	}
	for _, sym := range stale {
		a.synthesize(sym, now)
	}
}

func (a *Adapter) synthesize(sym string, now time.Time) {
	prev, err := a.cache.Get(sym)
	if err != nil {
		base, ok := pricing.BasePrices[sym]
		if !ok {
			return
		}
		prev = pricing.QuoteAt(sym, base, now)
	}
	t := a.synth.Step(prev, now)
	a.cache.Set(t)
	a.opts.Stats.TickIngested(sym, pricing.SourceSynthetic)
}

// seed gives a new symbol a price straight away when it has none.
func (a *Adapter) seed(sym string) {
	if _, err := a.cache.Get(sym); err == nil {
		return
	}
	if base, ok := pricing.BasePrices[sym]; ok {
		a.cache.Set(pricing.QuoteAt(sym, base, a.now()))
	}
}

func (a *Adapter) subscribeTransport(ctx context.Context, sym string) {
	if a.transport == nil {
		return
	}
	ok := a.call(ctx, "subscribe", func(ctx context.Context) error {
		return a.transport.Subscribe(ctx, sym)
	})
	if !ok {
		return
	}

	a.mu.Lock()
	s, exists := a.subs[sym]
	if exists {
		s.confirmed = true
	}
	a.mu.Unlock()

	// dropped while the subscribe was in flight
	if !exists {
		a.call(ctx, "unsubscribe", func(ctx context.Context) error {
			return a.transport.Unsubscribe(ctx, sym)
		})
	}
}

// call runs a transport operation under the subscribe timeout and the
// breaker. Failures are logged as ErrFeedUnavailable and reported false.
func (a *Adapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, a.opts.SubscribeTimeout)
	defer cancel()

	_, err := a.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		a.opts.Stats.TransportFailed(op)
		log.Warn().Err(fmt.Errorf("%s: %w: %w", op, broker.ErrFeedUnavailable, err)).Msg("price transport call failed")
		return false
	}
	return true
}
