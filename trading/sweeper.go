package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultSweepInterval = 30 * time.Second

type SweeperOptions struct {
	Interval time.Duration
	// RecordEquity appends an equity snapshot per account after each
	// refresh.
	RecordEquity bool
}

// Sweeper periodically refreshes every known account.
type Sweeper struct {
	facade *Facade
	opts   SweeperOptions
	now    func() time.Time
}

func NewSweeper(f *Facade, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	return &Sweeper{facade: f, opts: opts, now: time.Now}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.opts.Interval).Bool("record_equity", s.opts.RecordEquity).Msg("refresh sweeper running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep refreshes each account under its own lock and returns how many
// succeeded. One account failing does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) int {
	users, err := s.facade.mgr.Ledger().Known(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sweep: listing accounts failed")
		return 0
	}

	ok := 0
	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.facade.RefreshAll(ctx, user); err != nil {
			log.Warn().Err(err).Str("user", user).Msg("sweep: refresh failed")
			continue
		}
		if s.opts.RecordEquity {
			if err := s.facade.RecordEquity(ctx, user, s.now()); err != nil {
				log.Warn().Err(err).Str("user", user).Msg("sweep: recording equity failed")
				continue
			}
		}
		ok++
	}

	log.Debug().Int("accounts", len(users)).Int("refreshed", ok).Msg("sweep done")
	return ok
}
