package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pump-signal-bot/internal/strategy"
	"pump-signal-bot/pkg/types"
)

// Analyzer produces at most one candidate per symbol per tick.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (*types.SignalCandidate, error)
}

// Admitter runs the admission chain for a candidate.
type Admitter interface {
	OnCandidate(ctx context.Context, cand *types.SignalCandidate) error
}

// LastAdmitSource exposes the per-symbol admission clock for gap pacing.
type LastAdmitSource interface {
	Last(symbol string) (time.Time, bool)
}

// RejectCounter aggregates analyzer rejections for the health surface.
type RejectCounter interface {
	CountRejection(reason string)
}

// Config tunes the scan loop.
type Config struct {
	Symbols     []string
	Period      time.Duration
	MinGap      time.Duration
	Concurrency int
}

// Scanner owns the periodic scan over the universe. Each tick dispatches
// per-symbol analysis onto a bounded pool; one symbol's failure never stops
// the scan, and the sleep compensates for elapsed work so cadence does not
// drift.
type Scanner struct {
	cfg       Config
	analyzer  Analyzer
	admit     Admitter
	lastAdmit LastAdmitSource
	rejects   RejectCounter
	log       zerolog.Logger
	now       func() time.Time
}

func New(cfg Config, analyzer Analyzer, admit Admitter, lastAdmit LastAdmitSource, rejects RejectCounter, logger zerolog.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		analyzer:  analyzer,
		admit:     admit,
		lastAdmit: lastAdmit,
		rejects:   rejects,
		log:       logger.With().Str("component", "scanner").Logger(),
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.log.Info().
		Int("symbols", len(s.cfg.Symbols)).
		Dur("period", s.cfg.Period).
		Int("concurrency", s.cfg.Concurrency).
		Msg("scan loop starting")

	for {
		t0 := s.now()
		s.Tick(ctx)

		sleep := s.cfg.Period - time.Since(t0)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Tick scans every due symbol once and waits for all workers.
func (s *Scanner) Tick(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	now := s.now()
	dispatched := 0
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		if last, ok := s.lastAdmit.Last(symbol); ok && now.Sub(last) < s.cfg.MinGap {
			continue
		}
		symbol := symbol
		g.Go(func() error {
			s.scanOne(ctx, symbol)
			return nil
		})
		dispatched++
	}
	g.Wait()
	s.log.Debug().Int("dispatched", dispatched).Msg("scan tick complete")
}

func (s *Scanner) scanOne(ctx context.Context, symbol string) {
	cand, err := s.analyzer.Analyze(ctx, symbol)
	if err != nil {
		var rej *strategy.Rejection
		if errors.As(err, &rej) {
			if s.rejects != nil {
				s.rejects.CountRejection(string(rej.Reason))
			}
			s.log.Debug().
				Str("symbol", symbol).
				Str("reason", string(rej.Reason)).
				Str("detail", rej.Detail).
				Msg("analyzer rejected")
			return
		}
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("scan failed, skipping this tick")
		return
	}
	if err := s.admit.OnCandidate(ctx, cand); err != nil {
		// Already counted and logged by the coordinator.
		return
	}
}
