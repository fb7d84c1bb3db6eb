// Package oracle relays upstream market resolutions into signed
// attestations and submits them to the settlement coordinator.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/platform/polymarket"
)

// ResolutionSource looks up the settled state of an upstream market.
type ResolutionSource interface {
	GetResolution(ctx context.Context, externalRef string) (polymarket.Resolution, error)
}

// Signer produces resolution attestations for a single oracle identity.
type Signer interface {
	Identity() domain.Identity
	Sign(marketID string, outcome uint8) ([]byte, error)
}

// Resolver accepts signed resolutions.
type Resolver interface {
	ResolveWithAttestation(ctx context.Context, marketID string, outcome uint8, signature []byte) (domain.Market, error)
}

// MarketLister enumerates markets.
type MarketLister interface {
	List(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
}

// Config tunes the relayer loop.
type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
	RetryAfter   time.Duration
	BatchSize    int
}

// Relayer polls open mirrored markets and resolves the ones whose upstream
// market has closed with a winner.
type Relayer struct {
	markets  MarketLister
	source   ResolutionSource
	signer   Signer
	resolver Resolver
	locks    domain.LockManager
	recent   *Dedup
	cfg      Config
	logger   *slog.Logger
}

// NewRelayer wires a Relayer. locks may be nil for single-instance setups.
func NewRelayer(
	markets MarketLister,
	source ResolutionSource,
	signer Signer,
	resolver Resolver,
	locks domain.LockManager,
	clock domain.Clock,
	cfg Config,
	logger *slog.Logger,
) *Relayer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Relayer{
		markets:  markets,
		source:   source,
		signer:   signer,
		resolver: resolver,
		locks:    locks,
		recent:   NewDedup(cfg.RetryAfter, clock),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "oracle_relayer")),
	}
}

// Run polls until ctx is cancelled. Call in a goroutine.
func (r *Relayer) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "oracle relayer started",
		slog.String("oracle", r.signer.Identity().String()),
		slog.Duration("interval", r.cfg.PollInterval),
	)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				r.logger.ErrorContext(ctx, "oracle relayer tick failed", slog.String("error", err.Error()))
			}
			r.recent.Cleanup()
		}
	}
}

// Tick runs one polling pass and returns how many markets it resolved.
func (r *Relayer) Tick(ctx context.Context) (int, error) {
	open, err := r.openMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("oracle: list markets: %w", err)
	}

	resolved := 0
	for _, m := range open {
		if m.Oracle != r.signer.Identity() {
			continue
		}
		ok, err := r.relay(ctx, m)
		if err != nil {
			r.logger.WarnContext(ctx, "oracle relay failed",
				slog.String("market_id", m.ID),
				slog.String("external_ref", m.ExternalRef),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// openMarkets pages through every open mirrored market. All pages are read
// before relaying so resolutions do not shift the offsets.
func (r *Relayer) openMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	for offset := 0; ; offset += r.cfg.BatchSize {
		page, err := r.markets.List(ctx, domain.MarketFilter{
			States:         []domain.MarketState{domain.MarketOpen},
			HasExternalRef: true,
			ListOpts:       domain.ListOpts{Limit: r.cfg.BatchSize, Offset: offset},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < r.cfg.BatchSize {
			return out, nil
		}
	}
}

func (r *Relayer) relay(ctx context.Context, m domain.Market) (bool, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "oracle:"+m.ID, r.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		defer unlock()
	}

	res, err := r.source.GetResolution(ctx, m.ExternalRef)
	if err != nil {
		return false, err
	}
	if !res.Closed || res.Winner < 0 {
		return false, nil
	}
	outcome, err := MapOutcome(m, res)
	if err != nil {
		return false, err
	}

	key := fmt.Sprintf("%s:%d", m.ID, outcome)
	if r.recent.Seen(key) {
		return false, nil
	}
	sig, err := r.signer.Sign(m.ID, outcome)
	if err != nil {
		r.recent.Forget(key)
		return false, err
	}
	if _, err := r.resolver.ResolveWithAttestation(ctx, m.ID, outcome, sig); err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			return false, nil
		}
		return false, err
	}
	r.logger.InfoContext(ctx, "oracle resolved market",
		slog.String("market_id", m.ID),
		slog.String("external_ref", m.ExternalRef),
		slog.String("winner", res.WinnerName()),
		slog.Int("outcome", int(outcome)),
	)
	return true, nil
}

// MapOutcome translates the upstream winner into a local outcome index,
// matching on outcome names when the market has them and on position
// otherwise.
func MapOutcome(m domain.Market, res polymarket.Resolution) (uint8, error) {
	name := res.WinnerName()
	if len(m.OutcomeNames) > 0 && name != "" {
		for i, n := range m.OutcomeNames {
			if strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(name)) {
				return uint8(i), nil
			}
		}
		return 0, fmt.Errorf("oracle: upstream winner %q not among outcomes of %s: %w", name, m.ID, domain.ErrInvalidOutcome)
	}
	if res.Winner < 0 || res.Winner >= int(m.OutcomeCount) {
		return 0, fmt.Errorf("oracle: upstream winner %d out of range for %s: %w", res.Winner, m.ID, domain.ErrInvalidOutcome)
	}
	return uint8(res.Winner), nil
}
