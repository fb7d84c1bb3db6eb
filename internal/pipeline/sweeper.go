package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
)

// MarketSweeper is the settlement operation the sweep job drives.
type MarketSweeper interface {
	Sweep(ctx context.Context, caller domain.Identity, marketID string) (uint64, error)
}

// SweepSource lists markets and reads the protocol config. domain.Tx satisfies it.
type SweepSource interface {
	Protocol() domain.ProtocolStore
	Markets() domain.MarketStore
}

// SweepJob sweeps residual custody of every settled market past its cooldown,
// acting as the protocol authority, and archives the report of each market
// it swept.
type SweepJob struct {
	source  SweepSource
	sweeper MarketSweeper
	reports domain.ReportArchiver
	clock   domain.Clock
	batch   int
	logger  *slog.Logger
}

// NewSweepJob returns a SweepJob. reports may be nil.
func NewSweepJob(source SweepSource, sweeper MarketSweeper, reports domain.ReportArchiver, clock domain.Clock, batch int, logger *slog.Logger) *SweepJob {
	if batch <= 0 {
		batch = 200
	}
	return &SweepJob{
		source:  source,
		sweeper: sweeper,
		reports: reports,
		clock:   clock,
		batch:   batch,
		logger:  logger.With("job", "sweep"),
	}
}

func (j *SweepJob) Name() string { return "sweep" }

// Run sweeps every eligible market once.
func (j *SweepJob) Run(ctx context.Context) (int, error) {
	cfg, err := j.source.Protocol().Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("pipeline: sweep: protocol: %w", err)
	}
	now := j.clock.Now()
	markets, err := eligible(ctx, j.source.Markets(), now, j.batch)
	if err != nil {
		return 0, fmt.Errorf("pipeline: sweep: list: %w", err)
	}

	swept := 0
	for _, m := range markets {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if market.CheckSweep(m, m.Cooldown(cfg.SweepCooldown), now) != nil {
			continue
		}
		amount, err := j.sweeper.Sweep(ctx, cfg.Authority, m.ID)
		switch {
		case errors.Is(err, domain.ErrNoDustToSweep), errors.Is(err, domain.ErrSweepTooEarly), errors.Is(err, domain.ErrAlreadySwept):
			j.logger.DebugContext(ctx, "market not sweepable", slog.String("market_id", m.ID), slog.String("reason", err.Error()))
			continue
		case err != nil:
			j.logger.WarnContext(ctx, "sweep failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
			continue
		}
		swept++
		j.logger.InfoContext(ctx, "market swept", slog.String("market_id", m.ID), slog.Uint64("amount", amount))

		if j.reports != nil {
			if _, err := j.reports.ArchiveMarket(ctx, m.ID); err != nil {
				j.logger.WarnContext(ctx, "report after sweep failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
			}
		}
	}
	return swept, nil
}

var _ Job = (*SweepJob)(nil)

// eligible pages through every settled, unswept market that ended before
// cutoff. Each market's own cooldown is checked by the caller. Pages are collected before any sweep so state changes do not shift
// the offsets.
func eligible(ctx context.Context, markets domain.MarketStore, cutoff time.Time, batch int) ([]domain.Market, error) {
	var out []domain.Market
	for offset := 0; ; offset += batch {
		page, err := markets.List(ctx, domain.MarketFilter{
			States:      []domain.MarketState{domain.MarketResolved, domain.MarketCancelled, domain.MarketFeesDistributed},
			EndedBefore: &cutoff,
			ListOpts:    domain.ListOpts{Limit: batch, Offset: offset},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < batch {
			return out, nil
		}
	}
}
