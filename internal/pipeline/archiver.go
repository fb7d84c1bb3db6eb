package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// ReportJob archives the settlement report of every settled market that
// changed since the previous successful run. The first run covers all of them.
type ReportJob struct {
	markets domain.MarketStore
	reports domain.ReportArchiver
	clock   domain.Clock
	batch   int
	logger  *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewReportJob returns a ReportJob.
func NewReportJob(markets domain.MarketStore, reports domain.ReportArchiver, clock domain.Clock, batch int, logger *slog.Logger) *ReportJob {
	if batch <= 0 {
		batch = 200
	}
	return &ReportJob{
		markets: markets,
		reports: reports,
		clock:   clock,
		batch:   batch,
		logger:  logger.With("job", "reports"),
	}
}

func (j *ReportJob) Name() string { return "reports" }

// Run archives changed markets. A failure on one market does not stop the
// others, but keeps the watermark so the next run retries it.
func (j *ReportJob) Run(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	started := j.clock.Now()
	var (
		archived int
		failed   int
	)
	for offset := 0; ; offset += j.batch {
		page, err := j.markets.List(ctx, domain.MarketFilter{
			States: []domain.MarketState{
				domain.MarketResolved,
				domain.MarketCancelled,
				domain.MarketFeesDistributed,
				domain.MarketSwept,
			},
			ListOpts: domain.ListOpts{Limit: j.batch, Offset: offset},
		})
		if err != nil {
			return archived, fmt.Errorf("pipeline: reports: list: %w", err)
		}
		for _, m := range page {
			if !m.UpdatedAt.After(j.last) {
				continue
			}
			path, err := j.reports.ArchiveMarket(ctx, m.ID)
			if err != nil {
				failed++
				j.logger.WarnContext(ctx, "report archive failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
				continue
			}
			archived++
			j.logger.DebugContext(ctx, "report archived", slog.String("market_id", m.ID), slog.String("path", path))
		}
		if len(page) < j.batch {
			break
		}
	}

	if failed > 0 {
		return archived, fmt.Errorf("pipeline: reports: %d markets failed", failed)
	}
	j.last = started
	return archived, nil
}

var _ Job = (*ReportJob)(nil)
