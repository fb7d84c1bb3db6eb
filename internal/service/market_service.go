// Package service holds the read side of the settlement engine and the
// post-commit event fan-out.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// MarketView is a market with its amounts rendered for display.
type MarketView struct {
	domain.Market
	TotalPoolDisplay string   `json:"total_pool_display"`
	TotalsDisplay    []string `json:"outcome_totals_display"`
}

// QuoteView is a projected claim for a hypothetical stake.
type QuoteView struct {
	MarketID string `json:"market_id"`
	Outcome  uint8  `json:"outcome"`
	Amount   uint64 `json:"amount"`
	Payout   uint64 `json:"payout"`
	Fee      uint64 `json:"fee"`
	Display  string `json:"payout_display"`
}

// AccountView is a ledger balance and its most recent movements.
type AccountView struct {
	Account domain.Account       `json:"account"`
	Balance uint64               `json:"balance"`
	Display string               `json:"balance_display"`
	Entries []domain.LedgerEntry `json:"entries"`
}

// MarketService serves reads: cache first for markets, the committed store
// for everything else.
type MarketService struct {
	store    domain.Tx
	journal  domain.LedgerJournal
	cache    domain.MarketCache
	decimals int32
	logger   *slog.Logger
}

// NewMarketService wires a MarketService. cache and journal may be nil.
func NewMarketService(
	store domain.Tx,
	journal domain.LedgerJournal,
	cache domain.MarketCache,
	decimals int32,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		store:    store,
		journal:  journal,
		cache:    cache,
		decimals: decimals,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Protocol returns the protocol configuration.
func (s *MarketService) Protocol(ctx context.Context) (domain.ProtocolConfig, error) {
	cfg, err := s.store.Protocol().Get(ctx)
	if err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("market_service: protocol: %w", err)
	}
	return cfg, nil
}

// GetMarket returns a market, back-filling the cache on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}
	m, err := s.store.Markets().GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// View renders m for display.
func (s *MarketService) View(m domain.Market) MarketView {
	v := MarketView{Market: m, TotalPoolDisplay: payout.Display(m.TotalPool, s.decimals)}
	for i := uint8(0); i < m.OutcomeCount; i++ {
		v.TotalsDisplay = append(v.TotalsDisplay, payout.Display(m.RealTotal(i), s.decimals))
	}
	return v
}

// ListMarkets returns markets matching f.
func (s *MarketService) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	markets, err := s.store.Markets().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Votes lists a market's votes.
func (s *MarketService) Votes(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	votes, err := s.store.Votes().ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: votes %q: %w", marketID, err)
	}
	return votes, nil
}

// Vote returns one user's vote on a market.
func (s *MarketService) Vote(ctx context.Context, marketID string, user domain.Identity) (domain.VoteRecord, error) {
	v, err := s.store.Votes().Get(ctx, marketID, user)
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("market_service: vote %q/%q: %w", marketID, user, err)
	}
	return v, nil
}

// UserVotes lists a user's votes across markets.
func (s *MarketService) UserVotes(ctx context.Context, user domain.Identity, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	votes, err := s.store.Votes().ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: user votes %q: %w", user, err)
	}
	return votes, nil
}

// Quote projects the claim of staking amount on outcome, were it to win.
func (s *MarketService) Quote(ctx context.Context, marketID string, outcome uint8, amount uint64) (QuoteView, error) {
	if amount == 0 {
		return QuoteView{}, fmt.Errorf("market_service: quote: %w", domain.ErrZeroAmount)
	}
	m, err := s.store.Markets().GetByID(ctx, marketID)
	if err != nil {
		return QuoteView{}, fmt.Errorf("market_service: quote %q: %w", marketID, err)
	}
	if m.Resolved() {
		return QuoteView{}, fmt.Errorf("market_service: quote %q: %w", marketID, domain.ErrAlreadyResolved)
	}
	c, err := payout.Quote(m, outcome, amount)
	if err != nil {
		return QuoteView{}, fmt.Errorf("market_service: quote %q: %w", marketID, err)
	}
	return QuoteView{
		MarketID: marketID,
		Outcome:  outcome,
		Amount:   amount,
		Payout:   c.Payout,
		Fee:      c.Fee,
		Display:  payout.Display(c.Payout, s.decimals),
	}, nil
}

// Account returns the balance and recent journal of account.
func (s *MarketService) Account(ctx context.Context, account domain.Account, opts domain.ListOpts) (AccountView, error) {
	bal, err := s.store.Ledger().Balance(ctx, account)
	if err != nil {
		return AccountView{}, fmt.Errorf("market_service: balance %q: %w", account, err)
	}
	v := AccountView{Account: account, Balance: bal, Display: payout.Display(bal, s.decimals)}
	if s.journal != nil {
		if v.Entries, err = s.journal.Entries(ctx, account, opts); err != nil {
			return AccountView{}, fmt.Errorf("market_service: journal %q: %w", account, err)
		}
	}
	return v, nil
}
