package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/polybet/internal/domain"
)

type protocolRepo struct {
	s  *Store
	tx *txState
}

func (r *protocolRepo) Get(_ context.Context) (domain.ProtocolConfig, error) {
	if r.tx != nil && r.tx.protocol != nil {
		return *r.tx.protocol, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.protocol == nil {
		return domain.ProtocolConfig{}, errNotFound("protocol", "config")
	}
	return *r.s.protocol, nil
}

func (r *protocolRepo) Create(ctx context.Context, cfg domain.ProtocolConfig) error {
	if r.tx == nil {
		return r.s.single(domain.ProtocolScope, func(tx *txState) error {
			return (&protocolRepo{s: r.s, tx: tx}).Create(ctx, cfg)
		})
	}
	if _, err := r.Get(ctx); err == nil {
		return errAlreadyExists("protocol")
	}
	r.tx.protocol = &cfg
	r.tx.created = true
	return nil
}

func (r *protocolRepo) Update(ctx context.Context, cfg domain.ProtocolConfig) error {
	if r.tx == nil {
		return r.s.single(domain.ProtocolScope, func(tx *txState) error {
			return (&protocolRepo{s: r.s, tx: tx}).Update(ctx, cfg)
		})
	}
	if _, err := r.Get(ctx); err != nil {
		return err
	}
	r.tx.protocol = &cfg
	return nil
}

type marketRepo struct {
	s  *Store
	tx *txState
}

func (r *marketRepo) Create(ctx context.Context, m domain.Market) error {
	if r.tx == nil {
		return r.s.single(domain.MarketScope(m.ID), func(tx *txState) error {
			return (&marketRepo{s: r.s, tx: tx}).Create(ctx, m)
		})
	}
	if _, err := r.GetByID(ctx, m.ID); err == nil {
		return errAlreadyExists("market " + m.ID)
	}
	r.tx.markets[m.ID] = cloneMarket(m)
	r.tx.newIDs[m.ID] = true
	return nil
}

func (r *marketRepo) Update(ctx context.Context, m domain.Market) error {
	if r.tx == nil {
		return r.s.single(domain.MarketScope(m.ID), func(tx *txState) error {
			return (&marketRepo{s: r.s, tx: tx}).Update(ctx, m)
		})
	}
	if _, err := r.GetByID(ctx, m.ID); err != nil {
		return err
	}
	r.tx.markets[m.ID] = cloneMarket(m)
	return nil
}

func (r *marketRepo) GetByID(_ context.Context, id string) (domain.Market, error) {
	if r.tx != nil {
		if m, ok := r.tx.markets[id]; ok {
			return cloneMarket(m), nil
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.markets[id]
	if !ok {
		return domain.Market{}, errNotFound("market", id)
	}
	return cloneMarket(m), nil
}

func (r *marketRepo) List(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	r.s.mu.Lock()
	out := make([]domain.Market, 0, len(r.s.markets))
	for _, m := range r.s.markets {
		if matches(m, f) {
			out = append(out, cloneMarket(m))
		}
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.ListOpts), nil
}

func matches(m domain.Market, f domain.MarketFilter) bool {
	if len(f.States) > 0 {
		ok := false
		for _, st := range f.States {
			if m.State == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Policy != "" && m.Policy.Kind != f.Policy {
		return false
	}
	if f.HasExternalRef && strings.TrimSpace(m.ExternalRef) == "" {
		return false
	}
	if f.EndedBefore != nil && !m.EndTime.Before(*f.EndedBefore) {
		return false
	}
	if f.Since != nil && m.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && m.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

func cloneMarket(m domain.Market) domain.Market {
	if m.OutcomeNames != nil {
		m.OutcomeNames = append([]string(nil), m.OutcomeNames...)
	}
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		m.WinningOutcome = &w
	}
	if m.ResolvedAt != nil {
		at := *m.ResolvedAt
		m.ResolvedAt = &at
	}
	return m
}

type voteRepo struct {
	s  *Store
	tx *txState
}

func (r *voteRepo) Get(_ context.Context, marketID string, user domain.Identity) (domain.VoteRecord, error) {
	k := voteKey{market: marketID, user: user}
	if r.tx != nil {
		if v, ok := r.tx.votes[k]; ok {
			return v, nil
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.votes[k]
	if !ok {
		return domain.VoteRecord{}, errNotFound("vote", k)
	}
	return v, nil
}

func (r *voteRepo) Upsert(ctx context.Context, v domain.VoteRecord) error {
	if r.tx == nil {
		return r.s.single(domain.MarketScope(v.MarketID), func(tx *txState) error {
			return (&voteRepo{s: r.s, tx: tx}).Upsert(ctx, v)
		})
	}
	r.tx.votes[voteKey{market: v.MarketID, user: v.User}] = v
	return nil
}

func (r *voteRepo) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	return r.list(func(v domain.VoteRecord) bool { return v.MarketID == marketID }, opts), nil
}

func (r *voteRepo) ListByUser(_ context.Context, user domain.Identity, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	return r.list(func(v domain.VoteRecord) bool { return v.User == user }, opts), nil
}

// list merges staged votes over committed ones so a unit of work sees its own writes.
func (r *voteRepo) list(keep func(domain.VoteRecord) bool, opts domain.ListOpts) []domain.VoteRecord {
	merged := make(map[voteKey]domain.VoteRecord)
	r.s.mu.Lock()
	for k, v := range r.s.votes {
		if keep(v) {
			merged[k] = v
		}
	}
	r.s.mu.Unlock()
	if r.tx != nil {
		for k, v := range r.tx.votes {
			if keep(v) {
				merged[k] = v
			}
		}
	}
	out := make([]domain.VoteRecord, 0, len(merged))
	for _, v := range merged {
		if opts.Since != nil && v.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && v.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, v)
	}
	sortVotes(out)
	return page(out, opts)
}

func errAlreadyExists(what string) error {
	return fmt.Errorf("memory: %s: %w", what, domain.ErrAlreadyExists)
}
