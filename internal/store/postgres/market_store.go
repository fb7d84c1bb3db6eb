package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polybet/internal/domain"
)

type marketRepo struct{ q querier }

const marketSelect = `
	SELECT id, authority, creator, question, outcome_names, outcome_count,
	       outcome_totals::text[], seed_totals::text[], total_pool::text, virtual_seed::text,
	       end_time, state, paused, winning_outcome, min_bet::text, max_bet::text,
	       oracle, external_ref, metadata_url, policy, fees, custody,
	       fees_paid::text, swept::text, resolved_at, created_at, updated_at,
	       early_exit_bps, sweep_cooldown_ms
	FROM markets`

func (r marketRepo) Create(ctx context.Context, m domain.Market) error {
	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO markets (
			id, authority, creator, question, outcome_names, outcome_count,
			outcome_totals, seed_totals, total_pool, virtual_seed,
			end_time, state, paused, winning_outcome, min_bet, max_bet,
			oracle, external_ref, metadata_url, policy, fees, custody,
			fees_paid, swept, resolved_at, created_at, updated_at,
			early_exit_bps, sweep_cooldown_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric[], $8::numeric[], $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15::numeric, $16::numeric,
			$17, $18, $19, $20, $21, $22,
			$23::numeric, $24::numeric, $25, $26, $27,
			$28, $29
		)`, args...)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func (r marketRepo) Update(ctx context.Context, m domain.Market) error {
	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE markets SET
			authority = $2, creator = $3, question = $4, outcome_names = $5, outcome_count = $6,
			outcome_totals = $7::numeric[], seed_totals = $8::numeric[],
			total_pool = $9::numeric, virtual_seed = $10::numeric,
			end_time = $11, state = $12, paused = $13, winning_outcome = $14,
			min_bet = $15::numeric, max_bet = $16::numeric,
			oracle = $17, external_ref = $18, metadata_url = $19,
			policy = $20, fees = $21, custody = $22,
			fees_paid = $23::numeric, swept = $24::numeric,
			resolved_at = $25, created_at = $26, updated_at = $27,
			early_exit_bps = $28, sweep_cooldown_ms = $29
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (r marketRepo) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(r.q.QueryRow(ctx, marketSelect+` WHERE id = $1`, id))
	if err != nil {
		return domain.Market{}, notFound(err, "get market "+id)
	}
	return m, nil
}

func (r marketRepo) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query := marketSelect + ` WHERE 1=1`
	var args []any
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		args = append(args, states)
		query += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	if f.Policy != "" {
		args = append(args, string(f.Policy))
		query += fmt.Sprintf(" AND policy->>'kind' = $%d", len(args))
	}
	if f.HasExternalRef {
		query += " AND external_ref <> ''"
	}
	if f.EndedBefore != nil {
		args = append(args, *f.EndedBefore)
		query += fmt.Sprintf(" AND end_time < $%d", len(args))
	}
	query, args = appendListOpts(query, args, "created_at", f.ListOpts)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

func marketArgs(m domain.Market) ([]any, error) {
	policy, err := json.Marshal(m.Policy)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode policy: %w", err)
	}
	fees, err := json.Marshal(m.Fees)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode fees: %w", err)
	}
	var winner *int16
	if m.WinningOutcome != nil {
		w := int16(*m.WinningOutcome)
		winner = &w
	}
	names := m.OutcomeNames
	if names == nil {
		names = []string{}
	}
	return []any{
		m.ID, string(m.Authority), string(m.Creator), m.Question, names, int16(m.OutcomeCount),
		fmtU64s(m.OutcomeTotals[:]), fmtU64s(m.SeedTotals[:]), fmtU64(m.TotalPool), fmtU64(m.VirtualSeed),
		m.EndTime, string(m.State), m.Paused, winner, fmtU64(m.MinBet), fmtU64(m.MaxBet),
		string(m.Oracle), m.ExternalRef, m.MetadataURL, policy, fees, string(m.Custody),
		fmtU64(m.FeesPaid), fmtU64(m.Swept), m.ResolvedAt, m.CreatedAt, m.UpdatedAt,
		int32(m.EarlyExitBps), m.SweepCooldown.Milliseconds(),
	}, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                          domain.Market
		authority, creator, oracle string
		state, custody             string
		count                      int16
		totals, seeds              []string
		pool, seed, minBet, maxBet string
		feesPaid, swept            string
		winner                     *int16
		policy, fees               []byte
		resolvedAt                 *time.Time
		exitBps                    int32
		cooldownMs                 int64
	)
	if err := row.Scan(
		&m.ID, &authority, &creator, &m.Question, &m.OutcomeNames, &count,
		&totals, &seeds, &pool, &seed,
		&m.EndTime, &state, &m.Paused, &winner, &minBet, &maxBet,
		&oracle, &m.ExternalRef, &m.MetadataURL, &policy, &fees, &custody,
		&feesPaid, &swept, &resolvedAt, &m.CreatedAt, &m.UpdatedAt,
		&exitBps, &cooldownMs,
	); err != nil {
		return domain.Market{}, err
	}

	m.Authority, m.Creator, m.Oracle = domain.Identity(authority), domain.Identity(creator), domain.Identity(oracle)
	m.State, m.Custody = domain.MarketState(state), domain.Account(custody)
	m.OutcomeCount = uint8(count)
	m.ResolvedAt = resolvedAt
	m.EarlyExitBps = uint16(exitBps)
	m.SweepCooldown = time.Duration(cooldownMs) * time.Millisecond
	if len(m.OutcomeNames) == 0 {
		m.OutcomeNames = nil
	}
	if winner != nil {
		w := uint8(*winner)
		m.WinningOutcome = &w
	}
	if err := json.Unmarshal(policy, &m.Policy); err != nil {
		return domain.Market{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := json.Unmarshal(fees, &m.Fees); err != nil {
		return domain.Market{}, fmt.Errorf("decode fees: %w", err)
	}

	for i := 0; i < len(totals) && i < domain.MaxOutcomes; i++ {
		v, err := parseU64(totals[i])
		if err != nil {
			return domain.Market{}, err
		}
		m.OutcomeTotals[i] = v
	}
	for i := 0; i < len(seeds) && i < domain.MaxOutcomes; i++ {
		v, err := parseU64(seeds[i])
		if err != nil {
			return domain.Market{}, err
		}
		m.SeedTotals[i] = v
	}
	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&m.TotalPool, pool}, {&m.VirtualSeed, seed}, {&m.MinBet, minBet},
		{&m.MaxBet, maxBet}, {&m.FeesPaid, feesPaid}, {&m.Swept, swept},
	} {
		v, err := parseU64(f.src)
		if err != nil {
			return domain.Market{}, err
		}
		*f.dst = v
	}
	return m, nil
}
