package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polybet/internal/domain"
)

type voteRepo struct{ q querier }

const voteSelect = `
	SELECT market_id, user_id, outcome_index, amount::text, claimed,
	       locked_payout::text, locked_fee::text, payout::text,
	       created_at, updated_at, claimed_at
	FROM votes`

func (r voteRepo) Get(ctx context.Context, marketID string, user domain.Identity) (domain.VoteRecord, error) {
	v, err := scanVote(r.q.QueryRow(ctx, voteSelect+` WHERE market_id = $1 AND user_id = $2`, marketID, string(user)))
	if err != nil {
		return domain.VoteRecord{}, notFound(err, fmt.Sprintf("get vote %s/%s", marketID, user))
	}
	return v, nil
}

func (r voteRepo) Upsert(ctx context.Context, v domain.VoteRecord) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO votes (
			market_id, user_id, outcome_index, amount, claimed,
			locked_payout, locked_fee, payout, created_at, updated_at, claimed_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)
		ON CONFLICT (market_id, user_id) DO UPDATE SET
			outcome_index = EXCLUDED.outcome_index,
			amount        = EXCLUDED.amount,
			claimed       = EXCLUDED.claimed,
			locked_payout = EXCLUDED.locked_payout,
			locked_fee    = EXCLUDED.locked_fee,
			payout        = EXCLUDED.payout,
			updated_at    = EXCLUDED.updated_at,
			claimed_at    = EXCLUDED.claimed_at`,
		v.MarketID, string(v.User), int16(v.OutcomeIndex), fmtU64(v.Amount), v.Claimed,
		fmtU64(v.LockedPayout), fmtU64(v.LockedFee), fmtU64(v.Payout),
		v.CreatedAt, v.UpdatedAt, v.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert vote %s/%s: %w", v.MarketID, v.User, err)
	}
	return nil
}

// ListByMarket returns votes oldest first so settlement reports are stable.
func (r voteRepo) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	query := voteSelect + ` WHERE market_id = $1 ORDER BY created_at, user_id`
	args := []any{marketID}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.list(ctx, query, args)
}

func (r voteRepo) ListByUser(ctx context.Context, user domain.Identity, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	query, args := appendListOpts(voteSelect+` WHERE user_id = $1`, []any{string(user)}, "created_at", opts)
	return r.list(ctx, query, args)
}

func (r voteRepo) list(ctx context.Context, query string, args []any) ([]domain.VoteRecord, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes: %w", err)
	}
	defer rows.Close()

	var out []domain.VoteRecord
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list votes rows: %w", err)
	}
	return out, nil
}

func scanVote(row pgx.Row) (domain.VoteRecord, error) {
	var (
		v                                   domain.VoteRecord
		user                                string
		outcome                             int16
		amount, lockedPay, lockedFee, payout string
		claimedAt                           *time.Time
	)
	if err := row.Scan(&v.MarketID, &user, &outcome, &amount, &v.Claimed,
		&lockedPay, &lockedFee, &payout, &v.CreatedAt, &v.UpdatedAt, &claimedAt); err != nil {
		return domain.VoteRecord{}, err
	}
	v.User = domain.Identity(user)
	v.OutcomeIndex = uint8(outcome)
	v.ClaimedAt = claimedAt
	var err error
	if v.Amount, err = parseU64(amount); err != nil {
		return domain.VoteRecord{}, err
	}
	if v.LockedPayout, err = parseU64(lockedPay); err != nil {
		return domain.VoteRecord{}, err
	}
	if v.LockedFee, err = parseU64(lockedFee); err != nil {
		return domain.VoteRecord{}, err
	}
	if v.Payout, err = parseU64(payout); err != nil {
		return domain.VoteRecord{}, err
	}
	return v, nil
}
