package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SettlementStore implements domain.SettlementStore.
type SettlementStore struct {
	pool *pgxpool.Pool
	view
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

// NewSettlementStore returns a store backed by pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool, view: view{q: pool}}
}

// Atomic runs fn inside one transaction after taking a transaction-scoped
// advisory lock on scope.
func (s *SettlementStore) Atomic(ctx context.Context, scope string, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin %s: %w", scope, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
		return fmt.Errorf("postgres: lock %s: %w", scope, err)
	}
	if err := fn(ctx, view{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit %s: %w", scope, err)
	}
	return nil
}

// Credit funds an account from outside the settlement flow.
func (s *SettlementStore) Credit(ctx context.Context, account domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := credit(ctx, tx, account, amount); err != nil {
			return err
		}
		return journal(ctx, tx, domain.LedgerEntry{Kind: domain.EntryCredit, To: account, Amount: amount})
	})
}

// Entries returns ledger journal rows touching account, newest first.
func (s *SettlementStore) Entries(ctx context.Context, account domain.Account, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, kind, from_acct, to_acct, mint, authority, amount::text, created_at
		FROM ledger_entries WHERE (from_acct = $1 OR to_acct = $1)`
	args := []any{string(account)}
	query, args = appendListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e              domain.LedgerEntry
			kind, from, to string
			auth, amount   string
		)
		if err := rows.Scan(&e.ID, &kind, &from, &to, &e.Mint, &auth, &amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Kind, e.From, e.To, e.Authority = domain.EntryKind(kind), domain.Account(from), domain.Account(to), domain.Identity(auth)
		if e.Amount, err = parseU64(amount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ledger entries rows: %w", err)
	}
	return out, nil
}

// view binds the repositories to either the pool or an open transaction.
type view struct {
	q querier
}

func (v view) Protocol() domain.ProtocolStore { return protocolRepo{q: v.q} }
func (v view) Markets() domain.MarketStore    { return marketRepo{q: v.q} }
func (v view) Votes() domain.VoteStore        { return voteRepo{q: v.q} }
func (v view) Ledger() domain.Ledger          { return ledgerRepo{q: v.q} }

// appendListOpts adds time bounds, newest-first ordering and paging.
func appendListOpts(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", col)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Amounts travel as decimal text so NUMERIC(20,0) columns hold the full
// uint64 range.
func fmtU64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: amount %q: %w", s, domain.ErrOverflow)
	}
	return v, nil
}

func fmtU64s(vs []uint64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = fmtU64(v)
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s: %w", what, err)
}

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
