package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// ledgerRepo keeps balances in ledger_balances and every movement in
// ledger_entries. Each call runs in its own transaction, or a savepoint when
// the repo is bound to an open unit of work.
type ledgerRepo struct{ q querier }

func (l ledgerRepo) Transfer(ctx context.Context, from, to domain.Account, authority domain.Identity, amount uint64) error {
	if err := checkDebit(from, authority, amount); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, l.q, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		return journal(ctx, tx, domain.LedgerEntry{
			Kind: domain.EntryTransfer, From: from, To: to, Authority: authority, Amount: amount,
		})
	})
}

func (l ledgerRepo) Burn(ctx context.Context, mint string, from domain.Account, authority domain.Identity, amount uint64) error {
	if err := checkDebit(from, authority, amount); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, l.q, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		return journal(ctx, tx, domain.LedgerEntry{
			Kind: domain.EntryBurn, From: from, Mint: mint, Authority: authority, Amount: amount,
		})
	})
}

func (l ledgerRepo) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	return balance(ctx, l.q, account)
}

func checkDebit(from domain.Account, authority domain.Identity, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("postgres: ledger debit of zero: %w", domain.ErrZeroAmount)
	}
	if from.Owner() != authority {
		return fmt.Errorf("postgres: %s cannot debit %s: %w", authority, from, domain.ErrUnauthorized)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balance(ctx context.Context, q rowQuerier, account domain.Account) (uint64, error) {
	var s string
	err := q.QueryRow(ctx, `SELECT balance::text FROM ledger_balances WHERE account = $1`, string(account)).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return parseU64(s)
}

// debit decrements only when the row holds enough; the row lock taken by the
// UPDATE serializes concurrent debits of a shared account.
func debit(ctx context.Context, tx pgx.Tx, from domain.Account, amount uint64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_balances SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE account = $1 AND balance >= $2::numeric`, string(from), fmtU64(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		have, _ := balance(ctx, tx, from)
		return fmt.Errorf("postgres: %s has %d, needs %d: %w", from, have, amount, domain.ErrInsufficientFunds)
	}
	return nil
}

func credit(ctx context.Context, tx pgx.Tx, to domain.Account, amount uint64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_balances (account, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (account) DO UPDATE SET
			balance = ledger_balances.balance + EXCLUDED.balance,
			updated_at = NOW()`, string(to), fmtU64(amount))
	if pgCode(err) == checkViolation {
		return fmt.Errorf("postgres: credit %s: %w", to, domain.ErrOverflow)
	}
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to, err)
	}
	return nil
}

func journal(ctx context.Context, tx pgx.Tx, e domain.LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (kind, from_acct, to_acct, mint, authority, amount)
		VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
		string(e.Kind), string(e.From), string(e.To), e.Mint, string(e.Authority), fmtU64(e.Amount))
	if err != nil {
		return fmt.Errorf("postgres: journal %s: %w", e.Kind, err)
	}
	return nil
}
