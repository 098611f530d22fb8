package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
	pgNumericOverflow = "22003"
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// CreateAccount opens a balance row for userID.
func (s *Store) CreateAccount(ctx context.Context, userID int64, initial decimal.Decimal) (*domain.Account, error) {
	if initial.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	var (
		acc domain.Account
		raw string
	)
	err := s.Db.QueryRow(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, $2::numeric)
		 RETURNING user_id, balance::text, version, created_at, updated_at`,
		userID, initial.String(),
	).Scan(&acc.UserID, &raw, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.ErrAccountExists
		}
		return nil, fmt.Errorf("account insert failed: %w", err)
	}
	if acc.Balance, err = decimal.NewFromString(raw); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &acc, nil
}

// GetAccount retrieves a single balance row.
func (s *Store) GetAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	var (
		acc domain.Account
		raw string
	)
	err := s.Db.QueryRow(ctx,
		"SELECT user_id, balance::text, version, created_at, updated_at FROM balances WHERE user_id = $1",
		userID,
	).Scan(&acc.UserID, &raw, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	if acc.Balance, err = decimal.NewFromString(raw); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &acc, nil
}

// ApplyDelta adds delta to the user's balance inside one transaction. The row
// is locked with FOR UPDATE so concurrent requests for the same user queue up
// behind each other; a result below zero aborts with ErrInsufficientBalance.
// The row version is bumped in the same UPDATE and orders the audit history.
func (s *Store) ApplyDelta(ctx context.Context, userID int64, delta decimal.Decimal) (domain.BalanceChange, error) {
	// Read committed: FOR UPDATE waits for the row and re-reads it instead of
	// failing with a serialization error.
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.BalanceChange{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw string
	err = tx.QueryRow(ctx, "SELECT balance::text FROM balances WHERE user_id = $1 FOR UPDATE", userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BalanceChange{}, domain.ErrAccountNotFound
		}
		return domain.BalanceChange{}, fmt.Errorf("lock acquisition failed: %w", err)
	}

	before, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.BalanceChange{}, fmt.Errorf("parse balance: %w", err)
	}
	after := before.Add(delta)
	if after.IsNegative() {
		return domain.BalanceChange{}, domain.ErrInsufficientBalance
	}
	if after.GreaterThanOrEqual(domain.MaxMagnitude) {
		return domain.BalanceChange{}, fmt.Errorf("%w: balance would exceed %s", domain.ErrInvalidAmount, domain.MaxMagnitude)
	}

	var version int64
	err = tx.QueryRow(ctx,
		`UPDATE balances SET balance = $1::numeric, version = version + 1, updated_at = now()
		 WHERE user_id = $2
		 RETURNING version`,
		after.String(), userID,
	).Scan(&version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgCheckViolation:
				return domain.BalanceChange{}, domain.ErrInsufficientBalance
			case pgNumericOverflow:
				return domain.BalanceChange{}, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, pgErr.Message)
			}
		}
		return domain.BalanceChange{}, fmt.Errorf("balance update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.BalanceChange{}, fmt.Errorf("tx commit failed: %w", err)
	}

	return domain.BalanceChange{UserID: userID, Before: before, After: after, Version: version}, nil
}

// InsertEntry appends an audit entry. created_at never moves backwards
// relative to the user's entries with a lower version; the stored value is
// written back into e.
func (s *Store) InsertEntry(ctx context.Context, e *domain.AuditEntry) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	err := s.Db.QueryRow(ctx, `
		INSERT INTO audit_entries (
			id, user_id, version, transaction_type, amount, balance_before, balance_after,
			metadata, ip_address, user_agent, created_at
		)
		VALUES (
			$1::uuid, $2, $11, $3, $4::numeric, $5::numeric, $6::numeric, $7::jsonb, $8, $9,
			GREATEST($10::timestamptz, COALESCE(
				(SELECT max(created_at) FROM audit_entries WHERE user_id = $2 AND version <= $11),
				$10::timestamptz))
		)
		RETURNING created_at`,
		e.ID, e.UserID, string(e.TransactionType),
		e.Amount.String(), e.BalanceBefore.String(), e.BalanceAfter.String(),
		string(meta), e.IPAddress, e.UserAgent, e.CreatedAt, e.Version,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}

const entryColumns = `id::text, user_id, version, transaction_type, amount::text, balance_before::text,
	balance_after::text, metadata, ip_address, user_agent, created_at`

// StreamEntries reads a user's entries newest first, by committed version,
// without buffering them.
func (s *Store) StreamEntries(ctx context.Context, userID int64, limit int, fn func(domain.AuditEntry) bool) error {
	rows, err := s.Db.Query(ctx,
		"SELECT "+entryColumns+` FROM audit_entries
		 WHERE user_id = $1
		 ORDER BY version DESC, seq DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	return rows.Err()
}

// ListSince returns a user's entries created at or after since, oldest first.
func (s *Store) ListSince(ctx context.Context, userID int64, since time.Time) ([]domain.AuditEntry, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+entryColumns+` FROM audit_entries
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY version, seq`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("window query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows pgx.Rows) (domain.AuditEntry, error) {
	var (
		e                     domain.AuditEntry
		typ                   string
		amount, before, after string
		meta                  []byte
	)
	if err := rows.Scan(&e.ID, &e.UserID, &e.Version, &typ, &amount, &before, &after,
		&meta, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan audit entry: %w", err)
	}
	e.TransactionType = domain.TransactionType(typ)

	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("parse amount: %w", err)
	}
	if e.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return e, fmt.Errorf("parse balance_before: %w", err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return e, fmt.Errorf("parse balance_after: %w", err)
	}

	if len(meta) > 0 && !bytes.Equal(meta, []byte("{}")) {
		dec := json.NewDecoder(bytes.NewReader(meta))
		dec.UseNumber()
		if err := dec.Decode(&e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}
