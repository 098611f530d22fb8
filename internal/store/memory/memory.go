package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

// Store is an in-process ledger store. A single mutex serialises balance
// mutations, standing in for the row locks of the Postgres store.
type Store struct {
	mu       sync.Mutex
	accounts map[int64]*domain.Account
	entries  map[int64][]domain.AuditEntry
	now      func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[int64]*domain.Account),
		entries:  make(map[int64][]domain.AuditEntry),
		now:      time.Now,
	}
}

// CreateAccount opens an account with the given starting balance.
func (s *Store) CreateAccount(_ context.Context, userID int64, initial decimal.Decimal) (*domain.Account, error) {
	if initial.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[userID]; ok {
		return nil, domain.ErrAccountExists
	}
	now := s.now().UTC()
	acc := &domain.Account{UserID: userID, Balance: initial, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = acc
	out := *acc
	return &out, nil
}

func (s *Store) GetAccount(_ context.Context, userID int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

// ApplyDelta adds delta to the user's balance, refusing to go below zero.
func (s *Store) ApplyDelta(_ context.Context, userID int64, delta decimal.Decimal) (domain.BalanceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return domain.BalanceChange{}, domain.ErrAccountNotFound
	}
	after := acc.Balance.Add(delta)
	if after.IsNegative() {
		return domain.BalanceChange{}, domain.ErrInsufficientBalance
	}
	if after.GreaterThanOrEqual(domain.MaxMagnitude) {
		return domain.BalanceChange{}, fmt.Errorf("%w: balance would exceed %s", domain.ErrInvalidAmount, domain.MaxMagnitude)
	}
	acc.Version++
	change := domain.BalanceChange{UserID: userID, Before: acc.Balance, After: after, Version: acc.Version}
	acc.Balance = after
	acc.UpdatedAt = s.now().UTC()
	return change, nil
}

// InsertEntry keeps each user's entries sorted by Version, so an entry whose
// write was delayed still lands behind the changes committed after it.
func (s *Store) InsertEntry(_ context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[e.UserID]
	i := len(list)
	for i > 0 && list[i-1].Version > e.Version {
		i--
	}
	if i > 0 && e.CreatedAt.Before(list[i-1].CreatedAt) {
		e.CreatedAt = list[i-1].CreatedAt
	}
	stored := *e
	stored.Metadata = maps.Clone(e.Metadata)
	s.entries[e.UserID] = slices.Insert(list, i, stored)
	return nil
}

func (s *Store) StreamEntries(_ context.Context, userID int64, limit int, fn func(domain.AuditEntry) bool) error {
	s.mu.Lock()
	list := s.entries[userID]
	page := make([]domain.AuditEntry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(page) < limit; i-- {
		page = append(page, list[i])
	}
	s.mu.Unlock()

	for _, e := range page {
		if !fn(e) {
			return nil
		}
	}
	return nil
}

// ListSince returns the user's entries created at or after since, oldest first.
func (s *Store) ListSince(_ context.Context, userID int64, since time.Time) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range s.entries[userID] {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
