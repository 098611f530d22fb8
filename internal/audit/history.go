package audit

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ErrHistoryConsumed is yielded when a history sequence is ranged over twice.
var ErrHistoryConsumed = errors.New("history sequence already consumed")

// ClampLimit applies the default and upper bound to a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

// History returns the user's audit entries, newest first, capped at limit.
// Nothing is queried until the sequence is ranged over, and it can be ranged
// over only once.
func (l *Logger) History(ctx context.Context, userID int64, limit int) iter.Seq2[domain.AuditEntry, error] {
	limit = ClampLimit(limit)
	var consumed atomic.Bool

	return func(yield func(domain.AuditEntry, error) bool) {
		if consumed.Swap(true) {
			yield(domain.AuditEntry{}, ErrHistoryConsumed)
			return
		}

		stopped := false
		n := 0
		err := l.store.StreamEntries(ctx, userID, limit, func(e domain.AuditEntry) bool {
			if n >= limit || !yield(e, nil) {
				stopped = true
				return false
			}
			n++
			return true
		})
		if err != nil && !stopped {
			yield(domain.AuditEntry{}, err)
		}
	}
}

// Collect drains a history sequence into a slice.
func Collect(seq iter.Seq2[domain.AuditEntry, error]) ([]domain.AuditEntry, error) {
	entries := []domain.AuditEntry{}
	for e, err := range seq {
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
