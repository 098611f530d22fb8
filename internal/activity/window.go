package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

var windowReadDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tokenledger_activity_window_read_duration_ms",
	Help:    "Latency of recent-activity window reads in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const keyPrefix = "ledger:activity:"

// Window mirrors each user's last hour of audit entries into a Redis sorted
// set scored by creation time, so the detector does not have to hit Postgres.
// It is fed by the audit log as an observer and read by the detector.
type Window struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Window)

func WithTTL(ttl time.Duration) Option {
	return func(w *Window) { w.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

func NewWindow(client *redis.Client, opts ...Option) *Window {
	w := &Window{client: client, ttl: time.Hour, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// member is the compact form stored in the sorted set.
type member struct {
	ID     string `json:"id"`
	Type   string `json:"t"`
	Amount string `json:"a"`
	At     int64  `json:"at"`
}

func encodeMember(e domain.AuditEntry) (string, error) {
	b, err := json.Marshal(member{
		ID:     e.ID,
		Type:   string(e.TransactionType),
		Amount: e.Amount.String(),
		At:     e.CreatedAt.UnixMicro(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMember(userID int64, raw string) (domain.AuditEntry, error) {
	var m member
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return domain.AuditEntry{}, err
	}
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return domain.AuditEntry{
		ID:              m.ID,
		UserID:          userID,
		TransactionType: domain.TransactionType(m.Type),
		Amount:          amount,
		CreatedAt:       time.UnixMicro(m.At).UTC(),
	}, nil
}

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

// Observe records e and trims anything older than the TTL.
func (w *Window) Observe(ctx context.Context, e domain.AuditEntry) error {
	m, err := encodeMember(e)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	k := key(e.UserID)
	cutoff := w.now().Add(-w.ttl).UnixMicro()

	_, err = w.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: float64(e.CreatedAt.UnixMicro()), Member: m})
		p.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, k, w.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListSince returns the user's mirrored entries created at or after since,
// oldest first.
func (w *Window) ListSince(ctx context.Context, userID int64, since time.Time) ([]domain.AuditEntry, error) {
	start := time.Now()
	defer func() {
		windowReadDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	raw, err := w.client.ZRangeByScore(ctx, key(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(raw))
	for _, r := range raw {
		e, err := decodeMember(userID, r)
		if err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
