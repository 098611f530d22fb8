package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

// Flag is a transaction the detector marked for manual review.
type Flag struct {
	AuditEntryID    string                 `json:"audit_entry_id,omitempty"`
	UserID          int64                  `json:"user_id"`
	TransactionType domain.TransactionType `json:"transaction_type"`
	Amount          string                 `json:"amount"`
	BalanceAfter    string                 `json:"balance_after"`
	Reason          string                 `json:"reason"`
	FlaggedAt       time.Time              `json:"flagged_at"`
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Queue publishes flags to a Kafka topic, keyed by user so one user's flags
// stay ordered within a partition.
type Queue struct {
	producer producer
	topic    string
	closer   func()
}

func NewKafkaQueue(brokers []string, topic string) (*Queue, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Queue{producer: client, topic: topic, closer: client.Close}, nil
}

func newQueue(p producer, topic string) *Queue {
	return &Queue{producer: p, topic: topic, closer: func() {}}
}

func (q *Queue) Submit(ctx context.Context, f Flag) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal flag: %w", err)
	}
	rec := &kgo.Record{
		Topic: q.topic,
		Key:   []byte(strconv.FormatInt(f.UserID, 10)),
		Value: payload,
	}
	if err := q.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish flag: %w", err)
	}
	return nil
}

func (q *Queue) Close() {
	q.closer()
}
