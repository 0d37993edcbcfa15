package events

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	DefaultRelayBatch    = 50
	DefaultRelayInterval = time.Second
	DefaultMaxAttempts   = 5
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Message is one claimed outbox row.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// OutboxStore claims and settles outbox rows inside the caller's transaction.
type OutboxStore interface {
	Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, dead bool) error
}

// Publisher delivers an outbox message downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type PGOutbox struct{}

func NewOutbox() *PGOutbox {
	return &PGOutbox{}
}

// Claim locks up to limit pending rows, skipping rows another relay holds.
func (o *PGOutbox) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
SELECT id::text, topic, payload::text, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("events: claim outbox: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			payload string
		)
		if err := rows.Scan(&m.ID, &m.Topic, &payload, &m.Attempts); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		m.Payload = []byte(payload)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: iterate outbox: %w", err)
	}
	return out, nil
}

func (o *PGOutbox) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("events: mark processed: %w", err)
	}
	return nil
}

func (o *PGOutbox) MarkFailed(ctx context.Context, tx pgx.Tx, id string, dead bool) error {
	const q = `
UPDATE outbox
SET attempts = attempts + 1,
    last_attempt = now(),
    status = CASE WHEN $2 THEN 'dead' ELSE status END
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id, dead); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

// RedisPublisher publishes each message on a pub/sub channel named after
// its topic.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, p.prefix+topic, payload).Err()
}

// LogPublisher writes messages to the log. It is used when no broker is
// configured so the outbox still drains.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.logger.Info("outbox message", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}

// Relay drains the outbox to a Publisher. Several relays may run at once.
type Relay struct {
	pool        TxBeginner
	store       OutboxStore
	pub         Publisher
	batch       int
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
}

func NewRelay(pool TxBeginner, store OutboxStore, pub Publisher) *Relay {
	return &Relay{
		pool:        pool,
		store:       store,
		pub:         pub,
		batch:       DefaultRelayBatch,
		interval:    DefaultRelayInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
	}
}

func (r *Relay) WithLogger(logger *zap.Logger) *Relay {
	r.logger = logger
	return r
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// RunOnce delivers one batch and returns how many messages were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("events: relay begin: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.Claim(ctx, tx, r.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.Topic, m.Payload); err != nil {
			dead := m.Attempts+1 >= r.maxAttempts
			r.logger.Warn("outbox publish failed",
				zap.String("id", m.ID),
				zap.String("topic", m.Topic),
				zap.Int("attempts", m.Attempts+1),
				zap.Bool("dead", dead),
				zap.Error(err))
			if err := r.store.MarkFailed(ctx, tx, m.ID, dead); err != nil {
				return 0, err
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, m.ID); err != nil {
			return 0, err
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("events: relay commit: %w", err)
	}
	return published, nil
}

// Run polls until ctx is cancelled. Batch errors are logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("outbox relay batch failed", zap.Error(err))
			continue
		}
		if n > 0 {
			r.logger.Debug("outbox relayed", zap.Int("messages", n))
		}
	}
}
