// Package events publishes marketplace state changes after they commit.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultQueue = "marketplace_events"

const (
	ListingCreated   = "listing.created"
	ListingCancelled = "listing.cancelled"
	ListingSold      = "listing.sold"
	AuctionCreated   = "auction.created"
	AuctionBid       = "auction.bid"
	AuctionSettled   = "auction.settled"
	AuctionCancelled = "auction.cancelled"
	Withdrawal       = "ledger.withdrawal"
)

type Event struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Collection   string    `json:"collection,omitempty"`
	TokenID      uint64    `json:"tokenId,omitempty"`
	AuctionID    uint64    `json:"auctionId,omitempty"`
	Account      string    `json:"account,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

func stamp(e *Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
}

// RedisPublisher appends events to a Redis list for downstream consumers.
type RedisPublisher struct {
	client *redis.Client
	queue  string
}

func NewRedisPublisher(client *redis.Client, queue string) *RedisPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisPublisher{client: client, queue: queue}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	stamp(&e)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.RPush(ctx, p.queue, string(data)).Err(); err != nil {
		return fmt.Errorf("push %s: %w", e.Type, err)
	}
	return nil
}

// LogPublisher writes events to the log. Used when no queue is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.L()
	}
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	stamp(&e)
	p.log.Info(e.Type,
		zap.String("id", e.ID.String()),
		zap.String("collection", e.Collection),
		zap.Uint64("token_id", e.TokenID),
		zap.Uint64("auction_id", e.AuctionID),
		zap.String("account", e.Account),
		zap.String("counterparty", e.Counterparty),
		zap.Int64("amount", e.Amount),
		zap.Time("occurred_at", e.OccurredAt),
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	stamp(&e)
	r.mu.Lock()
	r.Events = append(r.Events, e)
	r.mu.Unlock()
	return nil
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		types = append(types, e.Type)
	}
	return types
}
