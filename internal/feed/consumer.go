package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/treasury-vault/backend/internal/events"
	"go.uber.org/zap"
)

// Purchase is one parsed purchase-feed message.
type Purchase struct {
	VaultID   uuid.UUID
	Buyer     string
	Amount    float64
	Signature string
	Timestamp time.Time
}

// Handler receives deduplicated purchases. Satisfied by the lifecycle
// engine.
type Handler interface {
	HandlePurchase(ctx context.Context, vaultID uuid.UUID, buyer string, amount float64, signature string, at time.Time) error
}

// Deduper reports whether a transaction signature was already
// processed, marking it as seen in the same call.
type Deduper interface {
	Seen(ctx context.Context, signature string) bool
}

const (
	dedupeKeyPrefix = "purchase:sig:"
	dedupeTTL       = 7 * 24 * time.Hour
)

// RedisDeduper tracks processed signatures with SETNX keys. Redis
// failures fail open: a replayed purchase only resets a timer the
// original already reset, while a dropped one loses a reset for good.
type RedisDeduper struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisDeduper(client *redis.Client, log *zap.Logger) *RedisDeduper {
	return &RedisDeduper{client: client, log: log}
}

func (d *RedisDeduper) Seen(ctx context.Context, signature string) bool {
	ok, err := d.client.SetNX(ctx, dedupeKeyPrefix+signature, 1, dedupeTTL).Result()
	if err != nil {
		d.log.Warn("signature dedupe check failed, processing anyway", zap.Error(err))
		return false
	}
	return !ok
}

// Consumer subscribes to the purchase feed channel and forwards each
// new purchase to the handler.
type Consumer struct {
	sub     events.Subscriber
	handler Handler
	dedupe  Deduper
	log     *zap.Logger
}

func NewConsumer(sub events.Subscriber, handler Handler, dedupe Deduper, log *zap.Logger) *Consumer {
	return &Consumer{sub: sub, handler: handler, dedupe: dedupe, log: log}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("purchase feed consumer started", zap.String("channel", events.ChannelPurchaseFeed))
	return c.sub.Subscribe(ctx, events.ChannelPurchaseFeed, func(event events.Event) {
		c.handle(ctx, event)
	})
}

func (c *Consumer) handle(ctx context.Context, event events.Event) {
	p, err := parsePurchase(event.Payload)
	if err != nil {
		c.log.Warn("malformed purchase feed message", zap.Error(err))
		return
	}
	if p.Signature != "" && c.dedupe.Seen(ctx, p.Signature) {
		c.log.Debug("duplicate purchase signature, skipping",
			zap.String("signature", p.Signature))
		return
	}
	if err := c.handler.HandlePurchase(ctx, p.VaultID, p.Buyer, p.Amount, p.Signature, p.Timestamp); err != nil {
		c.log.Error("failed to handle purchase",
			zap.String("vault_id", p.VaultID.String()),
			zap.String("signature", p.Signature),
			zap.Error(err),
		)
	}
}

func parsePurchase(payload map[string]any) (Purchase, error) {
	var p Purchase

	rawID, ok := payload["vault_id"].(string)
	if !ok {
		return p, fmt.Errorf("missing vault_id")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return p, fmt.Errorf("invalid vault_id %q: %w", rawID, err)
	}
	p.VaultID = id

	p.Buyer, ok = payload["buyer"].(string)
	if !ok || p.Buyer == "" {
		return p, fmt.Errorf("missing buyer")
	}

	amount, ok := payload["amount"].(float64)
	if !ok {
		return p, fmt.Errorf("missing amount")
	}
	p.Amount = amount

	p.Signature, _ = payload["signature"].(string)

	switch ts := payload["timestamp"].(type) {
	case string:
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return p, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		p.Timestamp = t
	case float64:
		p.Timestamp = time.Unix(int64(ts), 0).UTC()
	default:
		p.Timestamp = time.Now().UTC()
	}

	return p, nil
}
