package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisBackend stores each session as a hash of key → JSON plus a capped list
// for the interaction log. Both expire ttl after the last write.
type RedisBackend struct {
	client redis.Cmdable
	ttl    time.Duration
	tracer trace.Tracer
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend builds a backend on the provided client. ttl <= 0 disables expiry.
func NewRedisBackend(client redis.Cmdable, ttl time.Duration, tracer trace.Tracer) *RedisBackend {
	if client == nil {
		panic("storage: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("proposal-wizard.internal.storage.redis")
	}
	return &RedisBackend{client: client, ttl: ttl, tracer: tracer}
}

func stateKey(session string) string {
	return fmt.Sprintf("wizard:%s:state", session)
}

func interactionsKey(session string) string {
	return fmt.Sprintf("wizard:%s:interactions", session)
}

func (r *RedisBackend) Get(ctx context.Context, session, key string) ([]byte, error) {
	ctx, span := r.tracer.Start(ctx, "storage.get", trace.WithAttributes(attribute.String("wizard.key", key)))
	defer span.End()

	data, err := r.client.HGet(ctx, stateKey(session), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("storage: redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisBackend) Set(ctx context.Context, session, key string, value []byte) error {
	ctx, span := r.tracer.Start(ctx, "storage.set", trace.WithAttributes(attribute.String("wizard.key", key)))
	defer span.End()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, stateKey(session), key, value)
	if r.ttl > 0 {
		pipe.Expire(ctx, stateKey(session), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storage: redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Clear(ctx context.Context, session string) error {
	ctx, span := r.tracer.Start(ctx, "storage.clear")
	defer span.End()

	if err := r.client.Del(ctx, stateKey(session), interactionsKey(session)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storage: redis clear: %w", err)
	}
	return nil
}

func (r *RedisBackend) AppendInteraction(ctx context.Context, session string, entry Interaction) error {
	ctx, span := r.tracer.Start(ctx, "storage.append_interaction")
	defer span.End()

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storage: encode interaction: %w", err)
	}

	key := interactionsKey(session)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -MaxInteractions, -1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storage: redis append interaction: %w", err)
	}
	return nil
}

func (r *RedisBackend) Interactions(ctx context.Context, session string) ([]Interaction, error) {
	ctx, span := r.tracer.Start(ctx, "storage.interactions")
	defer span.End()

	raw, err := r.client.LRange(ctx, interactionsKey(session), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storage: redis interactions: %w", err)
	}
	out := make([]Interaction, 0, len(raw))
	for _, item := range raw {
		var entry Interaction
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("storage: decode interaction: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
