package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"orderflow/internal/domain/model"
)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(addr, password string, db int, ttl time.Duration) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisAdapter{
		client: client,
		ttl:    ttl,
	}, nil
}

func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func depthKey(symbol string) string        { return "depth:" + symbol }
func imbalanceKey(symbol string) string    { return "imbalance:" + symbol }
func statusKey(symbol string) string       { return "status:" + symbol }
func liquidationsKey(symbol string) string { return "liquidations:" + symbol }

func (a *RedisAdapter) SetDepthSnapshot(ctx context.Context, snap model.BookSnapshot) error {
	return a.setJSON(ctx, depthKey(snap.Symbol), snap)
}

func (a *RedisAdapter) GetDepthSnapshot(ctx context.Context, symbol string) (*model.BookSnapshot, error) {
	data, err := a.client.Get(ctx, depthKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get depth snapshot from redis: %w", err)
	}

	var snap model.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal depth snapshot: %w", err)
	}
	return &snap, nil
}

func (a *RedisAdapter) SetImbalance(ctx context.Context, sample model.ImbalanceSample) error {
	return a.setJSON(ctx, imbalanceKey(sample.Symbol), sample)
}

func (a *RedisAdapter) SetStatus(ctx context.Context, status model.SymbolStatus) error {
	return a.setJSON(ctx, statusKey(status.Symbol), status)
}

func (a *RedisAdapter) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := a.client.Set(ctx, key, data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// AddLiquidation добавляет событие в sorted set символа (score = unix millis)
func (a *RedisAdapter) AddLiquidation(ctx context.Context, event model.LiquidationEvent) error {
	key := liquidationsKey(event.Symbol)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal liquidation: %w", err)
	}

	z := redis.Z{
		Score:  float64(event.Time.UnixMilli()),
		Member: data,
	}
	if err := a.client.ZAdd(ctx, key, z).Err(); err != nil {
		return fmt.Errorf("failed to add liquidation: %w", err)
	}

	_ = a.client.Expire(ctx, key, a.ttl*2).Err()
	return nil
}

// GetLiquidations возвращает ликвидации символа начиная с since
func (a *RedisAdapter) GetLiquidations(ctx context.Context, symbol string, since time.Time) ([]model.LiquidationEvent, error) {
	results, err := a.client.ZRangeByScore(ctx, liquidationsKey(symbol), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get liquidations for %s: %w", symbol, err)
	}

	out := make([]model.LiquidationEvent, 0, len(results))
	for _, item := range results {
		var ev model.LiquidationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal liquidation for %s: %w", symbol, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeleteOldLiquidations удаляет записи старше before по всем символам
func (a *RedisAdapter) DeleteOldLiquidations(ctx context.Context, before time.Time) error {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)

	iter := a.client.Scan(ctx, 0, liquidationsKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := a.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
			return fmt.Errorf("failed to delete old liquidations from %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate redis keys: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
