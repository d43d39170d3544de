package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ключи дневного объёма
const (
	volumeKeyPrefix = "riskguard:volume:"
	volumeKeyTTL    = 48 * time.Hour
)

// RedisVolumeTracker - дневной торговый объём в Redis
//
// Один хэш на дату (поле = токен), общий для всех экземпляров бота.
// Ключ живёт 48 часов, поэтому прошлые сутки исчезают сами.
type RedisVolumeTracker struct {
	client *redis.Client
	prefix string
}

// NewRedisVolumeTracker создаёт трекер поверх существующего клиента
func NewRedisVolumeTracker(client *redis.Client) *RedisVolumeTracker {
	return &RedisVolumeTracker{client: client, prefix: volumeKeyPrefix}
}

// NewRedisClient подключается к Redis и проверяет соединение
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (t *RedisVolumeTracker) key(date string) string {
	return t.prefix + date
}

// Add атомарно увеличивает объём токена и продлевает TTL ключа
func (t *RedisVolumeTracker) Add(ctx context.Context, date, token string, amountUSD float64) (float64, error) {
	key := t.key(date)

	pipe := t.client.TxPipeline()
	incr := pipe.HIncrByFloat(ctx, key, token, amountUSD)
	pipe.Expire(ctx, key, volumeKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("add volume: %w", err)
	}
	return incr.Val(), nil
}

// Get возвращает объём токена, 0 если записей нет
func (t *RedisVolumeTracker) Get(ctx context.Context, date, token string) (float64, error) {
	v, err := t.client.HGet(ctx, t.key(date), token).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get volume: %w", err)
	}
	return v, nil
}

// Total возвращает суммарный объём всех токенов за дату
func (t *RedisVolumeTracker) Total(ctx context.Context, date string) (float64, error) {
	all, err := t.client.HGetAll(ctx, t.key(date)).Result()
	if err != nil {
		return 0, fmt.Errorf("total volume: %w", err)
	}

	var sum float64
	for token, raw := range all {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parse volume of %s: %w", token, err)
		}
		sum += v
	}
	return sum, nil
}
