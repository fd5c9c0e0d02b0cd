// Package dedup remembers Telegram update ids in Redis so redelivered
// updates are acknowledged without being processed twice.
package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "pinyinbot:update:"
	defaultTTL = time.Hour
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Deduplicator claims update ids with SETNX and a TTL.
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis. The connection is checked lazily: a Redis outage
// surfaces as a Claim error, which callers treat as "not seen".
func New(cfg Config) *Deduplicator {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return NewWithClient(rdb, cfg.TTL)
}

// NewWithClient wraps an existing client. A ttl <= 0 defaults to one hour.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Deduplicator{rdb: rdb, ttl: ttl}
}

// Claim returns true the first time an update id is seen within the TTL.
func (d *Deduplicator) Claim(ctx context.Context, updateID int) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, key(updateID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim update %d: %w", updateID, err)
	}
	return ok, nil
}

// Ping checks the Redis connection.
func (d *Deduplicator) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

// Close closes the underlying redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

func key(updateID int) string {
	return keyPrefix + strconv.Itoa(updateID)
}
