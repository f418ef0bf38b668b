package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records revoked token ids until they would have expired anyway.
type Blacklist interface {
	Add(ctx context.Context, jti, userID string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// SQLBlacklist keeps revoked token ids in the revoked_tokens table.
type SQLBlacklist struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLBlacklist creates a new SQLBlacklist.
func NewSQLBlacklist(db *sql.DB) *SQLBlacklist {
	return &SQLBlacklist{db: db, now: time.Now}
}

// Add blacklists jti. Adding an id twice is not an error.
func (b *SQLBlacklist) Add(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at, revoked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, userID, expiresAt.UTC(), b.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Contains reports whether jti has been revoked.
func (b *SQLBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	var exists int
	err := b.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = ?)", jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query revoked tokens: %w", err)
	}
	return exists == 1, nil
}

// Prune deletes entries whose tokens have expired by now.
func (b *SQLBlacklist) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune revoked tokens: %w", err)
	}
	return res.RowsAffected()
}

const redisBlacklistPrefix = "blacklist:"

// RedisBlacklist keeps revoked token ids as expiring Redis keys.
type RedisBlacklist struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBlacklist connects to the Redis instance at url.
func NewRedisBlacklist(ctx context.Context, url string) (*RedisBlacklist, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisBlacklist{client: client, now: time.Now}, nil
}

// Add blacklists jti with a TTL matching the token's remaining lifetime.
func (b *RedisBlacklist) Add(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if err := b.client.SetNX(ctx, redisBlacklistPrefix+jti, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Contains reports whether jti has been revoked.
func (b *RedisBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, redisBlacklistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query revoked tokens: %w", err)
	}
	return n > 0, nil
}

// Prune is a no-op: Redis expires the keys itself.
func (b *RedisBlacklist) Prune(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Close releases the Redis connection pool.
func (b *RedisBlacklist) Close() error {
	return b.client.Close()
}
