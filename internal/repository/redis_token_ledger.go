package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenLedgerPrefix = "portfolio:idtoken:consumed:"

// RedisTokenLedger はRedisのSETNXでIDトークンのjtiを1回だけ消費済みにする。
type RedisTokenLedger struct {
	client redis.UniversalClient
}

// NewRedisTokenLedger はRedisTokenLedgerを生成する。
func NewRedisTokenLedger(client redis.UniversalClient) *RedisTokenLedger {
	return &RedisTokenLedger{client: client}
}

// Consume はjtiを消費済みにする。既に消費済みの場合はfalseを返す。
// ttlが0以下の場合はトークンが既に期限切れとみなしfalseを返す。
func (l *RedisTokenLedger) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" || ttl <= 0 {
		return false, nil
	}
	ok, err := l.client.SetNX(ctx, tokenLedgerPrefix+jti, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume token %s: %w", jti, err)
	}
	return ok, nil
}

// OpenRedis はREDIS_URLからクライアントを生成し、疎通を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// compile-time interface check
var _ TokenLedger = (*RedisTokenLedger)(nil)
