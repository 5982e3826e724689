package middleware

import (
	"context"
	"fmt"

	"consultcall-backend/internal/database"
)

// RedisRevocationChecker implements RevocationChecker using the Redis
// blacklist the identity provider writes on logout.
type RedisRevocationChecker struct {
	client *database.RedisClient
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *database.RedisClient) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// BlacklistKey is the key marking a token id as revoked
func BlacklistKey(tokenID string) string {
	return fmt.Sprintf("blacklist:%s", tokenID)
}

// IsRevoked checks if a token id is in the Redis blacklist
func (c *RedisRevocationChecker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := c.client.SafeExists(ctx, BlacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}
