package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"strconv"       // Key building
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// CacheTTL is how long read-through entries live
const CacheTTL = 60 * time.Second

// AdminUsersPrefix prefixes cached admin user listings
const AdminUsersPrefix = "admin:users:"

// RatesCacheKey holds the public commission table
const RatesCacheKey = "commission:rates"

// WalletCacheKey is the wallet summary of one user
func WalletCacheKey(userID uint) string {
	return "wallet:user:" + strconv.FormatUint(uint64(userID), 10)
}

// TxHistoryPrefix prefixes every cached history page of one user. The trailing
// colon keeps user 7's prefix from matching user 70's keys.
func TxHistoryPrefix(userID uint) string {
	return "txhistory:user:" + strconv.FormatUint(uint64(userID), 10) + ":"
}

// NetworkPrefix prefixes every cached network page of one user
func NetworkPrefix(userID uint) string {
	return "network:user:" + strconv.FormatUint(uint64(userID), 10) + ":"
}

// GetCache retrieves a value from Redis and unmarshals it into dest
func GetCache(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	val, err := rdb.Get(ctx, key).Result() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// SetCache sets a value in Redis with a specified TTL
func SetCache(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return rdb.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// DeleteCache deletes keys from Redis
func DeleteCache(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err() // Delete keys from Redis
}

// DeleteCachePrefix deletes every key starting with prefix, walking the keyspace with SCAN
func DeleteCachePrefix(ctx context.Context, rdb *redis.Client, prefix string) error {
	iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := DeleteCache(ctx, rdb, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return DeleteCache(ctx, rdb, batch...)
}

// InvalidateWallets drops the wallet summary and history pages of each user.
// Failures are logged; a stale entry expires with its TTL.
func InvalidateWallets(ctx context.Context, rdb *redis.Client, userIDs []uint) {
	for _, id := range userIDs {
		if err := DeleteCache(ctx, rdb, WalletCacheKey(id)); err != nil {
			logrus.WithFields(logrus.Fields{"user_id": id, "error": err.Error()}).Warn("Failed to invalidate wallet cache")
		}
		if err := DeleteCachePrefix(ctx, rdb, TxHistoryPrefix(id)); err != nil {
			logrus.WithFields(logrus.Fields{"user_id": id, "error": err.Error()}).Warn("Failed to invalidate history cache")
		}
	}
}

// InvalidateNetworks drops the cached network pages of each user
func InvalidateNetworks(ctx context.Context, rdb *redis.Client, userIDs []uint) {
	for _, id := range userIDs {
		if err := DeleteCachePrefix(ctx, rdb, NetworkPrefix(id)); err != nil {
			logrus.WithFields(logrus.Fields{"user_id": id, "error": err.Error()}).Warn("Failed to invalidate network cache")
		}
	}
}

// CommitInvalidator returns a ledger commit hook that drops every cached view a
// balance change can make stale: wallet summaries, history pages and admin user listings.
func CommitInvalidator(rdb *redis.Client) func(ctx context.Context, userIDs []uint) {
	return func(ctx context.Context, userIDs []uint) {
		// The request context may already be cancelled once the response is written
		ctx = context.WithoutCancel(ctx)
		InvalidateWallets(ctx, rdb, userIDs)
		if err := DeleteCachePrefix(ctx, rdb, AdminUsersPrefix); err != nil {
			logrus.WithField("error", err.Error()).Warn("Failed to invalidate admin user listings")
		}
	}
}
