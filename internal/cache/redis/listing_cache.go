package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/redis/go-redis/v9"
)

const listingTTL = 5 * time.Minute

// ListingCache implements domain.ListingCache using Redis hashes with JSON-
// serialized listing records and a secondary collection/token index.
//
// Key schema:
//
//	listing:{id}                      - hash with field "data" containing JSON
//	listing:token:{collection}:{id}   - string value of the listing ID
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

func listingKey(id int64) string {
	return "listing:" + strconv.FormatInt(id, 10)
}

func listingTokenKey(collection domain.Account, tokenID int) string {
	return "listing:token:" + collection.Hex() + ":" + strconv.Itoa(tokenID)
}

// Set stores a listing record in the cache with a 5-minute TTL and indexes
// the listed token back to the listing id.
func (lc *ListingCache) Set(ctx context.Context, rec domain.ListingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %d: %w", rec.ID, err)
	}

	key := listingKey(rec.ID)

	pipe := lc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, listingTTL)
	if rec.Collection != domain.ZeroAccount {
		pipe.Set(ctx, listingTokenKey(rec.Collection, rec.TokenID), rec.ID, listingTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set listing %d: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a listing record by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (lc *ListingCache) Get(ctx context.Context, id int64) (domain.ListingRecord, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ListingRecord{}, domain.ErrNotFound
		}
		return domain.ListingRecord{}, fmt.Errorf("redis: get listing %d: %w", id, err)
	}

	var rec domain.ListingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ListingRecord{}, fmt.Errorf("redis: unmarshal listing %d: %w", id, err)
	}
	return rec, nil
}

// GetByToken looks up a listing by the collection and token it offers.
// It returns domain.ErrNotFound if the token mapping or listing is absent.
func (lc *ListingCache) GetByToken(ctx context.Context, collection domain.Account, tokenID int) (domain.ListingRecord, error) {
	idStr, err := lc.rdb.Get(ctx, listingTokenKey(collection, tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ListingRecord{}, domain.ErrNotFound
		}
		return domain.ListingRecord{}, fmt.Errorf("redis: get listing by token %s/%d: %w", collection.Hex(), tokenID, err)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return domain.ListingRecord{}, fmt.Errorf("redis: parse listing id %q: %w", idStr, err)
	}
	return lc.Get(ctx, id)
}

// Invalidate removes a listing and its token index entry from the cache.
func (lc *ListingCache) Invalidate(ctx context.Context, id int64) error {
	// Read the record first so the reverse index can be cleaned up.
	rec, err := lc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate listing %d: %w", id, err)
	}

	pipe := lc.rdb.TxPipeline()
	pipe.Del(ctx, listingKey(id))
	if err == nil && rec.Collection != domain.ZeroAccount {
		pipe.Del(ctx, listingTokenKey(rec.Collection, rec.TokenID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate listing %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
