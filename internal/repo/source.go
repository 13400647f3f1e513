package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edirooss/indexpool-server/internal/domain/source"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrSourceNotFound = errors.New("source not found")

	sourceKeyPrefix = "idxpool:source:"
	sourceIDsKey    = "idxpool:sources" // SET of slugs: {"products", "orders", ...}
)

func sourceKey(id string) string { return sourceKeyPrefix + id }

// SourceRepository provides Redis-backed persistence for Source entities.
type SourceRepository struct {
	client *RedisClient
	log    *zap.Logger
}

// newSourceRepository initializes a new SourceRepository instance.
func newSourceRepository(log *zap.Logger, client *RedisClient) *SourceRepository {
	log = log.Named("sources")

	return &SourceRepository{
		log:    log,
		client: client,
	}
}

// Upsert persists a Source and adds its ID to the Redis index set.
func (r *SourceRepository) Upsert(ctx context.Context, src *source.Source) error {
	key := sourceKey(src.ID)

	payload, err := encodeSource(src)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.SAdd(ctx, sourceIDsKey, src.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Delete removes a source by ID.
// Returns ErrSourceNotFound if the source key was not present in Redis.
// Logs a warning if the source record and index set are inconsistent.
func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	key := sourceKey(id)

	pipe := r.client.TxPipeline()
	delRes := pipe.Del(ctx, key)
	sremRes := pipe.SRem(ctx, sourceIDsKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	delCount := delRes.Val()
	sremCount := sremRes.Val()

	// If both returned 0, nothing existed
	if delCount == 0 && sremCount == 0 {
		return ErrSourceNotFound
	}

	// If they differ, log it — data/index mismatch
	if delCount != sremCount {
		r.log.Warn(
			"source delete mismatch",
			zap.String("key", key),
			zap.String("id", id),
			zap.Int64("del_count", delCount),
			zap.Int64("srem_count", sremCount),
		)
	}

	return nil
}

// HasID returns true if a source with the given ID exists.
func (r *SourceRepository) HasID(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, sourceIDsKey, id).Result()
	if err != nil {
		return false, fmt.Errorf("ismember: %w", err)
	}
	return ok, nil
}

// GetByID fetches a source by its ID.
// Returns ErrSourceNotFound if the key does not exist.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*source.Source, error) {
	key := sourceKey(id)

	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("get: %w", err)
	}

	src, err := decodeSource(value)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return src, nil
}

// GetAll returns all Sources currently indexed in Redis.
//
// Note: This operation is **not strongly consistent**. It issues two separate calls:
//  1. SMEMBERS to collect the set of source IDs.
//  2. MGET to fetch the source payloads.
//
// If sources are created or deleted between those two calls, the result may
// contain transient inconsistencies (e.g. an ID with no value, or a value not
// yet indexed). Callers should treat the result as **an eventually consistent**
// snapshot, not a transactional view.
func (r *SourceRepository) GetAll(ctx context.Context) ([]*source.Source, error) {
	ids, err := r.client.SMembers(ctx, sourceIDsKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := sourceKeys(ids)
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	return r.parseMGetResult(keys, vals)
}

// sourceKeys builds Redis keys for multiple source IDs.
func sourceKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sourceKey(id)
	}
	return keys
}

// encodeSource serializes a Source to JSON.
func encodeSource(src *source.Source) ([]byte, error) {
	return json.Marshal(src)
}

// decodeSource deserializes a JSON payload into a Source.
func decodeSource(raw []byte) (*source.Source, error) {
	var src source.Source
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// parseMGetResult converts Redis MGET results to Source structs.
// It logs warnings for missing keys and errors for unexpected payload types.
// Callers should treat missing keys as eventual-consistency artifacts, not hard failures.
func (r *SourceRepository) parseMGetResult(keys []string, vals []interface{}) ([]*source.Source, error) {
	out := make([]*source.Source, 0, len(vals))

	for i, v := range vals {
		if v == nil {
			r.log.Warn(
				"source missing during MGET",
				zap.String("key", keys[i]),
				zap.Int("index", i),
			)
			continue
		}

		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("key %s at index %d: unexpected type (got %T, want string)", keys[i], i, v)
		}
		src, err := decodeSource([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("key %s at index %d: decode source: %w", keys[i], i, err)
		}
		out = append(out, src)
	}
	return out, nil
}
