package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisRepository stores records as JSON documents in Redis. Each operation
// is atomic at the single-document level only; there is no multi-document
// transaction guarantee.
type RedisRepository[T any, ID comparable] struct {
	client *redis.Client
	entity Entity[T, ID]
	fields map[string]struct{}
}

// NewRedisRepository builds a document repository on an existing client.
func NewRedisRepository[T any, ID comparable](client *redis.Client, entity Entity[T, ID]) *RedisRepository[T, ID] {
	return &RedisRepository[T, ID]{
		client: client,
		entity: entity,
		fields: entityFields[T](),
	}
}

func (r *RedisRepository[T, ID]) docKey(id ID) string {
	return fmt.Sprintf("coll:%s:doc:%v", r.entity.Name, id)
}

func (r *RedisRepository[T, ID]) idsKey() string {
	return fmt.Sprintf("coll:%s:ids", r.entity.Name)
}

func (r *RedisRepository[T, ID]) Create(ctx context.Context, record T) (T, error) {
	var zero T
	record = r.entity.assignID(record)
	id := r.entity.ID(record)
	raw, err := json.Marshal(record)
	if err != nil {
		return zero, fmt.Errorf("encode document: %w", err)
	}
	created, err := r.client.SetNX(ctx, r.docKey(id), raw, 0).Result()
	if err != nil {
		return zero, err
	}
	if !created {
		return zero, ErrDuplicateKey
	}
	if err := r.client.SAdd(ctx, r.idsKey(), fmt.Sprint(id)).Err(); err != nil {
		return zero, err
	}
	return record, nil
}

func (r *RedisRepository[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	var zero T
	raw, err := r.client.Get(ctx, r.docKey(id)).Result()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var record T
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return zero, false, fmt.Errorf("decode document: %w", err)
	}
	return record, true, nil
}

func (r *RedisRepository[T, ID]) GetMulti(ctx context.Context, skip, limit int, filters Filters) ([]T, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	conds := sanitize(r.fields, filters)

	ids, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	res := make([]T, 0)
	matched := 0
	for _, rawID := range ids {
		raw, err := r.client.Get(ctx, fmt.Sprintf("coll:%s:doc:%s", r.entity.Name, rawID)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var record T
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		if !matchDocument(toDocument(record), conds) {
			continue
		}
		matched++
		if matched <= skip {
			continue
		}
		res = append(res, record)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

// Update applies the partial update inside a WATCH transaction so a
// concurrent delete cannot be resurrected by the write-back.
func (r *RedisRepository[T, ID]) Update(ctx context.Context, id ID, fields Fields) (T, bool, error) {
	var updated T
	found := false
	key := r.docKey(id)
	conds := sanitize(r.fields, fields)

	for {
		if err := ctx.Err(); err != nil {
			return updated, false, err
		}
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				found = false
				return nil
			}
			if err != nil {
				return err
			}
			var record T
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				return fmt.Errorf("decode document: %w", err)
			}
			record, err = applyFields(record, conds)
			if err != nil {
				return err
			}
			// The document key stays authoritative; a field update cannot
			// move a record.
			record = r.entity.SetID(record, id)
			merged, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, merged, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = record
			found = true
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return updated, false, err
		}
		return updated, found, nil
	}
}

func (r *RedisRepository[T, ID]) Delete(ctx context.Context, id ID) (bool, error) {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.docKey(id))
	pipe.SRem(ctx, r.idsKey(), fmt.Sprint(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func (r *RedisRepository[T, ID]) Exists(ctx context.Context, filters Filters) (bool, error) {
	records, err := r.GetMulti(ctx, 0, 1, filters)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (r *RedisRepository[T, ID]) FilterOne(ctx context.Context, filters Filters) (T, bool, error) {
	var zero T
	records, err := r.GetMulti(ctx, 0, 1, filters)
	if err != nil {
		return zero, false, err
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}
