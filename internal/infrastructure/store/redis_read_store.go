package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisReadStore keeps read models in Redis, one hash per collection.
type RedisReadStore struct {
	client *redis.Client
	prefix string
}

func NewRedisReadStore(client *redis.Client, prefix string) *RedisReadStore {
	if prefix == "" {
		prefix = "readmodel"
	}
	return &RedisReadStore{client: client, prefix: prefix}
}

func (rs *RedisReadStore) key(collection string) string {
	return rs.prefix + ":" + collection
}

func (rs *RedisReadStore) Set(ctx context.Context, collection, id string, doc any) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal read model %s/%s: %w", collection, id, err)
	}
	if err := rs.client.HSet(ctx, rs.key(collection), id, encoded).Err(); err != nil {
		return storageUnavailable("set read model", err)
	}
	return nil
}

func (rs *RedisReadStore) Get(ctx context.Context, collection, id string, out any) (bool, error) {
	doc, err := rs.client.HGet(ctx, rs.key(collection), id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, storageUnavailable("get read model", err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return false, fmt.Errorf("unmarshal read model %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (rs *RedisReadStore) Delete(ctx context.Context, collection, id string) error {
	if err := rs.client.HDel(ctx, rs.key(collection), id).Err(); err != nil {
		return storageUnavailable("delete read model", err)
	}
	return nil
}

func (rs *RedisReadStore) Clear(ctx context.Context, collection string) error {
	if err := rs.client.Del(ctx, rs.key(collection)).Err(); err != nil {
		return storageUnavailable("clear read models", err)
	}
	return nil
}

func (rs *RedisReadStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	values, err := rs.client.HVals(ctx, rs.key(collection)).Result()
	if err != nil {
		return nil, storageUnavailable("list read models", err)
	}
	docs := make([]json.RawMessage, len(values))
	for i, v := range values {
		docs[i] = json.RawMessage(v)
	}
	return docs, nil
}
