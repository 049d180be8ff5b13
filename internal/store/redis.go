// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultIndexedFields are the top-level fields the redis backend maintains secondary
// index keys for.
var DefaultIndexedFields = []string{"email", "phone"}

// bumpScript increments a counter hash only when it exists, so a missing counter
// document is reported instead of silently created.
var bumpScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// RedisStore implements Store with one JSON document per key. Secondary lookups use
// index keys that map a field value to a primary key.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	indexed []string
	txRetry func() retry.Backoff
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithIndexedFields replaces the set of indexed top-level fields.
func WithIndexedFields(fields ...string) RedisOption {
	return func(s *RedisStore) {
		s.indexed = slices.Clone(fields)
	}
}

// NewRedisStore connects to the redis server at url (redis://host:port/db).
func NewRedisStore(url string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code(CodeFailed).With("operation", "parse redis url").Wrap(err)
	}
	return NewRedisStoreWithClient(redis.NewClient(options), opts...), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  "accountd",
		indexed: slices.Clone(DefaultIndexedFields),
		txRetry: func() retry.Backoff {
			return retry.WithMaxRetries(8, retry.WithJitterPercent(20, retry.NewExponential(2*time.Millisecond)))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) itemKey(table, pk string) string {
	return s.prefix + ":" + table + ":" + pk
}

func (s *RedisStore) indexKey(table, field, value string) string {
	return s.prefix + ":" + table + ":idx:" + field + ":" + value
}

func (s *RedisStore) counterKey(doc string) string {
	return s.prefix + ":counter:" + doc
}

// GetItem reads the item by primary key.
func (s *RedisStore) GetItem(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	doc, err := s.load(ctx, s.client, table, keyValue)
	if err != nil {
		return nil, oops.With("operation", "get item").With("table", table).With(keyName, keyValue).Wrap(err)
	}
	if doc == nil {
		return nil, oops.Code(CodeNotFound).With("table", table).With(keyName, keyValue).Wrap(ErrNotFound)
	}
	return doc.Project(fields...), nil
}

// QueryBySecondaryKey resolves an indexed field to a primary key and reads the item.
func (s *RedisStore) QueryBySecondaryKey(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	if !slices.Contains(s.indexed, keyName) {
		return nil, oops.Code(CodeFailed).With("table", table).With("field", keyName).Errorf("field is not indexed")
	}

	pk, err := s.client.Get(ctx, s.indexKey(table, keyName, keyValue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code(CodeNotFound).With("table", table).With(keyName, keyValue).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "resolve index").With("table", table).Wrap(classifyRedisError(err))
	}

	doc, err := s.load(ctx, s.client, table, pk)
	if err != nil {
		return nil, oops.With("operation", "query by secondary key").With("table", table).Wrap(err)
	}
	// An index key can outlive a concurrent change of the field it points from.
	if doc == nil || doc.String(keyName) != keyValue {
		return nil, oops.Code(CodeNotFound).With("table", table).With(keyName, keyValue).Wrap(ErrNotFound)
	}
	return doc.Project(fields...), nil
}

// WriteFields applies fields in an optimistic WATCH/MULTI transaction, retrying when a
// concurrent writer touched the item.
func (s *RedisStore) WriteFields(ctx context.Context, table, keyName, keyValue string, fields map[string]any, opts ...WriteOption) error {
	options := collectOptions(opts)
	key := s.itemKey(table, keyValue)

	err := retry.Do(ctx, s.txRetry(), func(ctx context.Context) error {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, table, keyValue)
			if err != nil {
				return err
			}
			if !options.check(current) {
				return oops.Code(CodeConditionFailed).Wrap(ErrConditionFailed)
			}

			next := current.Clone()
			if next == nil {
				next = Item{}
			}
			next[keyName] = keyValue
			if err := applyFields(next, fields); err != nil {
				return err
			}
			raw, err := encodeItem(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, 0)
				s.reindex(ctx, pipe, table, keyValue, current, next)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		errb := oops.With("operation", "write fields").With("table", table).With(keyName, keyValue)
		if _, ok := oops.AsOops(err); ok {
			return errb.Wrap(err)
		}
		return errb.Wrap(classifyRedisError(err))
	}
	return nil
}

// reindex moves index keys whose field value changed between old and next.
func (s *RedisStore) reindex(ctx context.Context, pipe redis.Pipeliner, table, pk string, old, next Item) {
	for _, field := range s.indexed {
		before, after := old.String(field), next.String(field)
		if before == after {
			continue
		}
		if indexable(before) {
			pipe.Del(ctx, s.indexKey(table, field, before))
		}
		if indexable(after) {
			pipe.Set(ctx, s.indexKey(table, field, after), pk, 0)
		}
	}
}

// indexable rejects empty values and the "-" placeholder used for unset identifiers.
func indexable(v string) bool {
	return v != "" && v != "-"
}

// DeleteItem removes the item and its index keys.
func (s *RedisStore) DeleteItem(ctx context.Context, table, keyName, keyValue string) error {
	doc, err := s.load(ctx, s.client, table, keyValue)
	if err != nil {
		return oops.With("operation", "delete item").With("table", table).With(keyName, keyValue).Wrap(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.itemKey(table, keyValue))
		for _, field := range s.indexed {
			if v := doc.String(field); indexable(v) {
				pipe.Del(ctx, s.indexKey(table, field, v))
			}
		}
		return nil
	})
	if err != nil {
		return oops.With("operation", "delete item").With("table", table).With(keyName, keyValue).Wrap(classifyRedisError(err))
	}
	return nil
}

// AtomicVersionBump runs the bump script against the counter hash.
func (s *RedisStore) AtomicVersionBump(ctx context.Context, docPath string, payload map[string]any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, oops.Code(CodeFailed).With("doc", docPath).Wrap(err)
	}

	version, err := bumpScript.Run(ctx, s.client, []string{s.counterKey(docPath)}, string(raw)).Int64()
	if err != nil {
		return 0, oops.With("operation", "bump version").With("doc", docPath).Wrap(classifyRedisError(err))
	}
	if version < 0 {
		return 0, oops.Code(CodeNotFound).With("doc", docPath).Wrap(ErrNotFound)
	}
	return version, nil
}

// EnsureCounter creates the counter hash at version 0 if missing.
func (s *RedisStore) EnsureCounter(ctx context.Context, docPath string) error {
	if err := s.client.HSetNX(ctx, s.counterKey(docPath), "version", 0).Err(); err != nil {
		return oops.With("operation", "ensure counter").With("doc", docPath).Wrap(classifyRedisError(err))
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code(CodeUnavailable).With("operation", "ping").Wrap(err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return oops.Code(CodeFailed).With("operation", "close").Wrap(err)
	}
	return nil
}

// stringGetter is satisfied by both the client and a WATCH transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// load reads and decodes an item, returning nil when it does not exist.
func (s *RedisStore) load(ctx context.Context, c stringGetter, table, pk string) (Item, error) {
	raw, err := c.Get(ctx, s.itemKey(table, pk)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyRedisError(err)
	}
	return decodeItem(raw)
}

// classifyRedisError separates error replies from the server from transport failures.
func classifyRedisError(err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return oops.Code(CodeFailed).Wrap(err)
	}
	return oops.Code(CodeUnavailable).Wrap(err)
}
