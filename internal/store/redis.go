// redis.go
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"secret.letters/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each letter under its own key with a TTL matching Expires,
// so Redis evicts dead letters on its own; DeleteExpired only catches keys
// whose TTL outlived the caller's clock.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Create is atomic under WATCH: an existing key is only overwritten when the
// letter it holds was already dead at letter.Sent.
func (r *RedisStore) Create(ctx context.Context, letter *models.Letter) error {
	data, err := encode(letter)
	if err != nil {
		return err
	}

	ttl := time.Until(letter.Expires)
	if ttl <= 0 {
		return ErrExpired
	}

	key := letterKey(letter.SecretCode)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			old, err := decode(existing)
			if err != nil {
				return err
			}
			if !old.Expires.Before(letter.Sent) {
				return ErrConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	return r.watch(ctx, key, txf)
}

func (r *RedisStore) Get(ctx context.Context, code string) (*models.Letter, error) {
	data, err := r.client.Get(ctx, letterKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) DeleteIfExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	return r.deleteIfExpired(ctx, letterKey(code), now)
}

// deleteIfExpired re-reads key under WATCH so a letter written after the
// caller looked is never removed.
func (r *RedisStore) deleteIfExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	var deleted bool
	txf := func(tx *redis.Tx) error {
		deleted = false
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		letter, err := decode(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		if !letter.Expires.Before(now) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	if err := r.watch(ctx, key, txf); err != nil {
		return false, err
	}
	return deleted, nil
}

func (r *RedisStore) AddReply(ctx context.Context, code string, reply models.Reply, now time.Time) error {
	key := letterKey(code)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		letter, err := decode(data)
		if err != nil {
			return err
		}
		if letter.Expired(now) {
			return ErrExpired
		}
		if letter.HasReply {
			return ErrAlreadyReplied
		}

		letter.HasReply = true
		letter.Reply = &reply

		newData, err := encode(letter)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, newData, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}

	return r.watch(ctx, key, txf)
}

// watch retries an optimistic transaction a few times before giving up.
func (r *RedisStore) watch(ctx context.Context, key string, txf func(tx *redis.Tx) error) error {
	for i := 0; i < 3; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return redis.TxFailedErr
}

func (r *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64

	iter := r.client.Scan(ctx, 0, letterKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		deleted, err := r.deleteIfExpired(ctx, iter.Val(), now)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}

	return removed, iter.Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func letterKey(code string) string {
	return "letter:" + code
}

func encode(letter *models.Letter) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(letter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Letter, error) {
	var letter models.Letter
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&letter); err != nil {
		return nil, err
	}
	return &letter, nil
}
