// Package redis is the shared KV backend for multi-instance relays. The key
// layout matches the original single-instance deployment so state survives a
// backend swap: pair:<code>, ingest:<token>, meta:<channel>, last:<channel>,
// boot:<channel>, active:<channel>.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/savecast/internal/store"
)

// casRetries bounds the optimistic WATCH loop on channel meta.
const casRetries = 3

// KV implements store.KV on a redis client.
type KV struct {
	rdb *redis.Client
}

// New connects a redis-backed KV from a redis URL
// (e.g. redis://localhost:6379/0).
func New(url string) (*KV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &KV{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing client (used by tests).
func NewFromClient(rdb *redis.Client) *KV {
	return &KV{rdb: rdb}
}

// Ping verifies connectivity at startup.
func (k *KV) Ping(ctx context.Context) error {
	return k.rdb.Ping(ctx).Err()
}

func (k *KV) PutPairingCode(ctx context.Context, code, channelID string, ttl time.Duration) error {
	return k.rdb.Set(ctx, "pair:"+code, channelID, ttl).Err()
}

func (k *KV) TakePairingCode(ctx context.Context, code string) (string, bool, error) {
	// GETDEL makes the exchange single-use: two concurrent takers cannot
	// both observe the value.
	channelID, err := k.rdb.GetDel(ctx, "pair:"+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return channelID, true, nil
}

func (k *KV) PutIngestToken(ctx context.Context, token, channelID string, ttl time.Duration) error {
	return k.rdb.Set(ctx, "ingest:"+token, channelID, ttl).Err()
}

func (k *KV) ResolveIngestToken(ctx context.Context, token string) (string, bool, error) {
	channelID, err := k.rdb.Get(ctx, "ingest:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return channelID, true, nil
}

func (k *KV) GetChannelMeta(ctx context.Context, channelID string) (store.ChannelMeta, bool, error) {
	raw, err := k.rdb.Get(ctx, "meta:"+channelID).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ChannelMeta{}, false, nil
	}
	if err != nil {
		return store.ChannelMeta{}, false, err
	}
	var m store.ChannelMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return store.ChannelMeta{}, false, fmt.Errorf("decode channel meta: %w", err)
	}
	return m, true, nil
}

func (k *KV) CompareAndSwapMeta(ctx context.Context, channelID string, prev, next store.ChannelMeta, ttl time.Duration) (bool, error) {
	key := "meta:" + channelID
	swapped := false

	txn := func(tx *redis.Tx) error {
		cur := store.ChannelMeta{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// absent matches the zero meta
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode channel meta: %w", err)
			}
		}
		if cur != prev {
			return nil // lost the race; leave swapped=false
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := k.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under the WATCH; retry
		}
		return swapped, err
	}
	return false, nil
}

func (k *KV) PutLastSnapshot(ctx context.Context, channelID string, data []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, "last:"+channelID, data, ttl).Err()
}

func (k *KV) GetLastSnapshot(ctx context.Context, channelID string) ([]byte, bool, error) {
	return k.getBytes(ctx, "last:"+channelID)
}

func (k *KV) PutBootstrap(ctx context.Context, channelID string, data []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, "boot:"+channelID, data, ttl).Err()
}

func (k *KV) GetBootstrap(ctx context.Context, channelID string) ([]byte, bool, error) {
	return k.getBytes(ctx, "boot:"+channelID)
}

func (k *KV) IsActive(ctx context.Context, channelID string) (bool, error) {
	n, err := k.rdb.Exists(ctx, "active:"+channelID).Result()
	return n > 0, err
}

func (k *KV) Activate(ctx context.Context, channelID string, ttl time.Duration) error {
	return k.rdb.Set(ctx, "active:"+channelID, "1", ttl).Err()
}

// ActiveCount counts live active:* keys. The registry is capped at around a
// hundred channels, so a SCAN here is cheap and, unlike a monotonic counter,
// shrinks again as entries expire.
func (k *KV) ActiveCount(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := k.rdb.Scan(ctx, cursor, "active:*", 512).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (k *KV) getBytes(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := k.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
