// Package memory is the in-process KV backend (standalone mode). Each key
// class gets its own expirable LRU so TTLs match the redis backend without a
// reaper of our own.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/savecast/internal/store"
)

const cacheSize = 16384

// KV implements store.KV entirely in memory. Suitable for a single relay
// instance; use the redis backend when running more than one.
type KV struct {
	mu     sync.Mutex // guards take-and-delete and meta CAS
	codes  *expirable.LRU[string, string]
	tokens *expirable.LRU[string, string]
	meta   *expirable.LRU[string, store.ChannelMeta]
	last   *expirable.LRU[string, []byte]
	boot   *expirable.LRU[string, []byte]
	active *expirable.LRU[string, struct{}]
}

// TTLs mirror the key classes in store.KV. Callers pass TTLs per write, but
// expirable LRUs expire per cache; New pins each cache to its class TTL.
type TTLs struct {
	PairingCode time.Duration
	IngestToken time.Duration
	ChannelMeta time.Duration
	LastSnap    time.Duration
	Bootstrap   time.Duration
	Active      time.Duration
}

// New creates the in-memory backend with one cache per key class.
func New(ttls TTLs) *KV {
	return &KV{
		codes:  expirable.NewLRU[string, string](cacheSize, nil, ttls.PairingCode),
		tokens: expirable.NewLRU[string, string](cacheSize, nil, ttls.IngestToken),
		meta:   expirable.NewLRU[string, store.ChannelMeta](cacheSize, nil, ttls.ChannelMeta),
		last:   expirable.NewLRU[string, []byte](cacheSize, nil, ttls.LastSnap),
		boot:   expirable.NewLRU[string, []byte](cacheSize, nil, ttls.Bootstrap),
		active: expirable.NewLRU[string, struct{}](cacheSize, nil, ttls.Active),
	}
}

func (k *KV) PutPairingCode(_ context.Context, code, channelID string, _ time.Duration) error {
	k.codes.Add(code, channelID)
	return nil
}

func (k *KV) TakePairingCode(_ context.Context, code string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	channelID, ok := k.codes.Get(code)
	if !ok {
		return "", false, nil
	}
	k.codes.Remove(code)
	return channelID, true, nil
}

func (k *KV) PutIngestToken(_ context.Context, token, channelID string, _ time.Duration) error {
	k.tokens.Add(token, channelID)
	return nil
}

func (k *KV) ResolveIngestToken(_ context.Context, token string) (string, bool, error) {
	channelID, ok := k.tokens.Get(token)
	return channelID, ok, nil
}

func (k *KV) GetChannelMeta(_ context.Context, channelID string) (store.ChannelMeta, bool, error) {
	m, ok := k.meta.Get(channelID)
	return m, ok, nil
}

func (k *KV) CompareAndSwapMeta(_ context.Context, channelID string, prev, next store.ChannelMeta, _ time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, ok := k.meta.Get(channelID)
	if !ok {
		cur = store.ChannelMeta{}
	}
	if cur != prev {
		return false, nil
	}
	k.meta.Add(channelID, next)
	return true, nil
}

func (k *KV) PutLastSnapshot(_ context.Context, channelID string, data []byte, _ time.Duration) error {
	k.last.Add(channelID, data)
	return nil
}

func (k *KV) GetLastSnapshot(_ context.Context, channelID string) ([]byte, bool, error) {
	data, ok := k.last.Get(channelID)
	return data, ok, nil
}

func (k *KV) PutBootstrap(_ context.Context, channelID string, data []byte, _ time.Duration) error {
	k.boot.Add(channelID, data)
	return nil
}

func (k *KV) GetBootstrap(_ context.Context, channelID string) ([]byte, bool, error) {
	data, ok := k.boot.Get(channelID)
	return data, ok, nil
}

func (k *KV) IsActive(_ context.Context, channelID string) (bool, error) {
	_, ok := k.active.Get(channelID)
	return ok, nil
}

func (k *KV) Activate(_ context.Context, channelID string, _ time.Duration) error {
	k.active.Add(channelID, struct{}{})
	return nil
}

func (k *KV) ActiveCount(_ context.Context) (int, error) {
	return k.active.Len(), nil
}
