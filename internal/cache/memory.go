package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

func init() {
	Register("memory", newMemoryCache)
}

// memoryCache holds twins in process. A twin leaves when its TTL runs out or when Size
// newer twins have been stored after it.
type memoryCache struct {
	twins *lru.LRU[string, []byte]
}

func newMemoryCache(cfg ProviderConfig) (Cache, error) {
	var onEvict lru.EvictCallback[string, []byte]
	if cfg.OnEvict != nil {
		onEvict = lru.EvictCallback[string, []byte](cfg.OnEvict)
	}
	return &memoryCache{twins: lru.NewLRU(cfg.Size, onEvict, cfg.TTL)}, nil
}

func (m *memoryCache) Get(key string) ([]byte, bool) { return m.twins.Get(key) }
func (m *memoryCache) Set(key string, value []byte)  { m.twins.Add(key, value) }
func (m *memoryCache) Delete(key string)             { m.twins.Remove(key) }
func (m *memoryCache) Contains(key string) bool      { return m.twins.Contains(key) }
func (m *memoryCache) Len() int                      { return m.twins.Len() }
func (m *memoryCache) Close() error                  { return nil }
