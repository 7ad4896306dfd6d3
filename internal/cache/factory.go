package cache

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// RedisOptions locates the Redis or Valkey server of the redis provider.
type RedisOptions struct {
	Address   string // host:port
	Password  string
	DB        int
	KeyPrefix string // defaults to DefaultKeyPrefix
}

// ProviderConfig configures a twin cache. Providers ignore the fields that do not apply to them.
type ProviderConfig struct {
	Size    int           // twins kept by the memory provider
	TTL     time.Duration // how long a cached twin may be offered for revalidation
	OnEvict EvictCallback // memory provider only
	Logger  Logger        // nil drops backend errors
	Redis   RedisOptions

	// Group, when set, wraps the cache with the twinquery_cache_* metrics labelled cache=<Group>.
	Group string
}

// Provider builds a Cache from its configuration.
type Provider func(cfg ProviderConfig) (Cache, error)

var (
	mu        sync.RWMutex
	providers = make(map[string]Provider)
)

// Register makes a provider available under name. It panics on a nil provider or a name
// that is already taken; providers register themselves from init.
func Register(name string, p Provider) {
	mu.Lock()
	defer mu.Unlock()

	if p == nil {
		panic("cache: Register provider is nil")
	}
	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("cache: provider %q already registered", name))
	}
	providers[name] = p
}

// New builds a cache with the named provider, instrumented when cfg.Group is set.
func New(name string, cfg ProviderConfig) (Cache, error) {
	mu.RLock()
	p, ok := providers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cache: unknown provider %q (registered: %v)", name, RegisteredProviders())
	}
	if cfg.Group == "" {
		return p(cfg)
	}
	return newInstrumented(p, cfg)
}

// RegisteredProviders returns the provider names in lexical order.
func RegisteredProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(providers))
}
