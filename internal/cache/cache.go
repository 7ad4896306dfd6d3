package cache

// EvictCallback is called when an entry is evicted from the cache.
// Not all providers support eviction callbacks (Redis expires keys server-side).
type EvictCallback func(key string, value []byte)

// Logger receives errors from backends whose operations can fail at runtime.
type Logger interface {
	Error(msg string, err error)
}

// Cache is a bounded key-value store used to keep the last known version of a twin.
// Implementations may use in-memory storage or external backends like Redis/Valkey.
type Cache interface {
	// Get retrieves a value by key. Returns the value and true if found, or nil and false if not.
	Get(key string) ([]byte, bool)

	// Set stores a value with the given key, overwriting any previous value.
	Set(key string, value []byte)

	// Delete removes key. Removing an absent key is a no-op.
	Delete(key string)

	// Contains checks whether a key exists in the cache without affecting recency.
	Contains(key string) bool

	// Len returns the number of entries currently in the cache.
	Len() int

	// Close releases any resources held by the cache. For in-memory caches, this is a no-op.
	Close() error
}
