package cache

// instrumentedCache counts lookups and invalidations of the wrapped cache for one group.
type instrumentedCache struct {
	inner Cache
	group string
}

// newInstrumented builds the cache through p with eviction counting hooked into OnEvict,
// and exposes its size as a gauge read at scrape time.
func newInstrumented(p Provider, cfg ProviderConfig) (Cache, error) {
	group := cfg.Group
	next := cfg.OnEvict
	cfg.OnEvict = func(key string, value []byte) {
		EvictionsTotal.WithLabelValues(group).Inc()
		if next != nil {
			next(key, value)
		}
	}

	inner, err := p(cfg)
	if err != nil {
		return nil, err
	}
	registerEntriesGauge(group, inner.Len)
	return &instrumentedCache{inner: inner, group: group}, nil
}

func (c *instrumentedCache) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	if ok {
		HitsTotal.WithLabelValues(c.group).Inc()
	} else {
		MissesTotal.WithLabelValues(c.group).Inc()
	}
	return val, ok
}

func (c *instrumentedCache) Set(key string, value []byte) {
	c.inner.Set(key, value)
}

// Delete is how the twin service drops a twin the hub reported as gone or changed.
func (c *instrumentedCache) Delete(key string) {
	InvalidationsTotal.WithLabelValues(c.group).Inc()
	c.inner.Delete(key)
}

func (c *instrumentedCache) Contains(key string) bool {
	return c.inner.Contains(key)
}

func (c *instrumentedCache) Len() int {
	return c.inner.Len()
}

func (c *instrumentedCache) Close() error {
	unregisterEntriesGauge(c.group)
	return c.inner.Close()
}
