package cache

import (
	"time"

	"github.com/Belphemur/TwinQuery/internal/config"
)

// TwinGroup is the metrics group of the twin revalidation cache.
const TwinGroup = "twins"

type zerologAdapter struct{}

func (zerologAdapter) Error(msg string, err error) {
	logger := config.GetLogger()
	logger.Error().Err(err).Msg(msg)
}

// NewFromConfig builds the twin cache described by cfg.Cache. It returns a nil Cache
// and no error when cfg.Cache.Provider is empty, meaning caching is disabled.
func NewFromConfig(cfg *config.Config) (Cache, error) {
	if cfg == nil || cfg.Cache.Provider == "" {
		return nil, nil
	}

	size := cfg.Cache.Size
	if size <= 0 {
		size = 1000
	}

	c, err := New(cfg.Cache.Provider, ProviderConfig{
		Size:   size,
		TTL:    config.ParseDuration("cache.ttl", cfg.Cache.TTL, 10*time.Minute),
		Logger: zerologAdapter{},
		Redis: RedisOptions{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
		Group: TwinGroup,
	})
	if err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	logger.Info().Str("provider", cfg.Cache.Provider).Int("size", size).Msg("Twin cache enabled")
	return c, nil
}
