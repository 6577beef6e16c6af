package options

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/cache"
	"github.com/noah-isme/backend-bizops/internal/obs"
)

// Source fetches option lists from the system of record.
type Source interface {
	ListOptions(ctx context.Context, kind apiclient.Kind) ([]apiclient.Option, error)
}

// Service serves option lists through a Redis cache.
type Service struct {
	Source Source
	Cache  *cache.JSON
	Logger zerolog.Logger
}

// List returns the options of kind, reading through the cache. Cache failures
// fall back to the source.
func (s *Service) List(ctx context.Context, kind apiclient.Kind) ([]apiclient.Option, error) {
	key := cache.KeyOptions(ctx, string(kind))
	var cached []apiclient.Option
	found, err := s.Cache.Get(ctx, key, &cached)
	if err != nil {
		s.Logger.Warn().Err(err).Str("kind", string(kind)).Msg("options cache read failed")
	}
	if found {
		obs.ObserveCounter(obs.OptionsCacheTotal, string(kind), "hit")
		return cached, nil
	}
	obs.ObserveCounter(obs.OptionsCacheTotal, string(kind), "miss")

	opts, err := s.Source.ListOptions(ctx, kind)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = []apiclient.Option{}
	}
	if err := s.Cache.Set(ctx, key, opts); err != nil {
		s.Logger.Warn().Err(err).Str("kind", string(kind)).Msg("options cache write failed")
	}
	return opts, nil
}

// Invalidate drops the cached list of kind.
func (s *Service) Invalidate(ctx context.Context, kind apiclient.Kind) error {
	_, err := s.Cache.Delete(ctx, cache.KeyOptions(ctx, string(kind)))
	return err
}
