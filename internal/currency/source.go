package currency

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"burnrate/internal/log"
)

// Source publishes the current rate table.
type Source interface {
	CurrencyRates(ctx context.Context) ([]Rate, error)
}

const ratesKey = "rates"

// CachedSource keeps the last rate table for ttl. The public feed itself
// refreshes only every few minutes and is rate limited.
type CachedSource struct {
	next   Source
	cache  *cache.Cache
	logger *log.Logger
}

func NewCachedSource(next Source, ttl time.Duration, logger *log.Logger) *CachedSource {
	if logger == nil {
		logger = log.Nop()
	}
	return &CachedSource{
		next:   next,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger.WithComponent(log.ComponentCurrency),
	}
}

// CurrencyRates returns cached rates, refreshing them on expiry. If the
// refresh fails and a stale table is still around it is served instead.
func (s *CachedSource) CurrencyRates(ctx context.Context) ([]Rate, error) {
	if v, ok := s.cache.Get(ratesKey); ok {
		return v.([]Rate), nil
	}
	rates, err := s.next.CurrencyRates(ctx)
	if err != nil {
		if v, _, ok := s.cache.GetWithExpiration(ratesKey + ":stale"); ok {
			s.logger.WarnContext(ctx, "rate refresh failed, serving stale table", log.FieldError, err)
			return v.([]Rate), nil
		}
		return nil, err
	}
	s.cache.SetDefault(ratesKey, rates)
	s.cache.Set(ratesKey+":stale", rates, cache.NoExpiration)
	return rates, nil
}
