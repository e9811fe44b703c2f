package feed

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/market"
)

// Limiter throttles connection+subscribe attempts per exchange with a token
// bucket.
type Limiter struct {
	mu       sync.Mutex
	cfg      *config.Config
	limiters map[market.Exchange]*rate.Limiter
}

func NewLimiter(cfg *config.Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		limiters: make(map[market.Exchange]*rate.Limiter),
	}
}

func (l *Limiter) get(ex market.Exchange) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[ex]; ok {
		return lim
	}
	ec := l.cfg.Exchange(ex)
	lim := rate.NewLimiter(rate.Limit(ec.SubscribeRate), ec.SubscribeBurst)
	l.limiters[ex] = lim
	return lim
}

// Wait blocks until a subscription to ex is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, ex market.Exchange) error {
	return l.get(ex).Wait(ctx)
}

