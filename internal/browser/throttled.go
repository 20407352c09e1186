package browser

import (
	"context"
	"fmt"
)

// Waiter hands out load permits.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Throttled wraps f so every Load of every session it opens first waits for
// a permit from limiter.
func Throttled(f Factory, limiter Waiter) Factory {
	return FactoryFunc(func(ctx context.Context) (Session, error) {
		s, err := f.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &throttledSession{Session: s, limiter: limiter}, nil
	})
}

type throttledSession struct {
	Session
	limiter Waiter
}

func (s *throttledSession) Load(ctx context.Context, url string) (Snapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("acquire load permit: %w", err)
	}
	return s.Session.Load(ctx, url)
}
