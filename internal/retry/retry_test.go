package retry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/browser"
)

type trackingFactory struct {
	mu      sync.Mutex
	opened  int
	closed  int
	openErr []error
}

type trackingSession struct {
	id      int
	factory *trackingFactory
}

func (s *trackingSession) Load(context.Context, string) (browser.Snapshot, error) {
	return browser.Snapshot{}, nil
}

func (s *trackingSession) Close() error {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.closed++
	return nil
}

func (f *trackingFactory) Open(context.Context) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.openErr) > 0 {
		err := f.openErr[0]
		f.openErr = f.openErr[1:]
		if err != nil {
			return nil, err
		}
	}
	f.opened++
	return &trackingSession{id: f.opened, factory: f}, nil
}

func TestDoSucceedsOnFifthAttempt(t *testing.T) {
	t.Parallel()

	factory := &trackingFactory{}
	var seen []int
	err := Do(context.Background(), Config{MaxAttempts: 5}, factory, func(_ context.Context, s browser.Session) error {
		ts := s.(*trackingSession)
		seen = append(seen, ts.id)
		if len(seen) < 5 {
			return errors.New("proxy connection reset")
		}
		return nil
	}, zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen, "every attempt gets a fresh session")
	assert.Equal(t, 5, factory.opened)
	assert.Equal(t, 5, factory.closed)
}

func TestDoFailsAfterExactlyMaxAttempts(t *testing.T) {
	t.Parallel()

	factory := &trackingFactory{}
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 5}, factory, func(context.Context, browser.Session) error {
		attempts++
		return errors.New("prices not loaded")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Contains(t, err.Error(), "after 5 attempts: prices not loaded")
	assert.Equal(t, factory.opened, factory.closed)
}

func TestDoDefaultsBound(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), Config{}, &trackingFactory{}, func(context.Context, browser.Session) error {
		attempts++
		return errors.New("flaky")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	attempts := 0
	verdict := errors.New("VAT prices not displayed")
	err := Do(context.Background(), Config{MaxAttempts: 5}, &trackingFactory{}, func(context.Context, browser.Session) error {
		attempts++
		return Permanent(verdict)
	}, nil)

	require.ErrorIs(t, err, verdict)
	assert.True(t, IsPermanent(err))
	assert.NotErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 1, attempts)
}

func TestDoRetriesSessionOpenFailures(t *testing.T) {
	t.Parallel()

	factory := &trackingFactory{openErr: []error{errors.New("proxy refused"), nil}}
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3}, factory, func(context.Context, browser.Session) error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, factory.opened)
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Config{MaxAttempts: 5}, &trackingFactory{}, func(context.Context, browser.Session) error {
		attempts++
		cancel()
		return errors.New("flaky")
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, Permanent(nil))
}
