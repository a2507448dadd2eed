package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type LimiterSuite struct {
	suite.Suite
	clock   *fakeClock
	limiter *Limiter
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.limiter = New(WithClock(s.clock.Now))
}

func (s *LimiterSuite) TestBoundary() {
	s.Run("five allowed then sixth denied", func() {
		for i := range 5 {
			allowed, info := s.limiter.IsAllowed("client-a", 5, 10*time.Second)
			s.Require().True(allowed, "request %d", i+1)
			s.Equal(4-i, info.Remaining)
			s.Zero(info.RetryAfter)
		}
		allowed, info := s.limiter.IsAllowed("client-a", 5, 10*time.Second)
		s.False(allowed)
		s.Equal(0, info.Remaining)
		s.Greater(info.RetryAfter, time.Duration(0))
		s.LessOrEqual(info.RetryAfter, 10*time.Second)
	})

	s.Run("window slides", func() {
		s.clock.Advance(11 * time.Second)
		allowed, _ := s.limiter.IsAllowed("client-a", 5, 10*time.Second)
		s.True(allowed)
	})
}

func (s *LimiterSuite) TestDeniedRequestsAreRecorded() {
	for range 3 {
		s.limiter.IsAllowed("client-b", 2, 10*time.Second)
		s.clock.Advance(4 * time.Second)
	}
	// stamps at t=0,4,8; at t=12 the t=0 stamp expired but the denied t=8 one
	// still fills the window.
	allowed, _ := s.limiter.IsAllowed("client-b", 2, 10*time.Second)
	s.False(allowed)
}

func (s *LimiterSuite) TestKeyedByIdentifierAndWindow() {
	allowed, _ := s.limiter.IsAllowed("client-c", 1, time.Minute)
	s.True(allowed)
	allowed, _ = s.limiter.IsAllowed("client-c", 1, time.Minute)
	s.False(allowed)

	allowed, _ = s.limiter.IsAllowed("client-c", 1, time.Hour)
	s.True(allowed, "a different window is tracked separately")
	allowed, _ = s.limiter.IsAllowed("client-d", 1, time.Minute)
	s.True(allowed, "a different identifier is tracked separately")
}

func (s *LimiterSuite) TestResetIsOldestStampPlusWindow() {
	start := s.clock.Now()
	s.limiter.IsAllowed("client-e", 3, 30*time.Second)
	s.clock.Advance(5 * time.Second)
	_, info := s.limiter.IsAllowed("client-e", 3, 30*time.Second)
	s.Equal(start.Add(30*time.Second), info.Reset)
	s.Equal(1, info.Remaining)
}

func (s *LimiterSuite) TestCleanup() {
	s.limiter.IsAllowed("stale", 5, time.Minute)
	s.clock.Advance(30 * time.Minute)
	s.limiter.IsAllowed("fresh", 5, time.Minute)
	s.clock.Advance(31 * time.Minute)

	removed := s.limiter.Cleanup(s.clock.Now())
	s.Equal(1, removed)

	s.limiter.mu.Lock()
	defer s.limiter.mu.Unlock()
	s.Len(s.limiter.windows, 1)
	_, ok := s.limiter.windows[windowKey{identifier: "fresh", window: time.Minute}]
	s.True(ok)
}

func (s *LimiterSuite) TestConcurrentCallersNeverExceedLimit() {
	const limit = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.limiter.IsAllowed("shared", limit, time.Minute); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(limit, admitted)
}

func (s *LimiterSuite) TestRunStopsOnCancel() {
	l := New(WithCleanupInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Run did not return after cancel")
	}
}
