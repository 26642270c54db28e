package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFrequencyWindow is how soon the same IP may connect again when
// frequency limiting is enabled.
const DefaultFrequencyWindow = 100 * time.Millisecond

// FrequencyLimiter refuses an IP that attempts to connect again within the
// window. It keeps one token-bucket limiter per IP.
type FrequencyLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	window   time.Duration
	enabled  bool
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// NewFrequencyLimiter returns a disabled limiter.
func NewFrequencyLimiter(window time.Duration, now func() time.Time) *FrequencyLimiter {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	if now == nil {
		now = time.Now
	}
	return &FrequencyLimiter{
		now:      now,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

// SetEnabled turns the check on or off.
func (f *FrequencyLimiter) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

// Allow records an attempt from address and reports whether it may proceed.
func (f *FrequencyLimiter) Allow(address string) bool {
	addr, ok := parseHost(address)
	if !ok {
		return true
	}
	key := addr.String()
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.enabled {
		return true
	}

	f.prune(now)
	l, ok := f.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(f.window), 1)
		f.limiters[key] = l
	}
	f.lastSeen[key] = now
	return l.AllowN(now, 1)
}

// prune forgets IPs idle for well over the window. Caller holds mu.
func (f *FrequencyLimiter) prune(now time.Time) {
	if len(f.lastSeen) < 256 {
		return
	}
	for k, seen := range f.lastSeen {
		if now.Sub(seen) > 10*f.window {
			delete(f.lastSeen, k)
			delete(f.limiters, k)
		}
	}
}

// Shaper caps outgoing bytes per second. A zero limit means unlimited.
type Shaper struct {
	mu  sync.Mutex
	now func() time.Time
	l   *rate.Limiter
	bps uint64
}

// NewShaper returns an unlimited shaper.
func NewShaper(now func() time.Time) *Shaper {
	if now == nil {
		now = time.Now
	}
	return &Shaper{now: now}
}

// SetLimit changes the ceiling. The burst equals one second of traffic.
func (s *Shaper) SetLimit(bytesPerSecond uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bps = bytesPerSecond
	if bytesPerSecond == 0 {
		s.l = nil
		return
	}
	s.l = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

// Limit returns the current ceiling.
func (s *Shaper) Limit() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bps
}

// Allow reports whether n bytes may be sent now, consuming them if so.
// Messages larger than the burst are let through when the bucket is full.
func (s *Shaper) Allow(n int) bool {
	s.mu.Lock()
	l := s.l
	s.mu.Unlock()
	if l == nil {
		return true
	}
	now := s.now()
	n = min(n, l.Burst())
	return l.AllowN(now, n)
}

// Wait blocks until n bytes may be sent or ctx ends.
func (s *Shaper) Wait(ctx context.Context, n int) error {
	s.mu.Lock()
	l := s.l
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.WaitN(ctx, min(n, l.Burst()))
}
