// Package ratelimit implements fixed-window request limits keyed by caller.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds the number of tracked callers.
const DefaultMaxKeys = 10000

// Config describes one limit.
type Config struct {
	// Window is the fixed window length.
	Window time.Duration
	// Max is the number of requests allowed per window.
	Max int
	// MaxKeys bounds memory; the oldest window is evicted when full.
	MaxKeys int
	// Burst, when positive, additionally smooths requests inside a window
	// to Max/Window with the given burst.
	Burst int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

type window struct {
	start  time.Time
	count  int
	shaper *rate.Limiter
}

// Limiter is safe for concurrent use. Construct one per limit per process.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a limiter. Non-positive Max disables limiting.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &Limiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limit settings.
func (l *Limiter) Config() Config { return l.cfg }

// Allow counts one request for key.
func (l *Limiter) Allow(key string) Decision {
	if l == nil || l.cfg.Max <= 0 {
		return Decision{Allowed: true}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if ok && now.Sub(w.start) > l.cfg.Window {
		ok = false
	}
	if !ok {
		if _, exists := l.windows[key]; !exists && len(l.windows) >= l.cfg.MaxKeys {
			l.sweepLocked(now)
			if len(l.windows) >= l.cfg.MaxKeys {
				l.evictOldestLocked()
			}
		}
		w = &window{start: now}
		if l.cfg.Burst > 0 {
			every := l.cfg.Window / time.Duration(l.cfg.Max)
			w.shaper = rate.NewLimiter(rate.Every(every), l.cfg.Burst)
		}
		l.windows[key] = w
	}

	w.count++
	retry := w.start.Add(l.cfg.Window).Sub(now)
	if w.count > l.cfg.Max {
		return Decision{RetryAfter: retry}
	}
	if w.shaper != nil && !w.shaper.AllowN(now, 1) {
		w.count--
		r := w.shaper.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		r.CancelAt(now)
		return Decision{Remaining: l.cfg.Max - w.count, RetryAfter: delay}
	}
	return Decision{Allowed: true, Remaining: l.cfg.Max - w.count, RetryAfter: retry}
}

// Sweep removes expired windows and returns how many were dropped.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *Limiter) sweepLocked(now time.Time) int {
	n := 0
	for k, w := range l.windows {
		if now.Sub(w.start) > l.cfg.Window {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

func (l *Limiter) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, w := range l.windows {
		if !found || w.start.Before(oldest) {
			oldestKey, oldest, found = k, w.start, true
		}
	}
	if found {
		delete(l.windows, oldestKey)
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
