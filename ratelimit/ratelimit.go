// Package ratelimit enforces a fixed-window upload quota per user.
//
// A window opens with a user's first request and lasts for the configured
// duration. Requests in an exhausted window are refused outright. A request
// larger than what is left is allowed once, flagged as Exceeded, and empties
// the budget.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultLimit    = 100
	DefaultWindow   = time.Hour
	DefaultMaxUsers = 10000
)

// Window is one user's consumption in the current period.
type Window struct {
	Count int
	Start time.Time
}

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	// Allowed is false only when the budget was already empty.
	Allowed bool
	// Remaining is the budget left after this request.
	Remaining int
	// Exceeded reports that the request asked for more than was left.
	Exceeded bool
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMaxUsers bounds how many users' windows are held at once. The least
// recently used window is dropped first, which resets that user's quota.
func WithMaxUsers(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxUsers = n
		}
	}
}

// Limiter tracks per-user windows. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	maxUsers int
	windows  *expirable.LRU[string, Window]
	now      func() time.Time
}

// New creates a limiter allowing limit units per window. Non-positive
// arguments fall back to DefaultLimit and DefaultWindow.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:    limit,
		window:   window,
		maxUsers: DefaultMaxUsers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	// Entries outlive the window so a window's own clock decides resets;
	// expiry only reclaims memory for idle users.
	l.windows = expirable.NewLRU[string, Window](l.maxUsers, nil, 2*window)
	return l
}

// Limit returns the per-window ceiling.
func (l *Limiter) Limit() int {
	return l.limit
}

// CheckAndConsume charges n units to user. A non-positive n only reports
// the current state.
func (l *Limiter) CheckAndConsume(user string, n int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.current(user, now)
	remaining := l.limit - w.Count

	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: 0, Exceeded: n > 0, ResetAt: w.Start.Add(l.window)}
	}
	if n <= 0 {
		return Decision{Allowed: true, Remaining: remaining, ResetAt: w.Start.Add(l.window)}
	}

	d := Decision{Allowed: true, Exceeded: n > remaining, ResetAt: w.Start.Add(l.window)}
	w.Count = min(w.Count+n, l.limit)
	l.windows.Add(user, w)
	d.Remaining = l.limit - w.Count
	return d
}

// Remaining returns the budget left for user without consuming any.
func (l *Limiter) Remaining(user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(user, l.now())
	return l.limit - w.Count
}

// Snapshot returns user's window as it stands now.
func (l *Limiter) Snapshot(user string) Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(user, l.now())
}

// Reset forgets user's window.
func (l *Limiter) Reset(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows.Remove(user)
}

// current returns the live window for user, opening a new one when none
// exists or the stored one is older than the window duration.
func (l *Limiter) current(user string, now time.Time) Window {
	w, ok := l.windows.Get(user)
	if !ok || now.Sub(w.Start) > l.window {
		return Window{Start: now}
	}
	return w
}
