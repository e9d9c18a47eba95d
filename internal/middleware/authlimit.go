package middleware

import (
	"sync"
	"time"

	"github.com/eyesee/license-server-go/internal/config"
)

const (
	authFailureWindow = time.Minute
	authCleanupPeriod = 5 * time.Minute
)

type authFailures struct {
	count       int
	windowStart time.Time
}

// AuthFailureLimiter counts failed admin logins per client IP. Once an IP
// reaches the limit it is refused until its window expires, before any
// password comparison happens.
type AuthFailureLimiter struct {
	mu          sync.Mutex
	failures    map[string]*authFailures
	maxFailures int
	lastCleanup time.Time
	now         func() time.Time
}

func NewAuthFailureLimiter() *AuthFailureLimiter {
	return &AuthFailureLimiter{
		failures:    make(map[string]*authFailures),
		maxFailures: config.AdminAuthFailuresPerMin,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *AuthFailureLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < authCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, f := range l.failures {
		if now.Sub(f.windowStart) > authFailureWindow {
			delete(l.failures, ip)
		}
	}
}

func (l *AuthFailureLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	f, ok := l.failures[ip]
	if !ok {
		return false
	}
	if now.Sub(f.windowStart) > authFailureWindow {
		delete(l.failures, ip)
		return false
	}
	return f.count >= l.maxFailures
}

func (l *AuthFailureLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	f, ok := l.failures[ip]
	if !ok || now.Sub(f.windowStart) > authFailureWindow {
		l.failures[ip] = &authFailures{count: 1, windowStart: now}
		return
	}
	f.count++
}

func (l *AuthFailureLimiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}
