package models

import (
	"strings"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassAuth covers institute registration and login.
	ClassAuth EndpointClass = "auth"
	// ClassPublic covers unauthenticated verification and the hash helper.
	ClassPublic EndpointClass = "public"
	// ClassWrite covers the authenticated certificate and unique-id routes.
	ClassWrite EndpointClass = "write"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAuth, ClassPublic, ClassWrite:
		return true
	}
	return false
}

// Limit is the budget of one class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// AuthLockout tracks failed logins for one institute id and client IP.
type AuthLockout struct {
	Key           string     `json:"key"`
	FailureCount  int        `json:"failure_count"`
	WindowStart   time.Time  `json:"window_start"`
	LastFailureAt time.Time  `json:"last_failure_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

func (l *AuthLockout) IsLockedAt(now time.Time) bool {
	return l.LockedUntil != nil && now.Before(*l.LockedUntil)
}

// ApplyFailure counts a failed login at now and reports whether it tripped
// the lock. A failure outside the window starts a new window.
func (l *AuthLockout) ApplyFailure(now time.Time, maxAttempts int, window, lockFor time.Duration) bool {
	if l.WindowStart.IsZero() || now.Sub(l.WindowStart) > window {
		l.WindowStart = now
		l.FailureCount = 0
		l.LockedUntil = nil
	}
	l.FailureCount++
	l.LastFailureAt = now
	if l.FailureCount >= maxAttempts && !l.IsLockedAt(now) {
		until := now.Add(lockFor)
		l.LockedUntil = &until
		return true
	}
	return false
}

// RateLimitExceededResponse is the body of a 429.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// SanitizeKeySegment escapes the key delimiter so a caller-supplied id cannot
// address a neighbouring bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// IPKey is the bucket key for a client IP within a class.
func IPKey(class EndpointClass, ip string) string {
	return "ip:" + string(class) + ":" + SanitizeKeySegment(ip)
}

// AuthLockoutKey pairs an institute id with the client IP.
func AuthLockoutKey(instituteID, ip string) string {
	return "auth:" + SanitizeKeySegment(instituteID) + ":" + SanitizeKeySegment(ip)
}
