package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Key names a bucket: the kind of inbound link and the target it was
// addressed to. Links of different kinds never share a bucket.
type Key struct {
	Kind   string
	Target string
}

func (k Key) normalized() Key {
	return Key{
		Kind:   strings.ToLower(strings.TrimSpace(k.Kind)),
		Target: strings.ToLower(strings.TrimSpace(k.Target)),
	}
}

// Decision is the outcome of Allow. Report is set on the first denial of a
// run so callers log a flood once; Suppressed counts the denials of the run
// that ended with this call.
type Decision struct {
	Allowed    bool
	Report     bool
	Suppressed int
}

// KeyedLimiter applies a token bucket per Key and evicts buckets that have
// been idle longer than idleTTL.
type KeyedLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[Key]*bucket
	calls   uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	denied   int
}

const sweepEvery = 256

// New returns nil when rps or burst is not positive; a nil limiter allows everything.
func New(rps float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	return &KeyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[Key]*bucket),
	}
}

// Allow consumes one token from key's bucket at now.
func (l *KeyedLimiter) Allow(key Key, now time.Time) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	key = key.normalized()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	var d Decision
	if b.limiter.AllowN(now, 1) {
		d = Decision{Allowed: true, Suppressed: b.denied}
		b.denied = 0
	} else {
		b.denied++
		d = Decision{Report: b.denied == 1}
	}

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweepLocked(now)
	}
	return d
}

// Len reports the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}
