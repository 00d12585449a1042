// Package ratelimit implements the per-user, per-class send limiter.
//
// Checking and counting are split: CheckAndMaybeBlock decides whether a send
// may proceed, and Commit counts it once the message has been stored. Callers
// that need the pair to be atomic for one user hold Lock(userID) across both.
package ratelimit

import (
	"sync"
	"time"

	"chat-relay/internal/models"
)

type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

type ClassStatus struct {
	Count                  int        `json:"count"`
	Limit                  int        `json:"limit"`
	WindowRemainingSeconds int        `json:"windowRemainingSeconds"`
	BlockedUntil           *time.Time `json:"blockedUntil,omitempty"`
}

type counter struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

func (c *counter) reset(now time.Time) {
	c.count = 0
	c.windowStart = now
	c.blockedUntil = time.Time{}
}

type key struct {
	userID string
	class  models.MessageClass
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

type Limiter struct {
	cfg   Config
	clock Clock

	mu       sync.Mutex
	counters map[key]*counter

	locksMu sync.Mutex
	locks   map[string]*userLock
}

func New(cfg Config, clock Clock) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Limiter{
		cfg:      cfg,
		clock:    clock,
		counters: make(map[key]*counter),
		locks:    make(map[string]*userLock),
	}
}

// Now reads the limiter's clock.
func (l *Limiter) Now() time.Time {
	return l.clock.Now()
}

func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckAndMaybeBlock reports whether userID may send one more message of the
// given class at now. Reaching the class limit starts a cooldown; repeated
// checks during the cooldown return the shrinking remaining time without
// extending it. The count is not incremented here.
func (l *Limiter) CheckAndMaybeBlock(userID string, class models.MessageClass, now time.Time) Decision {
	cc, ok := l.cfg[class]
	if !ok {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{userID: userID, class: class}
	c, ok := l.counters[k]
	if !ok {
		c = &counter{windowStart: now}
		l.counters[k] = c
	}

	if !c.blockedUntil.IsZero() {
		if now.Before(c.blockedUntil) {
			return Decision{RetryAfterSeconds: ceilSeconds(c.blockedUntil.Sub(now))}
		}
		c.reset(now)
	} else if now.Sub(c.windowStart) > cc.Window {
		c.reset(now)
	}

	if c.count >= cc.Max {
		c.blockedUntil = now.Add(cc.Cooldown)
		return Decision{RetryAfterSeconds: ceilSeconds(cc.Cooldown)}
	}

	return Decision{Allowed: true}
}

// Commit counts one delivered send. It must follow an allowed check.
func (l *Limiter) Commit(userID string, class models.MessageClass) {
	if _, ok := l.cfg[class]; !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{userID: userID, class: class}
	c, ok := l.counters[k]
	if !ok {
		// cleared between check and commit
		c = &counter{windowStart: l.clock.Now()}
		l.counters[k] = c
	}
	c.count++
}

// Status reports every configured class for userID. Users with no activity
// get zero counts.
func (l *Limiter) Status(userID string) map[models.MessageClass]ClassStatus {
	now := l.clock.Now()
	out := make(map[models.MessageClass]ClassStatus, len(l.cfg))

	l.mu.Lock()
	defer l.mu.Unlock()

	for class, cc := range l.cfg {
		st := ClassStatus{Limit: cc.Max}
		c, ok := l.counters[key{userID: userID, class: class}]
		if !ok {
			out[class] = st
			continue
		}

		if !c.blockedUntil.IsZero() && now.Before(c.blockedUntil) {
			until := c.blockedUntil
			st.BlockedUntil = &until
			st.Count = c.count
		} else if c.blockedUntil.IsZero() && now.Sub(c.windowStart) <= cc.Window {
			st.Count = c.count
			st.WindowRemainingSeconds = ceilSeconds(c.windowStart.Add(cc.Window).Sub(now))
		}
		out[class] = st
	}
	return out
}

// Clear drops the counters for userID, limited to classes when given.
func (l *Limiter) Clear(userID string, classes ...models.MessageClass) {
	if len(classes) == 0 {
		classes = models.AllClasses
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, class := range classes {
		delete(l.counters, key{userID: userID, class: class})
	}
}

// Sweep removes counters whose window started more than idle ago and that
// are not cooling down. It returns the number removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, c := range l.counters {
		if now.Before(c.blockedUntil) {
			continue
		}
		if now.Sub(c.windowStart) > idle {
			delete(l.counters, k)
			removed++
		}
	}
	return removed
}

// Lock serializes one user's check/commit sequences. Different users never
// contend. The returned func releases the lock.
func (l *Limiter) Lock(userID string) func() {
	l.locksMu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.locksMu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()

		l.locksMu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.locksMu.Unlock()
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
