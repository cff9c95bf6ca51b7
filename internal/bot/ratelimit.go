package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterCleanupThreshold is the map size at which idle limiters are pruned.
	limiterCleanupThreshold = 500
	limiterMaxIdle          = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter allows each user maxRequests messages per window.
type userLimiter struct {
	mu    sync.Mutex
	users map[string]*limiterEntry
	r     rate.Limit
	b     int
	now   func() time.Time
}

func newUserLimiter(maxRequests int, window time.Duration) *userLimiter {
	if maxRequests <= 0 || window <= 0 {
		return nil
	}
	return &userLimiter{
		users: make(map[string]*limiterEntry),
		r:     rate.Every(window / time.Duration(maxRequests)),
		b:     maxRequests,
		now:   time.Now,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.users) > limiterCleanupThreshold {
		cutoff := now.Add(-limiterMaxIdle)
		for id, e := range l.users {
			if e.lastSeen.Before(cutoff) {
				delete(l.users, id)
			}
		}
	}

	e, ok := l.users[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.users[userID] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}
