package signal

import (
	"sync"
	"time"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

// JoinRateLimiter caps create-or-join attempts per peer over a sliding
// window. A reconnecting monitor stays under it; a retry loop does not.
type JoinRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewJoinRateLimiter(limit int, interval time.Duration) *JoinRateLimiter {
	return &JoinRateLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *JoinRateLimiter) Allow(peer domain.PeerID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[peer]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[peer] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[peer] = fresh
	return true
}

// Forget drops a peer's attempt history, for use on disconnect.
func (rl *JoinRateLimiter) Forget(peer domain.PeerID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, peer)
}
