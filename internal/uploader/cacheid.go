package uploader

import (
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"sync/atomic"
	"time"
)

// CacheIDGenerator produces cache ids.
type CacheIDGenerator interface {
	Next() string
}

// IDGenerator renders cache ids as "<epoch>-<pid>-<counter>-<random>". The
// counter wraps at 10000 so ids keep a fixed width. Zero-value fields fall
// back to the wall clock, the process id and math/rand.
type IDGenerator struct {
	Now  func() time.Time
	PID  int
	Rand func(n int) int

	counter atomic.Uint64
}

// DefaultIDGenerator is shared by every uploader that does not set its own.
var DefaultIDGenerator = &IDGenerator{}

// Next returns a new cache id. Safe for concurrent use.
func (g *IDGenerator) Next() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	pid := g.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	rnd := rand.IntN
	if g.Rand != nil {
		rnd = g.Rand
	}
	n := g.counter.Add(1) % 10000
	return fmt.Sprintf("%d-%d-%04d-%04d", now().Unix(), pid, n, rnd(10000))
}

// The counter segment is optional so ids minted before it existed still
// parse. Negative epochs are accepted.
var cacheIDPattern = regexp.MustCompile(`^-?\d+-\d+(-\d{4})?-\d{4}$`)

// ValidCacheID reports whether id has the shape produced by IDGenerator.
func ValidCacheID(id string) bool { return cacheIDPattern.MatchString(id) }

// CacheIDTime extracts the creation time encoded in a cache id.
func CacheIDTime(id string) (time.Time, bool) {
	if !ValidCacheID(id) {
		return time.Time{}, false
	}
	var sec int64
	if _, err := fmt.Sscanf(id, "%d-", &sec); err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
