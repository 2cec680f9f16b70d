package middleware

import (
	"net/http"
	"strconv"
	"time"
)

const (
	// defaultUploadConcurrency is the fallback slot count when maxConcurrent ≤ 0.
	defaultUploadConcurrency = 256

	retryAfterSeconds = "5"
)

// UploadLimiter caps the number of uploads processed at once with a channel
// semaphore. A request that finds every slot taken waits up to the queue
// timeout for one to free up, then gets 503 + Retry-After. Uploads stage
// whole files on disk and may run image processing, so the cap bounds both
// open files and CPU.
type UploadLimiter struct {
	sem  chan struct{}
	wait time.Duration
}

// NewUploadLimiter allows at most maxConcurrent uploads; wait is how long a
// request may queue for a slot. Zero rejects immediately.
func NewUploadLimiter(maxConcurrent int, wait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultUploadConcurrency
	}
	return &UploadLimiter{sem: make(chan struct{}, maxConcurrent), wait: wait}
}

// Limit wraps next so that each request holds a slot while it runs.
func (l *UploadLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.acquire(r) {
			if r.Context().Err() != nil {
				return
			}
			w.Header().Set("Retry-After", retryAfterSeconds)
			w.Header().Set("X-Active-Uploads", strconv.Itoa(l.Active()))
			writeJSONError(w, http.StatusServiceUnavailable, "server at capacity, retry in "+retryAfterSeconds+"s")
			return
		}
		defer func() { <-l.sem }()
		next.ServeHTTP(w, r)
	})
}

func (l *UploadLimiter) acquire(r *http.Request) bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
	}
	if l.wait <= 0 {
		return false
	}
	t := time.NewTimer(l.wait)
	defer t.Stop()
	select {
	case l.sem <- struct{}{}:
		return true
	case <-t.C:
		return false
	case <-r.Context().Done():
		return false
	}
}

// Active returns the number of upload slots currently in use.
func (l *UploadLimiter) Active() int { return len(l.sem) }

// Cap returns the maximum number of concurrent upload slots.
func (l *UploadLimiter) Cap() int { return cap(l.sem) }
