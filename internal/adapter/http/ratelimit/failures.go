// Package ratelimit locks out clients that keep presenting bad credentials.
package ratelimit

import (
	"sync"
	"time"
)

// sweepThreshold bounds the record map; stale records are dropped once it is
// exceeded.
const sweepThreshold = 1024

type failureRecord struct {
	Count        int
	LastFailure  time.Time
	BlockedUntil time.Time
}

// FailureLimiter blocks a client for blockDuration once it has failed
// authentication more than maxFailures times within windowDuration.
type FailureLimiter struct {
	mu             sync.Mutex
	records        map[string]*failureRecord
	maxFailures    int
	windowDuration time.Duration
	blockDuration  time.Duration
	now            func() time.Time
}

func NewFailureLimiter(maxFailures int, windowDuration, blockDuration time.Duration) *FailureLimiter {
	return &FailureLimiter{
		records:        make(map[string]*failureRecord),
		maxFailures:    maxFailures,
		windowDuration: windowDuration,
		blockDuration:  blockDuration,
		now:            time.Now,
	}
}

// Blocked reports whether clientID is locked out and for how much longer.
func (l *FailureLimiter) Blocked(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[clientID]
	if !ok {
		return false, 0
	}
	now := l.now()
	if now.Before(record.BlockedUntil) {
		return true, record.BlockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts one failed attempt. It returns true with the block
// duration when this failure tips the client over the limit.
func (l *FailureLimiter) RecordFailure(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.records) >= sweepThreshold {
		l.sweep(now)
	}

	record, ok := l.records[clientID]
	if !ok {
		record = &failureRecord{}
		l.records[clientID] = record
	}
	if now.Sub(record.LastFailure) > l.windowDuration {
		record.Count = 0
	}
	record.Count++
	record.LastFailure = now

	if record.Count > l.maxFailures {
		record.BlockedUntil = now.Add(l.blockDuration)
		record.Count = 0
		return true, l.blockDuration
	}
	return false, 0
}

func (l *FailureLimiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, clientID)
}

func (l *FailureLimiter) sweep(now time.Time) {
	for clientID, record := range l.records {
		if now.Sub(record.LastFailure) > l.windowDuration*2 && now.After(record.BlockedUntil) {
			delete(l.records, clientID)
		}
	}
}
