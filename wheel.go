package masswhois

import (
	"sync"
	"time"
)

// ExpiryWheel is a bucketed time-wheel: a circular array of FIFO buckets,
// each spanning bucketWidth of wall-clock time, giving amortized O(1)
// scheduling of deferred actions at the cost of bucketWidth precision.
//
// An element inserted with lifetime L (clamped to [bucketWidth,
// bucketCount*bucketWidth-1]) is visited by Sweep no earlier than
// bucketWidth after insertion and no later than L+bucketWidth after
// insertion, exactly once.
type ExpiryWheel[T any] struct {
	mu sync.Mutex

	buckets     [][]T
	bucketWidth time.Duration
	maxLifetime time.Duration

	start     time.Time
	head      int // index of the oldest not-yet-swept bucket
	lastSweep time.Time
}

// NewExpiryWheel creates a wheel with bucketCount buckets, each spanning
// bucketWidth. The wheel covers bucketCount*bucketWidth of total lifetime.
func NewExpiryWheel[T any](bucketCount int, bucketWidth time.Duration) *ExpiryWheel[T] {
	if bucketCount <= 0 {
		bucketCount = 1
	}
	now := time.Now()
	return &ExpiryWheel[T]{
		buckets:     make([][]T, bucketCount),
		bucketWidth: bucketWidth,
		maxLifetime: time.Duration(bucketCount)*bucketWidth - 1,
		start:       now,
		lastSweep:   now,
	}
}

// Insert clamps lifetime to the wheel's supported range and appends elem to
// the bucket it will expire into.
func (w *ExpiryWheel[T]) Insert(elem T, lifetime time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if lifetime < w.bucketWidth {
		lifetime = w.bucketWidth
	}
	if lifetime > w.maxLifetime {
		lifetime = w.maxLifetime
	}
	elapsed := time.Since(w.start) + lifetime
	bucket := int(elapsed/w.bucketWidth) % len(w.buckets)
	w.buckets[bucket] = append(w.buckets[bucket], elem)
}

// Sweep visits every element whose bucket has fully elapsed since the last
// sweep and clears those buckets. It is a no-op if less than bucketWidth
// has passed since the previous sweep. Elements within a bucket are
// visited in insertion order; every element is visited at most once.
func (w *ExpiryWheel[T]) Sweep(visit func(T)) {
	w.mu.Lock()
	elapsed := time.Since(w.lastSweep)
	if elapsed < w.bucketWidth {
		w.mu.Unlock()
		return
	}
	toSweep := int(elapsed / w.bucketWidth)
	if toSweep > len(w.buckets) {
		toSweep = len(w.buckets)
	}

	var drained []T
	for i := 0; i < toSweep; i++ {
		idx := (w.head + i) % len(w.buckets)
		if len(w.buckets[idx]) > 0 {
			drained = append(drained, w.buckets[idx]...)
			w.buckets[idx] = nil
		}
	}
	w.head = (w.head + toSweep) % len(w.buckets)
	w.lastSweep = w.lastSweep.Add(time.Duration(toSweep) * w.bucketWidth)
	w.mu.Unlock()

	for _, e := range drained {
		visit(e)
	}
}
