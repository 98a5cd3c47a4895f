package masswhois

import (
	"sync"
	"time"
)

// DefaultCacheValueCapacity bounds how many values GenericCache keeps per
// key before it starts dropping the oldest ones.
const DefaultCacheValueCapacity = 16

type cacheRecord[V any] struct {
	value V
	id    uint64
}

type cacheEntry[V any] struct {
	records  []cacheRecord[V]
	negative bool
}

type wheelRef[K comparable] struct {
	key      K
	id       uint64
	negative bool
}

// GenericCache is a key to value-list cache with TTL eviction driven by an
// ExpiryWheel. Each inserted value is shadowed by exactly one wheel entry;
// a key is removed from the cache once its last shadowed value expires.
// Negative entries (a cached "this key does not exist") are superseded by
// any later positive insert for the same key.
type GenericCache[K comparable, V any] struct {
	mu    sync.Mutex
	data  map[K]*cacheEntry[V]
	wheel *ExpiryWheel[wheelRef[K]]

	valueCapacity int
	nextID        uint64
}

// NewGenericCache creates a cache whose entries expire through a wheel with
// bucketCount buckets of bucketWidth each.
func NewGenericCache[K comparable, V any](bucketCount int, bucketWidth time.Duration) *GenericCache[K, V] {
	return &GenericCache[K, V]{
		data:          make(map[K]*cacheEntry[V]),
		wheel:         NewExpiryWheel[wheelRef[K]](bucketCount, bucketWidth),
		valueCapacity: DefaultCacheValueCapacity,
	}
}

// Insert adds value to key's list, at the front when back is false
// ("fresh", e.g. a rotated-to-preferred answer) or at the back when back
// is true ("aged"). A prior negative entry for key is superseded.
func (c *GenericCache[K, V]) Insert(key K, value V, ttl time.Duration, back bool) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++

	entry, ok := c.data[key]
	if !ok || entry.negative {
		entry = &cacheEntry[V]{}
		c.data[key] = entry
	}
	rec := cacheRecord[V]{value: value, id: id}
	if back {
		entry.records = append(entry.records, rec)
		if len(entry.records) > c.valueCapacity {
			entry.records = entry.records[1:]
		}
	} else {
		entry.records = append([]cacheRecord[V]{rec}, entry.records...)
		if len(entry.records) > c.valueCapacity {
			entry.records = entry.records[:c.valueCapacity]
		}
	}
	c.mu.Unlock()

	c.wheel.Insert(wheelRef[K]{key: key, id: id}, ttl)
}

// InsertNegative records that key is known not to exist for ttl.
func (c *GenericCache[K, V]) InsertNegative(key K, ttl time.Duration) {
	c.mu.Lock()
	c.data[key] = &cacheEntry[V]{negative: true}
	c.mu.Unlock()

	c.wheel.Insert(wheelRef[K]{key: key, negative: true}, ttl)
}

// Query triggers a sweep, then looks key up. ok is false on a miss. When ok
// is true, negative indicates a cached non-existence result; otherwise
// values holds the (possibly rotated) list of cached values for key. When
// rotate is true and the hit is positive, the front value is moved to the
// back (round-robin) before being returned.
func (c *GenericCache[K, V]) Query(key K, rotate bool) (values []V, negative bool, ok bool) {
	c.sweep()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.data[key]
	if !found {
		return nil, false, false
	}
	if entry.negative {
		return nil, true, true
	}
	if rotate && len(entry.records) > 1 {
		entry.records = append(entry.records[1:], entry.records[0])
	}
	values = make([]V, len(entry.records))
	for i, r := range entry.records {
		values[i] = r.value
	}
	return values, false, true
}

func (c *GenericCache[K, V]) sweep() {
	c.wheel.Sweep(func(ref wheelRef[K]) {
		c.mu.Lock()
		defer c.mu.Unlock()

		entry, ok := c.data[ref.key]
		if !ok {
			return
		}
		if ref.negative {
			if entry.negative {
				delete(c.data, ref.key)
			}
			return
		}
		if entry.negative {
			return
		}
		for i, r := range entry.records {
			if r.id == ref.id {
				entry.records = append(entry.records[:i], entry.records[i+1:]...)
				break
			}
		}
		if len(entry.records) == 0 {
			delete(c.data, ref.key)
		}
	})
}
