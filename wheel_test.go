package masswhois

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpiryWheelAtMostOnce(t *testing.T) {
	w := NewExpiryWheel[string](4, 10*time.Millisecond)
	w.Insert("a", 20*time.Millisecond)

	var visits int
	visit := func(string) { visits++ }

	// Not enough time has passed yet.
	w.Sweep(visit)
	require.Equal(t, 0, visits)

	time.Sleep(40 * time.Millisecond)
	w.Sweep(visit)
	require.Equal(t, 1, visits)

	// A further sweep must never re-deliver the same element.
	time.Sleep(40 * time.Millisecond)
	w.Sweep(visit)
	require.Equal(t, 1, visits)
}

func TestExpiryWheelLowerBound(t *testing.T) {
	w := NewExpiryWheel[int](4, 30*time.Millisecond)
	w.Insert(1, 30*time.Millisecond)

	var visited bool
	w.Sweep(func(int) { visited = true })
	require.False(t, visited, "visitor fired before a full bucket width elapsed")
}

func TestExpiryWheelInsertionOrder(t *testing.T) {
	w := NewExpiryWheel[int](4, 10*time.Millisecond)
	w.Insert(1, 10*time.Millisecond)
	w.Insert(2, 10*time.Millisecond)
	w.Insert(3, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	var order []int
	w.Sweep(func(v int) { order = append(order, v) })
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestExpiryWheelClampsLifetime(t *testing.T) {
	w := NewExpiryWheel[int](2, 10*time.Millisecond)
	// Lifetime below the bucket width is clamped up to it.
	w.Insert(1, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	var visited bool
	w.Sweep(func(int) { visited = true })
	require.True(t, visited)
}
