package masswhois

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenericCacheRoundTrip(t *testing.T) {
	c := NewGenericCache[string, string](4, 10*time.Millisecond)
	c.Insert("a", "1.2.3.4", 20*time.Millisecond, false)

	values, negative, ok := c.Query("a", false)
	require.True(t, ok)
	require.False(t, negative)
	require.Equal(t, []string{"1.2.3.4"}, values)

	time.Sleep(60 * time.Millisecond)
	_, _, ok = c.Query("a", false)
	require.False(t, ok, "entry should have expired")
}

func TestGenericCacheNegativeShadowing(t *testing.T) {
	c := NewGenericCache[string, string](4, 10*time.Millisecond)
	c.InsertNegative("nx.example.", 50*time.Millisecond)

	_, negative, ok := c.Query("nx.example.", false)
	require.True(t, ok)
	require.True(t, negative)

	// A concurrent positive insert supersedes the negative marker.
	c.Insert("nx.example.", "9.9.9.9", 50*time.Millisecond, false)
	values, negative, ok := c.Query("nx.example.", false)
	require.True(t, ok)
	require.False(t, negative)
	require.Equal(t, []string{"9.9.9.9"}, values)
}

func TestGenericCacheRotation(t *testing.T) {
	c := NewGenericCache[string, int](4, 50*time.Millisecond)
	c.Insert("k", 1, time.Second, true)
	c.Insert("k", 2, time.Second, true)
	c.Insert("k", 3, time.Second, true)

	values, _, ok := c.Query("k", false)
	require.True(t, ok)
	require.Equal(t, []int{1, 2, 3}, values)

	values, _, ok = c.Query("k", true)
	require.True(t, ok)
	require.Equal(t, []int{2, 3, 1}, values)

	values, _, ok = c.Query("k", true)
	require.True(t, ok)
	require.Equal(t, []int{3, 1, 2}, values)
}

func TestGenericCacheValueCapacity(t *testing.T) {
	c := NewGenericCache[string, int](4, time.Second)
	for i := 0; i < DefaultCacheValueCapacity+5; i++ {
		c.Insert("k", i, time.Second, true)
	}
	values, _, ok := c.Query("k", false)
	require.True(t, ok)
	require.Len(t, values, DefaultCacheValueCapacity)
}
