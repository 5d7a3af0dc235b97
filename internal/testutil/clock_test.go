package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtGivenTime(t *testing.T) {
	c := NewFakeClock(1000)
	assert.Equal(t, int64(1000), c.Current())
}

func TestFakeClock_NowAdvancesByStep(t *testing.T) {
	c := NewFakeClock(1000)

	assert.Equal(t, int64(1000), c.NowMillis())
	assert.Equal(t, int64(1001), c.NowMillis())
	assert.Equal(t, int64(1002), c.Current())

	c.SetStep(10)
	assert.Equal(t, int64(1002), c.NowMillis())
	assert.Equal(t, int64(1012), c.NowMillis())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	c := NewFakeClock(0)
	c.Advance(500)
	assert.Equal(t, int64(500), c.Current())

	c.Set(42)
	assert.Equal(t, int64(42), c.NowMillis())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(0)
	const goroutines, perG = 10, 100

	var wg sync.WaitGroup
	results := make(chan int64, goroutines*perG)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				results <- c.NowMillis()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for v := range results {
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, goroutines*perG)
}
