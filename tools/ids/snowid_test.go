package ids

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator(7)
	const workers, per = 8, 2000

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
}

func TestClockRollbackStaysMonotonic(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	g := NewGenerator(3)
	g.now = func() time.Time { return cur }

	a := g.Next()
	cur = base.Add(-time.Second)
	b := g.Next()
	require.Greater(t, b, a)
	assert.Equal(t, int64(3), (b>>12)&0x3FF)
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("sub")
	assert.True(t, strings.HasPrefix(id, "sub-"))
	assert.NotEqual(t, id, WithPrefix("sub"))
}

func TestSetNodeID(t *testing.T) {
	t.Cleanup(func() { SetNodeID(1) })
	SetNodeID(513)
	assert.Equal(t, int64(513), (Generate()>>12)&1023)

	SetNodeID(5000) // 越界忽略
	assert.Equal(t, int64(513), (Generate()>>12)&1023)
}
