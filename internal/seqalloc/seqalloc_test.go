package seqalloc

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNext_StrictlyIncreasing(t *testing.T) {
	t.Parallel()
	a := New()
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		v := a.Next()
		require.Greater(t, v, prev)
		prev = v
	}
}

func TestNext_NoDuplicatesUnderContention(t *testing.T) {
	t.Parallel()
	a := New()
	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	seen := make([]int64, 0, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, a.Next())
			}
			mu.Lock()
			seen = append(seen, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i := 1; i < len(seen); i++ {
		require.NotEqual(t, seen[i-1], seen[i], "duplicate recv_seq allocated")
	}
	require.EqualValues(t, 1, seen[0])
	require.EqualValues(t, workers*perWorker, seen[len(seen)-1])
}

func TestPeek_DoesNotAllocate(t *testing.T) {
	t.Parallel()
	a := New()
	require.EqualValues(t, 1, a.Peek())
	require.EqualValues(t, 1, a.Next())
	require.EqualValues(t, 2, a.Peek())
}
