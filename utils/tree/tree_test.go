package tree

import (
	"math/rand"
	"testing"

	"github.com/benbjohnson/immutable"
	"github.com/stretchr/testify/require"
)

var intHasher = immutable.NewHasher(int(0))

// badHasher maps every key to the same hash, forcing collisions.
type badHasher struct{}

func (badHasher) Hash(_ int) uint32   { return 42 }
func (badHasher) Equal(a, b int) bool { return a == b }

func TestInsertLookup(t *testing.T) {
	for _, hasher := range []immutable.Hasher[int]{intHasher, badHasher{}} {
		tr := New[int, string](hasher)
		tr = tr.Insert(1, "a")
		tr = tr.Insert(2, "b")
		tr = tr.Insert(1, "c")

		v, found := tr.Lookup(1)
		require.True(t, found)
		require.Equal(t, "c", v)

		v, found = tr.Lookup(2)
		require.True(t, found)
		require.Equal(t, "b", v)

		_, found = tr.Lookup(3)
		require.False(t, found)

		require.Equal(t, 2, tr.Size())
	}
}

func TestPersistence(t *testing.T) {
	tr := New[int, int](intHasher)
	snapshots := make([]Tree[int, int], 0, 100)
	for i := 0; i < 100; i++ {
		snapshots = append(snapshots, tr)
		tr = tr.Insert(i, i*i)
	}

	// Old snapshots must be unaffected by later insertions.
	for i, snap := range snapshots {
		require.Equal(t, i, snap.Size())
		for j := 0; j < i; j++ {
			v, found := snap.Lookup(j)
			require.True(t, found)
			require.Equal(t, j*j, v)
		}
		_, found := snap.Lookup(i)
		require.False(t, found)
	}
}

func TestRemove(t *testing.T) {
	for _, hasher := range []immutable.Hasher[int]{intHasher, badHasher{}} {
		tr := New[int, int](hasher)
		const N = 50
		for i := 0; i < N; i++ {
			tr = tr.Insert(i, i)
		}

		prev := tr
		tr = tr.Remove(17)
		_, found := tr.Lookup(17)
		require.False(t, found)
		require.Equal(t, N-1, tr.Size())

		// The pre-removal tree is intact.
		_, found = prev.Lookup(17)
		require.True(t, found)

		// Removing a missing key is a no-op.
		tr = tr.Remove(17)
		require.Equal(t, N-1, tr.Size())
	}
}

func TestRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr := New[int, int](intHasher)
	ref := map[int]int{}

	for i := 0; i < 2000; i++ {
		k := rng.Intn(200)
		if rng.Intn(4) == 0 {
			tr = tr.Remove(k)
			delete(ref, k)
		} else {
			tr = tr.Insert(k, i)
			ref[k] = i
		}
	}

	require.Equal(t, len(ref), tr.Size())
	tr.ForEach(func(k, v int) {
		require.Equal(t, ref[k], v)
	})
}
