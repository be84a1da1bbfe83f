package recognition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCacheServesStaleUntilExpiry(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	cache := NewEmbeddingCache(f.ds, "hog-128", time.Minute)

	known, err := cache.Known(f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, known)

	registerEmbedding(t, f, []float32{1, 2, 3})

	// Registration does not invalidate; staleness up to the TTL is accepted.
	known, err = cache.Known(f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, known, "cached empty set survives the registration")

	cache.Flush()
	known, err = cache.Known(f.course.ID)
	require.NoError(t, err)
	require.Len(t, known, 1)
	assert.Equal(t, f.student.ID, known[0].StudentID)
	assert.Equal(t, []float32{1, 2, 3}, known[0].Embedding)
}

func TestEmbeddingCacheExpires(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	cache := NewEmbeddingCache(f.ds, "hog-128", 20*time.Millisecond)

	_, err := cache.Known(f.course.ID)
	require.NoError(t, err)

	registerEmbedding(t, f, []float32{1, 2, 3})
	time.Sleep(40 * time.Millisecond)

	known, err := cache.Known(f.course.ID)
	require.NoError(t, err)
	assert.Len(t, known, 1, "expired entry reloads from the datastore")
}

func TestEmbeddingCacheSkipsCorruptBlobs(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)

	require.NoError(t, f.ds.UpsertFaceEmbedding(f.student.ID, "hog-128", []byte{1, 2, 3}))

	cache := NewEmbeddingCache(f.ds, "hog-128", time.Minute)
	known, err := cache.Known(f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, known, "a truncated blob is skipped, not fatal")
}
