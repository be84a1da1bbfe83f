// cache.go: TTL cache of decoded known embeddings per course
package recognition

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/errors"
)

// EmbeddingCache caches the decoded primary embeddings of a course's
// enrolled students. Entries expire after the configured TTL; a miss reloads
// synchronously from the datastore. Registrations do not invalidate entries,
// so a new face becomes matchable within one TTL. Concurrent reloads for the
// same key race benignly since entries are replaced wholesale.
type EmbeddingCache struct {
	ds        datastore.Interface
	modelName string
	cache     *gocache.Cache
}

// NewEmbeddingCache creates a cache for the given embedding model.
func NewEmbeddingCache(ds datastore.Interface, modelName string, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		ds:        ds,
		modelName: modelName,
		cache:     gocache.New(ttl, 2*ttl),
	}
}

// Known returns the course's known faces, served from cache when fresh.
func (c *EmbeddingCache) Known(courseID uint) ([]KnownFace, error) {
	key := fmt.Sprintf("%d:%s", courseID, c.modelName)
	if cached, found := c.cache.Get(key); found {
		return cached.([]KnownFace), nil
	}

	rows, err := c.ds.ListKnownEmbeddings(courseID, c.modelName)
	if err != nil {
		return nil, errors.New(err).
			Component("recognition").
			Category(errors.CategoryDatabase).
			Context("course_id", courseID).
			Build()
	}

	faces := make([]KnownFace, 0, len(rows))
	for i := range rows {
		vector, err := DecodeEmbedding(rows[i].Embedding)
		if err != nil {
			// A corrupt blob must not blind the whole course.
			continue
		}
		faces = append(faces, KnownFace{
			StudentID: rows[i].StudentID,
			FullName:  rows[i].FullName,
			Embedding: vector,
		})
	}

	c.cache.Set(key, faces, gocache.DefaultExpiration)
	return faces, nil
}

// Flush drops every cached entry. Used by tests and after bulk imports.
func (c *EmbeddingCache) Flush() {
	c.cache.Flush()
}
