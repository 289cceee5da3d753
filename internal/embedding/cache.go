package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

// Cache memoizes embeddings in front of another EmbeddingClient.
// Retries within a run re-embed the same request text, so hits are common.
type Cache struct {
	client repository.EmbeddingClient
	cache  *lru.Cache[string, []float32]
}

var _ repository.EmbeddingClient = (*Cache)(nil)

// NewCache wraps client with an LRU of the given size.
func NewCache(client repository.EmbeddingClient, size int) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client must not be nil")
	}
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cache{client: client, cache: c}, nil
}

// Embed returns cached vectors where possible and embeds the misses in one call.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			results[i] = v
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		logx.Debug().Int("texts", len(texts)).Msg("[Embedding] cache hit")
		return results, nil
	}

	vecs, err := c.client.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding client %s returned %d vectors for %d texts", c.client.Name(), len(vecs), len(missTexts))
	}

	for j, v := range vecs {
		results[missIdx[j]] = v
		c.cache.Add(missTexts[j], v)
	}
	return results, nil
}

func (c *Cache) Name() string {
	return c.client.Name() + " (cached)"
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return c.cache.Len()
}
