package repository

import (
	"context"
)

// EmbeddingClient turns texts into dense vectors, one per input and in input order.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}
