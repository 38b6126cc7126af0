// Package rag ranks workspace documents against a chat query so replies can
// cite their sources as rag:// references.
package rag

import (
	"context"
	"fmt"
	"math"

	"codechat/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch of documents for indexing.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the engine name.
	Name() string
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		logging.RAGDebug("CosineSimilarity: zero magnitude vector")
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}
