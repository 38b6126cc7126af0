package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"codechat/internal/directive"
	"codechat/internal/logging"
)

// Document is one indexable workspace source.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Result is one ranked retrieval hit.
type Result struct {
	Document Document
	Score    float64
}

type indexedDoc struct {
	doc    Document
	vector []float32
}

// Retriever holds an in-memory embedded index and ranks documents against
// queries by cosine similarity.
type Retriever struct {
	engine Engine
	topK   int

	mu   sync.RWMutex
	docs []indexedDoc
}

// NewRetriever creates a retriever over the given engine. topK bounds how
// many hits Retrieve returns.
func NewRetriever(engine Engine, topK int) (*Retriever, error) {
	if engine == nil {
		return nil, fmt.Errorf("retriever requires an embedding engine")
	}
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{engine: engine, topK: topK}, nil
}

// Index embeds and stores the documents, replacing any prior index.
func (r *Retriever) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		r.mu.Lock()
		r.docs = nil
		r.mu.Unlock()
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := r.engine.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("expected %d vectors, got %d", len(docs), len(vectors))
	}

	indexed := make([]indexedDoc, len(docs))
	for i, doc := range docs {
		indexed[i] = indexedDoc{doc: doc, vector: vectors[i]}
	}

	r.mu.Lock()
	r.docs = indexed
	r.mu.Unlock()
	logging.RAG("Retriever: indexed %d documents via %s", len(docs), r.engine.Name())
	return nil
}

// Len returns the number of indexed documents.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// Retrieve ranks indexed documents against the query and returns at most
// topK hits, best first. Documents whose vectors cannot be compared are
// skipped rather than failing the whole query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	r.mu.RLock()
	docs := r.docs
	r.mu.RUnlock()
	if len(docs) == 0 {
		return nil, nil
	}

	queryVec, err := r.engine.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results := make([]Result, 0, len(docs))
	for _, entry := range docs {
		score, err := CosineSimilarity(queryVec, entry.vector)
		if err != nil {
			logging.RAGDebug("Retriever: skipping %s: %v", entry.doc.Path, err)
			continue
		}
		results = append(results, Result{Document: entry.doc, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > r.topK {
		results = results[:r.topK]
	}
	logging.RAGDebug("Retriever: query matched %d documents", len(results))
	return results, nil
}

// Sources converts results to the rag:// reference form carried in
// directive metadata.
func Sources(results []Result) []directive.RAGSourceRef {
	refs := make([]directive.RAGSourceRef, 0, len(results))
	for _, res := range results {
		refs = append(refs, directive.RAGSourceRef{ID: res.Document.ID, Path: res.Document.Path})
	}
	return refs
}

// BuildContext renders retrieval hits as a prompt block. The model is
// instructed to cite sources using the [path](rag://id) link form the
// directive parser recognizes.
func BuildContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant workspace context:\n\n")
	for _, res := range results {
		fmt.Fprintf(&sb, "Source [%s](rag://%s):\n%s\n\n", res.Document.Path, res.Document.ID, res.Document.Content)
	}
	sb.WriteString("When you draw on a source above, cite it inline as [path](rag://id).\n")
	return sb.String()
}
