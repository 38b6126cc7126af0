package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine maps known texts to fixed vectors.
type fakeEngine struct {
	vectors map[string][]float32
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vectors[text], nil
}

func (f *fakeEngine) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vectors[text]
	}
	return out, nil
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{vectors: map[string][]float32{
		"auth middleware":  {1, 0, 0},
		"login handler":    {0.9, 0.1, 0},
		"database schema":  {0, 1, 0},
		"css styles":       {0, 0, 1},
		"how do I log in?": {1, 0.05, 0},
	}}
}

func testDocs() []Document {
	return []Document{
		{ID: "d1", Path: "auth/middleware.go", Content: "auth middleware"},
		{ID: "d2", Path: "handlers/login.go", Content: "login handler"},
		{ID: "d3", Path: "db/schema.sql", Content: "database schema"},
		{ID: "d4", Path: "web/styles.css", Content: "css styles"},
	}
}

func TestRetriever_RanksBySimilarity(t *testing.T) {
	retriever, err := NewRetriever(newFakeEngine(), 3)
	require.NoError(t, err)
	require.NoError(t, retriever.Index(context.Background(), testDocs()))
	assert.Equal(t, 4, retriever.Len())

	results, err := retriever.Retrieve(context.Background(), "how do I log in?")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "auth/middleware.go", results[0].Document.Path)
	assert.Equal(t, "handlers/login.go", results[1].Document.Path)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)
}

func TestRetriever_TopKBounds(t *testing.T) {
	retriever, err := NewRetriever(newFakeEngine(), 2)
	require.NoError(t, err)
	require.NoError(t, retriever.Index(context.Background(), testDocs()))

	results, err := retriever.Retrieve(context.Background(), "how do I log in?")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetriever_EmptyIndex(t *testing.T) {
	retriever, err := NewRetriever(newFakeEngine(), 3)
	require.NoError(t, err)

	results, err := retriever.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriever_SkipsMismatchedVectors(t *testing.T) {
	engine := newFakeEngine()
	engine.vectors["short vec"] = []float32{1}
	retriever, err := NewRetriever(engine, 5)
	require.NoError(t, err)

	docs := append(testDocs(), Document{ID: "d5", Path: "bad.txt", Content: "short vec"})
	require.NoError(t, retriever.Index(context.Background(), docs))

	results, err := retriever.Retrieve(context.Background(), "how do I log in?")
	require.NoError(t, err)
	assert.Len(t, results, 4)
	for _, res := range results {
		assert.NotEqual(t, "bad.txt", res.Document.Path)
	}
}

func TestSources(t *testing.T) {
	refs := Sources([]Result{
		{Document: Document{ID: "d1", Path: "a.go"}},
		{Document: Document{ID: "d2", Path: "b.go"}},
	})
	require.Len(t, refs, 2)
	assert.Equal(t, "d1", refs[0].ID)
	assert.Equal(t, "a.go", refs[0].Path)
}

func TestBuildContext(t *testing.T) {
	block := BuildContext([]Result{
		{Document: Document{ID: "d1", Path: "a.go", Content: "package a"}},
	})
	assert.True(t, strings.Contains(block, "[a.go](rag://d1)"))
	assert.True(t, strings.Contains(block, "package a"))
	assert.Empty(t, BuildContext(nil))
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		score, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-9)
	})
	t.Run("orthogonal vectors", func(t *testing.T) {
		score, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, score, 1e-9)
	})
	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
		require.Error(t, err)
	})
	t.Run("zero vector", func(t *testing.T) {
		score, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2})
		require.NoError(t, err)
		assert.Zero(t, score)
	})
}
