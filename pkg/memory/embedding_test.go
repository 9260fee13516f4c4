package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingProvider for testing (generates deterministic embeddings)
type MockEmbeddingProvider struct {
	dimension int
}

func NewMockEmbeddingProvider(dimension int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{dimension: dimension}
}

func (p *MockEmbeddingProvider) Dimension() int {
	return p.dimension
}

func (p *MockEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	// Deterministic embedding derived from a simple text hash
	embedding := make([]float32, p.dimension)
	hash := 0
	for _, c := range text {
		hash = hash*31 + int(c)
	}

	for i := 0; i < p.dimension; i++ {
		embedding[i] = float32((hash+i)%100) / 100.0
	}

	return embedding, nil
}

func (p *MockEmbeddingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func TestMockEmbeddingProvider_Deterministic(t *testing.T) {
	p := NewMockEmbeddingProvider(64)

	e1, err := p.GenerateEmbedding(context.Background(), "same text")
	require.NoError(t, err)
	e2, err := p.GenerateEmbedding(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, e1, e2)
	assert.Len(t, e1, 64)
}

func TestMockEmbeddingProvider_Batch(t *testing.T) {
	p := NewMockEmbeddingProvider(32)

	embeddings, err := p.GenerateEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, embeddings, 3)
	for _, e := range embeddings {
		assert.Len(t, e, 32)
	}
}

func TestNewOpenAIEmbedder_Dimensions(t *testing.T) {
	assert.Equal(t, 1536, NewOpenAIEmbedder("key", "text-embedding-3-small").Dimension())
	assert.Equal(t, 3072, NewOpenAIEmbedder("key", "text-embedding-3-large").Dimension())
	assert.Equal(t, 1536, NewOpenAIEmbedder("key", "some-future-model").Dimension())
}

func TestOpenAIEmbedder_GenerateEmbeddings(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingsResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAIEmbedder("test-key", "text-embedding-3-small")
	p.endpoint = srv.URL

	out, err := p.GenerateEmbeddings(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out[0])
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestOpenAIEmbedder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIEmbedder("test-key", "text-embedding-3-small")
	p.endpoint = srv.URL

	_, err := p.GenerateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
