package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cogloop/core/internal/cogerr"
)

// OllamaEmbedder calls a local Ollama /api/embeddings endpoint. Grounded on
// the teacher's internal/embedding.Client, kept as a straight port of its
// FIFO embedding cache (repeated hybrid_search/context-assembly queries
// against the same recent text are common) and request shape, generalized
// to take a context.Context and implement the package-wide Embedder
// contract instead of the teacher's bespoke signature.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
	cache   *embedCache
}

func NewOllamaEmbedder(baseURL, model string, dim int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   newEmbedCache(512),
	}
}

func (e *OllamaEmbedder) Dim() int { return e.dim }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, cogerr.Validationf("llm.OllamaEmbedder.Embed", "empty text")
	}

	key := cacheKey(text)
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, cogerr.Validationf("llm.OllamaEmbedder.Embed", "marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, cogerr.Validationf("llm.OllamaEmbedder.Embed", "build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, cogerr.Transientf("llm.OllamaEmbedder.Embed", "request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cogerr.Transientf("llm.OllamaEmbedder.Embed", "ollama status %d", resp.StatusCode)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cogerr.Validationf("llm.OllamaEmbedder.Embed", "decode: %w", err)
	}
	e.cache.set(key, out.Embedding)
	return out.Embedding, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// embedCache is a fixed-size FIFO cache, a direct port of the teacher's
// embeddingCache with float32 vectors instead of float64.
type embedCache struct {
	mu      sync.Mutex
	items   map[string][]float32
	order   []string
	maxSize int
}

func newEmbedCache(maxSize int) *embedCache {
	return &embedCache{items: make(map[string][]float32, maxSize), maxSize: maxSize}
}

func (c *embedCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embedCache) set(key string, emb []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = emb
}
