package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for documentation.
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaPoolSize sizes the HTTP connection pool.
	ollamaPoolSize = 4
)

// FallbackOllamaModels are tried in order when the primary model is not
// installed.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"embeddinggemma",
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host           string
	Model          string
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	BatchSize  int
	MaxRetries int

	// SkipHealthCheck skips the startup availability probe (for testing).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		MaxRetries:     DefaultMaxRetries,
	}
}

// ollamaEmbedRequest is the /api/embed request body.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder, probing for an installed
// embedding model and auto-detecting its dimensions.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	// Short idle timeout so connections are cleaned up quickly after
	// short-lived CLI runs.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout: per-request context timeouts handle warm vs
	// cold model loads.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to connect to Ollama or find model: %w", err)
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = dims
		}
	}

	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel returns the first installed model among the configured
// primary and fallbacks, matching with and without the ":tag" suffix.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized -> actual
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, candidate := range candidates {
		name := strings.ToLower(candidate)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// detectDimensions embeds a probe text to learn the model's dimension.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using the batch API.
// Empty texts get zero vectors without an API call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// getTimeout picks the warm or cold timeout depending on when the model was
// last used.
func (e *OllamaEmbedder) getTimeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

func (e *OllamaEmbedder) updateLastCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// doEmbedWithRetry retries transient failures with exponential backoff.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.getTimeout())
		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			e.updateLastCall()
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts_count", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

// doEmbed performs a single embedding request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResult ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available checks if Ollama is running and the model is installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}

	modelLower := strings.ToLower(e.modelName)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if strings.Contains(name, modelLower) || strings.Contains(modelLower, name) {
			return true
		}
	}
	return false
}

// Close releases HTTP resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}
