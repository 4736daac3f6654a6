package preflight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/confrag/confrag/internal/embed"
)

const embedderCheckTimeout = 5 * time.Second

// CheckEmbedder checks that the configured embedding provider is usable.
// Static embeddings always pass; Ollama must be reachable. Non-critical
// because index builds fail cleanly when the embedder is down.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	provider := embed.ParseProvider(c.cfg.Embeddings.Provider)
	if provider == embed.ProviderStatic {
		result.Status = StatusPass
		result.Message = "static embeddings (no external service)"
		return result
	}

	host := c.cfg.Embeddings.OllamaHost
	if host == "" {
		host = embed.DefaultOllamaHost
	}
	host = strings.TrimRight(host, "/")

	ctx, cancel := context.WithTimeout(ctx, embedderCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid Ollama host %q: %v", host, err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama unreachable at %s", host)
		result.Details = "index builds will fail until Ollama is running, or set embeddings.provider to 'static'"
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama returned HTTP %d", resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("Ollama reachable at %s", host)
	return result
}
