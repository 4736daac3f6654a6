package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses Ollama's HTTP API (default when reachable).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (offline fallback).
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a string to a ProviderType. Empty or unknown
// strings select auto-detection.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ""
	}
}

// NewEmbedder creates an embedder. An explicitly configured provider is
// binding: if it is unavailable the error surfaces rather than silently
// falling back to a different vector space, which would corrupt any index
// built with the original. Only auto-detection (empty provider) falls back
// from Ollama to static.
//
// The CONFRAG_EMBEDDER environment variable overrides the provider.
func NewEmbedder(ctx context.Context, provider ProviderType, model, host string) (Embedder, error) {
	if env := os.Getenv("CONFRAG_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	switch provider {
	case ProviderStatic:
		return NewStaticEmbedder(), nil

	case ProviderOllama:
		embedder, err := newOllama(ctx, model, host)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use hash-based embeddings: set embeddings.provider to \"static\"", err)
		}
		return embedder, nil

	default:
		embedder, err := newOllama(ctx, model, host)
		if err != nil {
			slog.Warn("ollama unavailable, falling back to static embeddings",
				"error", err.Error())
			return NewStaticEmbedder(), nil
		}
		return embedder, nil
	}
}

func newOllama(ctx context.Context, model, host string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" {
		cfg.Model = model
	}
	if host != "" {
		cfg.Host = host
	}
	if envHost := os.Getenv("CONFRAG_OLLAMA_HOST"); envHost != "" {
		cfg.Host = envHost
	}
	return NewOllamaEmbedder(ctx, cfg)
}
