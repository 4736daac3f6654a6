// Package tenant owns the durable per-tenant configuration and state records.
//
// The store is deliberately cache-free: configuration is re-read from disk
// on every operation so out-of-band edits take effect on the next call, and
// state is read-modify-written under a per-tenant file lock so it always
// reflects the last completed operation, even across process restarts.
package tenant

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Readiness is the persisted tag gating whether a tenant may be queried.
type Readiness string

const (
	ReadinessNeverBuilt Readiness = "never_built"
	ReadinessBuilding   Readiness = "building"
	ReadinessReady      Readiness = "ready"
	ReadinessFailed     Readiness = "failed"
)

// Export statuses.
const (
	ExportStatusSuccess = "success"
	ExportStatusPartial = "partial"
	ExportStatusFailed  = "failed"
)

// Index statuses.
const (
	IndexStatusSuccess     = "success"
	IndexStatusNoDocuments = "no_documents"
	IndexStatusFailed      = "failed"
)

// Query statuses.
const (
	QueryStatusSuccess = "success"
	QueryStatusError   = "error"
)

// maxTenantIDLength bounds tenant identifiers; they become directory and
// collection names, so keep them filesystem-safe and short.
const maxTenantIDLength = 64

var validTenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateID validates a tenant identifier. Valid ids are lowercase
// alphanumeric with hyphens and underscores, starting with a letter or digit.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if len(id) > maxTenantIDLength {
		return fmt.Errorf("tenant id too long (max %d chars)", maxTenantIDLength)
	}
	if !validTenantIDPattern.MatchString(id) {
		return fmt.Errorf("tenant id can only contain lowercase letters, numbers, hyphens, and underscores")
	}
	return nil
}

// SanitizeID lowercases an identifier and replaces every character outside
// [a-z0-9_-] with an underscore. Used when deriving collection names.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CollectionName derives the retrieval collection name for a tenant.
// The derivation is deterministic and injective over valid tenant ids, so
// two tenants can never collide on a collection.
func CollectionName(tenantID string) string {
	return "tenant_" + SanitizeID(tenantID) + "_documents"
}

// Space is one named upstream source collection a tenant exports from.
type Space struct {
	Key     string `yaml:"key" json:"key"`
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// ConfluenceConfig holds the upstream connection settings for a tenant.
// Credentials may reference environment variables using the "env:VAR_NAME"
// form; they are resolved at use time, never stored resolved.
type ConfluenceConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Username string `yaml:"username" json:"username"`
	APIToken string `yaml:"api_token" json:"api_token"`
}

// IndexConfig holds per-tenant indexing settings.
type IndexConfig struct {
	// Strategy selects the chunking behavior: "simple" or "parent_document".
	Strategy       string `yaml:"strategy" json:"strategy"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	ChunkSize      int    `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap" json:"chunk_overlap"`

	// CollectionName is derived from the tenant id at creation time and is
	// never user-editable.
	CollectionName string `yaml:"collection_name" json:"collection_name"`
}

// Config is the immutable-per-load tenant configuration. It is re-read from
// disk on every operation; nothing in the process holds a long-lived copy.
type Config struct {
	ID         string           `yaml:"id" json:"id"`
	Name       string           `yaml:"name" json:"name"`
	Confluence ConfluenceConfig `yaml:"confluence" json:"confluence"`
	Spaces     []Space          `yaml:"spaces" json:"spaces"`
	Index      IndexConfig      `yaml:"index" json:"index"`
}

// EnabledSpaceKeys returns the keys of all spaces marked enabled, in
// configuration order.
func (c *Config) EnabledSpaceKeys() []string {
	keys := make([]string, 0, len(c.Spaces))
	for _, s := range c.Spaces {
		if s.Enabled {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// HasSpace reports whether the configuration names the given space key.
func (c *Config) HasSpace(key string) bool {
	for _, s := range c.Spaces {
		if s.Key == key {
			return true
		}
	}
	return false
}

// Validate checks that required configuration fields are present.
func (c *Config) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if c.Confluence.BaseURL == "" {
		return fmt.Errorf("confluence.base_url is required")
	}
	if len(c.Spaces) == 0 {
		return fmt.Errorf("at least one space is required")
	}
	for i, s := range c.Spaces {
		if s.Key == "" {
			return fmt.Errorf("spaces[%d].key is required", i)
		}
	}
	switch c.Index.Strategy {
	case "", "simple", "parent_document":
	default:
		return fmt.Errorf("index.strategy must be 'simple' or 'parent_document', got %q", c.Index.Strategy)
	}
	return nil
}

// SpaceError records one space's export failure inside a batch.
type SpaceError struct {
	SpaceKey string `json:"space_key"`
	Error    string `json:"error"`
}

// ExportResult summarizes one export batch.
type ExportResult struct {
	SessionID      string       `json:"session_id,omitempty"`
	Status         string       `json:"status"`
	SpacesExported int          `json:"spaces_exported"`
	PagesExported  int          `json:"pages_exported"`
	Errors         []SpaceError `json:"errors,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Duration       float64      `json:"duration_seconds"`
}

// IndexResult summarizes one index build.
type IndexResult struct {
	Status           string    `json:"status"`
	DocumentsIndexed int       `json:"documents_indexed"`
	ChunksCreated    int       `json:"chunks_created"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Duration         float64   `json:"duration_seconds"`
}

// RetrievedDocument is one search hit returned to the caller.
type RetrievedDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryResult is the transient value object returned by a query. Failures
// are reported in-band via Status; queries never panic past this boundary.
type QueryResult struct {
	TenantID  string              `json:"tenant_id"`
	Question  string              `json:"question"`
	Documents []RetrievedDocument `json:"documents,omitempty"`
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
}

// State is the mutable per-tenant runtime record. It is mutated only through
// the store's read-modify-write helpers and persisted after every mutation.
type State struct {
	TenantID   string        `json:"tenant_id"`
	Readiness  Readiness     `json:"readiness"`
	LastExport *ExportResult `json:"last_export,omitempty"`
	LastIndex  *IndexResult  `json:"last_index,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewState returns the zero-value state for a freshly onboarded tenant.
func NewState(tenantID string) *State {
	return &State{
		TenantID:  tenantID,
		Readiness: ReadinessNeverBuilt,
	}
}

// Queryable reports whether the tenant may serve queries: readiness must be
// ready and a last-index record must exist.
func (s *State) Queryable() bool {
	return s.Readiness == ReadinessReady && s.LastIndex != nil
}
