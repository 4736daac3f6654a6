// Package chunk splits exported markdown pages into retrievable units.
//
// Two strategies exist: "simple" produces flat chunks sized for embedding;
// "parent_document" additionally groups child chunks under larger parent
// sections so query hits can be expanded to their surrounding context.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sizing defaults, in estimated tokens.
const (
	DefaultMaxChunkTokens = 512
	DefaultParentTokens   = 2048
	TokensPerChar         = 4 // rough approximation: 4 chars = 1 token
)

// Page is one exported markdown page handed to a chunker.
type Page struct {
	// Path is the page's location relative to the tenant's exports
	// directory, e.g. "PROD/getting-started.md".
	Path string

	// SpaceKey is the upstream space the page was exported from.
	SpaceKey string

	// Title is the page title, usually the first H1 or the file name.
	Title string

	Content []byte
}

// Chunk is a retrievable unit of page content.
type Chunk struct {
	// ID is sha256(path + content hash), truncated to 16 hex chars.
	ID string

	// ParentID links a child chunk to its parent section chunk. Empty for
	// the simple strategy and for parent chunks themselves.
	ParentID string

	PagePath  string
	SpaceKey  string
	PageTitle string

	Content   string
	StartLine int // 1-indexed
	EndLine   int // inclusive

	Metadata  map[string]string
	CreatedAt time.Time
}

// Chunker splits one page into chunks.
type Chunker interface {
	Chunk(ctx context.Context, page *Page) ([]*Chunk, error)
}

// chunkID derives a stable chunk identifier from the page path and content.
func chunkID(pagePath, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%s", pagePath, hex.EncodeToString(contentHash[:])[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// estimateTokens estimates the token count of content.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
