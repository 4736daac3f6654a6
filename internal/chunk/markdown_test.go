package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPage(content string) *Page {
	return &Page{
		Path:     "PROD/getting-started.md",
		SpaceKey: "PROD",
		Title:    "Getting Started",
		Content:  []byte(content),
	}
}

func TestChunkEmptyPage(t *testing.T) {
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage("   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkByHeaders(t *testing.T) {
	content := `# Getting Started

Welcome to the product.

## Installation

Run the installer and follow the prompts.

## Configuration

Edit the config file.
`
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Getting Started", chunks[0].Metadata["section_title"])
	assert.Equal(t, "Getting Started > Installation", chunks[1].Metadata["header_path"])
	assert.Equal(t, "2", chunks[1].Metadata["header_level"])
	assert.Contains(t, chunks[2].Content, "Edit the config file.")

	for _, ch := range chunks {
		assert.Equal(t, "PROD", ch.SpaceKey)
		assert.Equal(t, "PROD/getting-started.md", ch.PagePath)
		assert.NotEmpty(t, ch.ID)
	}
}

func TestChunkSkipsHeaderOnlySections(t *testing.T) {
	content := `# Title

## Empty Section

## Real Section

Actual content here.
`
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real Section", chunks[0].Metadata["section_title"])
}

func TestChunkSkipsFrontmatter(t *testing.T) {
	content := `---
space: PROD
page_id: 12345
---
# Title

Body text.
`
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Content, "page_id")
	assert.Contains(t, chunks[0].Content, "Body text.")
}

func TestChunkHeaderlessPage(t *testing.T) {
	content := "Just a plain paragraph.\n\nAnd another one.\n"
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Metadata["header_path"])
	assert.Contains(t, chunks[0].Content, "plain paragraph")
}

func TestChunkSplitsLargeSections(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Big Section\n\n")
	for i := 0; i < 40; i++ {
		sb.WriteString(strings.Repeat("lorem ipsum dolor sit amet ", 10))
		sb.WriteString("\n\n")
	}

	c := NewMarkdownChunker(128)
	chunks, err := c.Chunk(context.Background(), testPage(sb.String()))
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	// Continuation chunks carry the section breadcrumb.
	assert.Contains(t, chunks[1].Content, "<!-- Section: Big Section -->")
}

func TestChunkKeepsCodeBlocksIntact(t *testing.T) {
	content := "# Setup\n\nBefore.\n\n```bash\nexport FOO=1\n\nexport BAR=2\n```\n\nAfter.\n"
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	// The blank line inside the fence must not split the block.
	assert.Contains(t, chunks[0].Content, "export FOO=1")
	assert.Contains(t, chunks[0].Content, "export BAR=2")
}

func TestChunkIgnoresHeadersInsideFences(t *testing.T) {
	content := "# Real\n\nText.\n\n```markdown\n# Not A Header\n```\n\nMore text.\n"
	c := NewMarkdownChunker(0)
	chunks, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].Metadata["section_title"])
}

func TestChunkIDsAreStable(t *testing.T) {
	content := "# A\n\nStable content.\n"
	c := NewMarkdownChunker(0)

	first, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), testPage(content))
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}
