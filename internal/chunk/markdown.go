package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunker implements header-based markdown chunking. Pages are cut
// at headers; oversized sections are further split at paragraph boundaries
// without ever splitting inside a fenced code block or table.
type MarkdownChunker struct {
	maxTokens int
}

var (
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Matches frontmatter emitted by the exporter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker creates a chunker with the given size limit in
// estimated tokens. Zero or negative means DefaultMaxChunkTokens.
func NewMarkdownChunker(maxTokens int) *MarkdownChunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}
	return &MarkdownChunker{maxTokens: maxTokens}
}

// Chunk splits a page into semantic chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, page *Page) ([]*Chunk, error) {
	content := string(page.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	now := time.Now()
	remaining := content

	// Exporter frontmatter carries page metadata, not prose; skip it but
	// keep line numbers honest.
	baseLine := 1
	if m := frontmatterPattern.FindString(remaining); m != "" {
		baseLine += strings.Count(m, "\n")
		remaining = remaining[len(m):]
	}

	var chunks []*Chunk
	sections := parseSections(remaining)
	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(page, sec, baseLine, now)...)
	}
	return chunks, nil
}

// section is one header-delimited stretch of a page.
type section struct {
	level     int
	title     string
	path      string // "H1 > H2 > H3" breadcrumb
	content   string
	startLine int // 0-indexed within the scanned content
}

// parseSections cuts markdown into header-delimited sections, tracking the
// header hierarchy so each section knows its breadcrumb path. Headers inside
// fenced code blocks are not section boundaries.
func parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	stack := make([]string, 6)

	var current *section
	var body strings.Builder
	inFence := false

	flush := func() {
		if current != nil {
			current.content = body.String()
			sections = append(sections, current)
			body.Reset()
		}
	}

	for lineNum, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		match := headerPattern.FindStringSubmatch(line)
		switch {
		case match != nil && !inFence:
			flush()

			level := len(match[1])
			title := strings.TrimSpace(match[2])
			stack[level-1] = title
			for i := level; i < 6; i++ {
				stack[i] = ""
			}

			var parts []string
			for i := 0; i < level; i++ {
				if stack[i] != "" {
					parts = append(parts, stack[i])
				}
			}

			current = &section{
				level:     level,
				title:     title,
				path:      strings.Join(parts, " > "),
				startLine: lineNum,
			}
		case current == nil:
			// Preamble before the first header becomes its own headerless
			// section.
			current = &section{startLine: lineNum}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

// sectionChunks produces one or more chunks for a section.
func (c *MarkdownChunker) sectionChunks(page *Page, sec *section, baseLine int, now time.Time) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")
	trimmed := strings.TrimSpace(content)

	// Header-only sections have nothing to retrieve.
	lines := strings.Split(trimmed, "\n")
	if trimmed == "" || (len(lines) <= 1 && headerPattern.MatchString(trimmed)) {
		return nil
	}

	startLine := baseLine + sec.startLine
	if estimateTokens(content) <= c.maxTokens {
		return []*Chunk{c.newChunk(page, sec, content, startLine, strings.Count(content, "\n"), now)}
	}

	return c.splitSection(page, sec, content, startLine, now)
}

// splitSection breaks an oversized section at paragraph boundaries, keeping
// fenced code blocks and tables intact.
func (c *MarkdownChunker) splitSection(page *Page, sec *section, content string, startLine int, now time.Time) []*Chunk {
	paragraphs := splitParagraphs(content)

	var chunks []*Chunk
	var buf strings.Builder
	chunkStart := startLine
	lineCount := 0

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1

		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.maxTokens {
			chunks = append(chunks, c.newChunk(page, sec, buf.String(), chunkStart, lineCount, now))
			buf.Reset()
			chunkStart = startLine + lineCount

			// Continuation chunks repeat the breadcrumb so they stay
			// meaningful as standalone retrieval units.
			if i > 0 && sec.path != "" {
				buf.WriteString("<!-- Section: ")
				buf.WriteString(sec.path)
				buf.WriteString(" -->\n\n")
			}
		}

		buf.WriteString(para)
		buf.WriteString("\n\n")
		lineCount += paraLines + 1
	}

	if buf.Len() > 0 {
		chunks = append(chunks, c.newChunk(page, sec, buf.String(), chunkStart, lineCount, now))
	}
	return chunks
}

// splitParagraphs splits on blank lines, then re-merges parts that fell
// inside an unclosed fenced code block.
func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")

	var paragraphs []string
	var fenceBuf strings.Builder
	inFence := false

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" && !inFence {
			continue
		}

		if inFence {
			fenceBuf.WriteString("\n\n")
			fenceBuf.WriteString(trimmed)
			if strings.Count(trimmed, "```")%2 == 1 {
				paragraphs = append(paragraphs, fenceBuf.String())
				fenceBuf.Reset()
				inFence = false
			}
			continue
		}

		if strings.Count(trimmed, "```")%2 == 1 {
			inFence = true
			fenceBuf.WriteString(trimmed)
			continue
		}

		paragraphs = append(paragraphs, trimmed)
	}

	if inFence {
		paragraphs = append(paragraphs, fenceBuf.String())
	}
	return paragraphs
}

func (c *MarkdownChunker) newChunk(page *Page, sec *section, content string, startLine, lineSpan int, now time.Time) *Chunk {
	content = strings.TrimRight(content, "\n ")
	return &Chunk{
		ID:        chunkID(page.Path, content),
		PagePath:  page.Path,
		SpaceKey:  page.SpaceKey,
		PageTitle: page.Title,
		Content:   content,
		StartLine: startLine,
		EndLine:   startLine + lineSpan,
		Metadata: map[string]string{
			"header_path":   sec.path,
			"header_level":  strconv.Itoa(sec.level),
			"section_title": sec.title,
		},
		CreatedAt: now,
	}
}
