package chunk

import (
	"context"
)

// ParentDocumentChunker wraps the markdown chunker with parent/child
// grouping: each page also yields large parent chunks, and every child chunk
// carries the ID of the parent section it fell inside. At query time a child
// hit can be swapped for its parent to give the model full surrounding
// context.
type ParentDocumentChunker struct {
	child  *MarkdownChunker
	parent *MarkdownChunker
}

// NewParentDocumentChunker creates a parent/child chunker. childTokens sizes
// the embedded retrieval units, parentTokens the context windows returned to
// callers; zero picks the defaults.
func NewParentDocumentChunker(childTokens, parentTokens int) *ParentDocumentChunker {
	if parentTokens <= 0 {
		parentTokens = DefaultParentTokens
	}
	return &ParentDocumentChunker{
		child:  NewMarkdownChunker(childTokens),
		parent: NewMarkdownChunker(parentTokens),
	}
}

// Chunk returns parent chunks followed by child chunks. Parents are marked
// with metadata role=parent and are not meant to be embedded; children carry
// role=child and a ParentID.
func (c *ParentDocumentChunker) Chunk(ctx context.Context, page *Page) ([]*Chunk, error) {
	parents, err := c.parent.Chunk(ctx, page)
	if err != nil {
		return nil, err
	}
	children, err := c.child.Chunk(ctx, page)
	if err != nil {
		return nil, err
	}

	for _, p := range parents {
		p.Metadata["role"] = "parent"
	}
	for _, ch := range children {
		ch.Metadata["role"] = "child"
		if p := enclosingParent(parents, ch); p != nil {
			ch.ParentID = p.ID
		}
	}

	out := make([]*Chunk, 0, len(parents)+len(children))
	out = append(out, parents...)
	out = append(out, children...)
	return out, nil
}

// enclosingParent finds the parent chunk whose line range covers the child.
// Falls back to the largest overlap when the child straddles a boundary.
func enclosingParent(parents []*Chunk, child *Chunk) *Chunk {
	var best *Chunk
	bestOverlap := 0
	for _, p := range parents {
		lo := max(p.StartLine, child.StartLine)
		hi := min(p.EndLine, child.EndLine)
		if overlap := hi - lo + 1; overlap > bestOverlap {
			bestOverlap = overlap
			best = p
		}
	}
	return best
}

// Children filters a chunk list down to the units that should be embedded:
// everything for the simple strategy, role=child chunks for parent_document.
func Children(chunks []*Chunk) []*Chunk {
	out := make([]*Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Metadata["role"] == "parent" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Parents filters a chunk list down to role=parent chunks.
func Parents(chunks []*Chunk) []*Chunk {
	var out []*Chunk
	for _, c := range chunks {
		if c.Metadata["role"] == "parent" {
			out = append(out, c)
		}
	}
	return out
}
