// Package export orchestrates pulling a tenant's knowledge-base spaces from
// the upstream wiki into per-tenant markdown trees that indexing consumes.
package export

import "context"

// SpaceExport summarizes one exported space.
type SpaceExport struct {
	SpaceKey    string
	SpaceName   string
	Pages       int
	Attachments int

	// Files are the markdown paths written, relative to the output
	// directory.
	Files []string
}

// SpaceExporter exports a single space to the ambient output directory.
// Implementations read the bridge settings installed for the current export
// run.
type SpaceExporter interface {
	ExportSpace(ctx context.Context, key string) (*SpaceExport, error)
}
