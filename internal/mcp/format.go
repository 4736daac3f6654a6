package mcp

import (
	"fmt"
	"strings"

	"github.com/confrag/confrag/internal/tenant"
)

// contentPreviewLimit truncates long chunks in markdown output; the full
// content is always present in the structured result.
const contentPreviewLimit = 1500

// FormatQueryResult renders a query result as markdown for tool output.
func FormatQueryResult(result *tenant.QueryResult) string {
	if result.Status == tenant.QueryStatusError {
		return fmt.Sprintf("Query failed for tenant `%s`: %s", result.TenantID, result.Error)
	}
	if len(result.Documents) == 0 {
		return fmt.Sprintf("No documents found for \"%s\"", result.Question)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", result.Question)
	fmt.Fprintf(&sb, "Found %d document", len(result.Documents))
	if len(result.Documents) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, doc := range result.Documents {
		title := doc.Metadata["title"]
		if title == "" {
			title = doc.ID
		}
		fmt.Fprintf(&sb, "### %d. %s (score: %.3f)\n\n", i+1, title, doc.Score)
		if path := doc.Metadata["page_path"]; path != "" {
			fmt.Fprintf(&sb, "Source: `%s`", path)
			if space := doc.Metadata["space_key"]; space != "" {
				fmt.Fprintf(&sb, " (space %s)", space)
			}
			sb.WriteString("\n\n")
		}
		sb.WriteString(truncate(doc.Content, contentPreviewLimit))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatExportResult renders an export batch summary as markdown.
func FormatExportResult(tenantID string, result *tenant.ExportResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Export for `%s`: %s\n\n", tenantID, result.Status)
	fmt.Fprintf(&sb, "- Spaces exported: %d\n", result.SpacesExported)
	fmt.Fprintf(&sb, "- Pages exported: %d\n", result.PagesExported)
	fmt.Fprintf(&sb, "- Duration: %.1fs\n", result.Duration)
	if len(result.Errors) > 0 {
		sb.WriteString("\n### Errors\n\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&sb, "- `%s`: %s\n", e.SpaceKey, e.Error)
		}
	}
	return sb.String()
}

// FormatIndexResult renders an index build summary as markdown.
func FormatIndexResult(tenantID string, result *tenant.IndexResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Index build for `%s`: %s\n\n", tenantID, result.Status)
	switch result.Status {
	case tenant.IndexStatusNoDocuments:
		sb.WriteString("No exported documents found; the previous index (if any) is untouched.\n")
	case tenant.IndexStatusFailed:
		fmt.Fprintf(&sb, "Error: %s\n", result.Error)
	default:
		fmt.Fprintf(&sb, "- Documents indexed: %d\n", result.DocumentsIndexed)
		fmt.Fprintf(&sb, "- Chunks created: %d\n", result.ChunksCreated)
		fmt.Fprintf(&sb, "- Duration: %.1fs\n", result.Duration)
	}
	return sb.String()
}

// FormatStatus renders a tenant's lifecycle state as markdown.
func FormatStatus(state *tenant.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Tenant `%s`\n\n", state.TenantID)
	fmt.Fprintf(&sb, "- Readiness: %s\n", state.Readiness)
	fmt.Fprintf(&sb, "- Queryable: %t\n", state.Queryable())

	if state.LastExport != nil {
		fmt.Fprintf(&sb, "- Last export: %s (%d pages, %s)\n",
			state.LastExport.Status,
			state.LastExport.PagesExported,
			state.LastExport.Timestamp.Format("2006-01-02 15:04:05 MST"))
	} else {
		sb.WriteString("- Last export: never\n")
	}

	if state.LastIndex != nil {
		fmt.Fprintf(&sb, "- Last index: %s (%d chunks, %s)\n",
			state.LastIndex.Status,
			state.LastIndex.ChunksCreated,
			state.LastIndex.Timestamp.Format("2006-01-02 15:04:05 MST"))
	} else {
		sb.WriteString("- Last index: never\n")
	}
	return sb.String()
}

// FormatTenantList renders the tenant roster as markdown.
func FormatTenantList(tenants []TenantSummary) string {
	if len(tenants) == 0 {
		return "No tenants onboarded."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Tenants (%d)\n\n", len(tenants))
	for _, t := range tenants {
		fmt.Fprintf(&sb, "- `%s`: %s, queryable: %t\n", t.ID, t.Readiness, t.Queryable)
	}
	return sb.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n\n*(truncated)*"
}
