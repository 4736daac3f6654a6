package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/confrag/confrag/internal/config"
	"github.com/confrag/confrag/internal/export"
	"github.com/confrag/confrag/internal/index"
	"github.com/confrag/confrag/internal/retrieval"
	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/watcher"
	"github.com/confrag/confrag/pkg/version"
)

// Server wires the lifecycle operations into MCP tools. One server instance
// serves every tenant; isolation lives in the tenant store underneath.
type Server struct {
	store        *tenant.Store
	orchestrator *export.Orchestrator
	builder      *index.Builder
	retrieval    *retrieval.Service
	stateWatcher *watcher.StateWatcher
	cfg          *config.Config
	mcp          *mcp.Server
	logger       *slog.Logger
}

// NewServer assembles the full service: tenant store, export orchestrator,
// index builder, retrieval service, and the MCP tool surface.
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}

	store := tenant.NewStore(cfg.DataDir, slog.Default())

	svc, err := retrieval.NewService(store, cfg)
	if err != nil {
		return nil, fmt.Errorf("create retrieval service: %w", err)
	}

	s := &Server{
		store:        store,
		orchestrator: export.NewOrchestrator(store, export.NewConfluenceExporter()),
		builder:      index.NewBuilder(store, cfg, svc),
		retrieval:    svc,
		cfg:          cfg,
		logger:       slog.Default().With(slog.String("component", "mcp")),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "confrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// RetrieveInput is the schema for the retrieve_knowledge tool.
type RetrieveInput struct {
	Query    string `json:"query" jsonschema:"the question to answer from the tenant's knowledge base"`
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of documents to return (default 3, max 20)"`
}

// DocumentOutput is one retrieved document in a tool response.
type DocumentOutput struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetrieveOutput is the structured result of retrieve_knowledge.
type RetrieveOutput struct {
	TenantID  string           `json:"tenant_id"`
	Status    string           `json:"status"`
	Documents []DocumentOutput `json:"documents,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ExportInput is the schema for the export_spaces tool.
type ExportInput struct {
	TenantID  string   `json:"tenant_id" jsonschema:"tenant identifier"`
	SpaceKeys []string `json:"space_keys,omitempty" jsonschema:"space keys to export; all enabled spaces when omitted"`
}

// ExportOutput is the structured result of export_spaces.
type ExportOutput struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	SpacesExported int    `json:"spaces_exported"`
	PagesExported  int    `json:"pages_exported"`
	ErrorCount     int    `json:"error_count"`
}

// BuildIndexInput is the schema for the build_index tool.
type BuildIndexInput struct {
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
}

// BuildIndexOutput is the structured result of build_index.
type BuildIndexOutput struct {
	Status           string `json:"status"`
	DocumentsIndexed int    `json:"documents_indexed"`
	ChunksCreated    int    `json:"chunks_created"`
	Error            string `json:"error,omitempty"`
}

// StatusInput is the schema for the tenant_status tool.
type StatusInput struct {
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
}

// StatusOutput is the structured result of tenant_status.
type StatusOutput struct {
	TenantID      string `json:"tenant_id"`
	Readiness     string `json:"readiness"`
	Queryable     bool   `json:"queryable"`
	LastExport    string `json:"last_export,omitempty"`
	LastIndex     string `json:"last_index,omitempty"`
	QueriesServed int64  `json:"queries_served"`
}

// ListInput is the schema for the list_tenants tool (no parameters).
type ListInput struct{}

// TenantSummary is one tenant in a list_tenants response.
type TenantSummary struct {
	ID        string `json:"id"`
	Readiness string `json:"readiness"`
	Queryable bool   `json:"queryable"`
}

// ListOutput is the structured result of list_tenants.
type ListOutput struct {
	Tenants []TenantSummary `json:"tenants"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve_knowledge",
		Description: "Search a tenant's indexed knowledge base and return the most relevant documents. The tenant must have a built index; use tenant_status to check.",
	}, s.handleRetrieve)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "export_spaces",
		Description: "Export a tenant's wiki spaces to markdown. Runs against the tenant's configured upstream; pass space_keys to restrict the batch, otherwise all enabled spaces are exported.",
	}, s.handleExport)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "build_index",
		Description: "Rebuild a tenant's search index from its exported documents. Run export_spaces first; queries are answered from the last successful build.",
	}, s.handleBuildIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tenant_status",
		Description: "Report a tenant's lifecycle state: readiness, last export, last index build, and whether it can be queried.",
	}, s.handleStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_tenants",
		Description: "List all onboarded tenants with their readiness.",
	}, s.handleList)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 5))
}

func (s *Server) handleRetrieve(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (*mcp.CallToolResult, RetrieveOutput, error) {
	if input.Query == "" {
		return nil, RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if input.TenantID == "" {
		return nil, RetrieveOutput{}, NewInvalidParamsError("tenant_id parameter is required")
	}

	result := s.retrieval.Query(ctx, input.TenantID, input.Query, input.TopK)

	output := RetrieveOutput{
		TenantID: result.TenantID,
		Status:   result.Status,
		Error:    result.Error,
	}
	for _, d := range result.Documents {
		output.Documents = append(output.Documents, DocumentOutput{
			ID:       d.ID,
			Content:  d.Content,
			Score:    d.Score,
			Metadata: d.Metadata,
		})
	}

	return textResult(FormatQueryResult(result)), output, nil
}

func (s *Server) handleExport(ctx context.Context, _ *mcp.CallToolRequest, input ExportInput) (*mcp.CallToolResult, ExportOutput, error) {
	if input.TenantID == "" {
		return nil, ExportOutput{}, NewInvalidParamsError("tenant_id parameter is required")
	}

	result, err := s.orchestrator.ExportSpaces(ctx, input.TenantID, input.SpaceKeys)
	if err != nil {
		return nil, ExportOutput{}, MapError(err)
	}

	output := ExportOutput{
		SessionID:      result.SessionID,
		Status:         result.Status,
		SpacesExported: result.SpacesExported,
		PagesExported:  result.PagesExported,
		ErrorCount:     len(result.Errors),
	}
	return textResult(FormatExportResult(input.TenantID, result)), output, nil
}

func (s *Server) handleBuildIndex(ctx context.Context, _ *mcp.CallToolRequest, input BuildIndexInput) (*mcp.CallToolResult, BuildIndexOutput, error) {
	if input.TenantID == "" {
		return nil, BuildIndexOutput{}, NewInvalidParamsError("tenant_id parameter is required")
	}

	result, err := s.builder.Build(ctx, input.TenantID)
	if err != nil {
		return nil, BuildIndexOutput{}, MapError(err)
	}

	output := BuildIndexOutput{
		Status:           result.Status,
		DocumentsIndexed: result.DocumentsIndexed,
		ChunksCreated:    result.ChunksCreated,
		Error:            result.Error,
	}
	return textResult(FormatIndexResult(input.TenantID, result)), output, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	if input.TenantID == "" {
		return nil, StatusOutput{}, NewInvalidParamsError("tenant_id parameter is required")
	}
	if !s.store.Exists(input.TenantID) {
		return nil, StatusOutput{}, &MCPError{
			Code:    ErrCodeTenantNotFound,
			Message: fmt.Sprintf("tenant %q not found", input.TenantID),
		}
	}

	state, err := s.store.GetState(input.TenantID)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}

	snap := s.retrieval.Metrics().Snapshot(input.TenantID)
	output := StatusOutput{
		TenantID:      input.TenantID,
		Readiness:     string(state.Readiness),
		Queryable:     state.Queryable(),
		QueriesServed: snap.TotalQueries,
	}
	if state.LastExport != nil {
		output.LastExport = state.LastExport.Status
	}
	if state.LastIndex != nil {
		output.LastIndex = state.LastIndex.Status
	}

	text := FormatStatus(state)
	if snap.TotalQueries > 0 {
		text += fmt.Sprintf("- Queries served: %d (%.0f%% empty)\n",
			snap.TotalQueries, snap.ZeroResultPercentage())
	}
	return textResult(text), output, nil
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, ListOutput, error) {
	ids, err := s.store.List()
	if err != nil {
		return nil, ListOutput{}, MapError(err)
	}

	output := ListOutput{Tenants: make([]TenantSummary, 0, len(ids))}
	for _, id := range ids {
		summary := TenantSummary{ID: id}
		if state, err := s.store.GetState(id); err == nil {
			summary.Readiness = string(state.Readiness)
			summary.Queryable = state.Queryable()
		}
		output.Tenants = append(output.Tenants, summary)
	}
	return textResult(FormatTenantList(output.Tenants)), output, nil
}

func textResult(markdown string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: markdown}},
	}
}

// Serve runs the MCP server over stdio until ctx is canceled. It also starts
// the tenant state watcher so index rebuilds from other processes invalidate
// cached search handles.
func (s *Server) Serve(ctx context.Context) error {
	sw, err := watcher.NewStateWatcher(s.store.TenantsDir(), s.retrieval, 0)
	if err != nil {
		s.logger.Warn("state_watcher_unavailable", slog.String("error", err.Error()))
	} else if err := sw.Start(ctx); err != nil {
		s.logger.Warn("state_watcher_start_failed", slog.String("error", err.Error()))
	} else {
		s.stateWatcher = sw
	}

	s.logger.Info("mcp_server_starting",
		slog.String("transport", s.cfg.Server.Transport),
		slog.String("version", version.Version))

	err = s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// Store returns the underlying tenant store, used by the CLI commands that
// share a server assembly.
func (s *Server) Store() *tenant.Store { return s.store }

// Orchestrator returns the export orchestrator.
func (s *Server) Orchestrator() *export.Orchestrator { return s.orchestrator }

// Builder returns the index builder.
func (s *Server) Builder() *index.Builder { return s.builder }

// Retrieval returns the retrieval service.
func (s *Server) Retrieval() *retrieval.Service { return s.retrieval }

// Close releases cached handles and stops the state watcher.
func (s *Server) Close() {
	if s.stateWatcher != nil {
		_ = s.stateWatcher.Stop()
	}
	s.retrieval.Close()
}
