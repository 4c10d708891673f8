package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/buildinfo"
	"github.com/opentriage/diagraph-go/internal/database"
	"github.com/opentriage/diagraph-go/internal/embeddings"
	"github.com/opentriage/diagraph-go/internal/metrics"
	"github.com/opentriage/diagraph-go/internal/troubleshoot"
)

const serverName = "diagraph"

// MCPServer exposes the diagnostic engine over the MCP protocol.
type MCPServer struct {
	server *mcp.Server
	engine *troubleshoot.Engine
	cache  *embeddings.Cache
}

// NewMCPServer creates a new MCP server over the given engine.
func NewMCPServer(engine *troubleshoot.Engine, cache *embeddings.Cache) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server: server,
		engine: engine,
		cache:  cache,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	mcpServer.setupToolHandlers()
	return mcpServer
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	upsertIssueInputSchema, err := jsonschema.For[apptype.UpsertIssueArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertIssueArgs: %v", err))
	}
	upsertIssueOutputSchema, err := jsonschema.For[apptype.UpsertResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertResult (issue): %v", err))
	}
	upsertCauseInputSchema, err := jsonschema.For[apptype.UpsertCauseArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertCauseArgs: %v", err))
	}
	upsertCauseOutputSchema, err := jsonschema.For[apptype.UpsertResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertResult (cause): %v", err))
	}
	upsertSolutionInputSchema, err := jsonschema.For[apptype.UpsertSolutionArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertSolutionArgs: %v", err))
	}
	upsertSolutionOutputSchema, err := jsonschema.For[apptype.UpsertResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertResult (solution): %v", err))
	}
	linkNodesInputSchema, err := jsonschema.For[apptype.LinkNodesArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for LinkNodesArgs: %v", err))
	}
	searchIssuesInputSchema, err := jsonschema.For[apptype.SearchIssuesArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SearchIssuesArgs: %v", err))
	}
	searchIssuesOutputSchema, err := jsonschema.For[apptype.SearchIssuesResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SearchIssuesResult: %v", err))
	}
	traverseInputSchema, err := jsonschema.For[apptype.TraverseArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for TraverseArgs: %v", err))
	}
	traverseOutputSchema, err := jsonschema.For[apptype.TraverseToolResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for TraverseToolResult: %v", err))
	}
	diagnoseInputSchema, err := jsonschema.For[apptype.DiagnoseArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for DiagnoseArgs: %v", err))
	}
	diagnoseOutputSchema, err := jsonschema.For[apptype.DiagnosisResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for DiagnosisResult: %v", err))
	}
	getNodeInputSchema, err := jsonschema.For[apptype.GetNodeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GetNodeArgs: %v", err))
	}
	getNodeOutputSchema, err := jsonschema.For[apptype.Node]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for Node: %v", err))
	}
	startSessionInputSchema, err := jsonschema.For[apptype.StartSessionArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for StartSessionArgs: %v", err))
	}
	startSessionOutputSchema, err := jsonschema.For[apptype.StartSessionResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for StartSessionResult: %v", err))
	}
	closeSessionInputSchema, err := jsonschema.For[apptype.CloseSessionArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for CloseSessionArgs: %v", err))
	}
	healthInputSchema, err := jsonschema.For[apptype.HealthArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthArgs: %v", err))
	}
	healthOutputSchema, err := jsonschema.For[apptype.HealthResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthResult: %v", err))
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "upsert_issue",
		Title:        "Upsert Issue",
		Description:  "Create or update a known issue with symptoms and optional embedding.",
		InputSchema:  upsertIssueInputSchema,
		OutputSchema: upsertIssueOutputSchema,
	}, s.handleUpsertIssue)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "upsert_cause",
		Title:        "Upsert Cause",
		Description:  "Create or update a root cause linked to an issue.",
		InputSchema:  upsertCauseInputSchema,
		OutputSchema: upsertCauseOutputSchema,
	}, s.handleUpsertCause)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "upsert_solution",
		Title:        "Upsert Solution",
		Description:  "Create or update a remediation with steps, risk and success metrics.",
		InputSchema:  upsertSolutionInputSchema,
		OutputSchema: upsertSolutionOutputSchema,
	}, s.handleUpsertSolution)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "link_nodes",
		Title:       "Link Nodes",
		Description: "Create typed, weighted edges between existing nodes.",
		InputSchema: linkNodesInputSchema,
	}, s.handleLinkNodes)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "search_issues",
		Title:        "Search Issues",
		Description:  "Find issues by vector similarity, falling back to keyword matching.",
		InputSchema:  searchIssuesInputSchema,
		OutputSchema: searchIssuesOutputSchema,
	}, s.handleSearchIssues)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "traverse",
		Title:        "Traverse Graph",
		Description:  "Explore diagnostic paths outward from a node along typed edges.",
		InputSchema:  traverseInputSchema,
		OutputSchema: traverseOutputSchema,
	}, s.handleTraverse)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "diagnose",
		Title:        "Diagnose",
		Description:  "Run the full diagnostic pipeline for a symptom description.",
		InputSchema:  diagnoseInputSchema,
		OutputSchema: diagnoseOutputSchema,
	}, s.handleDiagnose)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_node",
		Title:        "Get Node",
		Description:  "Fetch a single issue, cause or solution by id.",
		InputSchema:  getNodeInputSchema,
		OutputSchema: getNodeOutputSchema,
	}, s.handleGetNode)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "start_session",
		Title:        "Start Session",
		Description:  "Open a troubleshooting session that accumulates diagnoses.",
		InputSchema:  startSessionInputSchema,
		OutputSchema: startSessionOutputSchema,
	}, s.handleStartSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "close_session",
		Title:       "Close Session",
		Description: "Close a session with its outcome and feed metrics back into the graph.",
		InputSchema: closeSessionInputSchema,
	}, s.handleCloseSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  healthInputSchema,
		OutputSchema: healthOutputSchema,
	}, s.handleHealth)
}

func (s *MCPServer) getProjectName(providedName string) string {
	if providedName != "" {
		return providedName
	}
	return database.DefaultProject
}

// embedText computes an embedding for the given text, returning nil (not an
// error) when the provider is unavailable so writes can proceed without one.
func (s *MCPServer) embedText(ctx context.Context, text string) ([]float32, error) {
	emb, err := s.cache.Embed(ctx, text)
	if err != nil {
		if apptype.IsEmbeddingUnavailable(err) {
			log.Printf("Warning: embedding unavailable, storing without vector: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return emb, nil
}

// handleUpsertIssue handles the upsert_issue tool call
func (s *MCPServer) handleUpsertIssue(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertIssueArgs],
) (*mcp.CallToolResultFor[apptype.UpsertResult], error) {
	done := metrics.TimeTool("upsert_issue")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	issue := params.Arguments.Issue

	if len(issue.Embedding) == 0 && params.Arguments.AutoEmbed {
		text := strings.Join(append([]string{issue.Title, issue.Description}, issue.Symptoms...), " ")
		emb, err := s.embedText(ctx, text)
		if err != nil {
			return nil, err
		}
		issue.Embedding = emb
	}

	id, err := s.engine.Store().UpsertNode(ctx, projectName, apptype.Node{Kind: apptype.KindIssue, Issue: &issue})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert issue: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.UpsertResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Stored issue %s in project %s", id, projectName)}},
		StructuredContent: apptype.UpsertResult{ID: id},
	}, nil
}

// handleUpsertCause handles the upsert_cause tool call
func (s *MCPServer) handleUpsertCause(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertCauseArgs],
) (*mcp.CallToolResultFor[apptype.UpsertResult], error) {
	done := metrics.TimeTool("upsert_cause")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	cause := params.Arguments.Cause

	id, err := s.engine.Store().UpsertNode(ctx, projectName, apptype.Node{Kind: apptype.KindCause, Cause: &cause})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cause: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.UpsertResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Stored cause %s in project %s", id, projectName)}},
		StructuredContent: apptype.UpsertResult{ID: id},
	}, nil
}

// handleUpsertSolution handles the upsert_solution tool call
func (s *MCPServer) handleUpsertSolution(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertSolutionArgs],
) (*mcp.CallToolResultFor[apptype.UpsertResult], error) {
	done := metrics.TimeTool("upsert_solution")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	solution := params.Arguments.Solution

	if len(solution.Embedding) == 0 && params.Arguments.AutoEmbed {
		emb, err := s.embedText(ctx, solution.Title+" "+solution.Description)
		if err != nil {
			return nil, err
		}
		solution.Embedding = emb
	}

	id, err := s.engine.Store().UpsertNode(ctx, projectName, apptype.Node{Kind: apptype.KindSolution, Solution: &solution})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert solution: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.UpsertResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Stored solution %s in project %s", id, projectName)}},
		StructuredContent: apptype.UpsertResult{ID: id},
	}, nil
}

// handleLinkNodes handles the link_nodes tool call
func (s *MCPServer) handleLinkNodes(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.LinkNodesArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("link_nodes")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	edges := params.Arguments.Edges

	for _, edge := range edges {
		if err := s.engine.Store().AddEdge(ctx, projectName, edge); err != nil {
			return nil, fmt.Errorf("failed to create edge %s -> %s (%s): %w", edge.Source, edge.Target, edge.Type, err)
		}
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Created %d edges in project %s", len(edges), projectName)}},
	}, nil
}

// handleSearchIssues handles the search_issues tool call
func (s *MCPServer) handleSearchIssues(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SearchIssuesArgs],
) (*mcp.CallToolResultFor[apptype.SearchIssuesResult], error) {
	done := metrics.TimeTool("search_issues")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	k := params.Arguments.K
	if k <= 0 {
		k = 5
	}
	filters := apptype.SearchFilters{
		IssueType: apptype.IssueType(params.Arguments.IssueType),
		Severity:  apptype.Severity(params.Arguments.Severity),
	}

	embedding := params.Arguments.Embedding
	degraded := false
	if len(embedding) == 0 {
		emb, err := s.cache.Embed(ctx, params.Arguments.Query)
		switch {
		case err == nil:
			embedding = emb
		case apptype.IsEmbeddingUnavailable(err):
			degraded = true
		default:
			return nil, err
		}
	}

	var scored []apptype.ScoredNode
	if !degraded {
		var err error
		scored, err = s.engine.Store().VectorSearch(ctx, projectName, apptype.KindIssue, embedding, k, filters)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
	} else {
		nodes, err := s.engine.Store().KeywordSearch(ctx, projectName, apptype.KindIssue, params.Arguments.Query, k)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		for _, n := range nodes {
			scored = append(scored, apptype.ScoredNode{Node: n})
		}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.SearchIssuesResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d issues", len(scored))}},
		StructuredContent: apptype.SearchIssuesResult{Issues: scored, Degraded: degraded},
	}, nil
}

// handleTraverse handles the traverse tool call
func (s *MCPServer) handleTraverse(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TraverseArgs],
) (*mcp.CallToolResultFor[apptype.TraverseToolResult], error) {
	done := metrics.TimeTool("traverse")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	maxDepth := params.Arguments.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	allowed := troubleshoot.DefaultTraverseTypes
	if len(params.Arguments.AllowedTypes) > 0 {
		allowed = make([]apptype.RelationType, len(params.Arguments.AllowedTypes))
		for i, t := range params.Arguments.AllowedTypes {
			allowed[i] = apptype.RelationType(strings.ToUpper(t))
		}
	}

	res, err := s.engine.Store().Traverse(ctx, projectName, params.Arguments.StartID, maxDepth, allowed, params.Arguments.MinConfidence)
	if err != nil {
		return nil, fmt.Errorf("traverse failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.TraverseToolResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d diagnostic paths", len(res.Paths))}},
		StructuredContent: apptype.TraverseToolResult{Paths: res.Paths, Partial: res.Partial},
	}, nil
}

// handleDiagnose handles the diagnose tool call
func (s *MCPServer) handleDiagnose(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.DiagnoseArgs],
) (*mcp.CallToolResultFor[apptype.DiagnosisResult], error) {
	done := metrics.TimeTool("diagnose")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)

	result, err := s.engine.Diagnose(ctx, projectName, params.Arguments.Query, params.Arguments.Context)
	if err != nil {
		return nil, fmt.Errorf("diagnose failed: %w", err)
	}
	success = true
	text := fmt.Sprintf("Diagnosis: %s issue, %s severity, %d paths, %d solutions",
		result.Classification.IssueType, result.Classification.Severity, len(result.Paths), len(result.Solutions))
	if result.Degraded {
		text += " (degraded: no embeddings)"
	}
	return &mcp.CallToolResultFor[apptype.DiagnosisResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: result,
	}, nil
}

// handleGetNode handles the get_node tool call
func (s *MCPServer) handleGetNode(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetNodeArgs],
) (*mcp.CallToolResultFor[apptype.Node], error) {
	done := metrics.TimeTool("get_node")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)

	node, err := s.engine.Store().GetNode(ctx, projectName, params.Arguments.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.Node]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %s", node.Kind, node.Title())}},
		StructuredContent: node,
	}, nil
}

// handleStartSession handles the start_session tool call
func (s *MCPServer) handleStartSession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.StartSessionArgs],
) (*mcp.CallToolResultFor[apptype.StartSessionResult], error) {
	done := metrics.TimeTool("start_session")
	defer func() { done(true) }()

	sess := s.engine.StartSession()
	return &mcp.CallToolResultFor[apptype.StartSessionResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Started session %s", sess.ID)}},
		StructuredContent: apptype.StartSessionResult{SessionID: sess.ID},
	}, nil
}

// handleCloseSession handles the close_session tool call
func (s *MCPServer) handleCloseSession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.CloseSessionArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("close_session")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)

	if err := s.engine.CloseSession(ctx, projectName, params.Arguments.SessionID, params.Arguments.Outcome); err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Closed session %s", params.Arguments.SessionID)}},
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()
	cfg := s.engine.Store().Config()
	inUse, idle := s.engine.Store().PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)

	provider := ""
	if p := s.cache.Provider(); p != nil {
		provider = p.Name()
	}
	res := &apptype.HealthResult{
		Name:          serverName,
		Version:       buildinfo.Version,
		Revision:      buildinfo.Revision,
		BuildDate:     buildinfo.BuildDate,
		MultiProject:  cfg.MultiProjectMode,
		EmbeddingDims: cfg.EmbeddingDims,
		Provider:      provider,
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: *res,
	}, nil
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	// periodic pool stats reporting
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.engine.Store().PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("SSE MCP server listening on %s%s", addr, endpoint)
	return srv.ListenAndServe()
}
