package apptype

// ProjectArgs provides a standard way to pass project context to tools.
type ProjectArgs struct {
	ProjectName string `json:"projectName,omitempty" jsonschema:"The name of the project to operate on. If not provided, the default project is used."`
}

// UpsertIssueArgs represents the arguments for the upsert_issue tool.
type UpsertIssueArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Issue       Issue       `json:"issue" jsonschema:"The issue to create or update."`
	AutoEmbed   bool        `json:"autoEmbed,omitempty" jsonschema:"Compute an embedding from title, description and symptoms when none is supplied."`
}

// UpsertCauseArgs represents the arguments for the upsert_cause tool.
type UpsertCauseArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Cause       Cause       `json:"cause" jsonschema:"The root cause to create or update. Must reference its owning issue."`
}

// UpsertSolutionArgs represents the arguments for the upsert_solution tool.
type UpsertSolutionArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Solution    Solution    `json:"solution" jsonschema:"The solution to create or update."`
	AutoEmbed   bool        `json:"autoEmbed,omitempty" jsonschema:"Compute an embedding from title and description when none is supplied."`
}

// UpsertResult carries the id of a stored node.
type UpsertResult struct {
	ID string `json:"id"`
}

// LinkNodesArgs represents the arguments for the link_nodes tool.
type LinkNodesArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Edges       []Edge      `json:"edges" jsonschema:"Typed, weighted edges to create between existing nodes."`
}

// SearchIssuesArgs represents the arguments for the search_issues tool.
type SearchIssuesArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Query       string      `json:"query,omitempty" jsonschema:"Text query. Embedded via the configured provider unless an embedding is given."`
	Embedding   []float32   `json:"embedding,omitempty" jsonschema:"Optional query embedding, used directly when provided."`
	K           int         `json:"k,omitempty" jsonschema:"Number of results to return (default 5)."`
	IssueType   string      `json:"issueType,omitempty" jsonschema:"Optional issue type filter."`
	Severity    string      `json:"severity,omitempty" jsonschema:"Optional severity filter."`
}

// SearchIssuesResult is the structured result of search_issues.
type SearchIssuesResult struct {
	Issues   []ScoredNode `json:"issues"`
	Degraded bool         `json:"degraded"`
}

// TraverseArgs represents the arguments for the traverse tool.
type TraverseArgs struct {
	ProjectArgs   ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	StartID       string      `json:"startId" jsonschema:"Node id to explore outward from."`
	MaxDepth      int         `json:"maxDepth,omitempty" jsonschema:"Maximum hop depth (default 3)."`
	AllowedTypes  []string    `json:"allowedTypes,omitempty" jsonschema:"Edge types to follow; all diagnostic types when empty."`
	MinConfidence float64     `json:"minConfidence,omitempty" jsonschema:"Prune branches whose running confidence falls below this value."`
}

// TraverseToolResult is the structured result of traverse.
type TraverseToolResult struct {
	Paths   []DiagnosticPath `json:"paths"`
	Partial bool             `json:"partial"`
}

// DiagnoseArgs represents the arguments for the diagnose tool.
type DiagnoseArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Query       string      `json:"query" jsonschema:"Free-text symptom description. Multiple symptoms may be separated by commas."`
	Context     Context     `json:"context,omitempty" jsonschema:"Situational signals: affected systems, business criticality, prior outcomes, session id."`
}

// GetNodeArgs represents the arguments for the get_node tool.
type GetNodeArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	ID          string      `json:"id" jsonschema:"The node id to fetch."`
}

// StartSessionArgs represents the arguments for the start_session tool.
type StartSessionArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
}

// StartSessionResult carries the new session id.
type StartSessionResult struct {
	SessionID string `json:"sessionId"`
}

// CloseSessionArgs represents the arguments for the close_session tool.
type CloseSessionArgs struct {
	ProjectArgs ProjectArgs    `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	SessionID   string         `json:"sessionId" jsonschema:"The session to close. Closed sessions are terminal."`
	Outcome     SessionOutcome `json:"outcome" jsonschema:"How the session ended; feeds occurrence and success-rate metrics."`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuildDate     string `json:"buildDate"`
	MultiProject  bool   `json:"multiProject"`
	EmbeddingDims int    `json:"embeddingDims"`
	Provider      string `json:"provider,omitempty"`
}
