package apptype

// NodeKind identifies the three node labels stored in the knowledge graph.
type NodeKind string

const (
	KindIssue    NodeKind = "issue"
	KindCause    NodeKind = "cause"
	KindSolution NodeKind = "solution"
)

// IssueType categorizes a known problem.
type IssueType string

const (
	IssueConnectivity  IssueType = "connectivity"
	IssuePerformance   IssueType = "performance"
	IssueSecurity      IssueType = "security"
	IssueConfiguration IssueType = "configuration"
	IssueDataIntegrity IssueType = "data-integrity"
	IssueAuth          IssueType = "authentication"
	IssueResourceLimit IssueType = "resource-limit"
	IssueDeployment    IssueType = "deployment"
	IssueIntegration   IssueType = "integration"
	IssueUnknown       IssueType = "unknown"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// RiskLevel classifies how dangerous a solution is to apply.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RelationType enumerates the typed edges of the diagnostic graph.
type RelationType string

const (
	RelCauses     RelationType = "CAUSES"
	RelCausedBy   RelationType = "CAUSED_BY"
	RelAffects    RelationType = "AFFECTS"
	RelAffectedBy RelationType = "AFFECTED_BY"
	RelResolves   RelationType = "RESOLVES"
	RelResolvedBy RelationType = "RESOLVED_BY"
	RelRequires   RelationType = "REQUIRES"
	RelRequiredBy RelationType = "REQUIRED_BY"
	RelSimilarTo  RelationType = "SIMILAR_TO"
	RelPartOf     RelationType = "PART_OF"
	RelHasPart    RelationType = "HAS_PART"
	RelPrecedes   RelationType = "PRECEDES"
	RelFollows    RelationType = "FOLLOWS"
	RelVerifies   RelationType = "VERIFIES"
	RelVerifiedBy RelationType = "VERIFIED_BY"
)

// DefaultEdgeWeight is used when an edge is created without an explicit weight.
const DefaultEdgeWeight = 0.8

// Issue is a known problem category. Issues are never hard-deleted; their
// occurrence metrics are updated by session feedback.
type Issue struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Symptoms             []string  `json:"symptoms"`
	IssueType            IssueType `json:"issue_type"`
	Severity             Severity  `json:"severity"`
	AffectedComponents   []string  `json:"affected_components,omitempty"`
	Embedding            []float32 `json:"embedding,omitempty"`
	OccurrenceCount      int       `json:"occurrence_count"`
	ResolutionRate       float64   `json:"resolution_rate"`
	AvgResolutionMinutes float64   `json:"avg_resolution_minutes"`
}

// Cause is a candidate root cause of exactly one Issue (linked via CAUSED_BY).
// Likelihood is the prior probability; Confidence is evidence-adjusted.
// Both are bounded to [0,1] independently.
type Cause struct {
	ID                   string            `json:"id"`
	IssueID              string            `json:"issue_id"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Likelihood           float64           `json:"likelihood"`
	DiagnosticSteps      []string          `json:"diagnostic_steps,omitempty"`
	VerificationCommands []string          `json:"verification_commands,omitempty"`
	ExpectedOutput       map[string]string `json:"expected_output,omitempty"`
	EvidencePatterns     []string          `json:"evidence_patterns,omitempty"`
	Confidence           float64           `json:"confidence"`
}

// Solution is a remediation applicable to issues and causes via RESOLVES edges.
type Solution struct {
	ID                       string            `json:"id"`
	Title                    string            `json:"title"`
	Description              string            `json:"description"`
	Steps                    []string          `json:"steps,omitempty"`
	Commands                 []string          `json:"commands,omitempty"`
	CodeSnippets             map[string]string `json:"code_snippets,omitempty"`
	Prerequisites            []string          `json:"prerequisites,omitempty"`
	SuccessRate              float64           `json:"success_rate"`
	AvgImplementationMinutes float64           `json:"avg_implementation_minutes"`
	RiskLevel                RiskLevel         `json:"risk_level"`
	VerificationSteps        []string          `json:"verification_steps,omitempty"`
	Rollback                 []string          `json:"rollback,omitempty"`
	RequiresRestart          bool              `json:"requires_restart"`
	RequiresDowntime         bool              `json:"requires_downtime"`
	AutomationAvailable      bool              `json:"automation_available"`
	Embedding                []float32         `json:"embedding,omitempty"`
}

// Node is a tagged union over the three node kinds. Exactly one of the typed
// pointers is set, matching Kind.
type Node struct {
	Kind     NodeKind  `json:"kind"`
	Issue    *Issue    `json:"issue,omitempty"`
	Cause    *Cause    `json:"cause,omitempty"`
	Solution *Solution `json:"solution,omitempty"`
}

// ID returns the id of whichever variant is populated.
func (n Node) ID() string {
	switch n.Kind {
	case KindIssue:
		if n.Issue != nil {
			return n.Issue.ID
		}
	case KindCause:
		if n.Cause != nil {
			return n.Cause.ID
		}
	case KindSolution:
		if n.Solution != nil {
			return n.Solution.ID
		}
	}
	return ""
}

// Title returns the title of whichever variant is populated.
func (n Node) Title() string {
	switch n.Kind {
	case KindIssue:
		if n.Issue != nil {
			return n.Issue.Title
		}
	case KindCause:
		if n.Cause != nil {
			return n.Cause.Title
		}
	case KindSolution:
		if n.Solution != nil {
			return n.Solution.Title
		}
	}
	return ""
}

// Embedding returns the node's embedding vector, or nil if it carries none.
// Causes do not carry embeddings.
func (n Node) Embedding() []float32 {
	switch n.Kind {
	case KindIssue:
		if n.Issue != nil {
			return n.Issue.Embedding
		}
	case KindSolution:
		if n.Solution != nil {
			return n.Solution.Embedding
		}
	}
	return nil
}

// Edge is a directed, typed, weighted relationship between two nodes.
// Edges are immutable once created except for weight updates from feedback.
type Edge struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Type       RelationType      `json:"type"`
	Weight     float64           `json:"weight"`
	Properties map[string]string `json:"properties,omitempty"`
}

// PathEdge is one hop of a diagnostic path.
type PathEdge struct {
	Source string       `json:"source"`
	Target string       `json:"target"`
	Type   RelationType `json:"type"`
}

// DiagnosticPath is an ephemeral walk from a seed issue to a cause or
// solution. Confidence is the product of edge weights along the path;
// Complexity is the hop count. Paths are derived per query and are not valid
// after the underlying graph mutates.
type DiagnosticPath struct {
	ID         string     `json:"id"`
	StartID    string     `json:"start_id"`
	NodeIDs    []string   `json:"node_ids"`
	Nodes      []Node     `json:"-"`
	Edges      []PathEdge `json:"edges"`
	Confidence float64    `json:"confidence"`
	Complexity int        `json:"complexity"`
	Score      float64    `json:"score"`
}

// TraverseResult carries paths plus a partial flag set when a deadline cut
// exploration short.
type TraverseResult struct {
	Paths   []DiagnosticPath `json:"paths"`
	Partial bool             `json:"partial"`
}

// ScoredNode pairs a node with its query similarity.
type ScoredNode struct {
	Node       Node    `json:"node"`
	Similarity float64 `json:"similarity"`
}

// SearchFilters restricts vector search results.
type SearchFilters struct {
	IssueType IssueType `json:"issue_type,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
}

// IssuePattern is a detected grouping of recurring issues sharing at least
// two common symptoms. Patterns are derived at query time, not persisted.
type IssuePattern struct {
	Name            string   `json:"name"`
	CommonSymptoms  []string `json:"common_symptoms"`
	EarlyWarnings   []string `json:"early_warnings,omitempty"`
	PreventionSteps []string `json:"prevention_steps,omitempty"`
	Occurrences     int      `json:"occurrences"`
}

// Classification is the reasoner's verdict for a symptom list.
type Classification struct {
	IssueType         IssueType `json:"issue_type"`
	Severity          Severity  `json:"severity"`
	RecommendedChecks []string  `json:"recommended_checks,omitempty"`
}

// RankedSolution pairs a solution with its score and a human-readable
// explanation of the contributing factors.
type RankedSolution struct {
	Solution  Solution `json:"solution"`
	Score     float64  `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Context carries situational signals into a diagnose call.
type Context struct {
	SessionID                  string    `json:"session_id,omitempty"`
	AffectedSystems            []string  `json:"affected_systems,omitempty"`
	BusinessCritical           bool      `json:"business_critical"`
	MaintenanceWindowAvailable bool      `json:"maintenance_window_available"`
	SatisfiedPrerequisites     []string  `json:"satisfied_prerequisites,omitempty"`
	SuccessfulSolutions        []string  `json:"successful_solutions,omitempty"`
	FailedSolutions            []string  `json:"failed_solutions,omitempty"`
	HistoricalIssues           []Issue   `json:"historical_issues,omitempty"`
	Embedding                  []float32 `json:"embedding,omitempty"`
}

// DiagnosisResult is the assembled output of a diagnose call.
type DiagnosisResult struct {
	SessionID            string           `json:"session_id,omitempty"`
	Classification       Classification   `json:"classification"`
	Issues               []ScoredNode     `json:"issues"`
	Paths                []DiagnosticPath `json:"paths"`
	Causes               []Cause          `json:"causes"`
	Solutions            []RankedSolution `json:"solutions"`
	Patterns             []IssuePattern   `json:"patterns,omitempty"`
	Trace                []string         `json:"trace"`
	Partial              bool             `json:"partial"`
	Degraded             bool             `json:"degraded"`
	DegradedCapabilities []string         `json:"degraded_capabilities,omitempty"`
}

// SessionOutcome reports how a troubleshooting session ended.
type SessionOutcome struct {
	Resolved          bool    `json:"resolved"`
	IssueID           string  `json:"issue_id,omitempty"`
	SolutionID        string  `json:"solution_id,omitempty"`
	ResolutionMinutes float64 `json:"resolution_minutes,omitempty"`
	Feedback          string  `json:"feedback,omitempty"`
}
