package troubleshoot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/database"
)

// SessionState is the lifecycle state of a troubleshooting session.
type SessionState string

const (
	SessionOpen   SessionState = "open"
	SessionClosed SessionState = "closed"
)

// Session accumulates explored paths and identified issues across repeated
// diagnose calls until closed. Once closed it is terminal.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	state    SessionState
	closedAt time.Time
	issueIDs []string
	paths    []apptype.DiagnosticPath
	outcome  *apptype.SessionOutcome
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IssueIDs returns the ids of issues identified so far, in first-seen order.
func (s *Session) IssueIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.issueIDs...)
}

// Paths returns all diagnostic paths accumulated across diagnose calls.
func (s *Session) Paths() []apptype.DiagnosticPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]apptype.DiagnosticPath(nil), s.paths...)
}

// Outcome returns the recorded outcome, nil while the session is open.
func (s *Session) Outcome() *apptype.SessionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// record appends a diagnosis to the session history. Closed sessions ignore
// further recordings.
func (s *Session) record(result apptype.DiagnosisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return
	}
	seen := make(map[string]struct{}, len(s.issueIDs))
	for _, id := range s.issueIDs {
		seen[id] = struct{}{}
	}
	for _, scored := range result.Issues {
		id := scored.Node.ID()
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		s.issueIDs = append(s.issueIDs, id)
	}
	s.paths = append(s.paths, result.Paths...)
}

// SessionStore owns all live sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session registry.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Start creates a new open session with a generated id.
func (st *SessionStore) Start() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		state:     SessionOpen,
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns the session with the given id, or nil if it does not exist.
func (st *SessionStore) Get(id string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

// Close transitions a session to CLOSED and applies outcome feedback to the
// store: issue occurrence metrics, solution success-rate adjustment, and the
// weight of the RESOLVES edge between them when both are named. Closing an
// unknown session returns NotFoundError; closing twice returns
// ValidationError.
func (st *SessionStore) Close(ctx context.Context, store *database.Store, projectName, id string, outcome apptype.SessionOutcome) error {
	s := st.Get(id)
	if s == nil {
		return &apptype.NotFoundError{Op: "close_session", Kind: "session", ID: id}
	}

	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return &apptype.ValidationError{Op: "close_session", Field: "session_id", Reason: "session is already closed"}
	}
	s.state = SessionClosed
	s.closedAt = time.Now().UTC()
	s.outcome = &outcome
	s.mu.Unlock()

	if outcome.IssueID != "" {
		if err := store.ApplyIssueFeedback(ctx, projectName, outcome.IssueID, outcome.Resolved, outcome.ResolutionMinutes); err != nil {
			return err
		}
	}
	if outcome.SolutionID != "" {
		if err := store.ApplySolutionOutcome(ctx, projectName, outcome.SolutionID, outcome.Resolved); err != nil {
			return err
		}
		if outcome.IssueID != "" {
			if err := st.adjustResolvesWeight(ctx, store, projectName, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

// edgeWeightStep is how far a RESOLVES edge weight moves per session outcome.
const edgeWeightStep = 0.05

// adjustResolvesWeight nudges the RESOLVES edge between the outcome's
// solution and issue up on success and down on failure, clamped to [0,1].
// A missing edge is not an error; not every solution is linked directly.
func (st *SessionStore) adjustResolvesWeight(ctx context.Context, store *database.Store, projectName string, outcome apptype.SessionOutcome) error {
	delta := edgeWeightStep
	if !outcome.Resolved {
		delta = -edgeWeightStep
	}
	_, err := store.NudgeEdgeWeight(ctx, projectName, outcome.SolutionID, outcome.IssueID, apptype.RelResolves, delta)
	return err
}
