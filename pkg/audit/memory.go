package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// MemoryStore is an in-memory Store implementation. Used by tests and
// single-process development runs; it enforces the same invariants as the
// Postgres store (idempotent finalize, output XOR error, monotonic clock).
type MemoryStore struct {
	mu sync.RWMutex

	clock *sessionClock

	sessions   map[string]*Session
	executions map[string]*StageExecution
	execOrder  []string // insertion order of execution ids

	nextID     int64
	llm        []*LLMInteraction
	mcp        []*MCPInteraction
	lifecycles []*LifecycleEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:      newSessionClock(),
		sessions:   make(map[string]*Session),
		executions: make(map[string]*StageExecution),
	}
}

// CreateSession creates a new session row.
func (s *MemoryStore) CreateSession(_ context.Context, params CreateSessionParams) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[params.SessionID]; exists {
		return nil, fmt.Errorf("session %q already exists", params.SessionID)
	}

	status := params.Status
	if status == "" {
		status = models.SessionStatusPending
	}

	session := &Session{
		ID:                params.SessionID,
		AlertID:           params.AlertID,
		AlertType:         params.AlertType,
		ChainID:           params.ChainID,
		ChainDefinition:   params.ChainDefinition,
		Status:            status,
		CurrentStageIndex: -1,
		StartedAtUs:       s.clock.Next(params.SessionID),
	}
	s.sessions[params.SessionID] = session

	copied := *session
	return &copied, nil
}

// UpdateSessionStatus sets a non-terminal status (pending → processing).
func (s *MemoryStore) UpdateSessionStatus(_ context.Context, sessionID string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status.IsTerminal() {
		return nil
	}
	session.Status = status
	return nil
}

// UpdateSessionCurrentStage records session progress.
func (s *MemoryStore) UpdateSessionCurrentStage(_ context.Context, sessionID string, stageIndex int, stageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	session.CurrentStageIndex = stageIndex
	session.CurrentStageID = stageID
	return nil
}

// FinalizeSession writes the terminal session state. Idempotent: once the
// session is terminal, subsequent calls are no-ops.
func (s *MemoryStore) FinalizeSession(_ context.Context, sessionID string, status models.SessionStatus, finalAnalysis, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status.IsTerminal() {
		return nil
	}

	completed := s.clock.Next(sessionID)
	session.Status = status
	session.CompletedAtUs = &completed
	if finalAnalysis != "" {
		session.FinalAnalysis = &finalAnalysis
	}
	if errorMessage != "" {
		session.ErrorMessage = &errorMessage
	}
	return nil
}

// CreateStageExecution creates a stage execution row with status active.
func (s *MemoryStore) CreateStageExecution(_ context.Context, params CreateStageExecutionParams) (*StageExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[params.SessionID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, params.SessionID)
	}

	exec := &StageExecution{
		ID:          params.ExecutionID,
		SessionID:   params.SessionID,
		StageID:     params.StageID,
		StageIndex:  params.StageIndex,
		AgentID:     params.AgentID,
		Status:      models.ExecutionStatusActive,
		StartedAtUs: s.clock.Next(params.SessionID),
	}
	s.executions[params.ExecutionID] = exec
	s.execOrder = append(s.execOrder, params.ExecutionID)

	copied := *exec
	return &copied, nil
}

// FinalizeStageExecution writes the terminal stage state, enforcing the
// stage_output XOR error_message invariant.
func (s *MemoryStore) FinalizeStageExecution(_ context.Context, executionID string, params FinalizeStageParams) error {
	if err := validateFinalizeStage(params); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exec, exists := s.executions[executionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrStageExecutionNotFound, executionID)
	}
	if exec.Status == models.ExecutionStatusCompleted || exec.Status == models.ExecutionStatusFailed {
		return nil
	}

	completed := s.clock.Next(exec.SessionID)
	duration := (completed - exec.StartedAtUs) / 1000
	exec.Status = params.Status
	exec.CompletedAtUs = &completed
	exec.DurationMs = &duration
	if params.Status == models.ExecutionStatusCompleted {
		exec.StageOutput = params.StageOutput
	} else {
		msg := params.ErrorMessage
		exec.ErrorMessage = &msg
	}
	return nil
}

// AppendLLMInteraction appends an LLM interaction row.
func (s *MemoryStore) AppendLLMInteraction(_ context.Context, interaction LLMInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[interaction.SessionID]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, interaction.SessionID)
	}

	s.nextID++
	interaction.ID = s.nextID
	interaction.TsUs = s.clock.At(interaction.SessionID, tsOrNow(interaction.TsUs))
	s.llm = append(s.llm, &interaction)
	return nil
}

// AppendMCPInteraction appends an MCP interaction row.
func (s *MemoryStore) AppendMCPInteraction(_ context.Context, interaction MCPInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[interaction.SessionID]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, interaction.SessionID)
	}

	s.nextID++
	interaction.ID = s.nextID
	interaction.TsUs = s.clock.At(interaction.SessionID, tsOrNow(interaction.TsUs))
	s.mcp = append(s.mcp, &interaction)
	return nil
}

// AppendLifecycleEvent appends a lifecycle event row.
func (s *MemoryStore) AppendLifecycleEvent(_ context.Context, event LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[event.SessionID]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, event.SessionID)
	}

	s.nextID++
	event.ID = s.nextID
	event.TsUs = s.clock.At(event.SessionID, tsOrNow(event.TsUs))
	s.lifecycles = append(s.lifecycles, &event)
	return nil
}

// ListSessions returns a page of sessions, newest-first by started_at_us.
func (s *MemoryStore) ListSessions(_ context.Context, filters models.SessionFilters) (*SessionPage, error) {
	normalizePage(&filters)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Session
	for _, session := range s.sessions {
		if filters.Status != "" && string(session.Status) != filters.Status {
			continue
		}
		if filters.AlertType != "" && session.AlertType != filters.AlertType {
			continue
		}
		if filters.ChainID != "" && session.ChainID != filters.ChainID {
			continue
		}
		if filters.StartedAfter != nil && session.StartedAtUs < filters.StartedAfter.UnixMicro() {
			continue
		}
		if filters.StartedBefore != nil && session.StartedAtUs > filters.StartedBefore.UnixMicro() {
			continue
		}
		matched = append(matched, session)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAtUs != matched[j].StartedAtUs {
			return matched[i].StartedAtUs > matched[j].StartedAtUs
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := (filters.Page - 1) * filters.Size
	if start > total {
		start = total
	}
	end := start + filters.Size
	if end > total {
		end = total
	}

	page := make([]*Session, 0, end-start)
	for _, session := range matched[start:end] {
		copied := *session
		page = append(page, &copied)
	}

	return &SessionPage{Sessions: page, TotalCount: total, Page: filters.Page, Size: filters.Size}, nil
}

// GetSession returns a single session.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	copied := *session
	return &copied, nil
}

// GetSessionWithTimeline returns the session, its stage executions in stage
// order, and the merged interaction timeline (ts_us asc, ties by id).
func (s *MemoryStore) GetSessionWithTimeline(_ context.Context, sessionID string) (*SessionTimeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var stages []*StageExecution
	for _, id := range s.execOrder {
		exec := s.executions[id]
		if exec.SessionID == sessionID {
			copied := *exec
			stages = append(stages, &copied)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageIndex < stages[j].StageIndex })

	var timeline []TimelineEntry
	for _, i := range s.llm {
		if i.SessionID == sessionID {
			copied := *i
			timeline = append(timeline, TimelineEntry{TsUs: i.TsUs, Type: "llm", LLM: &copied})
		}
	}
	for _, i := range s.mcp {
		if i.SessionID == sessionID {
			copied := *i
			timeline = append(timeline, TimelineEntry{TsUs: i.TsUs, Type: "mcp", MCP: &copied})
		}
	}
	for _, e := range s.lifecycles {
		if e.SessionID == sessionID {
			copied := *e
			timeline = append(timeline, TimelineEntry{TsUs: e.TsUs, Type: "lifecycle", Lifecycle: &copied})
		}
	}
	sortTimeline(timeline)

	copied := *session
	return &SessionTimeline{Session: &copied, Stages: stages, Timeline: timeline}, nil
}

// DeleteSessionsBefore removes terminal sessions started before cutoffUs.
func (s *MemoryStore) DeleteSessionsBefore(_ context.Context, cutoffUs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, session := range s.sessions {
		if !session.Status.IsTerminal() || session.StartedAtUs >= cutoffUs {
			continue
		}
		delete(s.sessions, id)
		s.clock.Forget(id)
		deleted++

		remaining := s.execOrder[:0]
		for _, execID := range s.execOrder {
			if s.executions[execID].SessionID == id {
				delete(s.executions, execID)
			} else {
				remaining = append(remaining, execID)
			}
		}
		s.execOrder = remaining
		s.llm = filterLLM(s.llm, id)
		s.mcp = filterMCP(s.mcp, id)
		s.lifecycles = filterLifecycle(s.lifecycles, id)
	}
	return deleted, nil
}

// Ping reports store health (always healthy for the in-memory store).
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close releases resources (no-op for the in-memory store).
func (s *MemoryStore) Close() {}

// validateFinalizeStage enforces the output XOR error invariant up front.
func validateFinalizeStage(params FinalizeStageParams) error {
	hasOutput := len(params.StageOutput) > 0
	hasError := params.ErrorMessage != ""
	switch params.Status {
	case models.ExecutionStatusCompleted:
		if !hasOutput || hasError {
			return ErrOutputErrorExclusive
		}
	case models.ExecutionStatusFailed:
		if hasOutput || !hasError {
			return ErrOutputErrorExclusive
		}
	default:
		return fmt.Errorf("non-terminal status %q", params.Status)
	}
	return nil
}

// sortTimeline orders entries by ts_us ascending, ties broken by insertion id.
func sortTimeline(timeline []TimelineEntry) {
	sort.Slice(timeline, func(i, j int) bool {
		if timeline[i].TsUs != timeline[j].TsUs {
			return timeline[i].TsUs < timeline[j].TsUs
		}
		return entryID(timeline[i]) < entryID(timeline[j])
	})
}

func entryID(e TimelineEntry) int64 {
	switch {
	case e.LLM != nil:
		return e.LLM.ID
	case e.MCP != nil:
		return e.MCP.ID
	default:
		return e.Lifecycle.ID
	}
}

func filterLLM(in []*LLMInteraction, sessionID string) []*LLMInteraction {
	out := in[:0]
	for _, i := range in {
		if i.SessionID != sessionID {
			out = append(out, i)
		}
	}
	return out
}

func filterMCP(in []*MCPInteraction, sessionID string) []*MCPInteraction {
	out := in[:0]
	for _, i := range in {
		if i.SessionID != sessionID {
			out = append(out, i)
		}
	}
	return out
}

func filterLifecycle(in []*LifecycleEvent, sessionID string) []*LifecycleEvent {
	out := in[:0]
	for _, e := range in {
		if e.SessionID != sessionID {
			out = append(out, e)
		}
	}
	return out
}
