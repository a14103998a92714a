// Package orchestrator implements the top-level alert state machine: create
// session, resolve chain, fetch runbook once, run stages sequentially with
// accumulating context, finalize session. Each accepted alert runs as an
// independent task, bounded by the configured concurrency limit.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/audit"
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// ErrCapacity indicates the concurrent-alert limit is reached; the edge
// translates it to backpressure (HTTP 503).
var ErrCapacity = errors.New("alert processing at capacity")

// SubmitAlertRequest is an accepted alert submission.
type SubmitAlertRequest struct {
	AlertType  string         `json:"alert_type"`
	AlertData  map[string]any `json:"alert_data"`
	RunbookURL string         `json:"runbook,omitempty"`
	AlertID    string         `json:"alert_id,omitempty"`
}

// SubmitResponse identifies the accepted alert and its session.
type SubmitResponse struct {
	AlertID   string `json:"alert_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RunbookResolver returns runbook text for a URL. Implemented by
// runbook.Service; defined as an interface here so the resolver stays an
// external collaborator with a named surface.
type RunbookResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// AlertService is the chain orchestrator.
type AlertService struct {
	cfg      *config.Config
	store    audit.Store
	bus      *hooks.Bus
	runtime  *agent.Runtime
	runbooks RunbookResolver

	sem chan struct{} // bounded concurrency across alerts
	wg  sync.WaitGroup

	mu     sync.Mutex
	active map[string]context.CancelFunc // session_id → cancel
}

// NewAlertService creates the orchestrator. runbooks may be nil (alerts
// without runbook URLs only, as in tests).
func NewAlertService(cfg *config.Config, store audit.Store, bus *hooks.Bus, runtime *agent.Runtime, runbooks RunbookResolver) *AlertService {
	return &AlertService{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		runtime:  runtime,
		runbooks: runbooks,
		sem:      make(chan struct{}, cfg.Defaults.MaxConcurrentAlerts),
		active:   make(map[string]context.CancelFunc),
	}
}

// Submit accepts one alert, creates its session, and starts processing in
// the background. Returns ErrCapacity when the concurrency limit is reached.
//
// An unknown alert type still produces a (failed) session so the submission
// is visible in history, but no stages are created and no task is launched.
func (s *AlertService) Submit(ctx context.Context, req SubmitAlertRequest) (*SubmitResponse, error) {
	alertID := req.AlertID
	if alertID == "" {
		alertID = uuid.New().String()
	}
	sessionID := uuid.New().String()

	chainID, chain, resolveErr := s.cfg.ChainRegistry.GetByAlertType(req.AlertType)
	if resolveErr != nil {
		if err := s.recordUnknownAlertType(ctx, sessionID, alertID, req.AlertType, resolveErr); err != nil {
			return nil, err
		}
		return &SubmitResponse{AlertID: alertID, SessionID: sessionID, Status: "accepted"}, nil
	}

	// Reserve a slot before creating the session: the core only sees
	// accepted work.
	select {
	case s.sem <- struct{}{}:
	default:
		return nil, ErrCapacity
	}

	snapshot, err := json.Marshal(chain)
	if err != nil {
		<-s.sem
		return nil, fmt.Errorf("failed to snapshot chain definition: %w", err)
	}

	session, err := s.store.CreateSession(ctx, audit.CreateSessionParams{
		SessionID:       sessionID,
		AlertID:         alertID,
		AlertType:       req.AlertType,
		ChainID:         chainID,
		ChainDefinition: snapshot,
	})
	if err != nil {
		<-s.sem
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	pd := models.NewAlertProcessingData(req.AlertType, req.AlertData, req.RunbookURL)
	pd.ChainID = chainID

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.registerSession(sessionID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer s.unregisterSession(sessionID)
		defer s.runtime.ReleaseSession(sessionID)
		s.run(runCtx, session, chainID, chain, pd)
	}()

	return &SubmitResponse{AlertID: alertID, SessionID: sessionID, Status: "accepted"}, nil
}

// CancelSession cancels an in-flight session. Returns false when the
// session is not processing on this instance.
func (s *AlertService) CancelSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.active[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// ActiveSessions returns the number of in-flight alerts.
func (s *AlertService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown waits for in-flight sessions to finish, or cancels them when the
// context expires.
func (s *AlertService) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Alert service drained")
	case <-ctx.Done():
		slog.Warn("Shutdown timeout reached, cancelling in-flight sessions")
		s.mu.Lock()
		for _, cancel := range s.active {
			cancel()
		}
		s.mu.Unlock()
		<-done
	}
}

// recordUnknownAlertType persists the failed session for an unresolvable
// alert type. No stages are created.
func (s *AlertService) recordUnknownAlertType(ctx context.Context, sessionID, alertID, alertType string, resolveErr error) error {
	slog.Warn("Unknown alert type", "alert_type", alertType, "session_id", sessionID)

	if _, err := s.store.CreateSession(ctx, audit.CreateSessionParams{
		SessionID: sessionID,
		AlertID:   alertID,
		AlertType: alertType,
	}); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.store.FinalizeSession(ctx, sessionID, models.SessionStatusFailed, "", resolveErr.Error()); err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	s.bus.EmitLifecycle(hooks.WithScope(ctx, sessionID, ""), hooks.SessionLifecycleEvent{
		Kind:   hooks.LifecycleSessionCompleted,
		Detail: resolveErr.Error(),
		Status: string(models.SessionStatusFailed),
	})
	return nil
}

func (s *AlertService) registerSession(sessionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sessionID] = cancel
}

func (s *AlertService) unregisterSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
}
