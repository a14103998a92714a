package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN builds a pgx-compatible connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadDBConfigFromEnv loads database configuration from environment variables.
func LoadDBConfigFromEnv() (DBConfig, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return DBConfig{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	return DBConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("DB_USER", "tarsy"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: getEnvOrDefault("DB_NAME", "tarsy"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// PostgresStore implements Store on a pgx connection pool. Per-session
// timestamp monotonicity is maintained by the in-process sessionClock — the
// store assumes a single writer process per session (the orchestrator task
// that owns the alert).
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock *sessionClock
}

// NewPostgresStore connects a pool, pings it, and runs migrations.
func NewPostgresStore(ctx context.Context, cfg DBConfig) (*PostgresStore, error) {
	if err := RunMigrations(cfg.DSN(), cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, clock: newSessionClock()}, nil
}

// CreateSession creates a new session row.
func (s *PostgresStore) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	status := params.Status
	if status == "" {
		status = models.SessionStatusPending
	}
	startedAt := s.clock.Next(params.SessionID)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_sessions (session_id, alert_id, alert_type, chain_id, chain_definition, status, started_at_us)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		params.SessionID, params.AlertID, params.AlertType, params.ChainID,
		nullableJSON(params.ChainDefinition), string(status), startedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:                params.SessionID,
		AlertID:           params.AlertID,
		AlertType:         params.AlertType,
		ChainID:           params.ChainID,
		ChainDefinition:   params.ChainDefinition,
		Status:            status,
		CurrentStageIndex: -1,
		StartedAtUs:       startedAt,
	}, nil
}

// UpdateSessionStatus sets a non-terminal status; terminal rows are left alone.
func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions SET status = $2
		WHERE session_id = $1 AND status NOT IN ('completed', 'partial', 'failed')`,
		sessionID, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureSessionExists(ctx, sessionID)
	}
	return nil
}

// UpdateSessionCurrentStage records session progress.
func (s *PostgresStore) UpdateSessionCurrentStage(ctx context.Context, sessionID string, stageIndex int, stageID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions SET current_stage_index = $2, current_stage_id = $3
		WHERE session_id = $1`,
		sessionID, stageIndex, stageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// FinalizeSession writes the terminal session state. Idempotent: the status
// guard makes the second call a no-op.
func (s *PostgresStore) FinalizeSession(ctx context.Context, sessionID string, status models.SessionStatus, finalAnalysis, errorMessage string) error {
	completed := s.clock.Next(sessionID)
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions
		SET status = $2, completed_at_us = $3, final_analysis = NULLIF($4, ''), error_message = NULLIF($5, '')
		WHERE session_id = $1 AND status NOT IN ('completed', 'partial', 'failed')`,
		sessionID, string(status), completed, finalAnalysis, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureSessionExists(ctx, sessionID)
	}
	return nil
}

// CreateStageExecution creates a stage execution row with status active.
func (s *PostgresStore) CreateStageExecution(ctx context.Context, params CreateStageExecutionParams) (*StageExecution, error) {
	startedAt := s.clock.Next(params.SessionID)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_executions (execution_id, session_id, stage_id, stage_index, agent_id, status, started_at_us)
		VALUES ($1, $2, $3, $4, $5, 'active', $6)`,
		params.ExecutionID, params.SessionID, params.StageID, params.StageIndex, params.AgentID, startedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage execution: %w", err)
	}

	return &StageExecution{
		ID:          params.ExecutionID,
		SessionID:   params.SessionID,
		StageID:     params.StageID,
		StageIndex:  params.StageIndex,
		AgentID:     params.AgentID,
		Status:      models.ExecutionStatusActive,
		StartedAtUs: startedAt,
	}, nil
}

// FinalizeStageExecution writes the terminal stage state, enforcing the
// stage_output XOR error_message invariant.
func (s *PostgresStore) FinalizeStageExecution(ctx context.Context, executionID string, params FinalizeStageParams) error {
	if err := validateFinalizeStage(params); err != nil {
		return err
	}

	var sessionID string
	var startedAt int64
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, started_at_us FROM stage_executions WHERE execution_id = $1`,
		executionID,
	).Scan(&sessionID, &startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrStageExecutionNotFound, executionID)
	}
	if err != nil {
		return fmt.Errorf("failed to load stage execution: %w", err)
	}

	completed := s.clock.Next(sessionID)
	duration := (completed - startedAt) / 1000

	_, err = s.pool.Exec(ctx, `
		UPDATE stage_executions
		SET status = $2, completed_at_us = $3, duration_ms = $4,
		    stage_output = $5, error_message = NULLIF($6, '')
		WHERE execution_id = $1 AND status IN ('pending', 'active')`,
		executionID, string(params.Status), completed, duration,
		nullableJSON(params.StageOutput), params.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize stage execution: %w", err)
	}
	return nil
}

// AppendLLMInteraction appends an LLM interaction row.
func (s *PostgresStore) AppendLLMInteraction(ctx context.Context, interaction LLMInteraction) error {
	ts := s.clock.At(interaction.SessionID, tsOrNow(interaction.TsUs))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO llm_interactions (session_id, stage_execution_id, ts_us, model, messages_in, response_out,
		                              input_tokens, output_tokens, total_tokens, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		interaction.SessionID, interaction.StageExecutionID, ts, interaction.Model,
		nullableJSON(interaction.MessagesIn), interaction.ResponseOut,
		interaction.InputTokens, interaction.OutputTokens, interaction.TotalTokens,
		interaction.DurationMs, interaction.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append LLM interaction: %w", err)
	}
	return nil
}

// AppendMCPInteraction appends an MCP interaction row.
func (s *PostgresStore) AppendMCPInteraction(ctx context.Context, interaction MCPInteraction) error {
	ts := s.clock.At(interaction.SessionID, tsOrNow(interaction.TsUs))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mcp_interactions (session_id, stage_execution_id, ts_us, interaction_type, server_id,
		                              tool_name, arguments, result, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		interaction.SessionID, interaction.StageExecutionID, ts, interaction.InteractionType,
		interaction.ServerID, interaction.ToolName, nullableJSON(interaction.Arguments),
		interaction.Result, interaction.DurationMs, interaction.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append MCP interaction: %w", err)
	}
	return nil
}

// AppendLifecycleEvent appends a lifecycle event row.
func (s *PostgresStore) AppendLifecycleEvent(ctx context.Context, event LifecycleEvent) error {
	ts := s.clock.At(event.SessionID, tsOrNow(event.TsUs))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lifecycle_events (session_id, stage_execution_id, ts_us, kind, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		event.SessionID, event.StageExecutionID, ts, event.Kind, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to append lifecycle event: %w", err)
	}
	return nil
}

// ListSessions returns a page of sessions, newest-first by started_at_us.
func (s *PostgresStore) ListSessions(ctx context.Context, filters models.SessionFilters) (*SessionPage, error) {
	normalizePage(&filters)

	var conditions []string
	var args []any
	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filters.Status != "" {
		addCondition("status = $%d", filters.Status)
	}
	if filters.AlertType != "" {
		addCondition("alert_type = $%d", filters.AlertType)
	}
	if filters.ChainID != "" {
		addCondition("chain_id = $%d", filters.ChainID)
	}
	if filters.StartedAfter != nil {
		addCondition("started_at_us >= $%d", filters.StartedAfter.UnixMicro())
	}
	if filters.StartedBefore != nil {
		addCondition("started_at_us <= $%d", filters.StartedBefore.UnixMicro())
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alert_sessions "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT session_id, alert_id, alert_type, chain_id, chain_definition, status,
		       current_stage_index, current_stage_id, started_at_us, completed_at_us,
		       final_analysis, error_message
		FROM alert_sessions %s
		ORDER BY started_at_us DESC, session_id DESC
		LIMIT %d OFFSET %d`,
		where, filters.Size, (filters.Page-1)*filters.Size)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return &SessionPage{Sessions: sessions, TotalCount: total, Page: filters.Page, Size: filters.Size}, nil
}

// GetSession returns a single session.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, alert_id, alert_type, chain_id, chain_definition, status,
		       current_stage_index, current_stage_id, started_at_us, completed_at_us,
		       final_analysis, error_message
		FROM alert_sessions WHERE session_id = $1`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, err
}

// GetSessionWithTimeline returns the session, its stage executions in stage
// order, and the merged interaction timeline (ts_us asc, ties by id).
func (s *PostgresStore) GetSessionWithTimeline(ctx context.Context, sessionID string) (*SessionTimeline, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stages, err := s.listStages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var timeline []TimelineEntry
	if timeline, err = s.appendLLMEntries(ctx, sessionID, timeline); err != nil {
		return nil, err
	}
	if timeline, err = s.appendMCPEntries(ctx, sessionID, timeline); err != nil {
		return nil, err
	}
	if timeline, err = s.appendLifecycleEntries(ctx, sessionID, timeline); err != nil {
		return nil, err
	}
	sortTimeline(timeline)

	return &SessionTimeline{Session: session, Stages: stages, Timeline: timeline}, nil
}

// DeleteSessionsBefore removes terminal sessions started before cutoffUs.
// Child rows go with them via ON DELETE CASCADE.
func (s *PostgresStore) DeleteSessionsBefore(ctx context.Context, cutoffUs int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alert_sessions
		WHERE started_at_us < $1 AND status IN ('completed', 'partial', 'failed')`,
		cutoffUs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping reports store connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- internal helpers ---

func (s *PostgresStore) ensureSessionExists(ctx context.Context, sessionID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_sessions WHERE session_id = $1)`, sessionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil // row exists but was already terminal — no-op by design
}

func (s *PostgresStore) listStages(ctx context.Context, sessionID string) ([]*StageExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, session_id, stage_id, stage_index, agent_id, status,
		       started_at_us, completed_at_us, duration_ms, stage_output, error_message
		FROM stage_executions WHERE session_id = $1 ORDER BY stage_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage executions: %w", err)
	}
	defer rows.Close()

	var stages []*StageExecution
	for rows.Next() {
		var exec StageExecution
		var status string
		if err := rows.Scan(&exec.ID, &exec.SessionID, &exec.StageID, &exec.StageIndex, &exec.AgentID,
			&status, &exec.StartedAtUs, &exec.CompletedAtUs, &exec.DurationMs,
			&exec.StageOutput, &exec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan stage execution: %w", err)
		}
		exec.Status = models.ExecutionStatus(status)
		stages = append(stages, &exec)
	}
	return stages, rows.Err()
}

func (s *PostgresStore) appendLLMEntries(ctx context.Context, sessionID string, timeline []TimelineEntry) ([]TimelineEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, stage_execution_id, ts_us, model, messages_in, response_out,
		       input_tokens, output_tokens, total_tokens, duration_ms, error
		FROM llm_interactions WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query LLM interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var i LLMInteraction
		if err := rows.Scan(&i.ID, &i.SessionID, &i.StageExecutionID, &i.TsUs, &i.Model,
			&i.MessagesIn, &i.ResponseOut, &i.InputTokens, &i.OutputTokens, &i.TotalTokens,
			&i.DurationMs, &i.Error); err != nil {
			return nil, fmt.Errorf("failed to scan LLM interaction: %w", err)
		}
		timeline = append(timeline, TimelineEntry{TsUs: i.TsUs, Type: "llm", LLM: &i})
	}
	return timeline, rows.Err()
}

func (s *PostgresStore) appendMCPEntries(ctx context.Context, sessionID string, timeline []TimelineEntry) ([]TimelineEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, stage_execution_id, ts_us, interaction_type, server_id,
		       tool_name, arguments, result, duration_ms, error
		FROM mcp_interactions WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query MCP interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var i MCPInteraction
		if err := rows.Scan(&i.ID, &i.SessionID, &i.StageExecutionID, &i.TsUs, &i.InteractionType,
			&i.ServerID, &i.ToolName, &i.Arguments, &i.Result, &i.DurationMs, &i.Error); err != nil {
			return nil, fmt.Errorf("failed to scan MCP interaction: %w", err)
		}
		timeline = append(timeline, TimelineEntry{TsUs: i.TsUs, Type: "mcp", MCP: &i})
	}
	return timeline, rows.Err()
}

func (s *PostgresStore) appendLifecycleEntries(ctx context.Context, sessionID string, timeline []TimelineEntry) ([]TimelineEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, stage_execution_id, ts_us, kind, detail
		FROM lifecycle_events WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e LifecycleEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StageExecutionID, &e.TsUs, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		timeline = append(timeline, TimelineEntry{TsUs: e.TsUs, Type: "lifecycle", Lifecycle: &e})
	}
	return timeline, rows.Err()
}

// scanSession scans one alert_sessions row.
func scanSession(row pgx.Row) (*Session, error) {
	var session Session
	var status string
	if err := row.Scan(&session.ID, &session.AlertID, &session.AlertType, &session.ChainID,
		&session.ChainDefinition, &status, &session.CurrentStageIndex, &session.CurrentStageID,
		&session.StartedAtUs, &session.CompletedAtUs, &session.FinalAnalysis, &session.ErrorMessage); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	return &session, nil
}

// nullableJSON maps empty JSON payloads to SQL NULL.
func nullableJSON[T ~[]byte | map[string]any](v T) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// tsOrNow converts a caller-provided microsecond timestamp to time.Time,
// falling back to now when unset.
func tsOrNow(us int64) time.Time {
	if us <= 0 {
		return time.Now()
	}
	return time.UnixMicro(us)
}
