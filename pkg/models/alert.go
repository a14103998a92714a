package models

// AlertProcessingData is the progressively-enriched record for one in-flight
// alert. It is exclusively owned by the orchestrator task: fields are only
// added, never removed, and no other component holds a mutable reference.
type AlertProcessingData struct {
	AlertType string
	AlertData map[string]any

	RunbookURL     string
	RunbookContent string

	ChainID          string
	CurrentStageName string

	// stage outputs in chain order
	stageNames   []string
	stageOutputs map[string]*StageResult
}

// NewAlertProcessingData creates processing data for a submitted alert.
func NewAlertProcessingData(alertType string, alertData map[string]any, runbookURL string) *AlertProcessingData {
	if alertData == nil {
		alertData = map[string]any{}
	}
	return &AlertProcessingData{
		AlertType:    alertType,
		AlertData:    alertData,
		RunbookURL:   runbookURL,
		stageOutputs: make(map[string]*StageResult),
	}
}

// SetRunbook records the downloaded runbook content (write-once in practice).
func (d *AlertProcessingData) SetRunbook(content string) {
	d.RunbookContent = content
}

// AddStageOutput appends a stage result under the stage name, preserving
// chain order. A repeated name overwrites in place without reordering.
func (d *AlertProcessingData) AddStageOutput(stageName string, result *StageResult) {
	if _, exists := d.stageOutputs[stageName]; !exists {
		d.stageNames = append(d.stageNames, stageName)
	}
	d.stageOutputs[stageName] = result
}

// StageNames returns stage names in insertion (chain) order.
func (d *AlertProcessingData) StageNames() []string {
	names := make([]string, len(d.stageNames))
	copy(names, d.stageNames)
	return names
}

// StageOutput returns the recorded result for a stage, or nil.
func (d *AlertProcessingData) StageOutput(stageName string) *StageResult {
	return d.stageOutputs[stageName]
}

// StageOutputs returns all recorded results in chain order.
func (d *AlertProcessingData) StageOutputs() []*StageResult {
	results := make([]*StageResult, 0, len(d.stageNames))
	for _, name := range d.stageNames {
		results = append(results, d.stageOutputs[name])
	}
	return results
}

// GetAllMCPResults merges the MCP output of all prior stages, keyed by server
// id, in chain order. Defensive: nil results, failed stages, and missing
// mcp_results fields are all tolerated.
func (d *AlertProcessingData) GetAllMCPResults() map[string][]ToolInvocation {
	merged := make(map[string][]ToolInvocation)
	for _, name := range d.stageNames {
		result := d.stageOutputs[name]
		if result == nil || len(result.MCPResults) == 0 {
			continue
		}
		for server, calls := range result.MCPResults {
			merged[server] = append(merged[server], calls...)
		}
	}
	return merged
}

// Severity returns the alert's severity tag with a fallback default.
// A helper accessor, not schema: alert_data stays opaque at the core boundary.
func (d *AlertProcessingData) Severity() string {
	if v, ok := d.AlertData["severity"].(string); ok && v != "" {
		return v
	}
	return "warning"
}

// Environment returns the alert's environment tag with a fallback default.
func (d *AlertProcessingData) Environment() string {
	if v, ok := d.AlertData["environment"].(string); ok && v != "" {
		return v
	}
	return "production"
}
