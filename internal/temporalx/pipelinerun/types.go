package pipelinerun

const (
	WorkflowName   = "venue_pipeline_run"
	ActivityTick   = "venue_pipeline_tick"
	ActivityCancel = "venue_pipeline_cancel"
	SignalCancel   = "venue_pipeline_cancel_request"
)

type TickResult struct {
	RunID    string `json:"run_id"`
	Stage    string `json:"stage"`
	Terminal bool   `json:"terminal"`
	Message  string `json:"message,omitempty"`
}
