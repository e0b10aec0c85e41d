package handlers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sullysaurus/venues/internal/data/repos"
	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/http/response"
	"github.com/sullysaurus/venues/internal/pipeline"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

type PipelineHandler struct {
	manager *pipeline.Manager
	runs    repos.PipelineRunRepo
	log     *logger.Logger
}

// NewPipelineHandler builds the pipeline endpoints. runs may be nil; runs
// then only resolve while they live in the manager's process.
func NewPipelineHandler(manager *pipeline.Manager, runs repos.PipelineRunRepo, baseLog *logger.Logger) *PipelineHandler {
	return &PipelineHandler{manager: manager, runs: runs, log: baseLog.With("handler", "PipelineHandler")}
}

// Start launches a run. Returns 202 with the generated run id.
func (h *PipelineHandler) Start(c *gin.Context) {
	var input domain.PipelineInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.pipeline.start", err))
		return
	}
	if err := normalizeModelSpec(&input); err != nil {
		response.RespondKindedError(c, err)
		return
	}

	runID, err := h.manager.Start(c.Request.Context(), input)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	h.log.Info("pipeline run started", "run_id", runID, "venue_id", input.VenueID)
	response.RespondAccepted(c, gin.H{"run_id": runID, "status": "started"})
}

// normalizeModelSpec splits a combined "model:scale" value, e.g.
// "ip_adapter:0.6", into the model name and ip_adapter_scale.
func normalizeModelSpec(input *domain.PipelineInput) error {
	model := strings.TrimSpace(input.Model)
	if !strings.Contains(model, ":") {
		return nil
	}
	parts := strings.SplitN(model, ":", 2)
	scale, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || scale <= 0 || scale > 1 {
		return errkind.New(errkind.InvalidInput, "http.pipeline.start",
			"invalid model spec %q: scale must be a number in (0,1]", model)
	}
	input.Model = strings.TrimSpace(parts[0])
	input.IPAdapterScale = scale
	return nil
}

// Progress returns the run's latest snapshot. Runs the manager no longer
// holds, typically after a restart, are served from their persisted row.
func (h *PipelineHandler) Progress(c *gin.Context) {
	runID := c.Param("run_id")
	snap, err := h.manager.Progress(runID)
	if err != nil {
		if errkind.IsNotFound(err) && h.runs != nil {
			h.storedProgress(c, runID)
			return
		}
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

func (h *PipelineHandler) storedProgress(c *gin.Context, runID string) {
	row, err := h.runs.GetByID(c.Request.Context(), nil, runID)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	var snap domain.ProgressSnapshot
	if len(row.Progress) > 0 {
		if err := json.Unmarshal(row.Progress, &snap); err != nil {
			response.RespondKindedError(c, err)
			return
		}
	} else {
		snap.Stage = domain.Stage(row.Stage)
	}
	response.RespondOK(c, snap)
}

// Result returns the terminal PipelineResult, or 409 while the run is
// still active. Finished runs outlive the process via their persisted row.
func (h *PipelineHandler) Result(c *gin.Context) {
	runID := c.Param("run_id")
	result, err := h.manager.Result(runID)
	if err != nil {
		if errkind.IsNotFound(err) && h.runs != nil {
			h.storedResult(c, runID)
			return
		}
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *PipelineHandler) storedResult(c *gin.Context, runID string) {
	row, err := h.runs.GetByID(c.Request.Context(), nil, runID)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	if row.FinishedAt == nil || len(row.Result) == 0 {
		response.RespondKindedError(c, pipeline.ErrRunNotFinished)
		return
	}
	var result domain.PipelineResult
	if err := json.Unmarshal(row.Result, &result); err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, &result)
}

// Cancel requests cooperative cancellation.
func (h *PipelineHandler) Cancel(c *gin.Context) {
	runID := c.Param("run_id")
	if err := h.manager.Cancel(c.Request.Context(), runID); err != nil {
		response.RespondKindedError(c, err)
		return
	}
	h.log.Info("pipeline cancel requested", "run_id", runID)
	response.RespondOK(c, gin.H{"status": "cancel_requested"})
}
