package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

type PipelineRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *domain.PipelineRun) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.PipelineRun, error)
	ListByVenue(ctx context.Context, tx *gorm.DB, venueID string, limit int) ([]*domain.PipelineRun, error)
	UpdateProgress(ctx context.Context, tx *gorm.DB, id string, stage domain.Stage, progress datatypes.JSON) error
	Finish(ctx context.Context, tx *gorm.DB, id string, stage domain.Stage, result datatypes.JSON) error
}

type pipelineRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPipelineRunRepo(db *gorm.DB, baseLog *logger.Logger) PipelineRunRepo {
	return &pipelineRunRepo{db: db, log: baseLog.With("repo", "PipelineRunRepo")}
}

func (r *pipelineRunRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *pipelineRunRepo) Create(ctx context.Context, tx *gorm.DB, run *domain.PipelineRun) error {
	if run.ID == "" {
		return errkind.New(errkind.InvalidInput, "repos.pipeline_run.create", "run id is required")
	}
	if run.Status == "" {
		run.Status = RunStatusQueued
	}
	if run.Stage == "" {
		run.Stage = string(domain.StagePending)
	}
	return r.handle(tx).WithContext(ctx).Create(run).Error
}

func (r *pipelineRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := r.handle(tx).WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errkind.New(errkind.NotFound, "repos.pipeline_run.get", "run %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *pipelineRunRepo) ListByVenue(ctx context.Context, tx *gorm.DB, venueID string, limit int) ([]*domain.PipelineRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []*domain.PipelineRun
	err := r.handle(tx).WithContext(ctx).
		Where("venue_id = ?", venueID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *pipelineRunRepo) UpdateProgress(ctx context.Context, tx *gorm.DB, id string, stage domain.Stage, progress datatypes.JSON) error {
	updates := map[string]interface{}{
		"stage":    string(stage),
		"status":   statusForStage(stage),
		"progress": progress,
	}
	return r.handle(tx).WithContext(ctx).
		Model(&domain.PipelineRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *pipelineRunRepo) Finish(ctx context.Context, tx *gorm.DB, id string, stage domain.Stage, result datatypes.JSON) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"stage":       string(stage),
		"status":      statusForStage(stage),
		"result":      result,
		"finished_at": &now,
	}
	return r.handle(tx).WithContext(ctx).
		Model(&domain.PipelineRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func statusForStage(stage domain.Stage) string {
	switch stage {
	case domain.StagePending:
		return RunStatusQueued
	case domain.StageCompleted:
		return RunStatusCompleted
	case domain.StageFailed:
		return RunStatusFailed
	case domain.StageCancelled:
		return RunStatusCancelled
	default:
		return RunStatusRunning
	}
}

// Recorder adapts the run repo to the pipeline manager's RunRecorder.
type Recorder struct {
	runs PipelineRunRepo
}

func NewRecorder(runs PipelineRunRepo) *Recorder { return &Recorder{runs: runs} }

func (rec *Recorder) RecordStart(ctx context.Context, runID string, input domain.PipelineInput) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return rec.runs.Create(ctx, nil, &domain.PipelineRun{
		ID:      runID,
		VenueID: input.VenueID,
		Status:  RunStatusQueued,
		Stage:   string(domain.StagePending),
		Payload: payload,
	})
}

func (rec *Recorder) RecordProgress(ctx context.Context, runID string, snap domain.ProgressSnapshot) error {
	progress, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return rec.runs.UpdateProgress(ctx, nil, runID, snap.Stage, progress)
}

func (rec *Recorder) RecordResult(ctx context.Context, runID string, stage domain.Stage, result *domain.PipelineResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return rec.runs.Finish(ctx, nil, runID, stage, body)
}
