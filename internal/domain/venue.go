package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Venue is the metadata-store row for an arena. Sections and surface are
// stored as JSON documents; the pipeline consumes them as SectionSpec and
// SurfaceConfig.
type Venue struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string         `gorm:"column:name;not null;index" json:"name"`
	Sections datatypes.JSON `gorm:"column:sections;type:jsonb" json:"sections"`
	Surface  datatypes.JSON `gorm:"column:surface;type:jsonb" json:"surface"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Venue) TableName() string { return "venue" }

// PipelineRun is the durable row for one pipeline run. Payload holds the
// immutable input snapshot; Progress the latest snapshot; Result the terminal
// PipelineResult. Query on a terminal run is served from this row.
type PipelineRun struct {
	ID      string `gorm:"primaryKey" json:"id"`
	VenueID string `gorm:"column:venue_id;not null;index" json:"venue_id"`

	// queued|running|completed|failed|cancelled
	Status string `gorm:"column:status;not null;index" json:"status"`
	Stage  string `gorm:"column:stage;not null" json:"stage"`

	Payload  datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Progress datatypes.JSON `gorm:"column:progress;type:jsonb" json:"progress"`
	Result   datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`

	CreatedAt  time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;index" json:"updated_at"`
	FinishedAt *time.Time `gorm:"column:finished_at;index" json:"finished_at,omitempty"`
}

func (PipelineRun) TableName() string { return "pipeline_run" }
