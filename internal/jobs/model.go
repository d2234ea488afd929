// Package jobs runs text recognition and stitching in the background and records each run as a Job.
package jobs

import (
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
)

// Type enumerates the kinds of background work.
type Type string

const (
	// TypeOCR recognizes the text of one version.
	TypeOCR Type = "OCR"
	// TypeStitch merges several versions into a new version of a target owner.
	TypeStitch Type = "STITCH"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job records one unit of background work and its outcome.
type Job struct {
	JobID              string     `gorm:"column:job_id;primaryKey;size:36"`
	Type               Type       `gorm:"column:type;size:16;not null"`
	Status             Status     `gorm:"column:status;size:16;not null;index"`
	UserID             string     `gorm:"column:user_id;size:190;not null;index"`
	AssociatedEntityID string     `gorm:"column:associated_entity_id;size:36;not null"`
	ParamsJSON         string     `gorm:"column:params_json;type:text;not null"`
	SubmittedAt        time.Time  `gorm:"column:submitted_at;not null"`
	StartedAt          *time.Time `gorm:"column:started_at"`
	CompletedAt        *time.Time `gorm:"column:completed_at"`
	ErrorMessage       *string    `gorm:"column:error_message;type:text"`
}

// TableName exposes the table backing jobs.
func (Job) TableName() string {
	return "jobs"
}

// Duration reports how long a finished job ran.
func (j Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

type ocrParams struct {
	VersionID string `json:"versionId"`
}

type stitchSource struct {
	VersionID  string `json:"versionId"`
	ContentRef string `json:"contentRef"`
}

// stitchParams snapshots the source content references at submission time.
type stitchParams struct {
	TargetKind archive.OwnerKind `json:"targetKind"`
	TargetID   string            `json:"targetId"`
	Sources    []stitchSource    `json:"sources"`
}

func (p stitchParams) target() archive.OwnerRef {
	return archive.OwnerRef{Kind: p.TargetKind, ID: p.TargetID}
}
