package model

import "time"

// Stage names the pipeline stages in their fixed order.
type Stage string

const (
	StageCohortLoad     Stage = "cohort_load"
	StageDemographics   Stage = "demographics_upsert"
	StageParticipant    Stage = "participant_management_upsert"
	StageValidation     Stage = "validation"
	StageExceptions     Stage = "exception_creation"
	StageTransformation Stage = "transformation"
	StageDistribution   Stage = "distribution_publish"
	StageComplete       Stage = "complete"
)

// FileStatus tracks per-file pipeline progress. Terminal (IsComplete) implies
// every record under the file reached a terminal per-record outcome.
type FileStatus struct {
	FileID       int64  `db:"file_id" json:"file_id"`
	Filename     string `db:"filename" json:"filename"`
	TotalRecords int    `db:"total_records" json:"total_records"`

	CohortLoaded           bool `db:"cohort_loaded" json:"cohort_loaded"`
	DemographicsLoaded     bool `db:"demographics_loaded" json:"demographics_loaded"`
	ParticipantLoaded      bool `db:"participant_loaded" json:"participant_loaded"`
	ValidationComplete     bool `db:"validation_complete" json:"validation_complete"`
	TransformationComplete bool `db:"transformation_complete" json:"transformation_complete"`
	DistributionLoaded     bool `db:"distribution_loaded" json:"distribution_loaded"`

	RecordsPassed int `db:"records_passed" json:"records_passed"`
	RecordsFailed int `db:"records_failed" json:"records_failed"`

	CurrentStage Stage      `db:"current_stage" json:"current_stage"`
	HasErrors    bool       `db:"has_errors" json:"has_errors"`
	IsComplete   bool       `db:"is_complete" json:"is_complete"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// StagesCompleted lists the stages the file has finished, in pipeline order.
func (f *FileStatus) StagesCompleted() []Stage {
	var stages []Stage
	if f.CohortLoaded {
		stages = append(stages, StageCohortLoad)
	}
	if f.DemographicsLoaded {
		stages = append(stages, StageDemographics)
	}
	if f.ParticipantLoaded {
		stages = append(stages, StageParticipant)
	}
	if f.ValidationComplete {
		stages = append(stages, StageValidation)
	}
	if f.TransformationComplete {
		stages = append(stages, StageTransformation)
	}
	if f.DistributionLoaded {
		stages = append(stages, StageDistribution)
	}
	return stages
}

// RecordStatus tracks per-record progress within one file.
type RecordStatus struct {
	FileID         int64 `db:"file_id" json:"file_id"`
	NHSNumber      int64 `db:"nhs_number" json:"nhs_number"`
	CohortRecordID int64 `db:"cohort_record_id" json:"cohort_record_id"`

	DemographicsLoaded bool  `db:"demographics_loaded" json:"demographics_loaded"`
	ParticipantLoaded  bool  `db:"participant_loaded" json:"participant_loaded"`
	ValidationPassed   *bool `db:"validation_passed" json:"validation_passed,omitempty"`
	ExceptionCount     int   `db:"exception_count" json:"exception_count"`

	TransformationApplied   bool `db:"transformation_applied" json:"transformation_applied"`
	HasTransformationErrors bool `db:"has_transformation_errors" json:"has_transformation_errors"`
	Distributed             bool `db:"distributed" json:"distributed"`

	CurrentStage Stage `db:"current_stage" json:"current_stage"`
	IsComplete   bool  `db:"is_complete" json:"is_complete"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Terminal reports whether the record reached a terminal per-record state:
// distributed, failed with an exception, or abandoned by an earlier stage.
func (r *RecordStatus) Terminal() bool {
	if r.IsComplete || r.Distributed {
		return true
	}
	return r.ValidationPassed != nil && !*r.ValidationPassed
}
