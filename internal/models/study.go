package models

import (
	"time"

	"gorm.io/datatypes"
)

type TrialState string

const (
	TrialStateRunning  TrialState = "RUNNING"
	TrialStateComplete TrialState = "COMPLETE"
)

type StudyDirection string

const (
	StudyDirectionMaximize StudyDirection = "maximize"
	StudyDirectionMinimize StudyDirection = "minimize"
)

// Study groups the trials of one tuning run.
type Study struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:text;uniqueIndex;not null" json:"name"`
	Direction StudyDirection `gorm:"type:text;not null" json:"direction"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

// Trial is one train-and-score attempt. Number is unique within a study
// and assigned by storage.
type Trial struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	StudyID     uint              `gorm:"uniqueIndex:idx_trials_study_number;not null" json:"study_id"`
	Number      int               `gorm:"uniqueIndex:idx_trials_study_number;not null" json:"number"`
	State       TrialState        `gorm:"type:text;index;not null" json:"state"`
	Value       *float64          `json:"value,omitempty"`
	Seed        int64             `gorm:"not null" json:"seed"`
	Params      datatypes.JSONMap `gorm:"type:json" json:"params,omitempty"`
	StartedAt   time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
