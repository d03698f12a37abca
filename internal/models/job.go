package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

const (
	DefaultCutoff          = 10
	DefaultHoldoutFraction = 0.2
)

type IsolationEngine string

const (
	IsolationEngineProcess IsolationEngine = "process"
	IsolationEngineDocker  IsolationEngine = "docker"
)

type CallbackType string

const CallbackTypeNotification CallbackType = "notification"

// JobCallback is invoked once the job reaches a terminal status.
type JobCallback struct {
	Type          CallbackType   `json:"type"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// TuningJob is one hyperparameter search over a dataset. Status is only
// ever changed through conditional updates in the jobstate package.
type TuningJob struct {
	ID                       uint64                           `gorm:"primaryKey;autoIncrement" json:"id"`
	Alias                    string                           `gorm:"type:text" json:"alias"`
	Status                   JobStatus                        `gorm:"type:text;index;not null" json:"status"`
	NTrials                  int                              `gorm:"not null" json:"n_trials"`
	MemoryBudget             int64                            `gorm:"not null" json:"memory_budget"`
	TimeoutOverallSeconds    *float64                         `json:"timeout_overall,omitempty"`
	TimeoutSingleStepSeconds *float64                         `json:"timeout_singlestep,omitempty"`
	RandomSeed               *int64                           `json:"random_seed,omitempty"`
	DataPath                 string                           `gorm:"not null" json:"data_path"`
	Cutoff                   int                              `gorm:"not null;default:10" json:"cutoff"`
	HoldoutFraction          float64                          `gorm:"not null;default:0.2" json:"holdout_fraction"`
	SplitSeed                int64                            `gorm:"not null;default:0" json:"split_seed"`
	Candidates               datatypes.JSONSlice[string]      `gorm:"type:json" json:"candidates"`
	Engine                   IsolationEngine                  `gorm:"type:text;not null;default:'process'" json:"engine"`
	Callbacks                datatypes.JSONSlice[JobCallback] `gorm:"type:json" json:"callbacks,omitempty"`
	BestCandidate            string                           `gorm:"type:text" json:"best_candidate,omitempty"`
	BestParams               datatypes.JSONMap                `gorm:"type:json" json:"best_params,omitempty"`
	BestScore                *float64                         `json:"best_score,omitempty"`
	ArtifactRef              string                           `gorm:"type:text" json:"artifact_ref,omitempty"`
	Error                    string                           `json:"error,omitempty"`
	StartedAt                *time.Time                       `json:"started_at,omitempty"`
	CompletedAt              *time.Time                       `json:"completed_at,omitempty"`
	CreatedAt                time.Time                        `gorm:"not null" json:"created_at"`
	UpdatedAt                time.Time                        `gorm:"not null" json:"updated_at"`
}

// Redacted returns a copy of j whose callback secrets and header values
// are masked, for responses leaving the process.
func (j *TuningJob) Redacted() *TuningJob {
	out := *j
	if len(j.Callbacks) == 0 {
		return &out
	}

	out.Callbacks = make(datatypes.JSONSlice[JobCallback], len(j.Callbacks))
	for i, cb := range j.Callbacks {
		cfg := make(map[string]any, len(cb.Configuration))
		for k, v := range cb.Configuration {
			switch k {
			case "secret":
				v = redacted
			case "headers":
				if headers, ok := v.(map[string]any); ok {
					masked := make(map[string]any, len(headers))
					for name := range headers {
						masked[name] = redacted
					}
					v = masked
				}
			}
			cfg[k] = v
		}
		out.Callbacks[i] = JobCallback{Type: cb.Type, Configuration: cfg}
	}
	return &out
}

const redacted = "[redacted]"

// TimeoutOverall returns the overall search budget, or zero when unset.
func (j *TuningJob) TimeoutOverall() time.Duration {
	return seconds(j.TimeoutOverallSeconds)
}

// TimeoutSingleStep returns the per-trial budget, or zero when unset.
func (j *TuningJob) TimeoutSingleStep() time.Duration {
	return seconds(j.TimeoutSingleStepSeconds)
}

func seconds(v *float64) time.Duration {
	if v == nil || *v <= 0 {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}
