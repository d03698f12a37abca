// Package jobstate moves tuning jobs through
// PENDING -> RUNNING -> {COMPLETED, FAILED}.
//
// Every transition is a single conditional UPDATE whose WHERE clause
// carries the expected current status, so concurrent dispatchers are
// arbitrated by the database rather than by a read-then-write.
package jobstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = errors.New("tuning job not found")
	// ErrTransitionRejected is returned when the job is not in a state
	// the requested transition may leave from.
	ErrTransitionRejected = errors.New("job status transition rejected")
)

// Outcome is recorded alongside RUNNING -> COMPLETED.
type Outcome struct {
	Candidate   string
	Params      map[string]interface{}
	Score       float64
	ArtifactRef string
}

type Machine struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Machine {
	if db == nil {
		panic("job state machine requires a database connection")
	}
	return &Machine{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying connection.
func (m *Machine) DB() *gorm.DB {
	return m.db
}

// Create inserts a new job in PENDING, whatever status the caller set.
func (m *Machine) Create(ctx context.Context, job *models.TuningJob) error {
	job.Status = models.JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	if job.Engine == "" {
		job.Engine = models.IsolationEngineProcess
	}
	return m.db.WithContext(ctx).Create(job).Error
}

func (m *Machine) Get(ctx context.Context, id uint64) (*models.TuningJob, error) {
	job := &models.TuningJob{}
	err := m.db.WithContext(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

type ListRequest struct {
	Status models.JobStatus
	Limit  int
}

func (m *Machine) List(ctx context.Context, req *ListRequest) ([]*models.TuningJob, error) {
	q := m.db.WithContext(ctx).Order("id ASC")
	if req != nil {
		if req.Status != "" {
			q = q.Where("status = ?", req.Status)
		}
		if req.Limit > 0 {
			q = q.Limit(req.Limit)
		}
	}

	jobs := make([]*models.TuningJob, 0)
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Claim attempts PENDING -> RUNNING. A false result with a nil error means
// another dispatcher already claimed the job and the caller should abandon
// it silently.
func (m *Machine) Claim(ctx context.Context, id uint64) (bool, error) {
	now := m.now()
	result := m.db.WithContext(ctx).
		Model(&models.TuningJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		log.Debug("job already claimed", "job_id", id)
		return false, nil
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(models.JobStatusRunning)).Inc()
	return true, nil
}

// Complete performs RUNNING -> COMPLETED and records the search outcome.
func (m *Machine) Complete(ctx context.Context, id uint64, out Outcome) error {
	now := m.now()
	score := out.Score
	result := m.db.WithContext(ctx).
		Model(&models.TuningJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":         models.JobStatusCompleted,
			"best_candidate": out.Candidate,
			"best_params":    datatypes.JSONMap(out.Params),
			"best_score":     &score,
			"artifact_ref":   out.ArtifactRef,
			"completed_at":   now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return m.rejection(ctx, id, models.JobStatusCompleted)
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(models.JobStatusCompleted)).Inc()
	return nil
}

// Fail moves a PENDING or RUNNING job to FAILED. Failing a job that is
// already FAILED is a no-op; failing a COMPLETED job is rejected.
func (m *Machine) Fail(ctx context.Context, id uint64, cause error) error {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}

	now := m.now()
	result := m.db.WithContext(ctx).
		Model(&models.TuningJob{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobStatusPending, models.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"error":        msg,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		metrics.JobTransitionsTotal.WithLabelValues(string(models.JobStatusFailed)).Inc()
		return nil
	}

	job, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusFailed {
		return nil
	}
	return fmt.Errorf("%w: job %d is %s, cannot become %s", ErrTransitionRejected, id, job.Status, models.JobStatusFailed)
}

func (m *Machine) rejection(ctx context.Context, id uint64, to models.JobStatus) error {
	job, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is %s, cannot become %s", ErrTransitionRejected, id, job.Status, to)
}
