package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/log"
)

// Handler executes a callback with the provided configuration and metadata.
type Handler interface {
	Handle(ctx context.Context, cfg json.RawMessage, meta Metadata) error
}

// Metadata captures the finished job sent to callbacks.
type Metadata struct {
	JobID         uint64         `json:"job_id"`
	JobAlias      string         `json:"job_alias"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	BestCandidate string         `json:"best_candidate,omitempty"`
	BestParams    map[string]any `json:"best_params,omitempty"`
	BestScore     *float64       `json:"best_score,omitempty"`
	ArtifactRef   string         `json:"artifact_ref,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

var (
	handlerRegistry = make(map[models.CallbackType]Handler)
	registryMu      sync.RWMutex
)

// Register associates a callback type with a handler.
func Register(t models.CallbackType, h Handler) {
	if h == nil {
		panic("callback: handler must not be nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	handlerRegistry[t] = h
}

func lookupHandler(t models.CallbackType) (Handler, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := handlerRegistry[t]
	return h, ok
}

func init() {
	Register(models.CallbackTypeNotification, NewNotificationHandler(nil))
	log.Debug("callback handlers registered", "count", len(handlerRegistry))
}

// Dispatcher loads a finished job and invokes its callbacks.
type Dispatcher struct {
	jobs    *jobstate.Machine
	timeout time.Duration
}

// NewDispatcher constructs a Dispatcher reading jobs through the state machine.
func NewDispatcher(jobs *jobstate.Machine) *Dispatcher {
	if jobs == nil {
		panic("callback dispatcher requires a job state machine")
	}
	return &Dispatcher{
		jobs:    jobs,
		timeout: 10 * time.Second,
	}
}

// WithHTTPClient overrides the HTTP client used by the notification handler.
func (d *Dispatcher) WithHTTPClient(client *http.Client) {
	if client == nil {
		return
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if h, ok := handlerRegistry[models.CallbackTypeNotification]; ok {
		if n, ok := h.(*NotificationHandler); ok {
			n.client = client
		}
	}
}

// Dispatch executes the callbacks of a terminal job sequentially. Every
// callback is attempted and the failures are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uint64) error {
	dispatchCtx := context.WithoutCancel(ctx)

	job, err := d.jobs.Get(dispatchCtx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %d is %s, callbacks run on terminal jobs", jobID, job.Status)
	}
	if len(job.Callbacks) == 0 {
		return nil
	}

	meta := metadata(job)

	var errs []error
	for i, cb := range job.Callbacks {
		if err := d.invoke(dispatchCtx, cb, meta); err != nil {
			errs = append(errs, fmt.Errorf("callback %d (%s): %w", i, cb.Type, err))
		}
	}
	return errors.Join(errs...)
}

// Listen dispatches callbacks for every job that finishes on b until ctx
// is done. It returns once the subscription is in place.
func (d *Dispatcher) Listen(ctx context.Context, b event.Bus) error {
	ch, err := b.Subscribe(ctx, event.Filter{
		Types: []event.Type{event.TypeJobCompleted, event.TypeJobFailed},
	})
	if err != nil {
		return err
	}

	go func() {
		for e := range ch {
			if err := d.Dispatch(ctx, e.JobID); err != nil {
				log.Error("job callbacks failed", "job_id", e.JobID, "error", err)
			}
		}
	}()

	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, cb models.JobCallback, meta Metadata) error {
	handler, ok := lookupHandler(cb.Type)
	if !ok {
		metrics.CallbacksTotal.WithLabelValues(string(cb.Type), "error").Inc()
		return fmt.Errorf("no handler registered for callback type %q", cb.Type)
	}

	rawCfg, err := json.Marshal(cb.Configuration)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(string(cb.Type), "error").Inc()
		return fmt.Errorf("encode configuration: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err = handler.Handle(callCtx, rawCfg, meta)
	cancel()

	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(string(cb.Type), "error").Inc()
		return err
	}
	metrics.CallbacksTotal.WithLabelValues(string(cb.Type), "success").Inc()
	return nil
}

func metadata(job *models.TuningJob) Metadata {
	meta := Metadata{
		JobID:         job.ID,
		JobAlias:      job.Alias,
		Status:        string(job.Status),
		Error:         job.Error,
		BestCandidate: job.BestCandidate,
		BestScore:     job.BestScore,
		ArtifactRef:   job.ArtifactRef,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
	if len(job.BestParams) > 0 {
		meta.BestParams = map[string]any(job.BestParams)
	}
	return meta
}
