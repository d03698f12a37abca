// Package janitor removes study directories left behind by searches whose
// cleanup never ran, e.g. after the dispatcher was killed.
package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/pkg/log"
	"github.com/robfig/cron"
)

// studyDir matches <job-id>-<start>-<uuid> directories created by the
// scheduler.
var studyDir = regexp.MustCompile(`^job-\d+-\d{8}T\d{6}-(.+)$`)

type Janitor struct {
	base     string
	maxAge   time.Duration
	schedule cron.Schedule
	now      func() time.Time
}

// New parses a standard five field cron expression.
func New(base, expr string, maxAge time.Duration) (*Janitor, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("janitor: study directory is required")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("janitor: max age must be positive, got %v", maxAge)
	}

	parser := cron.NewParser(
		cron.Minute |
			cron.Hour |
			cron.Dom |
			cron.Month |
			cron.Dow,
	)

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("janitor: invalid schedule %q: %w", expr, err)
	}

	return &Janitor{
		base:     base,
		maxAge:   maxAge,
		schedule: sched,
		now:      time.Now,
	}, nil
}

// Start sweeps on schedule until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	log.Info("janitor listening", "dir", j.base, "max_age", j.maxAge)

	c := cron.New()
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Sweep(ctx); err != nil {
			log.Error("janitor sweep failure", "dir", j.base, "error", err)
		}
	}))
	c.Start()

	<-ctx.Done()
	c.Stop()
}

// Sweep removes every study directory not modified for longer than the
// max age and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.base)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !isStudyDir(entry.Name()) {
			continue
		}

		path := filepath.Join(j.base, entry.Name())
		modified, err := lastModified(path)
		if err != nil {
			log.Warn("janitor cannot inspect study", "path", path, "error", err)
			continue
		}
		if modified.After(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			log.Error("janitor cannot remove study", "path", path, "error", err)
			continue
		}
		removed++
		metrics.StudiesSweptTotal.Inc()
		log.Info("swept orphaned study", "path", path, "modified", modified)
	}

	return removed, nil
}

func isStudyDir(name string) bool {
	m := studyDir.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	_, err := uuid.Parse(m[1])
	return err == nil
}

// lastModified is the newest modification time of the directory and its
// direct children.
func lastModified(dir string) (time.Time, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	latest := info.ModTime()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, nil
}
