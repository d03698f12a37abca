// Package artifact trains the winning configuration of a search on the
// full dataset and persists it as a directory with a JSON manifest and the
// top-K recommendations of every user.
package artifact

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/pkg/log"
)

const (
	ManifestFile        = "manifest.json"
	RecommendationsFile = "recommendations.csv"
)

// Request describes the model to build.
type Request struct {
	JobID     uint64
	Candidate string
	Params    map[string]interface{}
	Score     float64
	// Seed is the seed of the trial that produced Params. JobSeed is the
	// base seed of the search and is only recorded.
	Seed      int64
	JobSeed   int64
	Cutoff    int
	Data      *recommend.Dataset
}

// Manifest is the JSON description written next to the recommendations.
type Manifest struct {
	JobID        uint64                 `json:"job_id"`
	Candidate    string                 `json:"candidate"`
	Params       map[string]interface{} `json:"params"`
	Score        float64                `json:"score"`
	Seed         int64                  `json:"seed"`
	JobSeed      int64                  `json:"job_seed"`
	Cutoff       int                    `json:"cutoff"`
	Users        int                    `json:"users"`
	Items        int                    `json:"items"`
	Interactions int                    `json:"interactions"`
	TrainedAt    time.Time              `json:"trained_at"`
}

// Trainer writes artifacts under a base directory.
type Trainer struct {
	dir      string
	registry *candidate.Registry
	now      func() time.Time
}

func NewTrainer(dir string, registry *candidate.Registry) *Trainer {
	return &Trainer{
		dir:      dir,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Train fits the model and returns the artifact directory. A previous
// artifact of the same job is replaced only once the new one is complete.
func (t *Trainer) Train(ctx context.Context, req *Request) (string, error) {
	if req.Data == nil {
		return "", errors.New("artifact: dataset is required")
	}
	if req.Cutoff <= 0 {
		return "", fmt.Errorf("artifact: cutoff must be positive, got %d", req.Cutoff)
	}
	c, ok := t.registry.Get(req.Candidate)
	if !ok {
		return "", fmt.Errorf("artifact: unknown candidate %q", req.Candidate)
	}

	model, err := c.Train(ctx, req.Data, req.Params, req.Seed)
	if err != nil {
		return "", fmt.Errorf("train final %s model: %w", req.Candidate, err)
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(t.dir, ".staging-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	manifest := Manifest{
		JobID:        req.JobID,
		Candidate:    req.Candidate,
		Params:       req.Params,
		Score:        req.Score,
		Seed:         req.Seed,
		JobSeed:      req.JobSeed,
		Cutoff:       req.Cutoff,
		Users:        req.Data.NumUsers(),
		Items:        req.Data.NumItems(),
		Interactions: req.Data.NumInteractions(),
		TrainedAt:    t.now(),
	}
	if err := writeManifest(filepath.Join(staging, ManifestFile), &manifest); err != nil {
		return "", err
	}
	if err := writeRecommendations(ctx, filepath.Join(staging, RecommendationsFile), model, req.Data, req.Cutoff); err != nil {
		return "", err
	}

	final := filepath.Join(t.dir, fmt.Sprintf("job-%d", req.JobID))
	if err := os.RemoveAll(final); err != nil {
		return "", err
	}
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	log.Info("artifact written", "job_id", req.JobID, "candidate", req.Candidate, "path", final)
	return final, nil
}

// ReadManifest loads the manifest of an artifact directory.
func ReadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func writeManifest(path string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func writeRecommendations(ctx context.Context, path string, model recommend.Model, data *recommend.Dataset, k int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return recommendations(ctx, f, model, data, k)
}

// recommendations writes the top k unseen items of every user as CSV.
func recommendations(ctx context.Context, out io.Writer, model recommend.Model, data *recommend.Dataset, k int) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"user", "rank", "item", "score"}); err != nil {
		return err
	}

	for u := 0; u < data.NumUsers(); u++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		scores := model.Scores(u)
		for rank, i := range recommend.TopK(scores, k, data.UserItems(u)) {
			if err := w.Write([]string{
				data.User(u),
				strconv.Itoa(rank + 1),
				data.Item(i),
				strconv.FormatFloat(scores[i], 'g', -1, 64),
			}); err != nil {
				return err
			}
		}
	}

	w.Flush()
	return w.Error()
}
