package trial

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/recotune/recotune/internal/candidate"
)

// Request is everything a worker process needs to run one trial. It is
// written as JSON next to the study so that it survives the process
// boundary and can be inspected after a failure.
type Request struct {
	StudyDir        string                     `json:"study_dir"`
	StudyName       string                     `json:"study_name"`
	DataPath        string                     `json:"data_path"`
	Cutoff          int                        `json:"cutoff"`
	HoldoutFraction float64                    `json:"holdout_fraction"`
	SplitSeed       int64                      `json:"split_seed"`
	Candidates      []string                   `json:"candidates"`
	Ranges          map[string]candidate.Range `json:"ranges"`
	Seed            int64                      `json:"seed"`
	MemoryBudget    int64                      `json:"memory_budget,omitempty"`
}

// Validate checks the request before any work is done.
func (r *Request) Validate() error {
	switch {
	case r.StudyDir == "" || r.StudyName == "":
		return errors.New("trial request has no study")
	case r.DataPath == "":
		return errors.New("trial request has no data path")
	case r.Cutoff <= 0:
		return fmt.Errorf("trial request cutoff must be positive, got %d", r.Cutoff)
	case len(r.Candidates) == 0:
		return errors.New("trial request has no candidates")
	}
	for _, name := range r.Candidates {
		if _, ok := r.Ranges[name]; !ok {
			return fmt.Errorf("trial request has no range for candidate %q", name)
		}
	}
	return nil
}

// Write stores the request as <dir>/request-<index>.json and returns the
// path.
func Write(dir string, index int, req *Request) (string, error) {
	raw, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("request-%d.json", index))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write trial request: %w", err)
	}
	return path, nil
}

// Read loads a request written by Write.
func Read(path string) (*Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trial request: %w", err)
	}

	req := &Request{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("decode trial request %s: %w", path, err)
	}
	return req, req.Validate()
}
