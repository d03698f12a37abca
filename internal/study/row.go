package study

import (
	"fmt"
	"strings"
	"time"

	"github.com/recotune/recotune/internal/models"
)

// Row is one line of a study's trial table.
type Row struct {
	Number    int                    `json:"number"`
	State     models.TrialState      `json:"state"`
	Candidate string                 `json:"candidate"`
	Params    map[string]interface{} `json:"params"`
	Value     *float64               `json:"value,omitempty"`
	Seed      int64                  `json:"seed"`
	Duration  time.Duration          `json:"duration"`
}

// NewRow flattens a trial record. Params keep their storage keys.
func NewRow(t *models.Trial) Row {
	row := Row{
		Number: t.Number,
		State:  t.State,
		Params: make(map[string]interface{}, len(t.Params)),
		Value:  t.Value,
		Seed:   t.Seed,
	}
	for k, v := range t.Params {
		row.Params[k] = v
	}
	if name, ok := t.Params[CandidateKey].(string); ok {
		row.Candidate = name
	}
	if t.CompletedAt != nil {
		row.Duration = t.CompletedAt.Sub(t.StartedAt)
	}
	return row
}

// Key builds the storage key for a candidate's parameter.
func Key(candidate, param string) string {
	return candidate + "." + param
}

// Params builds the storage representation of a candidate choice and its
// parameters.
func Params(candidate string, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	out[CandidateKey] = candidate
	for k, v := range params {
		out[Key(candidate, k)] = v
	}
	return out
}

// Split is the inverse of Params: it pops the candidate key and strips the
// candidate prefix from the remaining keys.
func Split(stored map[string]interface{}) (string, map[string]interface{}, error) {
	candidate, ok := stored[CandidateKey].(string)
	if !ok || candidate == "" {
		return "", nil, fmt.Errorf("trial parameters have no %q entry", CandidateKey)
	}

	prefix := candidate + "."
	params := make(map[string]interface{}, len(stored)-1)
	for k, v := range stored {
		if k == CandidateKey {
			continue
		}
		params[strings.TrimPrefix(k, prefix)] = v
	}
	return candidate, params, nil
}
