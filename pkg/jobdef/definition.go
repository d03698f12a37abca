package jobdef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/recotune/recotune/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

const (
	APIVersionV1  = "v1"
	KindTuningJob = "TuningJob"

	CallbackNotification = string(models.CallbackTypeNotification)

	EngineProcess = string(models.IsolationEngineProcess)
	EngineDocker  = string(models.IsolationEngineDocker)
)

// Definition models the root job document.
type Definition struct {
	Schema     string     `yaml:"$schema,omitempty" json:"$schema,omitempty"`
	APIVersion string     `yaml:"apiVersion" json:"apiVersion"`
	Kind       string     `yaml:"kind" json:"kind"`
	Metadata   Metadata   `yaml:"metadata" json:"metadata"`
	Spec       Spec       `yaml:"spec" json:"spec"`
	Callbacks  []Callback `yaml:"callbacks,omitempty" json:"callbacks,omitempty"`
}

// Metadata contains descriptive data for the job.
type Metadata struct {
	Alias string `yaml:"alias" json:"alias"`
}

// Callback defines a job callback fired when the job finishes.
type Callback struct {
	Type          string         `yaml:"type" json:"type"`
	Configuration map[string]any `yaml:"configuration" json:"configuration"`
}

// Spec holds the search settings.
type Spec struct {
	Data         string     `yaml:"data" json:"data"`
	Trials       int        `yaml:"trials" json:"trials"`
	MemoryBudget Bytes      `yaml:"memoryBudget" json:"memoryBudget"`
	Timeout      Timeout    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Seed         *int64     `yaml:"seed,omitempty" json:"seed,omitempty"`
	Candidates   []string   `yaml:"candidates,omitempty" json:"candidates,omitempty"`
	Evaluation   Evaluation `yaml:"evaluation,omitempty" json:"evaluation,omitempty"`
	Engine       string     `yaml:"engine,omitempty" json:"engine,omitempty"`
}

// Timeout bounds the search. Zero means unbounded.
type Timeout struct {
	Overall    Duration `yaml:"overall,omitempty" json:"overall,omitempty"`
	SingleStep Duration `yaml:"singleStep,omitempty" json:"singleStep,omitempty"`
}

type Evaluation struct {
	Cutoff    int     `yaml:"cutoff,omitempty" json:"cutoff,omitempty"`
	Holdout   float64 `yaml:"holdout,omitempty" json:"holdout,omitempty"`
	SplitSeed int64   `yaml:"splitSeed,omitempty" json:"splitSeed,omitempty"`
}

// Bytes accepts either a plain byte count or a size such as "512MiB".
type Bytes int64

func (b *Bytes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: memory size must be a scalar", value.Line)
	}
	n, err := units.RAMInBytes(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = Bytes(n)
	return nil
}

func (b Bytes) MarshalYAML() (interface{}, error) {
	return units.BytesSize(float64(b)), nil
}

// Duration accepts Go duration strings ("90s", "1h30m") or plain seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}

	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(seconds * float64(time.Second))
		return nil
	}

	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Parse parses YAML bytes into a Definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("job definition is empty")
		}
		return nil, err
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate performs semantic validation on the definition and fills in
// defaults.
func (d *Definition) Validate() error {
	if d.APIVersion != APIVersionV1 {
		return fmt.Errorf("unsupported apiVersion: %s", d.APIVersion)
	}
	if d.Kind != KindTuningJob {
		return fmt.Errorf("unsupported kind: %s", d.Kind)
	}
	if strings.TrimSpace(d.Metadata.Alias) == "" {
		return fmt.Errorf("metadata.alias is required")
	}
	if err := validateCallbacks(d.Callbacks); err != nil {
		return err
	}
	return validateSpec(&d.Spec)
}

func validateCallbacks(callbacks []Callback) error {
	for i, cb := range callbacks {
		if cb.Type != CallbackNotification {
			return fmt.Errorf("callbacks[%d].type must be %s", i, CallbackNotification)
		}
		if len(cb.Configuration) == 0 {
			return fmt.Errorf("callbacks[%d].configuration is required", i)
		}
		url, _ := cb.Configuration["url"].(string)
		webhook, _ := cb.Configuration["webhook_url"].(string)
		if strings.TrimSpace(url) == "" && strings.TrimSpace(webhook) == "" {
			return fmt.Errorf("callbacks[%d].configuration requires url or webhook_url", i)
		}
	}
	return nil
}

func validateSpec(s *Spec) error {
	if strings.TrimSpace(s.Data) == "" {
		return fmt.Errorf("spec.data is required")
	}
	if s.Trials < 1 {
		return fmt.Errorf("spec.trials must be at least 1")
	}
	if s.MemoryBudget <= 0 {
		return fmt.Errorf("spec.memoryBudget must be positive")
	}
	if s.Timeout.Overall < 0 {
		return fmt.Errorf("spec.timeout.overall must not be negative")
	}
	if s.Timeout.SingleStep < 0 {
		return fmt.Errorf("spec.timeout.singleStep must not be negative")
	}

	seen := make(map[string]struct{}, len(s.Candidates))
	for i, name := range s.Candidates {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("spec.candidates[%d] is empty", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate candidate %q", name)
		}
		seen[name] = struct{}{}
	}

	if s.Evaluation.Cutoff < 0 {
		return fmt.Errorf("spec.evaluation.cutoff must be positive")
	}
	if s.Evaluation.Cutoff == 0 {
		s.Evaluation.Cutoff = models.DefaultCutoff
	}
	if s.Evaluation.Holdout == 0 {
		s.Evaluation.Holdout = models.DefaultHoldoutFraction
	}
	if s.Evaluation.Holdout <= 0 || s.Evaluation.Holdout >= 1 {
		return fmt.Errorf("spec.evaluation.holdout must be in (0, 1)")
	}

	switch s.Engine {
	case "":
		s.Engine = EngineProcess
	case EngineProcess, EngineDocker:
	default:
		return fmt.Errorf("spec.engine must be one of [%s,%s]", EngineProcess, EngineDocker)
	}
	return nil
}

// CheckCandidates rejects candidate names outside known.
func (d *Definition) CheckCandidates(known []string) error {
	for _, name := range d.Spec.Candidates {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown candidate %q, expected one of %v", name, known)
		}
	}
	return nil
}

// Job converts the definition into a PENDING tuning job.
func (d *Definition) Job() *models.TuningJob {
	s := d.Spec
	job := &models.TuningJob{
		Alias:           d.Metadata.Alias,
		Status:          models.JobStatusPending,
		NTrials:         s.Trials,
		MemoryBudget:    int64(s.MemoryBudget),
		RandomSeed:      s.Seed,
		DataPath:        s.Data,
		Cutoff:          s.Evaluation.Cutoff,
		HoldoutFraction: s.Evaluation.Holdout,
		SplitSeed:       s.Evaluation.SplitSeed,
		Candidates:      datatypes.JSONSlice[string](s.Candidates),
		Engine:          models.IsolationEngine(s.Engine),
	}
	for _, cb := range d.Callbacks {
		job.Callbacks = append(job.Callbacks, models.JobCallback{
			Type:          models.CallbackType(cb.Type),
			Configuration: cb.Configuration,
		})
	}
	if s.Timeout.Overall > 0 {
		v := time.Duration(s.Timeout.Overall).Seconds()
		job.TimeoutOverallSeconds = &v
	}
	if s.Timeout.SingleStep > 0 {
		v := time.Duration(s.Timeout.SingleStep).Seconds()
		job.TimeoutSingleStepSeconds = &v
	}
	return job
}
