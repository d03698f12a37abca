package env

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/recotune/recotune/pkg/log"
)

var variables = new(Environment)

// Process the environment variables set for recotune.
func Process() error {
	if err := envconfig.Process("recotune", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by recotune.
type Environment struct {
	LogLevel           string        `default:"info"`
	Port               int           `default:"8080"`
	NodeID             string        `default:""` // hostname
	DatabaseType       string        `default:"sqlite"`
	DatabaseDSN        string        `default:""`
	DBPath             string        `default:"recotune.db"`
	StudyDir           string        `default:""` // os.TempDir()
	ArtifactDir        string        `default:"artifacts"`
	WorkerBinary       string        `default:""` // os.Executable()
	WorkerPoolSize     int           `default:"2"`
	WorkerPollInterval time.Duration `default:"2s"`
	TrialPollInterval  time.Duration `default:"100ms"`
	IsolationEngine    string        `default:"process"`
	WorkerImage        string        `default:"recotune/recotune:latest"`
	JanitorSchedule    string        `default:"*/30 * * * *"`
	StudyMaxAge        time.Duration `default:"24h"`
}
