// Package study persists the trials of one tuning run in a sqlite file
// shared between the scheduler and its worker processes. Because the
// handoff is a file rather than memory, a worker killed mid-trial cannot
// lose trials that completed before it.
package study

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FileName is the sqlite file inside a study directory.
const FileName = "study.db"

// CandidateKey is the categorical parameter naming the trial's candidate.
const CandidateKey = "candidate"

var (
	// ErrTrialFinished is returned when a value or state is written to a
	// trial that already has one. Nothing is changed.
	ErrTrialFinished = errors.New("trial already finished")
	// ErrStudySchemaConflict is returned when a study name is reused with
	// a different direction.
	ErrStudySchemaConflict = errors.New("study exists with a conflicting schema")
	ErrStudyNotFound       = errors.New("study not found")
	ErrTrialNotFound       = errors.New("trial not found")
	ErrNoCompletedTrial    = errors.New("study has no completed trial with a value")
)

type Storage struct {
	dir string
	db  *gorm.DB
	now func() time.Time
}

// Init creates a study directory and its schema.
func Init(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create study dir: %w", err)
	}
	return open(dir)
}

// Open attaches to an existing study directory created by Init.
func Open(dir string) (*Storage, error) {
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		return nil, fmt.Errorf("open study storage %s: %w", dir, err)
	}
	return open(dir)
}

func open(dir string) (*Storage, error) {
	gdb, err := db.Open(db.TypeSQLite, filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(models.StudyAll...); err != nil {
		db.Close(gdb)
		return nil, fmt.Errorf("migrate study storage: %w", err)
	}

	return &Storage{
		dir: dir,
		db:  gdb,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Dir returns the directory backing the storage.
func (s *Storage) Dir() string {
	return s.dir
}

// Close releases the database handle without removing anything.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Destroy closes the storage and deletes its directory.
func (s *Storage) Destroy() error {
	closeErr := s.Close()
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove study dir %s: %w", s.dir, err)
	}
	return closeErr
}

// Create registers a study. It is idempotent for the same name and
// direction.
func (s *Storage) Create(ctx context.Context, name string, direction models.StudyDirection) (*models.Study, error) {
	st := &models.Study{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(st, "name = ?", name).Error
		if err == nil {
			if st.Direction != direction {
				return fmt.Errorf("%w: %s is %s, requested %s", ErrStudySchemaConflict, name, st.Direction, direction)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		*st = models.Study{Name: name, Direction: direction, CreatedAt: s.now()}
		return tx.Create(st).Error
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewTrial appends a RUNNING trial with the next number in the study.
func (s *Storage) NewTrial(ctx context.Context, name string, seed int64) (*models.Trial, error) {
	trial := &models.Trial{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := findStudy(tx, name)
		if err != nil {
			return err
		}

		var next int
		if err := tx.Model(&models.Trial{}).
			Where("study_id = ?", st.ID).
			Select("COALESCE(MAX(number) + 1, 0)").
			Scan(&next).Error; err != nil {
			return err
		}

		*trial = models.Trial{
			StudyID:   st.ID,
			Number:    next,
			State:     models.TrialStateRunning,
			Seed:      seed,
			Params:    datatypes.JSONMap{},
			StartedAt: s.now(),
		}
		return tx.Create(trial).Error
	})
	if err != nil {
		return nil, err
	}
	return trial, nil
}

// SetParams records the parameters of a RUNNING trial.
func (s *Storage) SetParams(ctx context.Context, trialID uint, params map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.Trial{}).
		Where("id = ? AND state = ?", trialID, models.TrialStateRunning).
		Update("params", datatypes.JSONMap(params))
	return s.conditional(ctx, result, trialID)
}

// SetValue records the score of a RUNNING trial that has none yet.
func (s *Storage) SetValue(ctx context.Context, trialID uint, value float64) error {
	result := s.db.WithContext(ctx).
		Model(&models.Trial{}).
		Where("id = ? AND state = ? AND value IS NULL", trialID, models.TrialStateRunning).
		Update("value", value)
	return s.conditional(ctx, result, trialID)
}

// SetState moves a RUNNING trial to state. Only COMPLETE is accepted.
func (s *Storage) SetState(ctx context.Context, trialID uint, state models.TrialState) error {
	if state != models.TrialStateComplete {
		return fmt.Errorf("unsupported trial state transition to %s", state)
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Trial{}).
		Where("id = ? AND state = ?", trialID, models.TrialStateRunning).
		Updates(map[string]interface{}{
			"state":        state,
			"completed_at": now,
		})
	return s.conditional(ctx, result, trialID)
}

func (s *Storage) conditional(ctx context.Context, result *gorm.DB, trialID uint) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trial{}).Where("id = ?", trialID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %d", ErrTrialNotFound, trialID)
	}
	return fmt.Errorf("%w: %d", ErrTrialFinished, trialID)
}

// Best returns the COMPLETE trial with the best value in the study's
// direction. Ties go to the earliest trial.
func (s *Storage) Best(ctx context.Context, name string) (*models.Trial, error) {
	st, err := findStudy(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}

	order := "value DESC"
	if st.Direction == models.StudyDirectionMinimize {
		order = "value ASC"
	}

	trial := &models.Trial{}
	err = s.db.WithContext(ctx).
		Where("study_id = ? AND state = ? AND value IS NOT NULL", st.ID, models.TrialStateComplete).
		Order(order).
		Order("number ASC").
		First(trial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCompletedTrial, name)
	}
	if err != nil {
		return nil, err
	}
	return trial, nil
}

// Running returns the most recent RUNNING trial, or nil if there is none.
func (s *Storage) Running(ctx context.Context, name string) (*models.Trial, error) {
	st, err := findStudy(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}

	trial := &models.Trial{}
	err = s.db.WithContext(ctx).
		Where("study_id = ? AND state = ?", st.ID, models.TrialStateRunning).
		Order("number DESC").
		First(trial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return trial, nil
}

// Trials returns every trial of the study ordered by number.
func (s *Storage) Trials(ctx context.Context, name string) ([]*models.Trial, error) {
	st, err := findStudy(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}

	trials := make([]*models.Trial, 0)
	if err := s.db.WithContext(ctx).
		Where("study_id = ?", st.ID).
		Order("number ASC").
		Find(&trials).Error; err != nil {
		return nil, err
	}
	return trials, nil
}

// All returns the study's trial table.
func (s *Storage) All(ctx context.Context, name string) ([]Row, error) {
	trials, err := s.Trials(ctx, name)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(trials))
	for _, t := range trials {
		rows = append(rows, NewRow(t))
	}
	return rows, nil
}

func findStudy(tx *gorm.DB, name string) (*models.Study, error) {
	st := &models.Study{}
	err := tx.First(st, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
