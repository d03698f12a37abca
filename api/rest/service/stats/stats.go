package stats

import (
	"context"
	"time"

	"github.com/recotune/recotune/internal/models"
	"gorm.io/gorm"
)

// StatsResponse is the top-level statistics payload.
type StatsResponse struct {
	Jobs        JobStats        `json:"jobs"`
	Candidates  []CandidateWins `json:"candidates"`
	SlowestJobs []SlowestJob    `json:"slowest_jobs"`
}

// JobStats contains aggregate job statistics.
type JobStats struct {
	Total              int64            `json:"total"`
	ByStatus           map[string]int64 `json:"by_status"`
	Recent             int64            `json:"recent"`
	SuccessRate        float64          `json:"success_rate"`
	AvgDurationSeconds float64          `json:"avg_duration_seconds"`
}

// CandidateWins counts how often a candidate won a completed search.
type CandidateWins struct {
	Candidate string   `json:"candidate"`
	Wins      int64    `json:"wins"`
	BestScore *float64 `json:"best_score"`
}

// SlowestJob describes a long running job.
type SlowestJob struct {
	JobID           uint64  `json:"job_id"`
	Alias           string  `json:"alias"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Service provides statistics queries.
type Service struct {
	ctx context.Context
	db  *gorm.DB
	now func() time.Time
}

func New(ctx context.Context, db *gorm.DB) *Service {
	return &Service{ctx: ctx, db: db, now: time.Now}
}

// durationExpr returns a SQL expression computing the difference in seconds
// between completed_at and started_at. The expression is dialect-aware:
// Postgres uses EXTRACT(EPOCH FROM ...), SQLite uses JULIANDAY arithmetic.
func (s *Service) durationExpr() string {
	if s.db.Dialector.Name() == "postgres" {
		return "EXTRACT(EPOCH FROM (completed_at - started_at))"
	}
	return "(JULIANDAY(completed_at) - JULIANDAY(started_at)) * 86400"
}

// Get computes aggregate statistics over tuning jobs.
func (s *Service) Get() (*StatsResponse, error) {
	resp := &StatsResponse{Jobs: JobStats{ByStatus: map[string]int64{}}}
	durExpr := s.durationExpr()
	db := s.db.WithContext(s.ctx)

	type statusRow struct {
		Status string
		Count  int64
	}
	var statusRows []statusRow
	if err := db.Model(&models.TuningJob{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		resp.Jobs.ByStatus[row.Status] = row.Count
		resp.Jobs.Total += row.Count
	}

	// Jobs submitted in the last 24 hours
	since := s.now().UTC().Add(-24 * time.Hour)
	if err := db.Model(&models.TuningJob{}).
		Where("created_at >= ?", since).
		Count(&resp.Jobs.Recent).Error; err != nil {
		return nil, err
	}

	completed := resp.Jobs.ByStatus[string(models.JobStatusCompleted)]
	if finished := completed + resp.Jobs.ByStatus[string(models.JobStatusFailed)]; finished > 0 {
		resp.Jobs.SuccessRate = float64(completed) / float64(finished)
	}

	var avgResult struct{ Avg *float64 }
	if err := db.Model(&models.TuningJob{}).
		Select("AVG("+durExpr+") as avg").
		Where("completed_at IS NOT NULL AND started_at IS NOT NULL").
		Scan(&avgResult).Error; err != nil {
		return nil, err
	}
	if avgResult.Avg != nil {
		resp.Jobs.AvgDurationSeconds = *avgResult.Avg
	}

	type winRow struct {
		Candidate string
		Wins      int64
		BestScore *float64
	}
	var winRows []winRow
	if err := db.Model(&models.TuningJob{}).
		Select("best_candidate as candidate, COUNT(*) as wins, MAX(best_score) as best_score").
		Where("status = ? AND best_candidate <> ''", models.JobStatusCompleted).
		Group("best_candidate").
		Order("wins DESC, candidate ASC").
		Scan(&winRows).Error; err != nil {
		return nil, err
	}
	resp.Candidates = make([]CandidateWins, 0, len(winRows))
	for _, row := range winRows {
		resp.Candidates = append(resp.Candidates, CandidateWins(row))
	}

	// Slowest jobs (up to 5)
	type slowRow struct {
		ID       uint64
		Alias    string
		Duration float64
	}
	var slowRows []slowRow
	if err := db.Model(&models.TuningJob{}).
		Select("id, alias, "+durExpr+" as duration").
		Where("completed_at IS NOT NULL AND started_at IS NOT NULL").
		Order("duration DESC").
		Limit(5).
		Scan(&slowRows).Error; err != nil {
		return nil, err
	}
	resp.SlowestJobs = make([]SlowestJob, 0, len(slowRows))
	for _, row := range slowRows {
		resp.SlowestJobs = append(resp.SlowestJobs, SlowestJob{
			JobID:           row.ID,
			Alias:           row.Alias,
			DurationSeconds: row.Duration,
		})
	}

	return resp, nil
}
