package job

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/models"
)

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	jobs, err := ctrl.jobs.List(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	out := make([]*models.TuningJob, len(jobs))
	for i, j := range jobs {
		out[i] = j.Redacted()
	}
	return c.JSON(http.StatusOK, out)
}

func parseListRequest(c echo.Context) (req *jobstate.ListRequest, err error) {
	req = &jobstate.ListRequest{}

	if status := c.QueryParam("status"); status != "" {
		req.Status = models.JobStatus(strings.ToUpper(status))
		switch req.Status {
		case models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
		default:
			return nil, fmt.Errorf("unknown status %q", status)
		}
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.Atoi(limit); err != nil {
			return nil, err
		}
		if req.Limit < 0 {
			return nil, fmt.Errorf("limit must not be negative")
		}
	}

	return
}
