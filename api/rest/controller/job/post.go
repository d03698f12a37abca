package job

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/recotune/recotune/pkg/jobdef"
	"github.com/recotune/recotune/pkg/log"
)

// maxDefinitionSize bounds the request body of a job submission.
const maxDefinitionSize = 1 << 20

// Post accepts a job definition as YAML or JSON and queues it as PENDING.
func (ctrl *Controller) Post(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionSize))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	def, err := jobdef.Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	if err := def.CheckCandidates(ctrl.candidates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}

	j := def.Job()
	if err := ctrl.jobs.Create(c.Request().Context(), j); err != nil {
		log.Error("failed to create job", "alias", def.Metadata.Alias, "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	log.Info("created job", "job_id", j.ID, "alias", j.Alias)
	return c.JSON(http.StatusCreated, j.Redacted())
}
