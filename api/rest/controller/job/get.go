package job

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/recotune/recotune/internal/jobstate"
)

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	j, err := ctrl.jobs.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, jobstate.ErrJobNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, j.Redacted())
}
