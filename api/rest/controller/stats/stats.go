package stats

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/recotune/recotune/api/rest/service/stats"
	"gorm.io/gorm"
)

type Controller struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Controller {
	return &Controller{db: db}
}

// Get returns aggregated job statistics.
func (ctrl *Controller) Get(c echo.Context) error {
	resp, err := stats.New(c.Request().Context(), ctrl.db).Get()
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}
	return c.JSON(http.StatusOK, resp)
}
