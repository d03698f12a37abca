package bind

import (
	"github.com/labstack/echo/v4"
	"github.com/recotune/recotune/api/rest/controller/event"
	"github.com/recotune/recotune/api/rest/controller/job"
	"github.com/recotune/recotune/api/rest/controller/stats"
)

type Controllers struct {
	Jobs   *job.Controller
	Events *event.Controller
	Stats  *stats.Controller
}

func Public(g *echo.Group, ctrl *Controllers) {
	// jobs
	{
		g.GET("/jobs", ctrl.Jobs.List)
		g.GET("/jobs/:id", ctrl.Jobs.Get)
		g.POST("/jobs", ctrl.Jobs.Post)
	}

	// events
	g.GET("/events", ctrl.Events.Stream)

	// stats
	g.GET("/stats", ctrl.Stats.Get)
}
