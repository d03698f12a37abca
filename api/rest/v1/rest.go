package rest

import (
	"github.com/labstack/echo/v4"
	"github.com/recotune/recotune/api/rest/bind"
	"github.com/recotune/recotune/api/rest/controller/event"
	"github.com/recotune/recotune/api/rest/controller/job"
	"github.com/recotune/recotune/api/rest/controller/stats"
	ievent "github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
)

// Dependencies are shared by the REST controllers.
type Dependencies struct {
	Jobs       *jobstate.Machine
	Bus        ievent.Bus
	Candidates []string
}

// Bind the REST endpoints to the versioned endpoint group.
func Bind(group *echo.Group, deps *Dependencies) {
	bind.Public(group, &bind.Controllers{
		Jobs:   job.New(deps.Jobs, deps.Candidates),
		Events: event.New(deps.Bus),
		Stats:  stats.New(deps.Jobs.DB()),
	})
}
