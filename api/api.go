package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	rest "github.com/recotune/recotune/api/rest/v1"
	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/pkg/log"
)

const shutdownTimeout = 10 * time.Second

// New builds recotune's API.
func New(jobs *jobstate.Machine, bus event.Bus, candidates []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("recotune", nil).Use(e)

	// REST
	rest.Bind(e.Group("/v1"), &rest.Dependencies{
		Jobs:       jobs,
		Bus:        bus,
		Candidates: candidates,
	})

	return e
}

// Start serves e on port until ctx is done.
func Start(ctx context.Context, e *echo.Echo, port int) error {
	errs := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", port)
		errs <- e.Start(fmt.Sprintf(":%v", port))
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
