package server

import (
	"context"
	"net/http"
	"time"

	mid "github.com/sprintly/backend/internal/server/middleware"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/progress"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the status API. runs may be nil, in which case only runs held
// by registry are visible.
func New(registry *progress.Registry, runs mid.RunReader) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(registry, runs))
	e.Use(middleware.Recover())

	RegisterRoutes(e)
	return e
}

// Start serves e on port until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, e *echo.Echo, port string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting status server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown status server", "err", err)
		return err
	}
	return nil
}
