package middleware

import (
	"context"

	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// RunReader loads persisted run records.
type RunReader interface {
	GetRun(ctx context.Context, id string) (store.Run, error)
}

type App struct {
	Registry *progress.Registry
	Runs     RunReader
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(registry *progress.Registry, runs RunReader) echo.MiddlewareFunc {
	app := &App{
		Registry: registry,
		Runs:     runs,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
