package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sprintly/backend/internal/server/middleware"
	"github.com/sprintly/backend/internal/server/util"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

type runParams struct {
	ID    string `param:"id" validate:"required"`
	Stage string `query:"stage" validate:"omitempty,oneof=ingest resolve enrich embed commit mirror"`
}

// lookupRun fetches the live tracker and the persisted record for id.
// Either may be nil; a missing record is not an error.
func lookupRun(c echo.Context, id string) (*progress.Tracker, *store.Run, error) {
	app := c.(*middleware.AppContext).App

	tracker, _ := app.Registry.Get(id)
	if app.Runs == nil {
		return tracker, nil, nil
	}
	record, err := app.Runs.GetRun(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return tracker, nil, nil
	}
	if err != nil {
		return tracker, nil, err
	}
	return tracker, &record, nil
}

// GetActiveRunsHandler lists the runs held in memory by this worker.
func GetActiveRunsHandler(c echo.Context) error {
	type activeRun struct {
		RunID   string            `json:"run_id"`
		Done    bool              `json:"done"`
		Current progress.Snapshot `json:"current"`
	}

	registry := c.(*middleware.AppContext).App.Registry
	runs := make([]activeRun, 0)
	for _, id := range registry.RunIDs() {
		t, ok := registry.Get(id)
		if !ok {
			continue
		}
		runs = append(runs, activeRun{RunID: id, Done: t.Done(), Current: t.Current()})
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRunHandler reports per-stage progress of a run.
func GetRunHandler(c echo.Context) error {
	type runResponse struct {
		RunID          string              `json:"run_id"`
		Status         string              `json:"status"`
		ActiveStage    progress.Stage      `json:"active_stage,omitempty"`
		ElapsedSeconds float64             `json:"elapsed_seconds,omitempty"`
		Stages         []progress.Snapshot `json:"stages,omitempty"`
		Attempts       int                 `json:"attempts,omitempty"`
		Error          string              `json:"error,omitempty"`
		Errors         []string            `json:"errors,omitempty"`
	}

	params := new(runParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	tracker, record, err := lookupRun(c, params.ID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if tracker == nil && record == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}

	res := runResponse{
		RunID:  params.ID,
		Status: util.RunStatus(tracker, record),
	}
	if record != nil {
		res.Attempts = record.Attempts
		res.Error = record.Error
	}
	if tracker != nil {
		res.ActiveStage = tracker.ActiveStage()
		res.ElapsedSeconds = tracker.Elapsed().Seconds()
		res.Errors = tracker.Errors()
		if params.Stage != "" {
			res.Stages = []progress.Snapshot{tracker.Snapshot(progress.Stage(params.Stage))}
		} else {
			res.Stages = tracker.Snapshots()
		}
	}

	return c.JSON(http.StatusOK, res)
}

// GetRunSummaryHandler returns the final report of a run. The persisted
// summary carries reconciliation candidates and is preferred; a live tracker
// yields the counts reached so far.
func GetRunSummaryHandler(c echo.Context) error {
	type summaryResponse struct {
		RunID   string          `json:"run_id"`
		Status  string          `json:"status"`
		Partial bool            `json:"partial"`
		Summary json.RawMessage `json:"summary"`
	}

	params := new(runParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	tracker, record, err := lookupRun(c, params.ID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	res := summaryResponse{RunID: params.ID, Status: util.RunStatus(tracker, record)}
	switch {
	case (tracker == nil || tracker.Done()) && record != nil && len(record.Summary) > 0:
		res.Summary = record.Summary
	case tracker != nil:
		data, err := json.Marshal(tracker.Summary())
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		res.Summary = data
		res.Partial = !tracker.Done()
	default:
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Summary not available"})
	}

	return c.JSON(http.StatusOK, res)
}
