package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pressroom/internal/domain"
	"pressroom/internal/orchestrator"
)

// Runs lists stored batch run summaries for a user.
func (a *App) Runs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	runs, err := orchestrator.ListRuns(r.Context(), a.Docs, userID)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("api: run history failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load runs")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"runs":    runs,
	})
}

// RunDetail returns one batch run summary with per-item outcomes.
func (a *App) RunDetail(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	runID := chi.URLParam(r, "runID")

	run, err := orchestrator.GetRun(r.Context(), a.Docs, userID, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		a.Logger.Error().Err(err).Str("run_id", runID).Msg("api: run detail failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load run")
		return
	}

	a.json(w, http.StatusOK, run)
}
