package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pressroom/internal/domain"
)

// QuotaStatus reports per-resource quota state for a user. Unknown users
// are a 404 here; only the consumption path initializes documents.
func (a *App) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := a.Ledger.Stats(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no quota document for user")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("api: quota status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load quota")
		return
	}

	resources := map[domain.ResourceType]domain.QuotaStatus{}
	for _, resource := range []domain.ResourceType{domain.ResourceReport, domain.ResourceArticle} {
		status, err := a.Ledger.Status(r.Context(), userID, resource)
		if err != nil {
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("api: quota status failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load quota")
			return
		}
		resources[resource] = status
	}

	a.json(w, http.StatusOK, map[string]any{
		"user_id":      stats.UserID,
		"tier":         stats.Tier,
		"suspended":    stats.Suspended,
		"period_start": stats.PeriodStart,
		"period_end":   stats.PeriodEnd,
		"resources":    resources,
	})
}

// QuotaHistory lists usage-history entries for a user and period. The
// period defaults to the current calendar month.
func (a *App) QuotaHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = time.Now().UTC().Format("2006-01")
	}

	entries, err := a.Ledger.History(r.Context(), userID, period)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("api: usage history failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"period":  period,
		"entries": entries,
	})
}
