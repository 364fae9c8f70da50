package handlers

import (
	"errors"
	"net/http"

	"pressroom/internal/domain"
)

// Health probes the document store with a read for a key that never
// exists; ErrNotFound proves the store answered. Anything else is a 503.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	err := a.Docs.Get(r.Context(), "health/probe", &struct{}{})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Logger.Error().Err(err).Msg("api: health probe failed")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "document store unreachable")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
