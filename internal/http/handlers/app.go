package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"pressroom/internal/docstore"
	"pressroom/internal/quota"
)

// App bundles the read-only dependencies of the status surface. It only
// wraps reads over the stores; all invariants live below it.
type App struct {
	Ledger *quota.Ledger
	Docs   docstore.Store
	Logger zerolog.Logger
}

func NewApp(ledger *quota.Ledger, docs docstore.Store, logger zerolog.Logger) *App {
	return &App{Ledger: ledger, Docs: docs, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
