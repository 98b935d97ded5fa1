/**
 * @description
 * This file provides the operational HTTP surface of the transfer-service:
 * a liveness endpoint and an internal transfer lookup for support tooling.
 * There is no participant-facing HTTP API; participants talk to the switch
 * over the bus only.
 */

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/interpay/transfer-service/internal/store"
)

// TransferHandlers holds the dependencies for the ops endpoints.
type TransferHandlers struct {
	repo           store.Repository
	internalAPIKey string
}

func NewTransferHandlers(repo store.Repository, internalAPIKey string) *TransferHandlers {
	return &TransferHandlers{repo: repo, internalAPIKey: internalAPIKey}
}

// Routes wires the ops endpoints onto a router.
func Routes(h *TransferHandlers) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/internal", func(r chi.Router) {
		r.Use(h.requireInternalAPIKey)
		r.Get("/transfers/{transferID}", h.GetTransfer)
	})
	return r
}

// requireInternalAPIKey guards internal routes with the static service key.
func (h *TransferHandlers) requireInternalAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Internal-Api-Key")
		if h.internalAPIKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.internalAPIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health reports liveness, including database connectivity.
func (h *TransferHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		log.Printf("level=error component=api msg=\"health check failed\" err=%v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetTransfer returns the stored transfer with its current state.
func (h *TransferHandlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	transfer, err := h.repo.GetByID(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transfer not found"})
			return
		}
		log.Printf("level=error component=api msg=\"transfer lookup failed\" transfer_id=%s err=%v", transferID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}
