package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
)

const maxListLimit = 500

// Reader is the read side of the ledger served over HTTP.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
	History(ctx context.Context, driveFileID string) ([]Entry, error)
}

type HTTPHandler struct {
	reader Reader
}

func NewHTTPHandler(reader Reader) *HTTPHandler {
	return &HTTPHandler{reader: reader}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/files", h.handleRecent).Methods(http.MethodGet)
	router.HandleFunc("/files/{id}", h.handleHistory).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	entries, err := h.reader.Recent(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list ledger entries")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := h.reader.History(r.Context(), id)
	if err != nil {
		logger.Log.WithError(err).WithField("file_id", id).Error("failed to fetch file history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
