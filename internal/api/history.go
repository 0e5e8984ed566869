package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/asta/histd/internal/history"
)

const maxSaveBodySize = 10 << 20 // 10MB
const maxQueryBodySize = 1 << 20 // 1MB

// HistoryService abstracts the record service for the API layer.
type HistoryService interface {
	Save(ctx context.Context, r history.Record) (history.Record, error)
	DeleteByID(ctx context.Context, id string) bool
	DeleteByUserID(ctx context.Context, userID int) int
	GetByID(ctx context.Context, id string) *history.Record
	GetByUserID(ctx context.Context, userID int) []history.Record
	GetAll(ctx context.Context) []history.Record
	GetPage(ctx context.Context, q history.Query) history.Page
	GetByTitle(ctx context.Context, title string) []history.Record
}

// NewHistoryHandler returns the /api/history routes. When scan is non-nil it
// throttles the routes that read every record.
func NewHistoryHandler(svc HistoryService, scan *rate.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Post("/save", handleSave(svc))
	r.Delete("/user/{userId}", handleDeleteByUser(svc))
	r.Get("/user/{userId}", handleListByUser(svc))

	r.Group(func(r chi.Router) {
		if scan != nil {
			r.Use(Throttle(scan))
		}
		r.Post("/page", handlePage(svc))
		r.Get("/all", handleListAll(svc))
		r.Get("/search", handleSearch(svc))
	})

	r.Get("/{id}", handleGet(svc))
	r.Delete("/{id}", handleDelete(svc))

	return r
}

func handleSave(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSaveBodySize)
		defer r.Body.Close()

		var rec history.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		saved, err := svc.Save(r.Context(), rec)
		if errors.Is(err, history.ErrInvalidRecord) {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save history: %v", err)
			return
		}

		writeData(w, saved)
	}
}

func handleDelete(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !svc.DeleteByID(r.Context(), id) {
			httpError(w, http.StatusNotFound, "history %s not found", id)
			return
		}
		writeData(w, map[string]string{"id": id})
	}
}

func handleDeleteByUser(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		n := svc.DeleteByUserID(r.Context(), userID)
		writeData(w, map[string]int{"deleted": n})
	}
}

func handleGet(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec := svc.GetByID(r.Context(), id)
		if rec == nil {
			httpError(w, http.StatusNotFound, "history %s not found", id)
			return
		}
		writeData(w, rec)
	}
}

func handleListByUser(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		writeData(w, svc.GetByUserID(r.Context(), userID))
	}
}

func handlePage(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodySize)
		defer r.Body.Close()

		var q history.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		writeData(w, svc.GetPage(r.Context(), q))
	}
}

func handleListAll(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, svc.GetAll(r.Context()))
	}
}

func handleSearch(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, svc.GetByTitle(r.Context(), r.URL.Query().Get("title")))
	}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "userId")
	id, err := strconv.Atoi(raw)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid user id %q", raw)
		return 0, false
	}
	return id, true
}
