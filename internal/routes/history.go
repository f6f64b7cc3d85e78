package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streamsniff/streamsniff/internal/history"
)

func HistoryRoutes(r chi.Router) {
	r.Get("/api/history", handleHistory)
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := history.Default.Recent(r.Context(), limit)
	if err != nil {
		respondJSON(w, 500, map[string]string{"error": "Failed to load history"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, 200, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
