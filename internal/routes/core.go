package routes

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/services"
	"github.com/streamsniff/streamsniff/internal/util"
)

func CoreRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Post("/api/connect", handleConnect)
	r.Post("/api/heartbeat/{clientId}", handleHeartbeat)
	r.Get("/api/queue-status", handleQueueStatus)
	r.Get("/api/limits", handleLimits)
	r.Get("/api/progress/{id}", handleProgress)
	r.Post("/api/cancel/{id}", handleCancel)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, 200, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
		"queue":   services.Global.GetQueueStatus(),
	})
}

func handleConnect(w http.ResponseWriter, r *http.Request) {
	clientID := uuid.New().String()
	services.Global.RegisterClient(clientID)
	respondJSON(w, 200, map[string]string{"clientId": clientID})
}

func handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	if clientID == "" {
		respondJSON(w, 400, map[string]string{"error": "Client ID required"})
		return
	}

	services.Global.RegisterClient(clientID)
	services.Global.UpdateHeartbeat(clientID)

	session := services.Global.GetClientSession(clientID)
	activeJobs := 0
	if session != nil {
		activeJobs = len(session.ActiveJobs)
	}

	respondJSON(w, 200, map[string]interface{}{
		"success":    true,
		"activeJobs": activeJobs,
	})
}

func handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, 200, services.Global.GetQueueStatus())
}

func handleLimits(w http.ResponseWriter, r *http.Request) {
	formats := make(map[string]string, len(config.FormatPresets))
	for key, preset := range config.FormatPresets {
		formats[key] = preset.Label
	}
	respondJSON(w, 200, map[string]interface{}{
		"limits":        config.JobLimits,
		"maxConcurrent": config.MaxConcurrent,
		"formats":       formats,
		"platforms":     platformNames(),
	})
}

func platformNames() []string {
	names := make([]string, 0, len(config.Platforms))
	for name := range config.Platforms {
		names = append(names, name)
	}
	return names
}

func handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", 500)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	connected := map[string]interface{}{
		"stage":   "connected",
		"message": "Connected to progress stream",
	}
	if job := services.Global.GetAsyncJob(id); job != nil {
		snap := job.Snapshot()
		connected["stage"] = "resuming"
		connected["message"] = "Reconnected to job"
		connected["progress"] = snap["progress"]
		connected["status"] = snap["status"]
	}
	data, _ := json.Marshal(connected)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()

	dw := services.Global.RegisterDownload(id, w, flusher)
	defer services.Global.UnregisterDownload(id)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dw.WriteKeepAlive()
		case <-r.Context().Done():
			return
		}
	}
}

func handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found := false
	if services.DownloadQueue != nil && services.DownloadQueue.Cancel(id) {
		found = true
	}

	processInfo := services.Global.GetProcess(id)
	if processInfo != nil {
		log.Printf("[%s] Cancelling job...", util.ShortID(id))
		processInfo.SetCancelled(true)
		processInfo.CancelContext()
		processInfo.KillProcess()
		found = true
	}

	if !found {
		respondJSON(w, 200, map[string]interface{}{"success": false, "message": "Job not found or already completed"})
		return
	}

	if job := services.Global.GetAsyncJob(id); job != nil {
		job.SetError("Cancelled by user")
	}
	services.Global.ReleaseJob(id)
	services.Global.SendProgressSimple(id, "cancelled", "Job cancelled")

	go func() {
		time.Sleep(time.Second)
		util.CleanupJobFiles(id)
	}()

	respondJSON(w, 200, map[string]interface{}{"success": true, "message": "Job cancelled"})
}
