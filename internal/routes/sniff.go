package routes

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/streamsniff/streamsniff/internal/alerts"
	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/services"
	"github.com/streamsniff/streamsniff/internal/util"
)

func SniffRoutes(r chi.Router) {
	r.Post("/api/sniff", handleSniff)
	r.Get("/api/sniff/{id}", handleSniffStatus)
}

type sniffRequest struct {
	URL      string `json:"url"`
	Platform string `json:"platform"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func handleSniff(w http.ResponseWriter, r *http.Request) {
	var req sniffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, 400, map[string]string{"error": "Invalid request body"})
		return
	}

	check := util.ValidateURL(req.URL)
	if !check.Valid {
		respondJSON(w, 400, map[string]string{"error": check.Error})
		return
	}

	platform := orDefault(req.Platform, "generic")
	if _, known := config.Platforms[platform]; !known {
		respondJSON(w, 400, map[string]string{"error": "Unknown platform: " + platform})
		return
	}

	jobCheck := services.Global.CanStartJob("sniff")
	if !jobCheck.OK {
		respondJSON(w, 503, map[string]string{"error": jobCheck.Reason})
		return
	}

	jobID := uuid.New().String()
	job := &services.AsyncJob{
		Status:    "sniffing",
		Message:   "Analyzing page...",
		CreatedAt: time.Now(),
		Type:      "sniff",
		URL:       req.URL,
		Platform:  platform,
	}
	services.Global.SetAsyncJob(jobID, job)

	ctx, cancel := context.WithTimeout(context.Background(), config.SniffTimeout)
	processInfo := &services.ProcessInfo{JobType: "sniff"}
	processInfo.SetCancelFunc(cancel)
	services.Global.SetProcess(jobID, processInfo)

	if req.ClientID != "" {
		services.Global.RegisterClient(req.ClientID)
		services.Global.LinkJobToClient(jobID, req.ClientID)
	}

	var creds *services.Credentials
	if req.Username != "" {
		creds = &services.Credentials{Username: req.Username, Password: req.Password}
	}

	log.Printf("[%s] Sniffing %s page: %s", util.ShortID(jobID), platform, req.URL)

	go func() {
		defer cancel()
		defer services.Global.ReleaseJob(jobID)

		result, err := services.Sniff(ctx, platform, req.URL, creds)
		if err != nil {
			if processInfo.IsCancelled() {
				job.SetError("Sniff cancelled")
				return
			}
			log.Printf("[%s] Sniff failed: %s", util.ShortID(jobID), err)
			alerts.SniffFailed(jobID, req.URL, err)
			job.SetError(err.Error())
			return
		}

		log.Printf("[%s] Found stream: %s", util.ShortID(jobID), util.ShortID(result.StreamURL))
		job.SetSniffResult(result.StreamURL, result.Headers)
	}()

	respondJSON(w, 202, map[string]string{"jobId": jobID, "status": "sniffing"})
}

func handleSniffStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := services.Global.GetAsyncJob(id)
	if job == nil {
		respondJSON(w, 404, map[string]string{"error": "Job not found"})
		return
	}
	respondJSON(w, 200, job.Snapshot())
}
