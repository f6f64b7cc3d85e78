package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/streamsniff/streamsniff/internal/alerts"
	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/history"
	"github.com/streamsniff/streamsniff/internal/services"
	"github.com/streamsniff/streamsniff/internal/util"
)

func DownloadRoutes(r chi.Router) {
	r.Post("/api/download", handleDownload)
	r.Get("/api/file/{token}", handleFile)
}

type downloadRequest struct {
	StreamURL  string            `json:"streamUrl"`
	PageURL    string            `json:"pageUrl"`
	SniffJobID string            `json:"sniffJobId"`
	Platform   string            `json:"platform"`
	Format     string            `json:"format"`
	FileName   string            `json:"fileName"`
	Headers    map[string]string `json:"headers"`
	ClientID   string            `json:"clientId"`
}

func handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, 400, map[string]string{"error": "Invalid request body"})
		return
	}

	// A prior sniff job supplies the stream URL and headers so the client
	// doesn't have to echo a multi-KB cookie header back.
	if req.SniffJobID != "" {
		sniffJob := services.Global.GetAsyncJob(req.SniffJobID)
		if sniffJob == nil {
			respondJSON(w, 404, map[string]string{"error": "Sniff job not found or expired"})
			return
		}
		streamURL, headers := sniffJob.GetSniffResult()
		if streamURL == "" {
			respondJSON(w, 409, map[string]string{"error": "Sniff job has no stream result yet"})
			return
		}
		req.StreamURL = streamURL
		if req.Headers == nil {
			req.Headers = headers
		}
	}

	check := util.ValidateURL(req.StreamURL)
	if !check.Valid {
		respondJSON(w, 400, map[string]string{"error": check.Error})
		return
	}

	jobCheck := services.Global.CanStartJob("download")
	if !jobCheck.OK {
		respondJSON(w, 503, map[string]string{"error": jobCheck.Reason})
		return
	}

	jobID := uuid.New().String()
	job := &services.AsyncJob{
		Status:    "queued",
		Message:   "Waiting in queue...",
		CreatedAt: time.Now(),
		Type:      "download",
		URL:       req.StreamURL,
		Platform:  orDefault(req.Platform, "generic"),
	}
	services.Global.SetAsyncJob(jobID, job)

	processInfo := &services.ProcessInfo{JobType: "download"}
	services.Global.SetProcess(jobID, processInfo)

	if req.ClientID != "" {
		services.Global.RegisterClient(req.ClientID)
		services.Global.LinkJobToClient(jobID, req.ClientID)
	}

	runReq := services.DownloadRequest{
		JobID:     jobID,
		StreamURL: req.StreamURL,
		PageURL:   req.PageURL,
		Platform:  orDefault(req.Platform, "generic"),
		Format:    orDefault(req.Format, "best"),
		FileName:  req.FileName,
		Headers:   req.Headers,
	}

	position, err := services.DownloadQueue.Enqueue(jobID, func(ctx context.Context) {
		runQueuedDownload(ctx, runReq, job, processInfo)
	})
	if err != nil {
		services.Global.ReleaseJob(jobID)
		job.SetError(err.Error())
		respondJSON(w, 503, map[string]string{"error": err.Error()})
		return
	}

	if position > 0 {
		job.SetProgressAndMessage(0, fmt.Sprintf("Queued (position %d)", position))
	}
	log.Printf("[%s] Download accepted (queue position %d)", util.ShortID(jobID), position)

	respondJSON(w, 202, map[string]interface{}{
		"jobId":    jobID,
		"status":   "queued",
		"position": position,
	})
}

func runQueuedDownload(ctx context.Context, req services.DownloadRequest, job *services.AsyncJob, processInfo *services.ProcessInfo) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	processInfo.SetCancelFunc(cancel)

	defer services.Global.ReleaseJob(req.JobID)

	startedAt := time.Now()
	job.SetStatus("downloading")
	services.Global.SendProgressWithPercent(req.JobID, "downloading", "Starting download...", 0)

	outPath, engine, err := services.RunDownload(ctx, req, job, processInfo)
	if err != nil {
		if processInfo.IsCancelled() {
			job.SetError("Download cancelled")
		} else {
			log.Printf("[%s] Download failed: %s", util.ShortID(req.JobID), err)
			alerts.DownloadFailed(req.JobID, req.StreamURL, err)
			job.SetError(err.Error())
			services.Global.SendProgressSimple(req.JobID, "error", err.Error())
		}
		util.CleanupJobFiles(req.JobID)
		recordHistory(req, job, engine, startedAt, "failed", "", 0, err)
		return
	}

	info, statErr := os.Stat(outPath)
	if statErr != nil {
		job.SetError("Output file missing after download")
		services.Global.SendProgressSimple(req.JobID, "error", "Output file missing after download")
		recordHistory(req, job, engine, startedAt, "failed", "", 0, statErr)
		return
	}

	preset, ok := config.FormatPresets[req.Format]
	if !ok {
		preset = config.FormatPresets["best"]
	}
	if !preset.AudioOnly && !util.ValidateVideoFile(outPath) {
		os.Remove(outPath)
		job.SetError("Downloaded file has no video stream")
		services.Global.SendProgressSimple(req.JobID, "error", "Downloaded file has no video stream")
		recordHistory(req, job, engine, startedAt, "failed", "", 0, fmt.Errorf("no video stream in %s", filepath.Base(outPath)))
		return
	}

	token := randomToken()
	fileName := filepath.Base(outPath)
	services.Global.SetFileRef(token, &services.FileRef{
		FilePath:  outPath,
		FileName:  fileName,
		MimeType:  util.MimeForFile(outPath),
		CreatedAt: time.Now(),
	})

	job.SetComplete(token, fileName, info.Size())
	services.Global.SendProgress(req.JobID, "complete", "Download complete", float64Ptr(100), map[string]interface{}{
		"downloadToken": token,
		"fileName":      fileName,
		"fileSize":      info.Size(),
	})
	log.Printf("[%s] Complete: %s (%.2fMB, %s)", util.ShortID(req.JobID), fileName, float64(info.Size())/1024/1024, engine)

	recordHistory(req, job, engine, startedAt, "complete", fileName, info.Size(), nil)
}

func recordHistory(req services.DownloadRequest, job *services.AsyncJob, engine string, startedAt time.Time, outcome, fileName string, fileSize int64, cause error) {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	url := req.PageURL
	if url == "" {
		url = req.StreamURL
	}
	entry := history.Entry{
		JobID:      req.JobID,
		URL:        url,
		Platform:   req.Platform,
		Engine:     engine,
		Outcome:    outcome,
		FileName:   fileName,
		FileSize:   fileSize,
		Error:      errMsg,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if err := history.Default.Record(context.Background(), entry); err != nil {
		log.Printf("[History] Failed to record job %s: %s", util.ShortID(req.JobID), err)
	}
}

func handleFile(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	ref := services.Global.GetFileRef(token)
	if ref == nil {
		respondJSON(w, 404, map[string]string{"error": "File not found or link expired"})
		return
	}
	if _, err := os.Stat(ref.FilePath); err != nil {
		services.Global.DeleteFileRef(token)
		respondJSON(w, 410, map[string]string{"error": "File no longer available"})
		return
	}

	w.Header().Set("Content-Type", ref.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.FileName))
	http.ServeFile(w, r, ref.FilePath)
}

func float64Ptr(f float64) *float64 {
	return &f
}
