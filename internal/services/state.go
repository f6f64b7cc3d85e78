package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

type ProcessInfo struct {
	mu         sync.Mutex
	cancelled  bool
	cmd        *exec.Cmd
	cancelFunc func()
	JobType    string
}

func (p *ProcessInfo) SetCancelled(v bool) {
	p.mu.Lock()
	p.cancelled = v
	p.mu.Unlock()
}

func (p *ProcessInfo) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *ProcessInfo) SetCmd(c *exec.Cmd) {
	p.mu.Lock()
	p.cmd = c
	p.mu.Unlock()
}

// SetCancelFunc installs the context cancel for this job. Guarded because a
// download's context is only created once the queue starts the task, after
// the ProcessInfo is already visible to cancel handlers.
func (p *ProcessInfo) SetCancelFunc(f func()) {
	p.mu.Lock()
	p.cancelFunc = f
	p.mu.Unlock()
}

// CancelContext invokes the installed cancel func, if any. The func is
// called outside the lock; context cancels are idempotent.
func (p *ProcessInfo) CancelContext() {
	p.mu.Lock()
	f := p.cancelFunc
	p.mu.Unlock()
	if f != nil {
		f()
	}
}

func (p *ProcessInfo) KillProcess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

func (p *ProcessInfo) SignalProcess(sig os.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Signal(sig)
	}
}

type ClientSession struct {
	LastHeartbeat time.Time
	LastActivity  time.Time
	ActiveJobs    map[string]bool
}

// AsyncJob is the polled record for sniff and download jobs.
type AsyncJob struct {
	mu            sync.RWMutex
	Status        string    `json:"status"`
	Progress      float64   `json:"progress"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"-"`
	Type          string    `json:"type,omitempty"`
	URL           string    `json:"url,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	Engine        string    `json:"engine,omitempty"`
	Error         string    `json:"error,omitempty"`
	DownloadToken string    `json:"downloadToken,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	Speed         string    `json:"speed,omitempty"`
	ETA           string    `json:"eta,omitempty"`

	// Sniff outcome, consumed by a follow-up download request.
	StreamURL string            `json:"streamUrl,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func (j *AsyncJob) SetStatus(status string) {
	j.mu.Lock()
	j.Status = status
	j.mu.Unlock()
}

func (j *AsyncJob) SetProgressAndMessage(progress float64, message string) {
	j.mu.Lock()
	j.Progress = progress
	j.Message = message
	j.mu.Unlock()
}

func (j *AsyncJob) SetSpeedETA(speed, eta string) {
	j.mu.Lock()
	j.Speed = speed
	j.ETA = eta
	j.mu.Unlock()
}

func (j *AsyncJob) SetEngine(engine string) {
	j.mu.Lock()
	j.Engine = engine
	j.mu.Unlock()
}

func (j *AsyncJob) SetError(errMsg string) {
	j.mu.Lock()
	j.Status = "error"
	j.Error = errMsg
	j.mu.Unlock()
}

func (j *AsyncJob) SetSniffResult(streamURL string, headers map[string]string) {
	j.mu.Lock()
	j.Status = "complete"
	j.Progress = 100
	j.StreamURL = streamURL
	j.Headers = headers
	j.mu.Unlock()
}

func (j *AsyncJob) SetComplete(token, fileName string, fileSize int64) {
	j.mu.Lock()
	j.Status = "complete"
	j.Progress = 100
	j.DownloadToken = token
	j.FileName = fileName
	j.FileSize = fileSize
	j.mu.Unlock()
}

func (j *AsyncJob) Snapshot() map[string]interface{} {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := map[string]interface{}{
		"status":   j.Status,
		"progress": j.Progress,
		"message":  j.Message,
		"type":     j.Type,
	}
	if j.Error != "" {
		snap["error"] = j.Error
	}
	if j.StreamURL != "" {
		snap["streamUrl"] = j.StreamURL
		snap["headers"] = j.Headers
	}
	if j.DownloadToken != "" {
		snap["downloadToken"] = j.DownloadToken
		snap["fileName"] = j.FileName
		snap["fileSize"] = j.FileSize
	}
	if j.Engine != "" {
		snap["engine"] = j.Engine
	}
	if j.Speed != "" {
		snap["speed"] = j.Speed
		snap["eta"] = j.ETA
	}
	return snap
}

func (j *AsyncJob) GetStatus() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

func (j *AsyncJob) GetSniffResult() (string, map[string]string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.StreamURL, j.Headers
}

type FileRef struct {
	FilePath  string
	FileName  string
	MimeType  string
	CreatedAt time.Time
}

type DownloadWriter struct {
	mu      sync.Mutex
	W       http.ResponseWriter
	Flusher http.Flusher
}

func (dw *DownloadWriter) Write(data []byte) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	fmt.Fprintf(dw.W, "data: %s\n\n", data)
	dw.Flusher.Flush()
}

func (dw *DownloadWriter) WriteKeepAlive() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	fmt.Fprintf(dw.W, ": keepalive\n\n")
	dw.Flusher.Flush()
}

type State struct {
	muDownloads     sync.RWMutex
	activeDownloads map[string]*DownloadWriter

	muProcesses     sync.Mutex
	activeProcesses map[string]*ProcessInfo

	muJobs     sync.Mutex
	jobsByType map[string]int

	muSessions  sync.Mutex
	sessions    map[string]*ClientSession
	jobToClient map[string]string

	muAsync   sync.RWMutex
	asyncJobs map[string]*AsyncJob

	muFileRefs sync.Mutex
	fileRefs   map[string]*FileRef

	muProgress     sync.Mutex
	lastLoggedProg map[string]float64
}

var Global *State

func init() {
	Global = &State{
		activeDownloads: make(map[string]*DownloadWriter),
		activeProcesses: make(map[string]*ProcessInfo),
		jobsByType: map[string]int{
			"sniff":    0,
			"download": 0,
		},
		sessions:       make(map[string]*ClientSession),
		jobToClient:    make(map[string]string),
		asyncJobs:      make(map[string]*AsyncJob),
		fileRefs:       make(map[string]*FileRef),
		lastLoggedProg: make(map[string]float64),
	}
}

func (s *State) RegisterDownload(id string, w http.ResponseWriter, f http.Flusher) *DownloadWriter {
	dw := &DownloadWriter{W: w, Flusher: f}
	s.muDownloads.Lock()
	s.activeDownloads[id] = dw
	s.muDownloads.Unlock()
	return dw
}

func (s *State) UnregisterDownload(id string) {
	s.muDownloads.Lock()
	delete(s.activeDownloads, id)
	s.muDownloads.Unlock()
}

func (s *State) SetProcess(id string, info *ProcessInfo) {
	s.muProcesses.Lock()
	s.activeProcesses[id] = info
	s.muProcesses.Unlock()
}

func (s *State) GetProcess(id string) *ProcessInfo {
	s.muProcesses.Lock()
	defer s.muProcesses.Unlock()
	return s.activeProcesses[id]
}

func (s *State) DeleteProcess(id string) {
	s.muProcesses.Lock()
	delete(s.activeProcesses, id)
	s.muProcesses.Unlock()
}

type JobCheck struct {
	OK     bool
	Reason string
}

func (s *State) CanStartJob(jobType string) JobCheck {
	s.muJobs.Lock()
	defer s.muJobs.Unlock()

	limit, exists := config.JobLimits[jobType]
	if exists && s.jobsByType[jobType] >= limit {
		return JobCheck{false, fmt.Sprintf("Too many active %s jobs (limit: %d)", jobType, limit)}
	}

	availGB := diskSpaceGB()
	if availGB < float64(config.DiskSpaceMinGB) {
		return JobCheck{false, fmt.Sprintf("Low disk space (%.1fGB free, need %dGB)", availGB, config.DiskSpaceMinGB)}
	}

	s.jobsByType[jobType]++
	return JobCheck{true, ""}
}

func (s *State) DecrementJob(jobType string) {
	s.muJobs.Lock()
	if s.jobsByType[jobType] > 0 {
		s.jobsByType[jobType]--
	}
	s.muJobs.Unlock()
}

func (s *State) GetQueueStatus() map[string]interface{} {
	s.muJobs.Lock()
	active := make(map[string]int)
	for k, v := range s.jobsByType {
		active[k] = v
	}
	s.muJobs.Unlock()

	queued := 0
	if DownloadQueue != nil {
		_, queued = DownloadQueue.Counts()
	}

	return map[string]interface{}{
		"active":      active,
		"queued":      queued,
		"limits":      config.JobLimits,
		"diskSpaceGB": diskSpaceGB(),
	}
}

func (s *State) RegisterClient(clientID string) {
	s.muSessions.Lock()
	defer s.muSessions.Unlock()

	if _, exists := s.sessions[clientID]; !exists {
		s.sessions[clientID] = &ClientSession{
			LastHeartbeat: time.Now(),
			LastActivity:  time.Now(),
			ActiveJobs:    make(map[string]bool),
		}
		log.Printf("[Session] Client %s... connected", util.ShortID(clientID))
	} else {
		s.sessions[clientID].LastActivity = time.Now()
	}
}

func (s *State) UpdateHeartbeat(clientID string) bool {
	s.muSessions.Lock()
	defer s.muSessions.Unlock()
	session, exists := s.sessions[clientID]
	if !exists {
		return false
	}
	session.LastHeartbeat = time.Now()
	return true
}

func (s *State) GetClientSession(clientID string) *ClientSession {
	s.muSessions.Lock()
	defer s.muSessions.Unlock()
	return s.sessions[clientID]
}

func (s *State) LinkJobToClient(jobID, clientID string) {
	s.muSessions.Lock()
	defer s.muSessions.Unlock()
	session, exists := s.sessions[clientID]
	if !exists || clientID == "" {
		return
	}
	session.ActiveJobs[jobID] = true
	session.LastActivity = time.Now()
	s.jobToClient[jobID] = clientID
}

func (s *State) UnlinkJobFromClient(jobID string) {
	s.muSessions.Lock()
	defer s.muSessions.Unlock()
	clientID, exists := s.jobToClient[jobID]
	if !exists {
		return
	}
	if session, ok := s.sessions[clientID]; ok {
		delete(session.ActiveJobs, jobID)
		session.LastActivity = time.Now()
	}
	delete(s.jobToClient, jobID)
}

func (s *State) SetAsyncJob(id string, job *AsyncJob) {
	s.muAsync.Lock()
	s.asyncJobs[id] = job
	s.muAsync.Unlock()
}

func (s *State) GetAsyncJob(id string) *AsyncJob {
	s.muAsync.RLock()
	defer s.muAsync.RUnlock()
	return s.asyncJobs[id]
}

func (s *State) SetFileRef(token string, ref *FileRef) {
	s.muFileRefs.Lock()
	s.fileRefs[token] = ref
	s.muFileRefs.Unlock()
}

func (s *State) GetFileRef(token string) *FileRef {
	s.muFileRefs.Lock()
	defer s.muFileRefs.Unlock()
	return s.fileRefs[token]
}

func (s *State) DeleteFileRef(token string) {
	s.muFileRefs.Lock()
	delete(s.fileRefs, token)
	s.muFileRefs.Unlock()
}

// ReleaseJob tears down all bookkeeping for a finished or abandoned job.
func (s *State) ReleaseJob(jobID string) bool {
	s.muProcesses.Lock()
	processInfo, exists := s.activeProcesses[jobID]
	if exists {
		delete(s.activeProcesses, jobID)
	}
	s.muProcesses.Unlock()

	if exists && processInfo.JobType != "" {
		s.DecrementJob(processInfo.JobType)
	}
	s.UnlinkJobFromClient(jobID)
	return exists
}

// SendProgress pushes an SSE event to any connected progress stream and logs
// progress at 25% steps to keep the log readable.
func (s *State) SendProgress(downloadID, stage, message string, progress *float64, extra map[string]interface{}) {
	s.muDownloads.RLock()
	dw := s.activeDownloads[downloadID]
	s.muDownloads.RUnlock()

	data := map[string]interface{}{
		"stage":   stage,
		"message": message,
	}
	if progress != nil {
		data["progress"] = *progress
	}
	for k, v := range extra {
		data[k] = v
	}

	jsonBytes, _ := json.Marshal(data)
	if dw != nil {
		dw.Write(jsonBytes)
	}

	s.muProgress.Lock()
	lastProg := s.lastLoggedProg[downloadID]
	short := util.ShortID(downloadID)

	if progress != nil && *progress >= 0 {
		if *progress >= 100 || *progress-lastProg >= 25 {
			log.Printf("[%s] %s: %s", short, stage, message)
			s.lastLoggedProg[downloadID] = *progress
			if *progress >= 100 {
				delete(s.lastLoggedProg, downloadID)
			}
		}
	} else {
		log.Printf("[%s] %s: %s", short, stage, message)
		delete(s.lastLoggedProg, downloadID)
	}
	s.muProgress.Unlock()
}

func (s *State) SendProgressSimple(downloadID, stage, message string) {
	s.SendProgress(downloadID, stage, message, nil, nil)
}

func (s *State) SendProgressWithPercent(downloadID, stage, message string, progress float64) {
	s.SendProgress(downloadID, stage, message, &progress, nil)
}

type sessionCleanupAction struct {
	clientID string
	jobIDs   []string
	idle     bool
}

// StartSessionCleanup cancels jobs whose client stopped heartbeating and
// expires idle sessions.
func (s *State) StartSessionCleanup(cleanupJobFiles func(string)) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		for range ticker.C {
			var actions []sessionCleanupAction

			s.muSessions.Lock()
			now := time.Now()
			for clientID, session := range s.sessions {
				hasActive := len(session.ActiveJobs) > 0

				if hasActive && now.Sub(session.LastHeartbeat) > config.HeartbeatTimeout {
					log.Printf("[Session] Client %s... heartbeat timeout, cancelling %d jobs",
						util.ShortID(clientID), len(session.ActiveJobs))
					var jobIDs []string
					for jobID := range session.ActiveJobs {
						jobIDs = append(jobIDs, jobID)
					}
					actions = append(actions, sessionCleanupAction{clientID: clientID, jobIDs: jobIDs})
					delete(s.sessions, clientID)
				} else if !hasActive && now.Sub(session.LastActivity) > config.SessionIdleTimeout {
					actions = append(actions, sessionCleanupAction{clientID: clientID, idle: true})
					delete(s.sessions, clientID)
				}
			}
			s.muSessions.Unlock()

			for _, action := range actions {
				if action.idle {
					continue
				}
				for _, jobID := range action.jobIDs {
					if DownloadQueue != nil {
						DownloadQueue.Cancel(jobID)
					}
					pi := s.GetProcess(jobID)
					if pi != nil {
						pi.SetCancelled(true)
						pi.CancelContext()
						// TERM first so yt-dlp/ffmpeg can flush, then the hard kill.
						pi.SignalProcess(syscall.SIGTERM)
						pi.KillProcess()
						s.SendProgressSimple(jobID, "cancelled", "Connection lost - task cancelled")
					}
					s.ReleaseJob(jobID)

					s.muSessions.Lock()
					delete(s.jobToClient, jobID)
					s.muSessions.Unlock()

					cleanupJobFiles(jobID)
				}
			}
		}
	}()
}

// StartCounterReconciliation resets leaked per-type counters when no
// processes remain.
func (s *State) StartCounterReconciliation() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		for range ticker.C {
			s.muProcesses.Lock()
			processCount := len(s.activeProcesses)
			s.muProcesses.Unlock()

			if processCount > 0 {
				continue
			}

			s.muJobs.Lock()
			for t, count := range s.jobsByType {
				if count > 0 {
					log.Printf("[Queue] Counter leak detected: %s=%d with no active processes. Resetting.", t, count)
					s.jobsByType[t] = 0
				}
			}
			s.muJobs.Unlock()
		}
	}()
}

func (s *State) StartAsyncJobExpiry() {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		for range ticker.C {
			s.muAsync.Lock()
			now := time.Now()
			for id, job := range s.asyncJobs {
				if now.Sub(job.CreatedAt) > config.AsyncJobTimeout {
					log.Printf("[Jobs] Job %s... expired (%s)", util.ShortID(id), job.GetStatus())
					delete(s.asyncJobs, id)
				}
			}
			s.muAsync.Unlock()
		}
	}()
}

func (s *State) StartFileRefExpiry() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		for range ticker.C {
			s.muFileRefs.Lock()
			now := time.Now()
			for token, ref := range s.fileRefs {
				if now.Sub(ref.CreatedAt) > config.FileRetention {
					delete(s.fileRefs, token)
				}
			}
			s.muFileRefs.Unlock()
		}
	}()
}

func diskSpaceGB() float64 {
	ds, err := util.GetDiskSpace(config.TempRoot())
	if err != nil {
		return 999
	}
	return ds.AvailGB
}
