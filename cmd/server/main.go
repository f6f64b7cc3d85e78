package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"github.com/streamsniff/streamsniff/internal/alerts"
	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/history"
	"github.com/streamsniff/streamsniff/internal/middleware"
	"github.com/streamsniff/streamsniff/internal/preflight"
	"github.com/streamsniff/streamsniff/internal/server"
	"github.com/streamsniff/streamsniff/internal/services"
	"github.com/streamsniff/streamsniff/internal/util"
	"github.com/streamsniff/streamsniff/internal/workspace"
)

func main() {
	godotenv.Load()
	config.Load()

	server.PrintBanner()

	if err := preflight.CheckTools(); err != nil {
		fmt.Printf("\n✗ Environment check failed: %s\n", err)
		os.Exit(1)
	}

	if err := workspace.Scaffold(); err != nil {
		log.Fatalf("Failed to prepare workspace: %v", err)
	}

	lock := flock.New(filepath.Join(config.DataDir, "streamsniff.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire instance lock: %v", err)
	}
	if !locked {
		log.Fatal("Another streamsniff instance is already running")
	}
	defer lock.Unlock()

	store, err := history.Open(config.DataDir)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer store.Close()
	history.Default = store

	services.DownloadQueue = services.NewQueue(config.MaxConcurrent)

	server.EnsureTempDirs()
	util.StartCleanupInterval()
	middleware.StartRateLimitCleanup()
	services.Global.StartSessionCleanup(util.CleanupJobFiles)
	services.Global.StartCounterReconciliation()
	services.Global.StartAsyncJobExpiry()
	services.Global.StartFileRefExpiry()

	srv := server.New()

	go func() {
		log.Printf("Listening on :%s (%s)", config.Port, config.EnvMode)
		alerts.ServerStarted()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	alerts.ServerStopping()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	fmt.Println("Server stopped.")
}
