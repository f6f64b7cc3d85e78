package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/middleware"
	"github.com/streamsniff/streamsniff/internal/routes"
	"github.com/streamsniff/streamsniff/internal/util"
)

func New() *http.Server {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.LoadCORS())
	r.Use(middleware.RateLimit)

	routes.CoreRoutes(r)
	routes.SniffRoutes(r)
	routes.DownloadRoutes(r)
	routes.HistoryRoutes(r)

	return &http.Server{
		Addr:              ":" + config.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func EnsureTempDirs() {
	util.ClearTempDirs()
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │       streamsniff %s         │
  │   stream sniffing api server     │
  └──────────────────────────────────┘
`, padVersion(config.Version))
}

func padVersion(v string) string {
	for len(v) < 10 {
		v += " "
	}
	return v
}
