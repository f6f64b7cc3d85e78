package middleware

import (
	"bufio"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/cors"
)

const originsFile = "cors-origins.txt"

// LoadCORS reads allowed origins from cors-origins.txt next to the binary.
// Without the file every origin is allowed but credentials are disabled.
func LoadCORS() func(http.Handler) http.Handler {
	origins := loadCORSOrigins()

	if len(origins) > 0 {
		log.Printf("✓ Loaded %d CORS origins from %s", len(origins), originsFile)
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
	}

	log.Printf("[CORS] WARNING: No %s found, allowing all origins (credentials disabled). Create %s to restrict.", originsFile, originsFile)
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

func loadCORSOrigins() []string {
	f, err := os.Open(originsFile)
	if err != nil {
		return nil
	}
	defer f.Close()

	var origins []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			origins = append(origins, line)
		}
	}
	return origins
}
