package alerts

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/streamsniff/streamsniff/internal/config"
)

var (
	mu                sync.Mutex
	categoryCooldowns = make(map[string]time.Time)

	sessionOnce sync.Once
	session     *discordgo.Session
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorGreen  = 0x2ECC71
)

// webhookParts extracts the id/token pair from a Discord webhook URL.
func webhookParts(webhookURL string) (id, token string, ok bool) {
	idx := strings.Index(webhookURL, "/webhooks/")
	if idx < 0 {
		return "", "", false
	}
	rest := strings.Trim(webhookURL[idx+len("/webhooks/"):], "/")
	id, token, ok = strings.Cut(rest, "/")
	if !ok || id == "" || token == "" {
		return "", "", false
	}
	if slash := strings.Index(token, "/"); slash >= 0 {
		token = token[:slash]
	}
	return id, token, true
}

func webhookSession() *discordgo.Session {
	sessionOnce.Do(func() {
		// Webhook execution is unauthenticated; an empty token session is enough.
		s, err := discordgo.New("")
		if err != nil {
			log.Printf("[Discord] session init failed: %v", err)
			return
		}
		session = s
	})
	return session
}

func send(category string, cooldown time.Duration, ping bool, color int, title, description string, fields map[string]string) {
	if !config.DiscordAlerts || config.DiscordWebhookURL == "" {
		return
	}
	id, token, ok := webhookParts(config.DiscordWebhookURL)
	if !ok {
		return
	}
	s := webhookSession()
	if s == nil {
		return
	}

	mu.Lock()
	now := time.Now()
	if cooldown > 0 {
		if last, exists := categoryCooldowns[category]; exists && now.Sub(last) < cooldown {
			mu.Unlock()
			return
		}
	}
	categoryCooldowns[category] = now
	mu.Unlock()

	var embedFields []*discordgo.MessageEmbedField
	for k, v := range fields {
		if v == "" {
			continue
		}
		embedFields = append(embedFields, &discordgo.MessageEmbedField{
			Name:   k,
			Value:  truncate(v, 1024),
			Inline: true,
		})
	}

	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: truncate(description, 2048),
			Color:       color,
			Fields:      embedFields,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "streamsniff"},
		}},
	}
	if ping && config.DiscordPingUserID != "" {
		params.Content = fmt.Sprintf("<@%s>", config.DiscordPingUserID)
	}

	go func() {
		if _, err := s.WebhookExecute(id, token, false, params); err != nil {
			log.Printf("[Discord] send failed: %v", err)
		}
	}()
}

func ServerStarted() {
	send("server-start", 0, false, colorGreen, "Server Started",
		fmt.Sprintf("streamsniff %s listening on :%s", config.Version, config.Port), nil)
}

func ServerStopping() {
	send("server-stop", 0, false, colorOrange, "Server Stopping", "streamsniff is shutting down", nil)
}

func SniffFailed(jobID, url string, err error) {
	send("sniff", 5*time.Second, false, colorOrange, "Sniff Failed", err.Error(), map[string]string{
		"Job": jobID,
		"URL": truncate(url, 200),
	})
}

func DownloadFailed(jobID, url string, err error) {
	send("download", 5*time.Second, true, colorRed, "Download Failed", err.Error(), map[string]string{
		"Job":   jobID,
		"URL":   truncate(url, 200),
		"Error": truncate(err.Error(), 500),
	})
}

// truncate cuts on a rune boundary; titles and URLs here are often CJK.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
