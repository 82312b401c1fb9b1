package middleware

import (
	"crypto/md5"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/MartineBot/gateway-proxy/clients/discord"
)

type AlertConfig struct {
	Environment string
	AppName     string
}

// ErrorAlertMiddleware recovers panics on the HTTP surface and posts
// deduplicated alerts through the Discord status webhook.
type ErrorAlertMiddleware struct {
	notifier      *discord.Notifier
	config        AlertConfig
	alertedErrors map[string]time.Time // hash -> last alert time
	mutex         sync.Mutex
	alertCooldown time.Duration // prevent spam
}

func NewErrorAlertMiddleware(notifier *discord.Notifier, config AlertConfig) *ErrorAlertMiddleware {
	return &ErrorAlertMiddleware{
		notifier:      notifier,
		config:        config,
		alertedErrors: make(map[string]time.Time),
		alertCooldown: 10 * time.Minute, // Don't alert same error more than once per 10min
	}
}

// HTTPMiddleware wraps HTTP handlers with panic recovery and alerting.
func (m *ErrorAlertMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer m.recoverAndAlert(fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// AlertOnError reports a non-fatal error through the cooldown filter.
func (m *ErrorAlertMiddleware) AlertOnError(err error, context string) {
	if err == nil {
		return
	}
	errorMsg := fmt.Sprintf("%s: %v", context, err)

	hash := fmt.Sprintf("%x", md5.Sum([]byte(errorMsg)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if lastAlert, exists := m.alertedErrors[hash]; exists {
		if time.Since(lastAlert) < m.alertCooldown {
			return // Skip alert - too recent
		}
	}

	m.sendAlert(errorMsg, context)
	m.alertedErrors[hash] = time.Now()
}

func (m *ErrorAlertMiddleware) recoverAndAlert(context string) {
	if r := recover(); r != nil {
		errorMsg := fmt.Sprintf("%s: PANIC - %v", context, r)
		log.Printf("❌ %s", errorMsg)
		m.sendAlert(errorMsg, context+" (PANIC)")
	}
}

func (m *ErrorAlertMiddleware) sendAlert(errorMsg, context string) {
	envPrefix := ""
	if m.config.Environment == "dev" {
		envPrefix = "[dev] "
	}
	title := fmt.Sprintf("🚨 %s%s Error Alert", envPrefix, m.config.AppName)
	m.notifier.Status(discord.ColorRed, title,
		fmt.Sprintf("**Context:** %s\n```%s```", context, errorMsg))
}
