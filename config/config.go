package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/MartineBot/gateway-proxy/core"
)

type WebhookConfig struct {
	StatusURL      string
	GuildEventsURL string
}

func (w WebhookConfig) IsConfigured() bool {
	return w.StatusURL != "" || w.GuildEventsURL != ""
}

type AppConfig struct {
	DiscordBotToken    string
	ShardCount         int
	GatewayIntents     discordgo.Intent
	Port               string
	CORSAllowedOrigins string
	Environment        string

	// MainGuildID is excluded from mutual-guild probes; empty disables them.
	MainGuildID string

	Webhooks WebhookConfig
}

func LoadConfig() (AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ No .env file found, using environment variables")
	}

	token, err := getEnvRequired("DISCORD_BOT_TOKEN")
	if err != nil {
		return AppConfig{}, err
	}

	shardCount, err := getEnvInt("SHARD_COUNT", 1)
	if err != nil {
		return AppConfig{}, err
	}
	if shardCount < 1 {
		return AppConfig{}, fmt.Errorf("SHARD_COUNT must be at least 1, got %d", shardCount)
	}

	intents, err := getEnvInt("GATEWAY_INTENTS", int(defaultIntents))
	if err != nil {
		return AppConfig{}, err
	}

	mainGuildID := os.Getenv("MAIN_GUILD_ID")
	if mainGuildID != "" && !core.IsValidSnowflake(mainGuildID) {
		return AppConfig{}, fmt.Errorf("MAIN_GUILD_ID is not a valid snowflake: %q", mainGuildID)
	}

	cfg := AppConfig{
		DiscordBotToken:    token,
		ShardCount:         shardCount,
		GatewayIntents:     discordgo.Intent(intents),
		Port:               getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:        getEnvWithDefault("ENVIRONMENT", "dev"),
		MainGuildID:        mainGuildID,
		Webhooks: WebhookConfig{
			StatusURL:      os.Getenv("STATUS_WEBHOOK_URL"),
			GuildEventsURL: os.Getenv("GUILD_EVENTS_WEBHOOK_URL"),
		},
	}

	log.Printf("✅ Configuration loaded: %d shard(s), port %s, environment %s",
		cfg.ShardCount, cfg.Port, cfg.Environment)
	if cfg.MainGuildID == "" {
		log.Printf("⚠️ MAIN_GUILD_ID not set, mutual-guild probes are disabled")
	}
	if !cfg.Webhooks.IsConfigured() {
		log.Printf("⚠️ No webhook URLs configured, Discord notifications are disabled")
	}

	return cfg, nil
}

// defaultIntents covers everything the cache tracks, including the
// privileged member and presence streams.
const defaultIntents = discordgo.IntentsAllWithoutPrivileged |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildPresences

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return value, nil
}
