package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	discordclient "github.com/MartineBot/gateway-proxy/clients/discord"
	"github.com/MartineBot/gateway-proxy/config"
	"github.com/MartineBot/gateway-proxy/gateway"
	"github.com/MartineBot/gateway-proxy/handlers"
	"github.com/MartineBot/gateway-proxy/middleware"
	"github.com/MartineBot/gateway-proxy/services/shards"
)

func main() {
	if err := run(); err != nil {
		log.Printf("🚨 Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	log.Printf("🚀 Starting gateway proxy...")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// One REST-only session is shared by the webhook notifier; the gateway
	// shards each own their connected session.
	restSession, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return fmt.Errorf("failed to create discord client: %w", err)
	}

	notifier := discordclient.NewNotifier(restSession, cfg.Webhooks.StatusURL, cfg.Webhooks.GuildEventsURL)

	gatewayShards := make([]*gateway.Shard, 0, cfg.ShardCount)
	serviceShards := make([]*shards.Shard, 0, cfg.ShardCount)
	for shardID := 0; shardID < cfg.ShardCount; shardID++ {
		shard, err := gateway.NewShard(cfg.DiscordBotToken, shardID, cfg.ShardCount, cfg.GatewayIntents, notifier)
		if err != nil {
			return fmt.Errorf("failed to build shard %d: %w", shardID, err)
		}
		gatewayShards = append(gatewayShards, shard)
		serviceShards = append(serviceShards, &shards.Shard{
			ID:       shard.ID,
			Cache:    shard.Cache,
			Snapshot: shard.Snapshot,
		})
	}

	shardsService := shards.NewShardsService(serviceShards)

	for _, shard := range gatewayShards {
		if err := shard.Open(); err != nil {
			return err
		}
	}
	defer closeShards(gatewayShards)
	log.Printf("✅ All %d shard(s) connected", len(gatewayShards))

	alertMiddleware := middleware.NewErrorAlertMiddleware(notifier, middleware.AlertConfig{
		Environment: cfg.Environment,
		AppName:     "Gateway Proxy",
	})

	router := mux.NewRouter()

	cacheHandler := handlers.NewCacheHTTPHandler(shardsService, cfg.MainGuildID)
	cacheHandler.SetupEndpoints(router)

	sessionHandler := handlers.NewSessionHTTPHandler(shardsService)
	sessionHandler.SetupEndpoints(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	go logCacheStats(serviceShards)
	handleGracefulShutdown(server)

	notifier.Status(discordclient.ColorBlue, "Proxy online",
		fmt.Sprintf("Serving %d shard(s) on port %s", cfg.ShardCount, cfg.Port))
	log.Printf("✅ Server starting on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func handleGracefulShutdown(server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		log.Printf("🛑 Shutdown signal received, draining connections...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("⚠️ Server shutdown error: %v", err)
		}
	}()
}

func closeShards(gatewayShards []*gateway.Shard) {
	for _, shard := range gatewayShards {
		if err := shard.Close(); err != nil {
			log.Printf("⚠️ %v", err)
		}
	}
}

// logCacheStats periodically reports per-shard cache sizes.
func logCacheStats(serviceShards []*shards.Shard) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		for _, shard := range serviceShards {
			stats := shard.Cache.Stats()
			log.Printf("📊 Shard %d cache: %d guilds, %d channels, %d users, %d members, %d voice states",
				shard.ID, stats.Guilds, stats.Channels, stats.Users, stats.Members, stats.VoiceStates)
		}
	}
}
