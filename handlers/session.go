package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MartineBot/gateway-proxy/core"
	"github.com/MartineBot/gateway-proxy/models"
	"github.com/MartineBot/gateway-proxy/services/shards"
)

// SessionHTTPHandler serves the downstream replay endpoint: a consumer
// connects to its shard and receives a synthetic handshake built entirely
// from the cache, in place of a cold upstream session.
type SessionHTTPHandler struct {
	shardsService *shards.ShardsService
	upgrader      websocket.Upgrader
}

func NewSessionHTTPHandler(shardsService *shards.ShardsService) *SessionHTTPHandler {
	return &SessionHTTPHandler{
		shardsService: shardsService,
		upgrader: websocket.Upgrader{
			// Downstream consumers are trusted internal processes.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *SessionHTTPHandler) SetupEndpoints(router *mux.Router) {
	log.Printf("🚀 Registering session replay endpoint")

	router.HandleFunc("/shards/{id}/session", h.HandleSession).Methods("GET")
	log.Printf("✅ GET /shards/{id}/session endpoint registered")
}

func (h *SessionHTTPHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid shard id", http.StatusBadRequest)
		return
	}

	maybeShard := h.shardsService.ShardByID(shardID)
	if !maybeShard.IsPresent() {
		http.Error(w, "unknown shard", http.StatusNotFound)
		return
	}
	shard := maybeShard.MustGet()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Failed to upgrade session connection: %v", err)
		return
	}
	defer conn.Close()

	sessionID := core.NewSessionID()
	log.Printf("🔌 Replay session %s started on shard %d for %s", sessionID, shardID, r.RemoteAddr)

	// One session owns one counter, driven from this goroutine only.
	sequence := 0

	base := models.ReadyFields{
		"v":          10,
		"session_id": sessionID,
		"shard":      []int{shardID, len(h.shardsService.Shards())},
	}
	if maybeUser := shard.Cache.CurrentUser(); maybeUser.IsPresent() {
		base["user"] = maybeUser.MustGet()
	}

	ready := shard.Snapshot.BuildReadyPayload(base, &sequence)
	if err := conn.WriteJSON(ready); err != nil {
		log.Printf("⚠️ Replay session %s dropped during READY: %v", sessionID, err)
		return
	}

	it := shard.Snapshot.GuildPayloads(&sequence)
	sent := 1
	for {
		payload, ok := it.Next()
		if !ok {
			break
		}
		if err := conn.WriteJSON(payload); err != nil {
			// Consumer went away; abandon the rest of the pass.
			log.Printf("⚠️ Replay session %s dropped after %d payloads: %v", sessionID, sent, err)
			return
		}
		sent++
	}

	log.Printf("✅ Replay session %s completed: %d payloads, final sequence %d", sessionID, sent, sequence)
}
