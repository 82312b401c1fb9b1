package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MartineBot/gateway-proxy/core"
	"github.com/MartineBot/gateway-proxy/services/shards"
)

// CacheHTTPHandler exposes the cross-shard cache inspection endpoints.
type CacheHTTPHandler struct {
	shardsService *shards.ShardsService
	// mainGuildID is the guild excluded by the mutual-guild probe; empty
	// when not configured, in which case the probe is rejected.
	mainGuildID string
}

func NewCacheHTTPHandler(shardsService *shards.ShardsService, mainGuildID string) *CacheHTTPHandler {
	return &CacheHTTPHandler{
		shardsService: shardsService,
		mainGuildID:   mainGuildID,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

type foundResponse struct {
	Found bool `json:"found"`
}

func (h *CacheHTTPHandler) SetupEndpoints(router *mux.Router) {
	log.Printf("🚀 Registering cache API endpoints")

	router.HandleFunc("/cache/guilds/{id}", h.HandleGetGuild).Methods("GET")
	log.Printf("✅ GET /cache/guilds/{id} endpoint registered")

	router.HandleFunc("/cache/channels/{id}", h.HandleGetChannel).Methods("GET")
	log.Printf("✅ GET /cache/channels/{id} endpoint registered")

	router.HandleFunc("/cache/users/{id}", h.HandleGetUser).Methods("GET")
	log.Printf("✅ GET /cache/users/{id} endpoint registered")

	router.HandleFunc("/cache/users/{id}/mutual-guilds", h.HandleUserMutualGuilds).Methods("GET")
	log.Printf("✅ GET /cache/users/{id}/mutual-guilds endpoint registered")
}

func (h *CacheHTTPHandler) HandleGetGuild(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !core.IsValidSnowflake(id) {
		h.writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}

	maybeGuild := h.shardsService.FindGuildByID(id)
	if !maybeGuild.IsPresent() {
		h.writeError(w, http.StatusNotFound, "Unknown guild")
		return
	}

	h.writeEntity(w, "guild", maybeGuild.MustGet())
}

func (h *CacheHTTPHandler) HandleGetChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !core.IsValidSnowflake(id) {
		h.writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}

	maybeChannel := h.shardsService.FindChannelByID(id)
	if !maybeChannel.IsPresent() {
		h.writeError(w, http.StatusNotFound, "Unknown channel")
		return
	}

	h.writeEntity(w, "channel", maybeChannel.MustGet())
}

func (h *CacheHTTPHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !core.IsValidSnowflake(id) {
		h.writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}

	maybeUser := h.shardsService.FindUserByID(id)
	if !maybeUser.IsPresent() {
		h.writeError(w, http.StatusNotFound, "Unknown user")
		return
	}

	h.writeEntity(w, "user", maybeUser.MustGet())
}

// HandleUserMutualGuilds answers whether the user is a member of any guild
// other than the configured main guild, across every shard.
func (h *CacheHTTPHandler) HandleUserMutualGuilds(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !core.IsValidSnowflake(id) {
		h.writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}
	if h.mainGuildID == "" {
		log.Printf("⚠️ Mutual-guild probe rejected: MAIN_GUILD_ID is not configured")
		h.writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}

	found := h.shardsService.IsUserInOtherGuild(id, h.mainGuildID)
	h.writeJSONResponse(w, http.StatusOK, foundResponse{Found: found})
}

// writeEntity serializes a resolved entity; a marshalling failure is a
// data-model mismatch and surfaces as 503 rather than being dropped.
func (h *CacheHTTPHandler) writeEntity(w http.ResponseWriter, kind string, entity any) {
	serialized, err := json.Marshal(entity)
	if err != nil {
		log.Printf("❌ Failed to serialize %s: %v", kind, err)
		h.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("Failed to serialize %s", kind))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(serialized); err != nil {
		log.Printf("❌ Failed to write %s response: %v", kind, err)
	}
}

func (h *CacheHTTPHandler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, errorResponse{Message: message})
}

func (h *CacheHTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}
