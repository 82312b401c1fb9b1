package gateway

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/MartineBot/gateway-proxy/cache"
	discordclient "github.com/MartineBot/gateway-proxy/clients/discord"
	"github.com/MartineBot/gateway-proxy/services/snapshot"
)

// Shard owns one upstream gateway connection and the cache it feeds. Every
// raw dispatch is forwarded to the cache's mutation entry point; this is the
// single writer stream per shard.
type Shard struct {
	ID       int
	Cache    *cache.ShardCache
	Snapshot *snapshot.Service

	session  *discordgo.Session
	notifier *discordclient.Notifier
}

func NewShard(token string, shardID, shardCount int, intents discordgo.Intent, notifier *discordclient.Notifier) (*Shard, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for shard %d: %w", shardID, err)
	}

	session.ShardID = shardID
	session.ShardCount = shardCount
	session.Identify.Intents = intents
	// discordgo's own state tracking is redundant with the shard cache.
	session.StateEnabled = false

	shardCache := cache.New(shardID)
	shard := &Shard{
		ID:       shardID,
		Cache:    shardCache,
		Snapshot: snapshot.NewSnapshotService(shardCache),
		session:  session,
		notifier: notifier,
	}

	session.AddHandler(shard.onEvent)
	session.AddHandler(shard.onConnect)
	session.AddHandler(shard.onDisconnect)

	return shard, nil
}

// Open establishes the upstream connection; dispatches start flowing into
// the cache immediately.
func (s *Shard) Open() error {
	if err := s.session.Open(); err != nil {
		return fmt.Errorf("failed to open shard %d: %w", s.ID, err)
	}
	return nil
}

func (s *Shard) Close() error {
	if err := s.session.Close(); err != nil {
		return fmt.Errorf("failed to close shard %d: %w", s.ID, err)
	}
	return nil
}

// onEvent is the catch-all raw dispatch handler feeding the cache.
func (s *Shard) onEvent(_ *discordgo.Session, event *discordgo.Event) {
	if event.Type == "" || len(event.RawData) == 0 {
		return
	}

	if err := s.Cache.ApplyEvent(event.Type, event.RawData); err != nil {
		log.Printf("⚠️ Shard %d failed to apply %s: %v", s.ID, event.Type, err)
		return
	}

	s.notifyGuildEvent(event.Type, event.RawData)
}

func (s *Shard) onConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	log.Printf("✅ Shard %d connected to gateway", s.ID)
	s.notifier.Status(discordclient.ColorGreen, "Shard connected",
		fmt.Sprintf("Shard %d connected to the gateway", s.ID))
}

func (s *Shard) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	log.Printf("⚠️ Shard %d disconnected from gateway", s.ID)
	s.notifier.Status(discordclient.ColorRed, "Shard disconnected",
		fmt.Sprintf("Shard %d disconnected from the gateway", s.ID))
}

func (s *Shard) notifyGuildEvent(eventType string, data json.RawMessage) {
	if eventType != "GUILD_CREATE" && eventType != "GUILD_DELETE" {
		return
	}

	var stub struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Unavailable bool   `json:"unavailable"`
	}
	if err := json.Unmarshal(data, &stub); err != nil {
		return
	}

	switch {
	case eventType == "GUILD_CREATE" && !stub.Unavailable:
		s.notifier.GuildEvent(discordclient.ColorGreen, "Guild available",
			fmt.Sprintf("Shard %d: %s (%s)", s.ID, stub.Name, stub.ID))
	case eventType == "GUILD_DELETE" && stub.Unavailable:
		s.notifier.GuildEvent(discordclient.ColorOrange, "Guild outage",
			fmt.Sprintf("Shard %d: guild %s became unavailable", s.ID, stub.ID))
	case eventType == "GUILD_DELETE":
		s.notifier.GuildEvent(discordclient.ColorRed, "Left guild",
			fmt.Sprintf("Shard %d: removed from guild %s", s.ID, stub.ID))
	}
}
