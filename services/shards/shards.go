package shards

import (
	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"

	"github.com/MartineBot/gateway-proxy/cache"
	"github.com/MartineBot/gateway-proxy/services/snapshot"
)

// Shard is one registered gateway partition: its entity cache plus the
// snapshot service that reconstructs replay payloads from it.
type Shard struct {
	ID       int
	Cache    *cache.ShardCache
	Snapshot *snapshot.Service
}

// ShardsService is the registry of active shards and the cross-shard query
// facade. The shard set is fixed at startup; queries fan out over every
// shard's cache.
type ShardsService struct {
	shards []*Shard
}

func NewShardsService(shardList []*Shard) *ShardsService {
	return &ShardsService{shards: shardList}
}

// Shards returns the registry in registration order.
func (s *ShardsService) Shards() []*Shard {
	return s.shards
}

// ShardByID returns the shard with the given ID.
func (s *ShardsService) ShardByID(id int) mo.Option[*Shard] {
	for _, shard := range s.shards {
		if shard.ID == id {
			return mo.Some(shard)
		}
	}
	return mo.None[*Shard]()
}

// FindGuildByID scans every shard for the guild. When several shards hold
// the entity, the last match in registry order wins; callers needing a
// different precedence must impose it themselves.
func (s *ShardsService) FindGuildByID(id string) mo.Option[*discordgo.Guild] {
	result := mo.None[*discordgo.Guild]()
	for _, shard := range s.shards {
		if maybeGuild := shard.Cache.Guild(id); maybeGuild.IsPresent() {
			result = maybeGuild
		}
	}
	return result
}

// FindChannelByID scans every shard for the channel; last match wins.
func (s *ShardsService) FindChannelByID(id string) mo.Option[*discordgo.Channel] {
	result := mo.None[*discordgo.Channel]()
	for _, shard := range s.shards {
		if maybeChannel := shard.Cache.Channel(id); maybeChannel.IsPresent() {
			result = maybeChannel
		}
	}
	return result
}

// FindUserByID scans every shard for the user; last match wins. Users
// commonly exist on several shards at once through memberships in guilds
// split across them.
func (s *ShardsService) FindUserByID(id string) mo.Option[*discordgo.User] {
	result := mo.None[*discordgo.User]()
	for _, shard := range s.shards {
		if maybeUser := shard.Cache.User(id); maybeUser.IsPresent() {
			result = maybeUser
		}
	}
	return result
}

// IsUserInOtherGuild reports whether the user is a member of any guild other
// than the excluded one, on any shard. False when the user is unknown
// everywhere or known only through the excluded guild.
func (s *ShardsService) IsUserInOtherGuild(userID, excludedGuildID string) bool {
	for _, shard := range s.shards {
		for _, guildID := range shard.Cache.UserGuildIDs(userID) {
			if guildID != excludedGuildID {
				return true
			}
		}
	}
	return false
}
