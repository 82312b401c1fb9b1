package cache

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"
)

// ShardCache is the normalized entity store for one gateway shard. Entities
// arrive flat via ApplyEvent from the shard's upstream dispatch stream and
// are indexed by ID plus per-guild membership sets; the snapshot builder
// joins them back into nested guilds at read time.
//
// Stored values are treated as immutable once inserted: mutation always
// replaces the stored pointer, never writes through it, so readers may hold
// returned pointers without further locking.
type ShardCache struct {
	shardID int

	mu sync.RWMutex

	guilds   map[string]*guildRecord
	channels map[string]*discordgo.Channel
	users    map[string]*discordgo.User

	// currentUser is the bot identity delivered by the upstream READY.
	currentUser *discordgo.User

	members     map[guildUserKey]*discordgo.Member
	roles       map[guildEntityKey]*discordgo.Role
	emojis      map[guildEntityKey]*discordgo.Emoji
	stickers    map[guildEntityKey]*discordgo.Sticker
	voiceStates map[guildUserKey]*discordgo.VoiceState
	presences   map[guildUserKey]*discordgo.Presence

	stageInstances  map[string]*discordgo.StageInstance
	scheduledEvents map[string]*discordgo.GuildScheduledEvent

	// userGuilds tracks which guilds a user is a member of, for the
	// mutual-guild probe.
	userGuilds map[string]map[string]struct{}
}

// guildRecord holds a guild's scalar attributes (child slices stripped on
// ingest) plus the per-guild ID indices the snapshot join walks.
type guildRecord struct {
	guild       *discordgo.Guild
	unavailable bool

	channelIDs        map[string]struct{}
	memberIDs         map[string]struct{}
	roleIDs           map[string]struct{}
	emojiIDs          map[string]struct{}
	stickerIDs        map[string]struct{}
	stageInstanceIDs  map[string]struct{}
	scheduledEventIDs map[string]struct{}
	voiceStateUserIDs map[string]struct{}
	presenceUserIDs   map[string]struct{}
}

func newGuildRecord(guild *discordgo.Guild, unavailable bool) *guildRecord {
	return &guildRecord{
		guild:             guild,
		unavailable:       unavailable,
		channelIDs:        make(map[string]struct{}),
		memberIDs:         make(map[string]struct{}),
		roleIDs:           make(map[string]struct{}),
		emojiIDs:          make(map[string]struct{}),
		stickerIDs:        make(map[string]struct{}),
		stageInstanceIDs:  make(map[string]struct{}),
		scheduledEventIDs: make(map[string]struct{}),
		voiceStateUserIDs: make(map[string]struct{}),
		presenceUserIDs:   make(map[string]struct{}),
	}
}

type guildUserKey struct {
	GuildID string
	UserID  string
}

type guildEntityKey struct {
	GuildID string
	ID      string
}

// GuildRef is one entry of the guild iteration: the guild ID and whether the
// guild is currently in its unavailable state.
type GuildRef struct {
	ID          string
	Unavailable bool
}

// Stats is a point-in-time count of cached entities, used for status logs.
type Stats struct {
	Guilds      int
	Channels    int
	Users       int
	Members     int
	VoiceStates int
}

func New(shardID int) *ShardCache {
	return &ShardCache{
		shardID:         shardID,
		guilds:          make(map[string]*guildRecord),
		channels:        make(map[string]*discordgo.Channel),
		users:           make(map[string]*discordgo.User),
		members:         make(map[guildUserKey]*discordgo.Member),
		roles:           make(map[guildEntityKey]*discordgo.Role),
		emojis:          make(map[guildEntityKey]*discordgo.Emoji),
		stickers:        make(map[guildEntityKey]*discordgo.Sticker),
		voiceStates:     make(map[guildUserKey]*discordgo.VoiceState),
		presences:       make(map[guildUserKey]*discordgo.Presence),
		stageInstances:  make(map[string]*discordgo.StageInstance),
		scheduledEvents: make(map[string]*discordgo.GuildScheduledEvent),
		userGuilds:      make(map[string]map[string]struct{}),
	}
}

func (c *ShardCache) ShardID() int {
	return c.shardID
}

// Guild returns the cached scalar guild record. Child collections are not
// attached; use the snapshot builder for the full aggregate.
func (c *ShardCache) Guild(id string) mo.Option[*discordgo.Guild] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.guilds[id]
	if !ok || record.guild == nil {
		return mo.None[*discordgo.Guild]()
	}
	return mo.Some(record.guild)
}

func (c *ShardCache) Channel(id string) mo.Option[*discordgo.Channel] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if channel, ok := c.channels[id]; ok {
		return mo.Some(channel)
	}
	return mo.None[*discordgo.Channel]()
}

// CurrentUser returns the bot user from the shard's upstream READY, once
// one has been seen.
func (c *ShardCache) CurrentUser() mo.Option[*discordgo.User] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentUser == nil {
		return mo.None[*discordgo.User]()
	}
	return mo.Some(c.currentUser)
}

func (c *ShardCache) User(id string) mo.Option[*discordgo.User] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if user, ok := c.users[id]; ok {
		return mo.Some(user)
	}
	return mo.None[*discordgo.User]()
}

// Member returns the membership record for a user in a guild. The record's
// User field is a bare ID stub; joining the full user is the reader's
// concern.
func (c *ShardCache) Member(guildID, userID string) mo.Option[*discordgo.Member] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if member, ok := c.members[guildUserKey{GuildID: guildID, UserID: userID}]; ok {
		return mo.Some(member)
	}
	return mo.None[*discordgo.Member]()
}

func (c *ShardCache) Role(guildID, roleID string) mo.Option[*discordgo.Role] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if role, ok := c.roles[guildEntityKey{GuildID: guildID, ID: roleID}]; ok {
		return mo.Some(role)
	}
	return mo.None[*discordgo.Role]()
}

func (c *ShardCache) Emoji(guildID, emojiID string) mo.Option[*discordgo.Emoji] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if emoji, ok := c.emojis[guildEntityKey{GuildID: guildID, ID: emojiID}]; ok {
		return mo.Some(emoji)
	}
	return mo.None[*discordgo.Emoji]()
}

func (c *ShardCache) Sticker(guildID, stickerID string) mo.Option[*discordgo.Sticker] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if sticker, ok := c.stickers[guildEntityKey{GuildID: guildID, ID: stickerID}]; ok {
		return mo.Some(sticker)
	}
	return mo.None[*discordgo.Sticker]()
}

func (c *ShardCache) StageInstance(id string) mo.Option[*discordgo.StageInstance] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if stage, ok := c.stageInstances[id]; ok {
		return mo.Some(stage)
	}
	return mo.None[*discordgo.StageInstance]()
}

func (c *ShardCache) ScheduledEvent(id string) mo.Option[*discordgo.GuildScheduledEvent] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if event, ok := c.scheduledEvents[id]; ok {
		return mo.Some(event)
	}
	return mo.None[*discordgo.GuildScheduledEvent]()
}

func (c *ShardCache) VoiceState(userID, guildID string) mo.Option[*discordgo.VoiceState] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if state, ok := c.voiceStates[guildUserKey{GuildID: guildID, UserID: userID}]; ok {
		return mo.Some(state)
	}
	return mo.None[*discordgo.VoiceState]()
}

func (c *ShardCache) Presence(guildID, userID string) mo.Option[*discordgo.Presence] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if presence, ok := c.presences[guildUserKey{GuildID: guildID, UserID: userID}]; ok {
		return mo.Some(presence)
	}
	return mo.None[*discordgo.Presence]()
}

func (c *ShardCache) guildIndex(guildID string, pick func(*guildRecord) map[string]struct{}) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.guilds[guildID]
	if !ok {
		return nil
	}

	index := pick(record)
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	return ids
}

// GuildChannelIDs lists every channel ID known for a guild, threads
// included; classification happens when each channel is resolved.
func (c *ShardCache) GuildChannelIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.channelIDs })
}

func (c *ShardCache) GuildMemberIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.memberIDs })
}

func (c *ShardCache) GuildRoleIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.roleIDs })
}

func (c *ShardCache) GuildEmojiIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.emojiIDs })
}

func (c *ShardCache) GuildStickerIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.stickerIDs })
}

func (c *ShardCache) GuildStageInstanceIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.stageInstanceIDs })
}

func (c *ShardCache) GuildScheduledEventIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.scheduledEventIDs })
}

func (c *ShardCache) GuildVoiceStateUserIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.voiceStateUserIDs })
}

func (c *ShardCache) GuildPresenceUserIDs(guildID string) []string {
	return c.guildIndex(guildID, func(r *guildRecord) map[string]struct{} { return r.presenceUserIDs })
}

// GuildRefs enumerates every known guild with its availability flag. Order
// is map iteration order and not stable across calls.
func (c *ShardCache) GuildRefs() []GuildRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	refs := make([]GuildRef, 0, len(c.guilds))
	for id, record := range c.guilds {
		refs = append(refs, GuildRef{ID: id, Unavailable: record.unavailable})
	}
	return refs
}

// UnavailableGuildIDs lists the guilds currently flagged unavailable.
func (c *ShardCache) UnavailableGuildIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for id, record := range c.guilds {
		if record.unavailable {
			ids = append(ids, id)
		}
	}
	return ids
}

// UserGuildIDs lists the guilds on this shard the user is a member of.
func (c *ShardCache) UserGuildIDs(userID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index, ok := c.userGuilds[userID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	return ids
}

func (c *ShardCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Guilds:      len(c.guilds),
		Channels:    len(c.channels),
		Users:       len(c.users),
		Members:     len(c.members),
		VoiceStates: len(c.voiceStates),
	}
}

// IsThread reports whether a channel type is one of the thread subtypes,
// which are bucketed under "threads" rather than "channels" in aggregates.
func IsThread(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	default:
		return false
	}
}
