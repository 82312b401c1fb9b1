package cache

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Raw dispatch shapes that discordgo does not model one-to-one.
type guildCreateData struct {
	discordgo.Guild
	GuildScheduledEvents []*discordgo.GuildScheduledEvent `json:"guild_scheduled_events"`
}

type guildDeleteData struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

type guildRoleData struct {
	GuildID string          `json:"guild_id"`
	Role    *discordgo.Role `json:"role"`
}

type guildRoleDeleteData struct {
	GuildID string `json:"guild_id"`
	RoleID  string `json:"role_id"`
}

type guildEmojisData struct {
	GuildID string             `json:"guild_id"`
	Emojis  []*discordgo.Emoji `json:"emojis"`
}

type guildStickersData struct {
	GuildID  string               `json:"guild_id"`
	Stickers []*discordgo.Sticker `json:"stickers"`
}

type presenceData struct {
	discordgo.Presence
	GuildID string `json:"guild_id"`
}

type membersChunkData struct {
	GuildID   string                `json:"guild_id"`
	Members   []*discordgo.Member   `json:"members"`
	Presences []*discordgo.Presence `json:"presences"`
}

type threadListSyncData struct {
	GuildID string               `json:"guild_id"`
	Threads []*discordgo.Channel `json:"threads"`
}

type readyData struct {
	User   *discordgo.User   `json:"user"`
	Guilds []guildDeleteData `json:"guilds"`
}

// ApplyEvent is the single mutation entry point: it applies one raw upstream
// dispatch to the store as an idempotent upsert or removal. Event types the
// cache does not track are ignored.
func (c *ShardCache) ApplyEvent(eventType string, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch eventType {
	case "READY":
		return c.applyReady(data)
	case "GUILD_CREATE":
		return c.applyGuildCreate(data)
	case "GUILD_UPDATE":
		return c.applyGuildUpdate(data)
	case "GUILD_DELETE":
		return c.applyGuildDelete(data)
	case "CHANNEL_CREATE", "CHANNEL_UPDATE", "THREAD_CREATE", "THREAD_UPDATE":
		return c.applyChannelUpsert(data)
	case "CHANNEL_DELETE", "THREAD_DELETE":
		return c.applyChannelDelete(data)
	case "THREAD_LIST_SYNC":
		return c.applyThreadListSync(data)
	case "GUILD_MEMBER_ADD", "GUILD_MEMBER_UPDATE":
		return c.applyMemberUpsert(data)
	case "GUILD_MEMBER_REMOVE":
		return c.applyMemberRemove(data)
	case "GUILD_MEMBERS_CHUNK":
		return c.applyMembersChunk(data)
	case "GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE":
		return c.applyRoleUpsert(data)
	case "GUILD_ROLE_DELETE":
		return c.applyRoleDelete(data)
	case "GUILD_EMOJIS_UPDATE":
		return c.applyEmojisUpdate(data)
	case "GUILD_STICKERS_UPDATE":
		return c.applyStickersUpdate(data)
	case "PRESENCE_UPDATE":
		return c.applyPresenceUpdate(data)
	case "VOICE_STATE_UPDATE":
		return c.applyVoiceStateUpdate(data)
	case "STAGE_INSTANCE_CREATE", "STAGE_INSTANCE_UPDATE":
		return c.applyStageInstanceUpsert(data)
	case "STAGE_INSTANCE_DELETE":
		return c.applyStageInstanceDelete(data)
	case "GUILD_SCHEDULED_EVENT_CREATE", "GUILD_SCHEDULED_EVENT_UPDATE":
		return c.applyScheduledEventUpsert(data)
	case "GUILD_SCHEDULED_EVENT_DELETE":
		return c.applyScheduledEventDelete(data)
	case "USER_UPDATE":
		return c.applyUserUpdate(data)
	default:
		return nil
	}
}

func (c *ShardCache) applyReady(data json.RawMessage) error {
	var ready readyData
	if err := json.Unmarshal(data, &ready); err != nil {
		return fmt.Errorf("failed to decode READY: %w", err)
	}

	c.upsertUserLocked(ready.User)
	if ready.User != nil && ready.User.ID != "" {
		c.currentUser = ready.User
	}
	for _, stub := range ready.Guilds {
		if stub.ID == "" {
			continue
		}
		if record, ok := c.guilds[stub.ID]; ok {
			record.unavailable = true
			continue
		}
		c.guilds[stub.ID] = newGuildRecord(&discordgo.Guild{ID: stub.ID, Unavailable: true}, true)
	}
	return nil
}

func (c *ShardCache) applyGuildCreate(data json.RawMessage) error {
	var payload guildCreateData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode GUILD_CREATE: %w", err)
	}
	if payload.ID == "" {
		return fmt.Errorf("GUILD_CREATE without guild id")
	}

	if payload.Unavailable {
		if record, ok := c.guilds[payload.ID]; ok {
			record.unavailable = true
		} else {
			c.guilds[payload.ID] = newGuildRecord(&discordgo.Guild{ID: payload.ID, Unavailable: true}, true)
		}
		return nil
	}

	// A fresh record drops any previous indices; the payload is the new
	// complete truth for this guild.
	record := newGuildRecord(stripGuildChildren(&payload.Guild), false)
	if previous, ok := c.guilds[payload.ID]; ok {
		c.purgeGuildChildrenLocked(payload.ID, previous)
	}
	c.guilds[payload.ID] = record

	for _, channel := range append(payload.Channels, payload.Threads...) {
		c.putChannelLocked(withGuildID(channel, payload.ID))
	}
	for _, member := range payload.Members {
		member.GuildID = payload.ID
		c.putMemberLocked(member)
	}
	for _, role := range payload.Roles {
		c.putRoleLocked(payload.ID, role)
	}
	for _, emoji := range payload.Emojis {
		c.putEmojiLocked(payload.ID, emoji)
	}
	for _, sticker := range payload.Stickers {
		c.putStickerLocked(payload.ID, sticker)
	}
	for _, state := range payload.VoiceStates {
		state.GuildID = payload.ID
		c.putVoiceStateLocked(state)
	}
	for _, presence := range payload.Presences {
		c.putPresenceLocked(payload.ID, presence)
	}
	for _, stage := range payload.StageInstances {
		c.putStageInstanceLocked(stage)
	}
	for _, event := range payload.GuildScheduledEvents {
		c.putScheduledEventLocked(event)
	}
	return nil
}

func (c *ShardCache) applyGuildUpdate(data json.RawMessage) error {
	var guild discordgo.Guild
	if err := json.Unmarshal(data, &guild); err != nil {
		return fmt.Errorf("failed to decode GUILD_UPDATE: %w", err)
	}
	if guild.ID == "" {
		return fmt.Errorf("GUILD_UPDATE without guild id")
	}

	if record, ok := c.guilds[guild.ID]; ok {
		record.guild = stripGuildChildren(&guild)
		record.unavailable = false
		return nil
	}
	c.guilds[guild.ID] = newGuildRecord(stripGuildChildren(&guild), false)
	return nil
}

func (c *ShardCache) applyGuildDelete(data json.RawMessage) error {
	var payload guildDeleteData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode GUILD_DELETE: %w", err)
	}

	record, ok := c.guilds[payload.ID]
	if !ok {
		if payload.Unavailable {
			c.guilds[payload.ID] = newGuildRecord(&discordgo.Guild{ID: payload.ID, Unavailable: true}, true)
		}
		return nil
	}

	c.purgeGuildChildrenLocked(payload.ID, record)
	if payload.Unavailable {
		// Outage, not removal: the guild stays known but loses its data.
		c.guilds[payload.ID] = newGuildRecord(&discordgo.Guild{ID: payload.ID, Unavailable: true}, true)
		return nil
	}
	delete(c.guilds, payload.ID)
	return nil
}

func (c *ShardCache) applyChannelUpsert(data json.RawMessage) error {
	var channel discordgo.Channel
	if err := json.Unmarshal(data, &channel); err != nil {
		return fmt.Errorf("failed to decode channel event: %w", err)
	}
	if channel.ID == "" {
		return fmt.Errorf("channel event without channel id")
	}
	c.putChannelLocked(&channel)
	return nil
}

func (c *ShardCache) applyChannelDelete(data json.RawMessage) error {
	var channel discordgo.Channel
	if err := json.Unmarshal(data, &channel); err != nil {
		return fmt.Errorf("failed to decode channel delete: %w", err)
	}

	delete(c.channels, channel.ID)
	if record, ok := c.guilds[channel.GuildID]; ok {
		delete(record.channelIDs, channel.ID)
	}
	return nil
}

func (c *ShardCache) applyThreadListSync(data json.RawMessage) error {
	var payload threadListSyncData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode THREAD_LIST_SYNC: %w", err)
	}

	for _, thread := range payload.Threads {
		c.putChannelLocked(withGuildID(thread, payload.GuildID))
	}
	return nil
}

func (c *ShardCache) applyMemberUpsert(data json.RawMessage) error {
	var member discordgo.Member
	if err := json.Unmarshal(data, &member); err != nil {
		return fmt.Errorf("failed to decode member event: %w", err)
	}
	if member.GuildID == "" || member.User == nil || member.User.ID == "" {
		return fmt.Errorf("member event without guild or user id")
	}
	c.putMemberLocked(&member)
	return nil
}

func (c *ShardCache) applyMemberRemove(data json.RawMessage) error {
	var member discordgo.Member
	if err := json.Unmarshal(data, &member); err != nil {
		return fmt.Errorf("failed to decode GUILD_MEMBER_REMOVE: %w", err)
	}
	if member.User == nil {
		return fmt.Errorf("GUILD_MEMBER_REMOVE without user")
	}

	userID := member.User.ID
	delete(c.members, guildUserKey{GuildID: member.GuildID, UserID: userID})
	if record, ok := c.guilds[member.GuildID]; ok {
		delete(record.memberIDs, userID)
	}
	if index, ok := c.userGuilds[userID]; ok {
		delete(index, member.GuildID)
		if len(index) == 0 {
			delete(c.userGuilds, userID)
		}
	}
	return nil
}

func (c *ShardCache) applyMembersChunk(data json.RawMessage) error {
	var chunk membersChunkData
	if err := json.Unmarshal(data, &chunk); err != nil {
		return fmt.Errorf("failed to decode GUILD_MEMBERS_CHUNK: %w", err)
	}

	for _, member := range chunk.Members {
		member.GuildID = chunk.GuildID
		c.putMemberLocked(member)
	}
	for _, presence := range chunk.Presences {
		c.putPresenceLocked(chunk.GuildID, presence)
	}
	return nil
}

func (c *ShardCache) applyRoleUpsert(data json.RawMessage) error {
	var payload guildRoleData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode role event: %w", err)
	}
	if payload.Role == nil || payload.Role.ID == "" {
		return fmt.Errorf("role event without role")
	}
	c.putRoleLocked(payload.GuildID, payload.Role)
	return nil
}

func (c *ShardCache) applyRoleDelete(data json.RawMessage) error {
	var payload guildRoleDeleteData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode GUILD_ROLE_DELETE: %w", err)
	}

	delete(c.roles, guildEntityKey{GuildID: payload.GuildID, ID: payload.RoleID})
	if record, ok := c.guilds[payload.GuildID]; ok {
		delete(record.roleIDs, payload.RoleID)
	}
	return nil
}

func (c *ShardCache) applyEmojisUpdate(data json.RawMessage) error {
	var payload guildEmojisData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode GUILD_EMOJIS_UPDATE: %w", err)
	}

	// The event carries the complete emoji set, so the old set is replaced
	// wholesale.
	if record, ok := c.guilds[payload.GuildID]; ok {
		for id := range record.emojiIDs {
			delete(c.emojis, guildEntityKey{GuildID: payload.GuildID, ID: id})
		}
		record.emojiIDs = make(map[string]struct{})
	}
	for _, emoji := range payload.Emojis {
		c.putEmojiLocked(payload.GuildID, emoji)
	}
	return nil
}

func (c *ShardCache) applyStickersUpdate(data json.RawMessage) error {
	var payload guildStickersData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode GUILD_STICKERS_UPDATE: %w", err)
	}

	if record, ok := c.guilds[payload.GuildID]; ok {
		for id := range record.stickerIDs {
			delete(c.stickers, guildEntityKey{GuildID: payload.GuildID, ID: id})
		}
		record.stickerIDs = make(map[string]struct{})
	}
	for _, sticker := range payload.Stickers {
		c.putStickerLocked(payload.GuildID, sticker)
	}
	return nil
}

func (c *ShardCache) applyPresenceUpdate(data json.RawMessage) error {
	var payload presenceData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode PRESENCE_UPDATE: %w", err)
	}
	if payload.User == nil || payload.User.ID == "" {
		return fmt.Errorf("PRESENCE_UPDATE without user")
	}

	if payload.Status == discordgo.StatusOffline {
		delete(c.presences, guildUserKey{GuildID: payload.GuildID, UserID: payload.User.ID})
		if record, ok := c.guilds[payload.GuildID]; ok {
			delete(record.presenceUserIDs, payload.User.ID)
		}
		return nil
	}

	c.putPresenceLocked(payload.GuildID, &payload.Presence)
	return nil
}

func (c *ShardCache) applyVoiceStateUpdate(data json.RawMessage) error {
	var state discordgo.VoiceState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode VOICE_STATE_UPDATE: %w", err)
	}
	if state.UserID == "" {
		return fmt.Errorf("VOICE_STATE_UPDATE without user id")
	}

	if state.ChannelID == "" {
		// Null channel means the user left voice entirely.
		delete(c.voiceStates, guildUserKey{GuildID: state.GuildID, UserID: state.UserID})
		if record, ok := c.guilds[state.GuildID]; ok {
			delete(record.voiceStateUserIDs, state.UserID)
		}
		return nil
	}

	c.putVoiceStateLocked(&state)
	return nil
}

func (c *ShardCache) applyStageInstanceUpsert(data json.RawMessage) error {
	var stage discordgo.StageInstance
	if err := json.Unmarshal(data, &stage); err != nil {
		return fmt.Errorf("failed to decode stage instance event: %w", err)
	}
	if stage.ID == "" {
		return fmt.Errorf("stage instance event without id")
	}
	c.putStageInstanceLocked(&stage)
	return nil
}

func (c *ShardCache) applyStageInstanceDelete(data json.RawMessage) error {
	var stage discordgo.StageInstance
	if err := json.Unmarshal(data, &stage); err != nil {
		return fmt.Errorf("failed to decode STAGE_INSTANCE_DELETE: %w", err)
	}

	delete(c.stageInstances, stage.ID)
	if record, ok := c.guilds[stage.GuildID]; ok {
		delete(record.stageInstanceIDs, stage.ID)
	}
	return nil
}

func (c *ShardCache) applyScheduledEventUpsert(data json.RawMessage) error {
	var event discordgo.GuildScheduledEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to decode scheduled event: %w", err)
	}
	if event.ID == "" {
		return fmt.Errorf("scheduled event without id")
	}
	c.putScheduledEventLocked(&event)
	return nil
}

func (c *ShardCache) applyScheduledEventDelete(data json.RawMessage) error {
	var event discordgo.GuildScheduledEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to decode GUILD_SCHEDULED_EVENT_DELETE: %w", err)
	}

	delete(c.scheduledEvents, event.ID)
	if record, ok := c.guilds[event.GuildID]; ok {
		delete(record.scheduledEventIDs, event.ID)
	}
	return nil
}

func (c *ShardCache) applyUserUpdate(data json.RawMessage) error {
	var user discordgo.User
	if err := json.Unmarshal(data, &user); err != nil {
		return fmt.Errorf("failed to decode USER_UPDATE: %w", err)
	}
	if user.ID == "" {
		return fmt.Errorf("USER_UPDATE without user id")
	}
	c.upsertUserLocked(&user)
	return nil
}

// --- locked upsert helpers -------------------------------------------------

// upsertUserLocked stores a user in the global user table. Bare ID stubs are
// not stored; the table only ever holds full user objects, so a read-time
// miss means the user is genuinely unknown.
func (c *ShardCache) upsertUserLocked(user *discordgo.User) {
	if user == nil || user.ID == "" || user.Username == "" {
		return
	}
	c.users[user.ID] = user
}

func (c *ShardCache) putChannelLocked(channel *discordgo.Channel) {
	c.channels[channel.ID] = channel
	if record, ok := c.guilds[channel.GuildID]; ok {
		record.channelIDs[channel.ID] = struct{}{}
	}
}

// putMemberLocked stores the membership record with its user split out into
// the user table; the stored record keeps only a bare ID stub so the join
// happens at read time against the freshest user.
func (c *ShardCache) putMemberLocked(member *discordgo.Member) {
	if member.User == nil || member.User.ID == "" {
		return
	}
	userID := member.User.ID

	c.upsertUserLocked(member.User)
	stored := *member
	stored.User = &discordgo.User{ID: userID}
	c.members[guildUserKey{GuildID: member.GuildID, UserID: userID}] = &stored

	if record, ok := c.guilds[member.GuildID]; ok {
		record.memberIDs[userID] = struct{}{}
	}
	index, ok := c.userGuilds[userID]
	if !ok {
		index = make(map[string]struct{})
		c.userGuilds[userID] = index
	}
	index[member.GuildID] = struct{}{}
}

func (c *ShardCache) putRoleLocked(guildID string, role *discordgo.Role) {
	c.roles[guildEntityKey{GuildID: guildID, ID: role.ID}] = role
	if record, ok := c.guilds[guildID]; ok {
		record.roleIDs[role.ID] = struct{}{}
	}
}

func (c *ShardCache) putEmojiLocked(guildID string, emoji *discordgo.Emoji) {
	stored := *emoji
	if stored.User != nil {
		c.upsertUserLocked(stored.User)
		stored.User = &discordgo.User{ID: stored.User.ID}
	}
	c.emojis[guildEntityKey{GuildID: guildID, ID: emoji.ID}] = &stored
	if record, ok := c.guilds[guildID]; ok {
		record.emojiIDs[emoji.ID] = struct{}{}
	}
}

func (c *ShardCache) putStickerLocked(guildID string, sticker *discordgo.Sticker) {
	stored := *sticker
	if stored.User != nil {
		c.upsertUserLocked(stored.User)
		stored.User = &discordgo.User{ID: stored.User.ID}
	}
	c.stickers[guildEntityKey{GuildID: guildID, ID: sticker.ID}] = &stored
	if record, ok := c.guilds[guildID]; ok {
		record.stickerIDs[sticker.ID] = struct{}{}
	}
}

func (c *ShardCache) putVoiceStateLocked(state *discordgo.VoiceState) {
	stored := *state
	stored.Member = nil
	c.voiceStates[guildUserKey{GuildID: state.GuildID, UserID: state.UserID}] = &stored
	if record, ok := c.guilds[state.GuildID]; ok {
		record.voiceStateUserIDs[state.UserID] = struct{}{}
	}
}

func (c *ShardCache) putPresenceLocked(guildID string, presence *discordgo.Presence) {
	if presence.User == nil || presence.User.ID == "" {
		return
	}
	userID := presence.User.ID

	c.upsertUserLocked(presence.User)
	stored := *presence
	stored.User = &discordgo.User{ID: userID}
	c.presences[guildUserKey{GuildID: guildID, UserID: userID}] = &stored

	if record, ok := c.guilds[guildID]; ok {
		record.presenceUserIDs[userID] = struct{}{}
	}
}

func (c *ShardCache) putStageInstanceLocked(stage *discordgo.StageInstance) {
	c.stageInstances[stage.ID] = stage
	if record, ok := c.guilds[stage.GuildID]; ok {
		record.stageInstanceIDs[stage.ID] = struct{}{}
	}
}

func (c *ShardCache) putScheduledEventLocked(event *discordgo.GuildScheduledEvent) {
	c.scheduledEvents[event.ID] = event
	if record, ok := c.guilds[event.GuildID]; ok {
		record.scheduledEventIDs[event.ID] = struct{}{}
	}
}

// purgeGuildChildrenLocked drops every child entity reachable through the
// record's indices. Global users are kept; they may be visible via other
// guilds.
func (c *ShardCache) purgeGuildChildrenLocked(guildID string, record *guildRecord) {
	for id := range record.channelIDs {
		delete(c.channels, id)
	}
	for userID := range record.memberIDs {
		delete(c.members, guildUserKey{GuildID: guildID, UserID: userID})
		if index, ok := c.userGuilds[userID]; ok {
			delete(index, guildID)
			if len(index) == 0 {
				delete(c.userGuilds, userID)
			}
		}
	}
	for id := range record.roleIDs {
		delete(c.roles, guildEntityKey{GuildID: guildID, ID: id})
	}
	for id := range record.emojiIDs {
		delete(c.emojis, guildEntityKey{GuildID: guildID, ID: id})
	}
	for id := range record.stickerIDs {
		delete(c.stickers, guildEntityKey{GuildID: guildID, ID: id})
	}
	for id := range record.stageInstanceIDs {
		delete(c.stageInstances, id)
	}
	for id := range record.scheduledEventIDs {
		delete(c.scheduledEvents, id)
	}
	for userID := range record.voiceStateUserIDs {
		delete(c.voiceStates, guildUserKey{GuildID: guildID, UserID: userID})
	}
	for userID := range record.presenceUserIDs {
		delete(c.presences, guildUserKey{GuildID: guildID, UserID: userID})
	}
}

// stripGuildChildren returns a copy of the guild holding scalar attributes
// only; child collections live in their own tables.
func stripGuildChildren(guild *discordgo.Guild) *discordgo.Guild {
	stripped := *guild
	stripped.Channels = nil
	stripped.Threads = nil
	stripped.Members = nil
	stripped.Presences = nil
	stripped.Roles = nil
	stripped.Emojis = nil
	stripped.Stickers = nil
	stripped.VoiceStates = nil
	stripped.StageInstances = nil
	stripped.Unavailable = false
	return &stripped
}

func withGuildID(channel *discordgo.Channel, guildID string) *discordgo.Channel {
	if channel.GuildID == guildID {
		return channel
	}
	copied := *channel
	copied.GuildID = guildID
	return &copied
}
