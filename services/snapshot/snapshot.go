package snapshot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"

	"github.com/MartineBot/gateway-proxy/cache"
	"github.com/MartineBot/gateway-proxy/models"
)

// Service reconstructs replay payloads for one shard from its entity cache.
// All methods are synchronous reads; the session sequence counter is owned
// by the caller and threaded through explicitly.
type Service struct {
	cache *cache.ShardCache
}

func NewSnapshotService(shardCache *cache.ShardCache) *Service {
	return &Service{cache: shardCache}
}

func (s *Service) Cache() *cache.ShardCache {
	return s.cache
}

// BuildReadyPayload assembles the synthetic READY frame and advances the
// session sequence counter by one. Every guild known to the shard is listed
// as an unavailable stub: real guild data always follows in separate
// GUILD_CREATE reconstruction events, exactly like a cold upstream session.
func (s *Service) BuildReadyPayload(base models.ReadyFields, sequence *int) models.Payload {
	*sequence++

	refs := s.cache.GuildRefs()
	guilds := make([]models.UnavailableGuild, 0, len(refs))
	for _, ref := range refs {
		guilds = append(guilds, models.UnavailableGuild{ID: ref.ID, Unavailable: true})
	}

	ready := make(models.ReadyFields, len(base)+1)
	for key, value := range base {
		ready[key] = value
	}
	ready["guilds"] = guilds

	return models.Payload{
		D:  ready,
		Op: models.OpDispatch,
		T:  models.EventReady,
		S:  *sequence,
	}
}

// GuildPayloads returns a lazy, single-pass iterator over one reconstruction
// event per guild currently known to the shard. Consuming an element
// advances the shared sequence counter by one as a side effect, so one
// session must drive its iterator from a single goroutine, in order. The
// iterator is not restartable; a fresh call enumerates current cache state.
func (s *Service) GuildPayloads(sequence *int) *GuildPayloadIterator {
	return &GuildPayloadIterator{
		service:  s,
		refs:     s.cache.GuildRefs(),
		sequence: sequence,
	}
}

// GuildPayloadIterator is the explicit cursor over a shard's guild
// reconstruction events. It may be abandoned after any element without
// cleanup.
type GuildPayloadIterator struct {
	service  *Service
	refs     []cache.GuildRef
	sequence *int
	index    int
}

// Next produces the next reconstruction event, or false when the pass is
// complete. Availability is re-read at production time: a guild that went
// unavailable (or was evicted) since the iterator was created is emitted as
// a GUILD_DELETE stub rather than dropped, so every enumerated guild yields
// exactly one payload.
func (it *GuildPayloadIterator) Next() (models.Payload, bool) {
	if it.index >= len(it.refs) {
		return models.Payload{}, false
	}
	ref := it.refs[it.index]
	it.index++

	*it.sequence++

	maybeAggregate := mo.None[*models.GuildAggregate]()
	if !ref.Unavailable {
		maybeAggregate = it.service.BuildGuildAggregate(ref.ID)
	}
	if !maybeAggregate.IsPresent() {
		return models.Payload{
			D:  models.UnavailableGuild{ID: ref.ID, Unavailable: true},
			Op: models.OpDispatch,
			T:  models.EventGuildDelete,
			S:  *it.sequence,
		}, true
	}

	return models.Payload{
		D:  maybeAggregate.MustGet(),
		Op: models.OpDispatch,
		T:  models.EventGuildCreate,
		S:  *it.sequence,
	}, true
}

// BuildGuildAggregate joins the guild's child collections back into one
// nested object. Returns None when the guild is unknown or currently
// unavailable. Child lookups that miss under concurrent mutation are
// silently dropped; the result is a best-effort snapshot, not a
// point-in-time consistent one.
func (s *Service) BuildGuildAggregate(guildID string) mo.Option[*models.GuildAggregate] {
	maybeGuild := s.cache.Guild(guildID)
	if !maybeGuild.IsPresent() {
		return mo.None[*models.GuildAggregate]()
	}
	cached := maybeGuild.MustGet()
	if cached.Unavailable {
		return mo.None[*models.GuildAggregate]()
	}

	guild := *cached
	guild.Channels, guild.Threads = s.channelsInGuild(guildID)
	guild.Members = s.membersInGuild(guildID)
	guild.Roles = s.rolesInGuild(guildID)
	guild.Emojis = s.emojisInGuild(guildID)
	guild.Stickers = s.stickersInGuild(guildID)
	guild.Presences = s.presencesInGuild(guildID)
	guild.VoiceStates = s.voiceStatesInGuild(guildID)
	guild.StageInstances = s.stageInstancesInGuild(guildID)
	guild.Unavailable = false

	return mo.Some(&models.GuildAggregate{
		Guild:                &guild,
		GuildScheduledEvents: s.scheduledEventsInGuild(guildID),
	})
}

// channelsInGuild resolves the shared channel index and buckets each channel
// by its own type tag.
func (s *Service) channelsInGuild(guildID string) ([]*discordgo.Channel, []*discordgo.Channel) {
	channels := []*discordgo.Channel{}
	threads := []*discordgo.Channel{}
	for _, channelID := range s.cache.GuildChannelIDs(guildID) {
		maybeChannel := s.cache.Channel(channelID)
		if !maybeChannel.IsPresent() {
			continue
		}
		channel := maybeChannel.MustGet()
		if cache.IsThread(channel.Type) {
			threads = append(threads, channel)
		} else {
			channels = append(channels, channel)
		}
	}
	return channels, threads
}

// member joins a membership record with its user. A member whose user is
// missing from the cache resolves to None and is omitted from output.
func (s *Service) member(guildID, userID string) mo.Option[*discordgo.Member] {
	maybeMember := s.cache.Member(guildID, userID)
	if !maybeMember.IsPresent() {
		return mo.None[*discordgo.Member]()
	}
	maybeUser := s.cache.User(userID)
	if !maybeUser.IsPresent() {
		return mo.None[*discordgo.Member]()
	}

	member := *maybeMember.MustGet()
	member.User = maybeUser.MustGet()
	return mo.Some(&member)
}

func (s *Service) membersInGuild(guildID string) []*discordgo.Member {
	members := []*discordgo.Member{}
	for _, userID := range s.cache.GuildMemberIDs(guildID) {
		if maybeMember := s.member(guildID, userID); maybeMember.IsPresent() {
			members = append(members, maybeMember.MustGet())
		}
	}
	return members
}

func (s *Service) rolesInGuild(guildID string) []*discordgo.Role {
	roles := []*discordgo.Role{}
	for _, roleID := range s.cache.GuildRoleIDs(guildID) {
		if maybeRole := s.cache.Role(guildID, roleID); maybeRole.IsPresent() {
			roles = append(roles, maybeRole.MustGet())
		}
	}
	return roles
}

func (s *Service) emojisInGuild(guildID string) []*discordgo.Emoji {
	emojis := []*discordgo.Emoji{}
	for _, emojiID := range s.cache.GuildEmojiIDs(guildID) {
		maybeEmoji := s.cache.Emoji(guildID, emojiID)
		if !maybeEmoji.IsPresent() {
			continue
		}
		emoji := *maybeEmoji.MustGet()
		emoji.User = s.resolveCreator(emoji.User)
		emojis = append(emojis, &emoji)
	}
	return emojis
}

func (s *Service) stickersInGuild(guildID string) []*discordgo.Sticker {
	stickers := []*discordgo.Sticker{}
	for _, stickerID := range s.cache.GuildStickerIDs(guildID) {
		maybeSticker := s.cache.Sticker(guildID, stickerID)
		if !maybeSticker.IsPresent() {
			continue
		}
		sticker := *maybeSticker.MustGet()
		sticker.User = s.resolveCreator(sticker.User)
		stickers = append(stickers, &sticker)
	}
	return stickers
}

// resolveCreator swaps a stored creator stub for the full user, or drops the
// reference when the user is no longer cached. The field is optional, never
// an error.
func (s *Service) resolveCreator(stub *discordgo.User) *discordgo.User {
	if stub == nil {
		return nil
	}
	maybeUser := s.cache.User(stub.ID)
	if !maybeUser.IsPresent() {
		return nil
	}
	return maybeUser.MustGet()
}

func (s *Service) presencesInGuild(guildID string) []*discordgo.Presence {
	presences := []*discordgo.Presence{}
	for _, userID := range s.cache.GuildPresenceUserIDs(guildID) {
		if maybePresence := s.cache.Presence(guildID, userID); maybePresence.IsPresent() {
			presences = append(presences, maybePresence.MustGet())
		}
	}
	return presences
}

// voiceStatesInGuild joins each voice state with its member; a state whose
// member cannot be resolved still reports member null rather than being
// dropped.
func (s *Service) voiceStatesInGuild(guildID string) []*discordgo.VoiceState {
	states := []*discordgo.VoiceState{}
	for _, userID := range s.cache.GuildVoiceStateUserIDs(guildID) {
		maybeState := s.cache.VoiceState(userID, guildID)
		if !maybeState.IsPresent() {
			continue
		}
		state := *maybeState.MustGet()
		state.Member = s.member(guildID, userID).OrElse(nil)
		states = append(states, &state)
	}
	return states
}

func (s *Service) stageInstancesInGuild(guildID string) []*discordgo.StageInstance {
	stages := []*discordgo.StageInstance{}
	for _, stageID := range s.cache.GuildStageInstanceIDs(guildID) {
		if maybeStage := s.cache.StageInstance(stageID); maybeStage.IsPresent() {
			stages = append(stages, maybeStage.MustGet())
		}
	}
	return stages
}

func (s *Service) scheduledEventsInGuild(guildID string) []*discordgo.GuildScheduledEvent {
	events := []*discordgo.GuildScheduledEvent{}
	for _, eventID := range s.cache.GuildScheduledEventIDs(guildID) {
		if maybeEvent := s.cache.ScheduledEvent(eventID); maybeEvent.IsPresent() {
			events = append(events, maybeEvent.MustGet())
		}
	}
	return events
}
