package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustApply(t *testing.T, c *ShardCache, eventType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.ApplyEvent(eventType, raw))
}

func guildCreateEvent(guildID string) map[string]any {
	return map[string]any{
		"id":   guildID,
		"name": "Test Guild",
		"channels": []map[string]any{
			{"id": guildID + "01", "type": 0, "name": "general"},
		},
		"threads": []map[string]any{
			{"id": guildID + "02", "type": 11, "name": "a thread"},
		},
		"members": []map[string]any{
			{"user": map[string]any{"id": "7", "username": "tester"}, "nick": "tst"},
		},
		"roles": []map[string]any{
			{"id": guildID + "03", "name": "mods"},
		},
		"emojis": []map[string]any{
			{"id": guildID + "04", "name": "blob", "user": map[string]any{"id": "8", "username": "creator"}},
		},
		"stickers": []map[string]any{
			{"id": guildID + "05", "name": "wave"},
		},
		"voice_states": []map[string]any{
			{"user_id": "7", "channel_id": guildID + "01", "session_id": "abc"},
		},
		"presences": []map[string]any{
			{"user": map[string]any{"id": "7"}, "status": "online"},
		},
		"stage_instances": []map[string]any{
			{"id": guildID + "06", "guild_id": guildID, "topic": "stage"},
		},
		"guild_scheduled_events": []map[string]any{
			{"id": guildID + "07", "guild_id": guildID, "name": "launch"},
		},
	}
}

func TestShardCache_GuildCreate(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", guildCreateEvent("100"))

	t.Run("guild record is available with children stripped", func(t *testing.T) {
		maybeGuild := c.Guild("100")
		require.True(t, maybeGuild.IsPresent())
		guild := maybeGuild.MustGet()
		assert.Equal(t, "Test Guild", guild.Name)
		assert.Nil(t, guild.Channels)
		assert.Nil(t, guild.Members)
		assert.False(t, guild.Unavailable)
	})

	t.Run("channels and threads share one index", func(t *testing.T) {
		ids := c.GuildChannelIDs("100")
		assert.ElementsMatch(t, []string{"10001", "10002"}, ids)

		thread := c.Channel("10002")
		require.True(t, thread.IsPresent())
		assert.True(t, IsThread(thread.MustGet().Type))
	})

	t.Run("member is stored with a user stub and the user separately", func(t *testing.T) {
		maybeMember := c.Member("100", "7")
		require.True(t, maybeMember.IsPresent())
		member := maybeMember.MustGet()
		require.NotNil(t, member.User)
		assert.Equal(t, "7", member.User.ID)
		assert.Empty(t, member.User.Username)

		maybeUser := c.User("7")
		require.True(t, maybeUser.IsPresent())
		assert.Equal(t, "tester", maybeUser.MustGet().Username)
	})

	t.Run("emoji creator is split out into the user table", func(t *testing.T) {
		maybeEmoji := c.Emoji("100", "10004")
		require.True(t, maybeEmoji.IsPresent())
		emoji := maybeEmoji.MustGet()
		require.NotNil(t, emoji.User)
		assert.Empty(t, emoji.User.Username)

		assert.True(t, c.User("8").IsPresent())
	})

	t.Run("voice state is stored without a member", func(t *testing.T) {
		maybeState := c.VoiceState("7", "100")
		require.True(t, maybeState.IsPresent())
		assert.Nil(t, maybeState.MustGet().Member)
	})

	t.Run("remaining indices are populated", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"7"}, c.GuildMemberIDs("100"))
		assert.ElementsMatch(t, []string{"10003"}, c.GuildRoleIDs("100"))
		assert.ElementsMatch(t, []string{"10004"}, c.GuildEmojiIDs("100"))
		assert.ElementsMatch(t, []string{"10005"}, c.GuildStickerIDs("100"))
		assert.ElementsMatch(t, []string{"10006"}, c.GuildStageInstanceIDs("100"))
		assert.ElementsMatch(t, []string{"10007"}, c.GuildScheduledEventIDs("100"))
		assert.ElementsMatch(t, []string{"7"}, c.GuildVoiceStateUserIDs("100"))
		assert.ElementsMatch(t, []string{"7"}, c.GuildPresenceUserIDs("100"))
	})

	t.Run("membership index answers user guild lookups", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"100"}, c.UserGuildIDs("7"))
		assert.Nil(t, c.UserGuildIDs("999"))
	})
}

func TestShardCache_GuildDelete(t *testing.T) {
	t.Run("unavailable delete keeps the guild as an outage stub", func(t *testing.T) {
		c := New(0)
		mustApply(t, c, "GUILD_CREATE", guildCreateEvent("100"))
		mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "100", "unavailable": true})

		refs := c.GuildRefs()
		require.Len(t, refs, 1)
		assert.True(t, refs[0].Unavailable)
		assert.Equal(t, []string{"100"}, c.UnavailableGuildIDs())

		// Children are purged with the outage.
		assert.False(t, c.Channel("10001").IsPresent())
		assert.False(t, c.Member("100", "7").IsPresent())
		assert.Empty(t, c.GuildChannelIDs("100"))
	})

	t.Run("plain delete removes the guild entirely", func(t *testing.T) {
		c := New(0)
		mustApply(t, c, "GUILD_CREATE", guildCreateEvent("100"))
		mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "100"})

		assert.Empty(t, c.GuildRefs())
		assert.False(t, c.Guild("100").IsPresent())
		assert.Nil(t, c.UserGuildIDs("7"))
	})
}

func TestShardCache_ChannelEvents(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "CHANNEL_CREATE", map[string]any{"id": "55", "guild_id": "100", "type": 0})
	assert.True(t, c.Channel("55").IsPresent())
	assert.ElementsMatch(t, []string{"55"}, c.GuildChannelIDs("100"))

	mustApply(t, c, "CHANNEL_DELETE", map[string]any{"id": "55", "guild_id": "100"})
	assert.False(t, c.Channel("55").IsPresent())
	assert.Empty(t, c.GuildChannelIDs("100"))
}

func TestShardCache_MemberEvents(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "GUILD_MEMBER_ADD", map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "5", "username": "five"},
	})
	assert.True(t, c.Member("100", "5").IsPresent())
	assert.ElementsMatch(t, []string{"100"}, c.UserGuildIDs("5"))

	mustApply(t, c, "GUILD_MEMBER_REMOVE", map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "5"},
	})
	assert.False(t, c.Member("100", "5").IsPresent())
	assert.Nil(t, c.UserGuildIDs("5"))
	// The user itself survives removal; it may be referenced elsewhere.
	assert.True(t, c.User("5").IsPresent())
}

func TestShardCache_MembersChunk(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "GUILD_MEMBERS_CHUNK", map[string]any{
		"guild_id": "100",
		"members": []map[string]any{
			{"user": map[string]any{"id": "1", "username": "one"}},
			{"user": map[string]any{"id": "2", "username": "two"}},
		},
		"presences": []map[string]any{
			{"user": map[string]any{"id": "1"}, "status": "idle"},
		},
	})

	assert.ElementsMatch(t, []string{"1", "2"}, c.GuildMemberIDs("100"))
	assert.True(t, c.Presence("100", "1").IsPresent())
}

func TestShardCache_PresenceUpdate(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "PRESENCE_UPDATE", map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "5"},
		"status":   "online",
	})
	assert.True(t, c.Presence("100", "5").IsPresent())

	mustApply(t, c, "PRESENCE_UPDATE", map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "5"},
		"status":   "offline",
	})
	assert.False(t, c.Presence("100", "5").IsPresent())
	assert.Empty(t, c.GuildPresenceUserIDs("100"))
}

func TestShardCache_VoiceStateUpdate(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "VOICE_STATE_UPDATE", map[string]any{
		"guild_id":   "100",
		"user_id":    "5",
		"channel_id": "42",
		"session_id": "s1",
	})
	assert.True(t, c.VoiceState("5", "100").IsPresent())

	// Leaving voice arrives as a null channel.
	mustApply(t, c, "VOICE_STATE_UPDATE", map[string]any{
		"guild_id": "100",
		"user_id":  "5",
		"session_id": "s1",
	})
	assert.False(t, c.VoiceState("5", "100").IsPresent())
}

func TestShardCache_EmojisUpdateReplacesSet(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", guildCreateEvent("100"))

	mustApply(t, c, "GUILD_EMOJIS_UPDATE", map[string]any{
		"guild_id": "100",
		"emojis": []map[string]any{
			{"id": "900", "name": "new"},
		},
	})

	assert.ElementsMatch(t, []string{"900"}, c.GuildEmojiIDs("100"))
	assert.False(t, c.Emoji("100", "10004").IsPresent())
	assert.True(t, c.Emoji("100", "900").IsPresent())
}

func TestShardCache_Ready(t *testing.T) {
	c := New(3)
	mustApply(t, c, "READY", map[string]any{
		"user": map[string]any{"id": "999", "username": "proxy", "bot": true},
		"guilds": []map[string]any{
			{"id": "100", "unavailable": true},
			{"id": "200", "unavailable": true},
		},
	})

	assert.Equal(t, 3, c.ShardID())
	assert.True(t, c.User("999").IsPresent())
	assert.ElementsMatch(t, []string{"100", "200"}, c.UnavailableGuildIDs())
}

func TestShardCache_UnknownEventIgnored(t *testing.T) {
	c := New(0)
	require.NoError(t, c.ApplyEvent("TYPING_START", json.RawMessage(`{"user_id":"1"}`)))
	assert.Empty(t, c.GuildRefs())
}

func TestShardCache_MalformedEvent(t *testing.T) {
	c := New(0)
	err := c.ApplyEvent("GUILD_CREATE", json.RawMessage(`{"id":`))
	assert.Error(t, err)
}

func TestShardCache_Stats(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", guildCreateEvent("100"))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Guilds)
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, 1, stats.Members)
	assert.Equal(t, 1, stats.VoiceStates)
	// member user plus emoji creator
	assert.Equal(t, 2, stats.Users)
}

func TestShardCache_GuildUpdatePreservesIndices(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", guildCreateEvent("100"))
	mustApply(t, c, "GUILD_UPDATE", map[string]any{"id": "100", "name": "Renamed"})

	maybeGuild := c.Guild("100")
	require.True(t, maybeGuild.IsPresent())
	assert.Equal(t, "Renamed", maybeGuild.MustGet().Name)
	assert.ElementsMatch(t, []string{"10001", "10002"}, c.GuildChannelIDs("100"))
}

func TestShardCache_RoleEvents(t *testing.T) {
	c := New(0)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "GUILD_ROLE_CREATE", map[string]any{
		"guild_id": "100",
		"role":     map[string]any{"id": "77", "name": "admins"},
	})
	require.True(t, c.Role("100", "77").IsPresent())
	assert.Equal(t, "admins", c.Role("100", "77").MustGet().Name)

	mustApply(t, c, "GUILD_ROLE_DELETE", map[string]any{"guild_id": "100", "role_id": "77"})
	assert.False(t, c.Role("100", "77").IsPresent())
	assert.Empty(t, c.GuildRoleIDs("100"))
}
