package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MartineBot/gateway-proxy/cache"
	"github.com/MartineBot/gateway-proxy/models"
)

func mustApply(t *testing.T, c *cache.ShardCache, eventType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.ApplyEvent(eventType, raw))
}

func newTestService(t *testing.T) (*Service, *cache.ShardCache) {
	t.Helper()
	c := cache.New(0)
	return NewSnapshotService(c), c
}

func addGuildWithChannelsAndMember(t *testing.T, c *cache.ShardCache) {
	t.Helper()
	mustApply(t, c, "GUILD_CREATE", map[string]any{
		"id":   "100",
		"name": "Available Guild",
		"channels": []map[string]any{
			{"id": "11", "type": 0, "name": "general"},
		},
		"threads": []map[string]any{
			{"id": "12", "type": 11, "name": "thread"},
		},
		"members": []map[string]any{
			{"user": map[string]any{"id": "7", "username": "seven"}},
		},
	})
}

func TestBuildReadyPayload(t *testing.T) {
	service, c := newTestService(t)
	addGuildWithChannelsAndMember(t, c)
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "200", "unavailable": true})

	sequence := 0
	base := models.ReadyFields{"v": 10, "session_id": "sess_x"}
	payload := service.BuildReadyPayload(base, &sequence)

	assert.Equal(t, 1, sequence)
	assert.Equal(t, 1, payload.S)
	assert.Equal(t, models.EventReady, payload.T)
	assert.Equal(t, models.OpDispatch, payload.Op)

	ready, ok := payload.D.(models.ReadyFields)
	require.True(t, ok)
	assert.Equal(t, 10, ready["v"])

	guilds, ok := ready["guilds"].([]models.UnavailableGuild)
	require.True(t, ok)
	require.Len(t, guilds, 2)
	// Loaded guilds are listed unavailable too: their data arrives via
	// separate GUILD_CREATE events after READY.
	for _, stub := range guilds {
		assert.True(t, stub.Unavailable)
	}

	// The caller's base object is not mutated.
	_, mutated := base["guilds"]
	assert.False(t, mutated)
}

func TestGuildPayloads_SequenceAdvancesOncePerPayload(t *testing.T) {
	service, c := newTestService(t)
	addGuildWithChannelsAndMember(t, c)
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "200", "unavailable": true})
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "300", "unavailable": true})

	sequence := 0
	service.BuildReadyPayload(models.ReadyFields{}, &sequence)

	it := service.GuildPayloads(&sequence)
	var payloads []models.Payload
	for {
		payload, ok := it.Next()
		if !ok {
			break
		}
		payloads = append(payloads, payload)
	}

	require.Len(t, payloads, 3)
	// 1 ready + 3 guild events, regardless of availability mix.
	assert.Equal(t, 4, sequence)
	for i, payload := range payloads {
		assert.Equal(t, i+2, payload.S)
	}
}

func TestGuildPayloads_EveryGuildExactlyOnce(t *testing.T) {
	service, c := newTestService(t)
	addGuildWithChannelsAndMember(t, c)
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "200", "unavailable": true})

	sequence := 0
	it := service.GuildPayloads(&sequence)

	seen := map[string]string{}
	for {
		payload, ok := it.Next()
		if !ok {
			break
		}
		switch body := payload.D.(type) {
		case *models.GuildAggregate:
			_, dup := seen[body.ID]
			require.False(t, dup)
			seen[body.ID] = payload.T
		case models.UnavailableGuild:
			_, dup := seen[body.ID]
			require.False(t, dup)
			seen[body.ID] = payload.T
		default:
			t.Fatalf("unexpected payload body %T", payload.D)
		}
	}

	assert.Equal(t, map[string]string{
		"100": models.EventGuildCreate,
		"200": models.EventGuildDelete,
	}, seen)
}

func TestGuildPayloads_UnavailableGuildIsStub(t *testing.T) {
	service, c := newTestService(t)
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "200", "unavailable": true})

	sequence := 0
	it := service.GuildPayloads(&sequence)

	payload, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, models.EventGuildDelete, payload.T)
	assert.Equal(t, models.UnavailableGuild{ID: "200", Unavailable: true}, payload.D)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestGuildPayloads_ChannelsAndThreadsBucketedByType(t *testing.T) {
	service, c := newTestService(t)
	addGuildWithChannelsAndMember(t, c)

	sequence := 0
	it := service.GuildPayloads(&sequence)
	payload, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, models.EventGuildCreate, payload.T)

	aggregate, ok := payload.D.(*models.GuildAggregate)
	require.True(t, ok)

	require.Len(t, aggregate.Channels, 1)
	assert.Equal(t, "11", aggregate.Channels[0].ID)
	require.Len(t, aggregate.Threads, 1)
	assert.Equal(t, "12", aggregate.Threads[0].ID)

	require.Len(t, aggregate.Members, 1)
	assert.Equal(t, "7", aggregate.Members[0].User.ID)
	assert.Equal(t, "seven", aggregate.Members[0].User.Username)
}

func TestGuildPayloads_GuildEvictedMidIterationBecomesStub(t *testing.T) {
	service, c := newTestService(t)
	addGuildWithChannelsAndMember(t, c)

	sequence := 0
	it := service.GuildPayloads(&sequence)

	// The guild drops out between enumeration and production.
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "100"})

	payload, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, models.EventGuildDelete, payload.T)
	assert.Equal(t, models.UnavailableGuild{ID: "100", Unavailable: true}, payload.D)
	assert.Equal(t, 1, sequence)
}

func TestBuildGuildAggregate_MemberWithoutUserIsOmitted(t *testing.T) {
	service, c := newTestService(t)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	// A membership record whose user payload is a bare ID stub leaves the
	// user table empty for that ID; the join must drop the member, not fail.
	mustApply(t, c, "GUILD_MEMBER_ADD", map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "5"},
	})
	mustApply(t, c, "GUILD_MEMBER_ADD", map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "7", "username": "seven"},
	})

	aggregate := service.BuildGuildAggregate("100").MustGet()
	require.Len(t, aggregate.Members, 1)
	assert.Equal(t, "7", aggregate.Members[0].User.ID)
}

func TestBuildGuildAggregate_VoiceStateWithoutMemberKeepsNullMember(t *testing.T) {
	service, c := newTestService(t)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "g"})

	mustApply(t, c, "VOICE_STATE_UPDATE", map[string]any{
		"guild_id":   "100",
		"user_id":    "6",
		"channel_id": "11",
		"session_id": "s",
	})

	aggregate := service.BuildGuildAggregate("100").MustGet()
	require.Len(t, aggregate.VoiceStates, 1)
	assert.Equal(t, "6", aggregate.VoiceStates[0].UserID)
	assert.Nil(t, aggregate.VoiceStates[0].Member)
}

func TestBuildGuildAggregate_Idempotent(t *testing.T) {
	service, c := newTestService(t)
	addGuildWithChannelsAndMember(t, c)

	first := service.BuildGuildAggregate("100").MustGet()
	second := service.BuildGuildAggregate("100").MustGet()

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
}

func TestBuildGuildAggregate_UnknownOrUnavailable(t *testing.T) {
	service, c := newTestService(t)
	mustApply(t, c, "GUILD_DELETE", map[string]any{"id": "200", "unavailable": true})

	assert.False(t, service.BuildGuildAggregate("999").IsPresent())
	assert.False(t, service.BuildGuildAggregate("200").IsPresent())
}

func TestBuildGuildAggregate_EmptyCollectionsSerializeAsArrays(t *testing.T) {
	service, c := newTestService(t)
	mustApply(t, c, "GUILD_CREATE", map[string]any{"id": "100", "name": "empty"})

	aggregate := service.BuildGuildAggregate("100").MustGet()
	raw, err := json.Marshal(aggregate)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, field := range []string{"channels", "threads", "members", "roles", "emojis"} {
		value, ok := decoded[field]
		require.True(t, ok, field)
		assert.IsType(t, []any{}, value, field)
	}
}
