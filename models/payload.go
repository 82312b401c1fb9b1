package models

import (
	"github.com/bwmarrin/discordgo"
)

// OpDispatch is the gateway opcode stamped on every replayed event.
const OpDispatch = 0

// Dispatch event type names used by the replay stream. The type name is the
// wire-format tag that distinguishes the payload variants sharing the
// Payload envelope.
const (
	EventReady       = "READY"
	EventGuildCreate = "GUILD_CREATE"
	EventGuildDelete = "GUILD_DELETE"
)

// Payload is one dispatch frame of a replay session: a typed event body D
// tagged with its event name T, the dispatch opcode and the session sequence
// number assigned when the frame was produced.
type Payload struct {
	D  any    `json:"d"`
	Op int    `json:"op"`
	T  string `json:"t"`
	S  int    `json:"s"`
}

// ReadyFields is the partially-built READY object owned by the session
// handler. The snapshot builder only adds the "guilds" entry.
type ReadyFields map[string]any

// UnavailableGuild is the minimal guild stub listed in READY payloads and
// emitted as the body of GUILD_DELETE reconstruction events.
type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// GuildAggregate is the fully denormalized guild sent as a GUILD_CREATE
// body: the cached guild scalars plus every child collection joined back in.
// Scheduled events ride alongside because discordgo's Guild struct does not
// carry them.
type GuildAggregate struct {
	*discordgo.Guild
	GuildScheduledEvents []*discordgo.GuildScheduledEvent `json:"guild_scheduled_events"`
}
