package discord

import (
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Embed colors for status notifications.
const (
	ColorGreen  = 0x00FF00
	ColorRed    = 0xFF0000
	ColorOrange = 0xFFA500
	ColorBlue   = 0x5865F2
)

const notifierUsername = "Gateway Proxy"

// Notifier posts status embeds to configured Discord webhooks. Sends are
// fire-and-forget: failures are logged and never propagate to callers.
type Notifier struct {
	session *discordgo.Session

	status      webhookTarget
	guildEvents webhookTarget
}

type webhookTarget struct {
	id    string
	token string
}

func (t webhookTarget) configured() bool {
	return t.id != "" && t.token != ""
}

// NewNotifier creates a notifier over a REST-only discordgo session.
// Either webhook URL may be empty, disabling that target.
func NewNotifier(session *discordgo.Session, statusURL, guildEventsURL string) *Notifier {
	return &Notifier{
		session:     session,
		status:      parseTarget("status", statusURL),
		guildEvents: parseTarget("guild events", guildEventsURL),
	}
}

func parseTarget(name, url string) webhookTarget {
	if url == "" {
		return webhookTarget{}
	}
	id, token, err := ParseWebhookURL(url)
	if err != nil {
		log.Printf("⚠️ Invalid %s webhook URL, notifications disabled: %v", name, err)
		return webhookTarget{}
	}
	return webhookTarget{id: id, token: token}
}

// ParseWebhookURL extracts the webhook ID and token from a Discord webhook
// URL of the form https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(url string) (string, string, error) {
	const marker = "/webhooks/"
	index := strings.Index(url, marker)
	if index == -1 {
		return "", "", fmt.Errorf("no webhook path in %q", url)
	}

	parts := strings.Split(strings.TrimSuffix(url[index+len(marker):], "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed webhook URL %q", url)
	}
	return parts[0], parts[1], nil
}

// Status posts to the status webhook (startup, shard connects/disconnects).
func (n *Notifier) Status(color int, title, message string) {
	n.send(n.status, color, title, message)
}

// GuildEvent posts to the guild-events webhook (guild joins/leaves/outages).
func (n *Notifier) GuildEvent(color int, title, message string) {
	n.send(n.guildEvents, color, title, message)
}

func (n *Notifier) send(target webhookTarget, color int, title, message string) {
	if !target.configured() {
		return
	}

	go func() {
		_, err := n.session.WebhookExecute(target.id, target.token, false, &discordgo.WebhookParams{
			Username: notifierUsername,
			Embeds: []*discordgo.MessageEmbed{{
				Title:       title,
				Description: message,
				Color:       color,
			}},
		})
		if err != nil {
			log.Printf("❌ Failed to send webhook notification %q: %v", title, err)
		}
	}()
}
