package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordClient abstracts the discordgo methods we use, enabling test mocks.
type discordClient interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to one Discord channel.
type Discord struct {
	client  discordClient
	channel string
}

var _ Notifier = (*Discord)(nil)

// NewDiscord builds a Discord notifier from a bot token and channel ID.
func NewDiscord(token, channel string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{client: session, channel: channel}, nil
}

// Send posts the alert as a single message.
func (d *Discord) Send(ctx context.Context, alert Alert) error {
	content := fmt.Sprintf("**%s**\n%s", alert.Title, alert.Body)
	if _, err := d.client.ChannelMessageSend(d.channel, content); err != nil {
		return fmt.Errorf("notify: discord post to %s: %w", d.channel, err)
	}
	return nil
}

func (d *Discord) Name() string { return "discord" }
