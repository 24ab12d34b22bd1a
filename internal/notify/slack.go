package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts to one Slack channel.
type Slack struct {
	client  slackClient
	channel string
}

var _ Notifier = (*Slack)(nil)

// NewSlack builds a Slack notifier from a bot token and channel ID.
func NewSlack(token, channel string) *Slack {
	return &Slack{client: slackapi.New(token), channel: channel}
}

// Send posts the alert as a single message.
func (s *Slack) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("*%s*\n%s", alert.Title, alert.Body)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post to %s: %w", s.channel, err)
	}
	return nil
}

func (s *Slack) Name() string { return "slack" }
