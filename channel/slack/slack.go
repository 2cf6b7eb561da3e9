// Package slack posts incident outcomes to a Slack channel.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/jeff4444/autoduty-backend/model"
)

// Notifier posts one message per terminal incident.
type Notifier struct {
	api     *slack.Client
	channel string
}

// New creates a Notifier posting to the given channel with a bot token.
func New(token, channel string) *Notifier {
	return &Notifier{api: slack.New(token), channel: channel}
}

func (n *Notifier) Notify(ctx context.Context, inc *model.Incident) error {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("*%s* %s in `%s`", statusEmoji(inc.Status), inc.ErrorType, inc.SourceFile), false, false)
	headerSection := slack.NewSectionBlock(header, nil, nil)

	lines := fmt.Sprintf("Incident `%s` is *%s*", inc.ID, inc.Status)
	if inc.RootCause != "" {
		lines += "\nRoot cause: " + inc.RootCause
	}
	if inc.PRUrl != "" {
		lines += "\nPull request: " + inc.PRUrl
	}
	if inc.Status == model.StatusFailed && inc.Error != "" {
		lines += "\nReason: " + inc.Error
	}
	detail := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, lines, false, false), nil, nil)

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(headerSection, slack.NewDividerBlock(), detail),
	)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}

func statusEmoji(s model.Status) string {
	switch s {
	case model.StatusVerified, model.StatusResolved:
		return ":white_check_mark:"
	case model.StatusPRCreated:
		return ":rocket:"
	case model.StatusFailed:
		return ":x:"
	default:
		return ":mag:"
	}
}
