// Package slack posts human-review requests for flagged calls to Slack.
package slack

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/strategies"
	"github.com/parishems/compliance/internal/utils"
)

const maxReasonLength = 280

// api is the subset of *slack.Client the notifier uses.
type api interface {
	conversationLister
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// ReviewNotifier posts a message to the review channel for every call a
// strategy flagged for human review.
type ReviewNotifier struct {
	client   api
	channel  string
	resolver *ChannelResolver
}

// NewReviewNotifier creates a notifier for a bot token and a channel name or ID.
func NewReviewNotifier(botToken, channel string, options ...slack.Option) *ReviewNotifier {
	options = append([]slack.Option{slack.OptionDebug(false)}, options...)
	return newReviewNotifier(slack.New(botToken, options...), channel)
}

func newReviewNotifier(client api, channel string) *ReviewNotifier {
	return &ReviewNotifier{
		client:   client,
		channel:  channel,
		resolver: NewChannelResolver(client),
	}
}

// NotifyReview implements services.ReviewNotifier.
func (n *ReviewNotifier) NotifyReview(ctx context.Context, call *database.Call, flags []strategies.StrategyResult) error {
	if len(flags) == 0 {
		return nil
	}
	channelID, err := n.resolver.ResolveChannel(ctx, n.channel)
	if err != nil {
		return fmt.Errorf("failed to resolve review channel: %w", err)
	}

	fallback, blocks := reviewMessage(call, flags)
	_, ts, err := n.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("failed to post review request: %w", err)
	}
	log.Printf("Posted review request for call %s to %s (ts %s)", call.CallID, channelID, ts)
	return nil
}

func reviewMessage(call *database.Call, flags []strategies.StrategyResult) (string, []slack.Block) {
	fallback := fmt.Sprintf("Call %s needs review", call.CallID)

	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf(":mag: *Call %s flagged for review*", call.CallID), false, false),
		nil, nil,
	)

	threshold := "unknown"
	if call.ThresholdMinutes != nil {
		threshold = utils.FormatMinutes(*call.ThresholdMinutes)
	}
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Parish*\n%d", call.ParishID), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Unit*\n%s", call.UnitName), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Response*\n%s", utils.FormatMinutesPtr(call.Timing().EffectiveResponseMinutes())), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Threshold*\n%s", threshold), false, false),
	}
	details := slack.NewSectionBlock(nil, fields, nil)

	reasons := make([]string, 0, len(flags))
	for _, f := range flags {
		reason := f.Reason
		if r, ok := f.Metadata[strategies.MetaReviewReason].(string); ok && r != "" {
			reason = r
		}
		reasons = append(reasons, fmt.Sprintf("• `%s`: %s", f.Strategy, utils.TruncateText(reason, maxReasonLength)))
	}
	body := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(reasons, "\n"), false, false),
		nil, nil,
	)

	return fallback, []slack.Block{header, details, body}
}
