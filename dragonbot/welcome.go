package dragonbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack/slackevents"
)

// handleMemberJoined welcomes new members of the configured welcome
// channel and adds them to the ping usergroup.
func (d *DragonBot) handleMemberJoined(
	ctx context.Context,
	ev *slackevents.MemberJoinedChannelEvent,
) {
	if d.config.Slack.WelcomeChannelID == "" ||
		ev.Channel != d.config.Slack.WelcomeChannelID {
		return
	}
	if ev.User == d.slack.botUserID {
		return
	}

	log := d.logger.With(
		slog.String("listener", "welcome"),
		slog.String("user_id", ev.User),
		slog.String("channel_id", ev.Channel),
	)
	log.InfoContext(ctx, "member joined welcome channel")

	if d.config.Slack.PingGroupID != "" {
		if err := d.addToPingGroup(ctx, ev.User); err != nil {
			log.ErrorContext(
				ctx,
				"error adding user to ping group",
				tint.Err(err),
			)
		}
	}

	greeting := fmt.Sprintf(
		"Welcome to the channel, %s! :dragon: Glad to have you here.",
		userMention(ev.User),
	)
	if d.config.Slack.WelcomeNotifyUserID != "" {
		greeting = fmt.Sprintf(
			"%s\n%s say hi!",
			greeting,
			userMention(d.config.Slack.WelcomeNotifyUserID),
		)
	}
	logPostError(ctx, log, postText(ctx, d.poster, ev.Channel, "", greeting))
}

// addToPingGroup adds the user to the configured usergroup, preserving the
// existing membership. Already-present users are a no-op.
func (d *DragonBot) addToPingGroup(ctx context.Context, userID string) error {
	groupID := d.config.Slack.PingGroupID
	members, err := d.groups.GetUserGroupMembersContext(ctx, groupID)
	if err != nil {
		return fmt.Errorf("error fetching usergroup members: %w", err)
	}
	for _, member := range members {
		if member == userID {
			return nil
		}
	}
	members = append(members, userID)

	// The API takes the full member list, comma-joined.
	_, err = d.groups.UpdateUserGroupMembersContext(
		ctx,
		groupID,
		strings.Join(members, ","),
	)
	if err != nil {
		return fmt.Errorf("error updating usergroup members: %w", err)
	}
	d.logger.InfoContext(
		ctx,
		"added user to ping group",
		slog.String("user_id", userID),
		slog.String("group_id", groupID),
	)
	return nil
}
