package dragonbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// pingCommand handles /ping. The round-trip time of the initial post is
// measured, then edited into the message.
func (d *DragonBot) pingCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(slog.String("command", "/ping"))

	start := time.Now()
	channelID, timestamp, err := d.poster.PostMessageContext(
		ctx,
		cmd.ChannelID,
		slack.MsgOptionText("Pong! :table_tennis_paddle_and_ball:", false),
	)
	if err != nil {
		logPostError(ctx, log, err)
		return
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	_, _, _, err = d.updater.UpdateMessageContext(
		ctx,
		channelID,
		timestamp,
		slack.MsgOptionText(
			fmt.Sprintf(
				"Pong! :table_tennis_paddle_and_ball: (%s)",
				elapsed,
			),
			false,
		),
	)
	logPostError(ctx, log, err)
}

// aboutCommand handles /about.
func (d *DragonBot) aboutCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(slog.String("command", "/about"))

	version := Version
	if version == "" {
		version = "dev"
	}
	uptime := time.Since(d.startedAt).Round(time.Second)
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			cmd.ChannelID,
			"",
			fmt.Sprintf(
				":dragon: *Dragon Bot* %s\n"+
					"A multi-purpose Slack bot with AI chat, leveling, "+
					"comics and more. Try `/help` to see what it can do.\n"+
					"Uptime: %s",
				version,
				uptime,
			),
		),
	)
}

// creditsCommand handles /credits.
func (d *DragonBot) creditsCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(slog.String("command", "/credits"))

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(
				slack.PlainTextType,
				":dragon: Dragon Bot Credits",
				true,
				false,
			),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				slack.MarkdownType,
				"Built and maintained by the Dragon Bot team.\n"+
					"Jokes, quotes, pictures and comics courtesy of "+
					"icanhazdadjoke, ZenQuotes, dog.ceo, TheCatAPI and xkcd.",
				false,
				false,
			),
			nil,
			nil,
		),
	}
	logPostError(
		ctx, log,
		postBlocks(ctx, d.poster, cmd.ChannelID, "Dragon Bot Credits", blocks...),
	)
}

// handlePingGroupMention replies with :thread: when the configured
// usergroup is pinged, nudging the conversation into a thread.
func (d *DragonBot) handlePingGroupMention(
	ctx context.Context,
	ev *slackevents.MessageEvent,
) {
	if d.config.Slack.PingGroupID == "" {
		return
	}
	if ev.BotID != "" || ev.SubType != "" || ev.User == d.slack.botUserID {
		return
	}
	if !containsSubteamMention(ev.Text, d.config.Slack.PingGroupID) {
		return
	}

	log := d.logger.With(
		slog.String("listener", "ping_group"),
		slog.String("channel_id", ev.Channel),
	)
	logPostError(
		ctx, log,
		postText(ctx, d.poster, ev.Channel, ev.TimeStamp, ":thread:"),
	)
}
