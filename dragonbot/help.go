package dragonbot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// helpEntry is one row of the help listing.
type helpEntry struct {
	command     string
	description string
}

// helpSections groups the registered commands for the /help output.
// Ordering here is the display order.
var helpSections = []struct {
	title   string
	entries []helpEntry
}{
	{
		title: ":robot_face: AI",
		entries: []helpEntry{
			{"/ask-ai <prompt>", "Ask the AI a one-off question"},
			{"/ask-ai-personality <prompt>", "Ask the AI in a random persona"},
			{"/generate-image <prompt>", "Generate an image"},
			{"@Dragon Bot <question>", "Chat with the AI in a thread"},
		},
	},
	{
		title: ":tada: Fun",
		entries: []helpEntry{
			{"/joke [neutral|chuck]", "Hear a programming joke"},
			{"/dadjoke", "Hear a dad joke"},
			{"/quote [daily]", "Get an inspirational quote"},
			{"/fool", "Get fooled"},
			{"/rock-paper-scissors <choice>", "Play against the bot"},
			{"/dog-picture", "See a random dog"},
			{"/cat-picture", "See a random cat"},
			{"/xkcd [number|random|latest]", "Read an xkcd comic"},
			{"/xkcd-fetch <id>", "Read a specific xkcd comic"},
			{"/xkcd-random", "Read a random xkcd comic"},
			{"/xkcd-latest", "Read the latest xkcd comic"},
		},
	},
	{
		title: ":chart_with_upwards_trend: Leveling",
		entries: []helpEntry{
			{"/level", "Check your XP and level"},
			{"/leaderboard", "See the top chatters"},
		},
	},
	{
		title: ":gear: Other",
		entries: []helpEntry{
			{"/ping", "Check the bot is alive"},
			{"/about", "About this bot"},
			{"/credits", "Who and what made this possible"},
			{"/request-channel", "Request a new channel"},
			{"/joinadityaschannel", "Request access to a managed channel"},
			{"/help", "This message"},
		},
	},
}

// helpBlocks renders the command listing as block-kit sections, two fields
// per command so name and description sit side by side.
func helpBlocks() []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(
				slack.PlainTextType,
				":dragon: Dragon Bot Commands",
				true,
				false,
			),
		),
	}
	for _, section := range helpSections {
		fields := make([]*slack.TextBlockObject, 0, len(section.entries)*2)
		for _, entry := range section.entries {
			fields = append(
				fields,
				slack.NewTextBlockObject(
					slack.MarkdownType,
					fmt.Sprintf("`%s`", entry.command),
					false,
					false,
				),
				slack.NewTextBlockObject(
					slack.MarkdownType,
					entry.description,
					false,
					false,
				),
			)
		}
		blocks = append(
			blocks,
			slack.NewSectionBlock(
				slack.NewTextBlockObject(
					slack.MarkdownType,
					fmt.Sprintf("*%s*", section.title),
					false,
					false,
				),
				nil,
				nil,
			),
		)
		// Section blocks allow at most 10 fields.
		for start := 0; start < len(fields); start += 10 {
			end := start + 10
			if end > len(fields) {
				end = len(fields)
			}
			blocks = append(
				blocks,
				slack.NewSectionBlock(nil, fields[start:end], nil),
			)
		}
	}
	return blocks
}

// helpCommand handles /help.
func (d *DragonBot) helpCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(
		slog.String("command", "/help"),
		slog.String("user_id", cmd.UserID),
	)
	logPostError(
		ctx, log, postBlocks(
			ctx,
			d.poster,
			cmd.ChannelID,
			"Dragon Bot Commands",
			helpBlocks()...,
		),
	)
}
