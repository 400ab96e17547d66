package dragonbot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack"
)

const xkcdBaseURL = "https://xkcd.com"

// xkcdComic is the subset of the xkcd JSON API the bot renders.
type xkcdComic struct {
	Num   int    `json:"num"`
	Title string `json:"title"`
	Alt   string `json:"alt"`
	Img   string `json:"img"`
}

var xkcdImageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif"}

// hasImageSuffix reports whether the URL points at something Slack can
// render as an image block.
func hasImageSuffix(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, suffix := range xkcdImageSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// fetchXKCD retrieves a comic by number, or the latest when num is 0.
func (d *DragonBot) fetchXKCD(ctx context.Context, num int) (xkcdComic, error) {
	rawURL := fmt.Sprintf("%s/info.0.json", xkcdBaseURL)
	if num > 0 {
		rawURL = fmt.Sprintf("%s/%d/info.0.json", xkcdBaseURL, num)
	}
	var comic xkcdComic
	err := d.getJSON(ctx, rawURL, &comic, nil)
	return comic, err
}

// xkcdBlocks renders a comic as block-kit content. The image block is
// omitted when the image URL isn't directly renderable.
func xkcdBlocks(comic xkcdComic) []slack.Block {
	title := fmt.Sprintf("xkcd #%d: %s", comic.Num, comic.Title)
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, title, true, false),
		),
	}
	if hasImageSuffix(comic.Img) {
		blocks = append(
			blocks,
			slack.NewImageBlock(comic.Img, comic.Alt, "", nil),
		)
	}
	blocks = append(
		blocks,
		slack.NewContextBlock(
			"",
			slack.NewTextBlockObject(slack.MarkdownType, comic.Alt, false, false),
		),
		slack.NewContextBlock(
			"",
			slack.NewTextBlockObject(
				slack.MarkdownType,
				fmt.Sprintf("<%s/%d|View on xkcd.com>", xkcdBaseURL, comic.Num),
				false,
				false,
			),
		),
	)
	return blocks
}

// xkcdCommand handles /xkcd. With no argument it posts the latest comic,
// with "random" a random one, and with a number that specific comic.
func (d *DragonBot) xkcdCommand(ctx context.Context, cmd slack.SlashCommand) {
	d.runXKCD(ctx, cmd, cmd.Text)
}

// xkcdFetchCommand handles /xkcd-fetch <id>.
func (d *DragonBot) xkcdFetchCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	arg := strings.TrimSpace(cmd.Text)
	if arg == "" {
		log := d.logger.With(slog.String("command", cmd.Command))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				"Usage: `/xkcd-fetch <id>`",
			),
		)
		return
	}
	d.runXKCD(ctx, cmd, arg)
}

// xkcdRandomCommand handles /xkcd-random.
func (d *DragonBot) xkcdRandomCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	d.runXKCD(ctx, cmd, "random")
}

// xkcdLatestCommand handles /xkcd-latest.
func (d *DragonBot) xkcdLatestCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	d.runXKCD(ctx, cmd, "latest")
}

// runXKCD resolves the comic argument, fetches it and posts the rendered
// blocks.
func (d *DragonBot) runXKCD(
	ctx context.Context,
	cmd slack.SlashCommand,
	rawArg string,
) {
	log := d.logger.With(
		slog.String("command", cmd.Command),
		slog.String("user_id", cmd.UserID),
	)

	arg := strings.ToLower(strings.TrimSpace(rawArg))
	var num int
	switch {
	case arg == "" || arg == "latest":
		num = 0
	case arg == "random":
		latest, err := d.fetchXKCD(ctx, 0)
		if err != nil {
			log.ErrorContext(ctx, "xkcd fetch failed", tint.Err(err))
			d.postXKCDError(ctx, log, cmd.ChannelID)
			return
		}
		num = 1 + d.intn(latest.Num)
	default:
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed < 1 {
			logPostError(
				ctx, log, postText(
					ctx,
					d.poster,
					cmd.ChannelID,
					"",
					"Usage: `/xkcd [number|random|latest]`",
				),
			)
			return
		}
		num = parsed
	}

	comic, err := d.fetchXKCD(ctx, num)
	if err != nil {
		log.ErrorContext(
			ctx,
			"xkcd fetch failed",
			slog.Int("num", num),
			tint.Err(err),
		)
		d.postXKCDError(ctx, log, cmd.ChannelID)
		return
	}

	logPostError(
		ctx, log, postBlocks(
			ctx,
			d.poster,
			cmd.ChannelID,
			fmt.Sprintf("xkcd #%d: %s", comic.Num, comic.Title),
			xkcdBlocks(comic)...,
		),
	)
}

func (d *DragonBot) postXKCDError(
	ctx context.Context,
	log *slog.Logger,
	channelID string,
) {
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			channelID,
			"",
			":x: Couldn't fetch that comic right now.",
		),
	)
}
