package dragonbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const (
	dadJokeURL         = "https://icanhazdadjoke.com/"
	zenQuotesRandomURL = "https://zenquotes.io/api/random"
	zenQuotesTodayURL  = "https://zenquotes.io/api/today"
	dogPictureURL      = "https://dog.ceo/api/breeds/image/random"
	catPictureURL      = "https://api.thecatapi.com/v1/images/search"

	secretPhrase      = "draco dormiens nunquam titillandus"
	secretPhraseReply = "A true dragon never tickles a sleeping dragon. " +
		":dragon:"
)

var jokesNeutral = []string{
	"There are only 10 kinds of people in this world: those who know " +
		"binary and those who don't.",
	"A programmer's wife asks: 'Would you go to the shop and pick up a " +
		"loaf of bread? And if they have eggs, get a dozen.' The " +
		"programmer comes home with 12 loaves of bread.",
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"A QA engineer walks into a bar. Orders a beer. Orders 0 beers. " +
		"Orders 99999999999 beers. Orders a lizard. Orders -1 beers.",
	"How many programmers does it take to change a light bulb? None, " +
		"that's a hardware problem.",
	"'Knock, knock.' 'Who's there?' ... very long pause ... 'Java.'",
	"Why did the programmer quit their job? Because they didn't get arrays.",
	"To understand what recursion is, you must first understand recursion.",
}

var jokesChuck = []string{
	"Chuck Norris writes code that optimizes itself.",
	"Chuck Norris can't test for equality because he has no equal.",
	"Chuck Norris doesn't use web standards as the web conforms to him.",
	"All browsers support the hex definitions #chuck and #norris for the " +
		"colors black and blue.",
	"Chuck Norris can unit test an entire application with a single assert.",
	"Chuck Norris doesn't do burn-down charts, he does smack-down charts.",
}

// jokeSet resolves the /joke category argument. An unknown or empty
// category gets the combined set.
func jokeSet(category string) []string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "neutral":
		return jokesNeutral
	case "chuck":
		return jokesChuck
	default:
		return append(append([]string{}, jokesNeutral...), jokesChuck...)
	}
}

// zenQuoteURL resolves the /quote subcommand to the zenquotes endpoint:
// "daily" serves today's quote, anything else a random one.
func zenQuoteURL(subcommand string) string {
	if strings.EqualFold(strings.TrimSpace(subcommand), "daily") {
		return zenQuotesTodayURL
	}
	return zenQuotesRandomURL
}

var foolVideos = []string{
	"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	"https://www.youtube.com/watch?v=xvFZjo5PgG0",
	"https://www.youtube.com/watch?v=j5a0jTc9S10",
}

// triggerReplies maps message substrings to canned replies. Matching is
// case-insensitive and the first hit wins.
var triggerReplies = []struct {
	trigger string
	reply   string
}{
	{"hello dragon", "Hello! :wave:"},
	{"good bot", ":smile: Thanks!"},
	{"bad bot", ":cry:"},
}

var rpsBeats = map[string]string{
	"rock":     "scissors",
	"paper":    "rock",
	"scissors": "paper",
}

// rpsOptions is indexed by the injected random source, so ordering is
// part of the deterministic-test contract.
var rpsOptions = []string{"rock", "paper", "scissors"}

// rockPaperScissorsResult plays one round against the given bot choice.
func rockPaperScissorsResult(playerChoice, botChoice string) string {
	switch {
	case playerChoice == botChoice:
		return fmt.Sprintf("I chose %s too. It's a tie!", botChoice)
	case rpsBeats[playerChoice] == botChoice:
		return fmt.Sprintf("I chose %s. You win! :tada:", botChoice)
	default:
		return fmt.Sprintf("I chose %s. I win! :robot_face:", botChoice)
	}
}

// getJSON issues one GET and decodes the JSON response into out.
func (d *DragonBot) getJSON(
	ctx context.Context,
	rawURL string,
	out any,
	headers map[string]string,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf(
			"%s returned status %d: %s",
			rawURL,
			resp.StatusCode,
			string(body),
		)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *DragonBot) jokeCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(slog.String("command", "/joke"))
	set := jokeSet(cmd.Text)
	joke := set[d.intn(len(set))]
	logPostError(ctx, log, postText(ctx, d.poster, cmd.ChannelID, "", joke))
}

func (d *DragonBot) dadJokeCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(slog.String("command", "/dadjoke"))

	var body struct {
		Joke string `json:"joke"`
	}
	if err := d.getJSON(ctx, dadJokeURL, &body, nil); err != nil {
		log.ErrorContext(ctx, "dad joke fetch failed", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Couldn't fetch a dad joke right now.",
			),
		)
		return
	}
	logPostError(
		ctx, log,
		postText(ctx, d.poster, cmd.ChannelID, "", body.Joke),
	)
}

func (d *DragonBot) quoteCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(slog.String("command", "/quote"))

	var body []struct {
		Quote  string `json:"q"`
		Author string `json:"a"`
	}
	if err := d.getJSON(ctx, zenQuoteURL(cmd.Text), &body, nil); err != nil ||
		len(body) == 0 {
		log.ErrorContext(ctx, "quote fetch failed", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Couldn't fetch a quote right now.",
			),
		)
		return
	}
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			cmd.ChannelID,
			"",
			fmt.Sprintf("> %s\n> - %s", body[0].Quote, body[0].Author),
		),
	)
}

func (d *DragonBot) foolCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(slog.String("command", "/fool"))
	video := foolVideos[d.intn(len(foolVideos))]
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			cmd.ChannelID,
			"",
			fmt.Sprintf("You've been fooled! %s", video),
		),
	)
}

func (d *DragonBot) rockPaperScissorsCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(slog.String("command", "/rock-paper-scissors"))

	playerChoice := strings.ToLower(strings.TrimSpace(cmd.Text))
	if _, ok := rpsBeats[playerChoice]; !ok {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				"Please choose one of: rock, paper, scissors. "+
					"Usage: `/rock-paper-scissors rock`",
			),
		)
		return
	}

	botChoice := rpsOptions[d.intn(len(rpsOptions))]
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			cmd.ChannelID,
			"",
			rockPaperScissorsResult(playerChoice, botChoice),
		),
	)
}

func (d *DragonBot) dogPictureCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(slog.String("command", "/dog-picture"))

	var body struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	err := d.getJSON(ctx, dogPictureURL, &body, nil)
	if err != nil || body.Status != "success" || body.Message == "" {
		log.ErrorContext(ctx, "dog picture fetch failed", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Couldn't fetch a dog picture right now.",
			),
		)
		return
	}
	logPostError(
		ctx, log,
		postText(ctx, d.poster, cmd.ChannelID, "", body.Message),
	)
}

func (d *DragonBot) catPictureCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(slog.String("command", "/cat-picture"))

	var body []struct {
		URL string `json:"url"`
	}
	err := d.getJSON(ctx, catPictureURL, &body, nil)
	if err != nil || len(body) == 0 || body[0].URL == "" {
		log.ErrorContext(ctx, "cat picture fetch failed", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Couldn't fetch a cat picture right now.",
			),
		)
		return
	}
	logPostError(
		ctx, log,
		postText(ctx, d.poster, cmd.ChannelID, "", body[0].URL),
	)
}

// handleFunTriggers replies to trigger phrases and the secret phrase in
// plain channel messages.
func (d *DragonBot) handleFunTriggers(
	ctx context.Context,
	ev *slackevents.MessageEvent,
) {
	if ev.BotID != "" || ev.SubType != "" || ev.User == d.slack.botUserID {
		return
	}

	log := d.logger.With(
		slog.String("listener", "fun_triggers"),
		slog.String("channel_id", ev.Channel),
	)
	text := strings.ToLower(ev.Text)

	if strings.Contains(text, secretPhrase) {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				ev.Channel,
				ev.TimeStamp,
				secretPhraseReply,
			),
		)
		return
	}

	for _, t := range triggerReplies {
		if strings.Contains(text, t.trigger) {
			logPostError(
				ctx, log,
				postText(ctx, d.poster, ev.Channel, "", t.reply),
			)
			return
		}
	}
}
