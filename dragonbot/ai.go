package dragonbot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const (
	aiSystemPrompt = "You are Dragon Bot, a friendly and helpful Slack bot. " +
		"Keep replies concise and conversational. Use Markdown sparingly. " +
		"When you aren't sure about current events or facts, use the " +
		"web_search tool if it is available."

	aiGreetingMessage = "Hi! Mention me with a question, or reply in a " +
		"thread I'm part of, and I'll do my best to help."
	aiNotConfiguredMessage = ":x: The AI API key is not configured."
	aiErrorMessage         = ":x: Something went wrong talking to the AI. " +
		"Please try again later."
	aiEmptyResponseMessage = "I couldn't get a response from the AI."
)

func aiQuotaExceededMessage(limit int) string {
	return fmt.Sprintf(
		":x: The daily AI command limit of %d has been reached.",
		limit,
	)
}

// personalities for /ask-ai-personality.
var personalities = []string{
	"discord zoomer",
	"potter head",
	"roasting mode",
	"'You are absolutely right' mode",
}

// pickPersonality selects a persona using the given random source, which
// returns a non-negative int below its argument.
func pickPersonality(intn func(int) int) string {
	return personalities[intn(len(personalities))]
}

// conversationEvent is the slice of a Slack event the conversation core
// needs, common to app_mention and message events.
type conversationEvent struct {
	UserID      string
	BotID       string
	ChannelID   string
	ChannelType string
	Text        string
	Timestamp   string
	ThreadTS    string
}

// threadTimestamp returns the thread anchor for replies: the existing
// thread root, or the message itself when no thread exists yet.
func (e conversationEvent) threadTimestamp() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.Timestamp
}

// isThreadReply reports whether the event is a reply inside an existing
// thread, rather than a new top-level message.
func (e conversationEvent) isThreadReply() bool {
	return e.ThreadTS != "" && e.ThreadTS != e.Timestamp
}

// handleMention handles an explicit @-mention of the bot. Terminal after
// one reply or a silent return.
func (d *DragonBot) handleMention(
	ctx context.Context,
	ev *slackevents.AppMentionEvent,
) {
	event := conversationEvent{
		UserID:    ev.User,
		BotID:     ev.BotID,
		ChannelID: ev.Channel,
		Text:      ev.Text,
		Timestamp: ev.TimeStamp,
		ThreadTS:  ev.ThreadTimeStamp,
	}
	log := d.logger.With(
		slog.String("channel_id", event.ChannelID),
		slog.String("user_id", event.UserID),
	)

	if event.BotID != "" {
		return
	}
	if d.config.AI.ChannelID != "" && event.ChannelID != d.config.AI.ChannelID {
		return
	}

	text := stripLeadingMention(event.Text)
	if text == "" {
		// A bare mention gets a greeting and doesn't consume quota.
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				event.ChannelID,
				event.threadTimestamp(),
				aiGreetingMessage,
			),
		)
		return
	}

	if d.config.AI.APIKey == "" {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				event.ChannelID,
				event.threadTimestamp(),
				aiNotConfiguredMessage,
			),
		)
		return
	}

	if !d.ledger.CheckAndConsume(ctx, event.UserID) {
		// Only announce the quota on a fresh mention: repeating it for
		// every follow-up in an ongoing thread would spam the thread.
		if !event.isThreadReply() {
			logPostError(
				ctx, log, postText(
					ctx,
					d.poster,
					event.ChannelID,
					event.threadTimestamp(),
					aiQuotaExceededMessage(d.config.AI.DailyLimit),
				),
			)
		}
		return
	}

	d.respondInThread(ctx, log, event)
}

// handleThreadFollowup handles a reply inside a thread without an explicit
// mention. It only proceeds when the bot has previously posted in that
// thread; a quota rejection on this path is silent.
func (d *DragonBot) handleThreadFollowup(
	ctx context.Context,
	ev *slackevents.MessageEvent,
) {
	event := conversationEvent{
		UserID:      ev.User,
		BotID:       ev.BotID,
		ChannelID:   ev.Channel,
		ChannelType: ev.ChannelType,
		Text:        ev.Text,
		Timestamp:   ev.TimeStamp,
		ThreadTS:    ev.ThreadTimeStamp,
	}
	log := d.logger.With(
		slog.String("channel_id", event.ChannelID),
		slog.String("user_id", event.UserID),
	)

	if event.BotID != "" || ev.SubType != "" {
		return
	}
	if event.ChannelType == "im" || event.ChannelType == "mpim" {
		return
	}
	if !event.isThreadReply() {
		return
	}
	if d.config.AI.ChannelID != "" && event.ChannelID != d.config.AI.ChannelID {
		return
	}
	// Mentions inside an engaged thread are already handled by the
	// mention path; handling them here too would double-reply.
	if strings.Contains(event.Text, d.slack.botMention()) {
		return
	}

	history, err := fetchThreadHistory(
		ctx,
		d.fetcher,
		event.ChannelID,
		event.ThreadTS,
		d.config.AI.HistoryLimit,
	)
	if err != nil {
		log.ErrorContext(ctx, "error checking thread history", tint.Err(err))
		return
	}
	if !threadHasBotReply(history, d.slack.botUserID) {
		return
	}

	if d.config.AI.APIKey == "" {
		return
	}
	if !d.ledger.CheckAndConsume(ctx, event.UserID) {
		return
	}

	d.respondWithHistory(ctx, log, event, history)
}

// respondInThread fetches the thread history rooted at the event and
// produces one reply.
func (d *DragonBot) respondInThread(
	ctx context.Context,
	log *slog.Logger,
	event conversationEvent,
) {
	history, err := fetchThreadHistory(
		ctx,
		d.fetcher,
		event.ChannelID,
		event.threadTimestamp(),
		d.config.AI.HistoryLimit,
	)
	if err != nil {
		log.ErrorContext(ctx, "error fetching thread history", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				event.ChannelID,
				event.threadTimestamp(),
				aiErrorMessage,
			),
		)
		return
	}
	d.respondWithHistory(ctx, log, event, history)
}

// respondWithHistory runs the completion over the reconstructed context
// and posts the converted reply threaded to the originating message. Any
// failure yields a single user-visible error notice; it does not retry and
// does not crash the event pipeline.
func (d *DragonBot) respondWithHistory(
	ctx context.Context,
	log *slog.Logger,
	event conversationEvent,
	history []slack.Message,
) {
	turns := buildThreadContext(
		history,
		aiSystemPrompt,
		d.slack.botUserID,
		d.config.AI.HistoryLimit,
	)

	content, err := d.completion.Complete(ctx, turns)
	if err != nil {
		log.ErrorContext(ctx, "completion failed", tint.Err(err))
		notice := aiErrorMessage
		if errors.Is(err, ErrNoAPIKey) {
			notice = aiNotConfiguredMessage
		}
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				event.ChannelID,
				event.threadTimestamp(),
				notice,
			),
		)
		return
	}

	if content == "" {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				event.ChannelID,
				event.threadTimestamp(),
				aiEmptyResponseMessage,
			),
		)
		return
	}

	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			event.ChannelID,
			event.threadTimestamp(),
			convertToMrkdwn(content),
		),
	)
}

// askAICommand handles /ask-ai: a single-turn completion with the shared
// quota gate.
func (d *DragonBot) askAICommand(ctx context.Context, cmd slack.SlashCommand) {
	d.runAICommand(ctx, cmd, "/ask-ai", nil)
}

// askAIPersonalityCommand handles /ask-ai-personality, prepending a random
// persona as the system turn.
func (d *DragonBot) askAIPersonalityCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	persona := pickPersonality(d.intn)
	d.logger.InfoContext(
		ctx,
		"selected personality",
		slog.String("personality", persona),
	)
	system := &openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("Act like a %s", persona),
	}
	d.runAICommand(ctx, cmd, "/ask-ai-personality", system)
}

// runAICommand implements the shared /ask-ai flow: key check, quota gate,
// single completion, reply in channel.
func (d *DragonBot) runAICommand(
	ctx context.Context,
	cmd slack.SlashCommand,
	name string,
	system *openai.ChatCompletionMessage,
) {
	log := d.logger.With(
		slog.String("command", name),
		slog.String("user_id", cmd.UserID),
	)
	log.InfoContext(ctx, "command used")

	if d.config.AI.APIKey == "" {
		logPostError(
			ctx, log,
			postText(ctx, d.poster, cmd.ChannelID, "", aiNotConfiguredMessage),
		)
		return
	}

	if !d.ledger.CheckAndConsume(ctx, cmd.UserID) {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				aiQuotaExceededMessage(d.config.AI.DailyLimit),
			),
		)
		return
	}

	prompt := strings.TrimSpace(cmd.Text)
	if prompt == "" {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				fmt.Sprintf("Please provide a prompt. Usage: `%s <prompt>`", name),
			),
		)
		return
	}

	var turns []openai.ChatCompletionMessage
	if system != nil {
		turns = append(turns, *system)
	}
	turns = append(
		turns, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		},
	)

	content, err := d.completion.Complete(ctx, turns)
	if err != nil {
		log.ErrorContext(ctx, "completion failed", tint.Err(err))
		logPostError(
			ctx, log,
			postText(ctx, d.poster, cmd.ChannelID, "", aiErrorMessage),
		)
		return
	}
	if content == "" {
		logPostError(
			ctx, log,
			postText(ctx, d.poster, cmd.ChannelID, "", aiEmptyResponseMessage),
		)
		return
	}
	logPostError(
		ctx, log,
		postText(ctx, d.poster, cmd.ChannelID, "", convertToMrkdwn(content)),
	)
}

// generateImageCommand handles /generate-image.
func (d *DragonBot) generateImageCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(
		slog.String("command", "/generate-image"),
		slog.String("user_id", cmd.UserID),
	)
	log.InfoContext(ctx, "command used")

	if d.config.AI.APIKey == "" {
		logPostError(
			ctx, log,
			postText(ctx, d.poster, cmd.ChannelID, "", aiNotConfiguredMessage),
		)
		return
	}

	if !d.ledger.CheckAndConsume(ctx, cmd.UserID) {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				aiQuotaExceededMessage(d.config.AI.DailyLimit),
			),
		)
		return
	}

	prompt := strings.TrimSpace(cmd.Text)
	if prompt == "" {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				"Please provide a prompt. Usage: `/generate-image <prompt>`",
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
			"Generating image... please wait.",
		),
	)

	imageBytes, err := d.completion.GenerateImage(ctx, prompt)
	if err != nil {
		log.ErrorContext(ctx, "image generation failed", tint.Err(err))
		notice := ":x: Failed to generate an image."
		if errors.Is(err, ErrNoImage) {
			notice = "I couldn't generate an image. The API returned no image."
		}
		logPostError(
			ctx, log,
			postText(ctx, d.poster, cmd.ChannelID, "", notice),
		)
		return
	}

	_, err = d.uploader.UploadFileV2Context(
		ctx, slack.UploadFileV2Parameters{
			Reader:         bytes.NewReader(imageBytes),
			FileSize:       len(imageBytes),
			Filename:       "generated_image.png",
			Channel:        cmd.ChannelID,
			InitialComment: fmt.Sprintf("Generated image for: %s", prompt),
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "image upload failed", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Failed to upload the generated image.",
			),
		)
		return
	}
	log.InfoContext(ctx, "image uploaded")
}
