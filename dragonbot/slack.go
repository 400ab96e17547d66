package dragonbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// chatPoster posts messages to a channel. Satisfied by slack.Client; test
// fakes record the posted options instead.
type chatPoster interface {
	PostMessageContext(
		ctx context.Context,
		channelID string,
		options ...slack.MsgOption,
	) (string, string, error)
}

// threadFetcher looks up thread history by channel and root timestamp.
type threadFetcher interface {
	GetConversationRepliesContext(
		ctx context.Context,
		params *slack.GetConversationRepliesParameters,
	) ([]slack.Message, bool, string, error)
}

// viewOpener opens a modal in response to a trigger ID.
type viewOpener interface {
	OpenViewContext(
		ctx context.Context,
		triggerID string,
		view slack.ModalViewRequest,
	) (*slack.ViewResponse, error)
}

// fileUploader uploads a file to a channel.
type fileUploader interface {
	UploadFileV2Context(
		ctx context.Context,
		params slack.UploadFileV2Parameters,
	) (*slack.FileSummary, error)
}

// groupManager reads and rewrites a usergroup's membership.
type groupManager interface {
	GetUserGroupMembersContext(
		ctx context.Context,
		userGroup string,
	) ([]string, error)
	UpdateUserGroupMembersContext(
		ctx context.Context,
		userGroup string,
		members string,
	) (slack.UserGroup, error)
}

// channelInviter invites users into a channel.
type channelInviter interface {
	InviteUsersToConversationContext(
		ctx context.Context,
		channelID string,
		users ...string,
	) (*slack.Channel, error)
}

// messageUpdater edits a previously posted message in place.
type messageUpdater interface {
	UpdateMessageContext(
		ctx context.Context,
		channelID string,
		timestamp string,
		options ...slack.MsgOption,
	) (string, string, string, error)
}

// slackSession wraps the Slack web API and socket-mode clients, and caches
// the bot's own identity for mention and authorship checks.
type slackSession struct {
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string
	logger    *slog.Logger
}

func newSlackSession(config *SlackConfig, log *slog.Logger) *slackSession {
	if log == nil {
		log = slog.Default()
	}
	api := slack.New(
		config.BotToken,
		slack.OptionAppLevelToken(config.AppToken),
	)
	return &slackSession{
		api:    api,
		socket: socketmode.New(api),
		logger: log.With(loggerNameKey, "slack"),
	}
}

// botMention is the bot's own mention marker, e.g. "<@U0123ABCD>".
func (s *slackSession) botMention() string {
	return fmt.Sprintf("<@%s>", s.botUserID)
}

// authenticate resolves the bot's own user ID via auth.test.
func (s *slackSession) authenticate(ctx context.Context) error {
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	s.botUserID = resp.UserID
	s.logger.InfoContext(
		ctx,
		"slack session authenticated",
		slog.String("bot_user_id", resp.UserID),
		slog.String("team", resp.Team),
	)
	return nil
}

// truncateForSlack trims text to Slack's maximum message length, backing
// up so the cut never lands inside a multi-byte rune.
func truncateForSlack(text string) string {
	if len(text) <= slackMaxMessageLength {
		return text
	}
	cut := slackMaxMessageLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// postText posts plain mrkdwn text, threaded when threadTS is non-empty.
func postText(
	ctx context.Context,
	poster chatPoster,
	channelID string,
	threadTS string,
	text string,
) error {
	options := []slack.MsgOption{
		slack.MsgOptionText(truncateForSlack(text), false),
	}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	_, _, err := poster.PostMessageContext(ctx, channelID, options...)
	return err
}

// postBlocks posts block-kit content with fallback text.
func postBlocks(
	ctx context.Context,
	poster chatPoster,
	channelID string,
	fallback string,
	blocks ...slack.Block,
) error {
	_, _, err := poster.PostMessageContext(
		ctx,
		channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	return err
}

// runSocketMode consumes the socket-mode event stream until ctx is
// cancelled, acknowledging every request and dispatching each event to the
// bot in its own goroutine.
func (s *slackSession) runSocketMode(ctx context.Context, d *DragonBot) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-s.socket.Events:
				if !ok {
					return
				}
				s.dispatchEvent(ctx, d, evt)
			}
		}
	}()
	return s.socket.RunContext(ctx)
}

func (s *slackSession) dispatchEvent(
	ctx context.Context,
	d *DragonBot,
	evt socketmode.Event,
) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		s.logger.InfoContext(ctx, "connected to slack")
	case socketmode.EventTypeConnectionError:
		s.logger.WarnContext(ctx, "slack connection error, retrying")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			s.socket.Ack(*evt.Request)
		}
		d.spawn(
			ctx, "events_api", func(hctx context.Context) {
				d.handleEventsAPIEvent(hctx, eventsAPIEvent)
			},
		)
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		if evt.Request != nil {
			s.socket.Ack(*evt.Request)
		}
		d.spawn(
			ctx, cmd.Command, func(hctx context.Context) {
				d.handleSlashCommand(hctx, cmd)
			},
		)
	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			s.socket.Ack(*evt.Request)
		}
		d.spawn(
			ctx, "interactive", func(hctx context.Context) {
				d.handleInteraction(hctx, callback)
			},
		)
	default:
		s.logger.DebugContext(
			ctx,
			"ignoring socket event",
			slog.String("type", string(evt.Type)),
		)
	}
}

// threadHasBotReply reports whether the bot has previously posted in the
// given thread, scanning at most limit recent replies.
func threadHasBotReply(
	history []slack.Message,
	botUserID string,
) bool {
	for _, msg := range history {
		if msg.User == botUserID || msg.BotID != "" {
			return true
		}
	}
	return false
}

// fetchThreadHistory returns up to limit messages of the thread rooted at
// threadTS, oldest first.
func fetchThreadHistory(
	ctx context.Context,
	fetcher threadFetcher,
	channelID string,
	threadTS string,
	limit int,
) ([]slack.Message, error) {
	msgs, _, _, err := fetcher.GetConversationRepliesContext(
		ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Limit:     limit,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error fetching thread history: %w", err)
	}
	return msgs, nil
}

// logPostError logs a failed outbound message without propagating: a
// failure in one event must not affect any other in-flight pass.
func logPostError(ctx context.Context, log *slog.Logger, err error) {
	if err == nil {
		return
	}
	log.ErrorContext(ctx, "error posting message", tint.Err(err))
}

// channelMention renders a channel reference, e.g. "<#C012345>".
func channelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// userMention renders a user reference, e.g. "<@U012345>".
func userMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// subteamMention renders a usergroup reference, e.g. "<!subteam^S012345>".
func subteamMention(groupID string) string {
	return fmt.Sprintf("<!subteam^%s>", groupID)
}

// containsSubteamMention reports whether text pings the given usergroup.
func containsSubteamMention(text, groupID string) bool {
	return groupID != "" && strings.Contains(text, subteamMention(groupID))
}
