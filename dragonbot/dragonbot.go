package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"gorm.io/gorm"
)

// Set at build time via ldflags.
var (
	Version   = ""
	CommitSHA = ""
	BuildTime = ""
)

// DragonBot is the top-level bot. It owns the Slack session, the database,
// the AI conversation core and the command handlers, and runs until its
// context is cancelled.
type DragonBot struct {
	config *Config
	logger *slog.Logger

	db         *gorm.DB
	ledger     UsageLedger
	search     *SearchTool
	completion *CompletionClient
	slack      *slackSession

	// Slack API seams. Set to the session client at startup, replaced
	// with fakes in tests.
	poster   chatPoster
	fetcher  threadFetcher
	opener   viewOpener
	uploader fileUploader
	groups   groupManager
	inviter  channelInviter
	updater  messageUpdater

	api        *http.Server
	httpClient *http.Client

	levels *levelTracker

	// intn is the random source used by handlers that pick from a list,
	// injected so tests can make the choice deterministic.
	intn func(int) int

	startedAt time.Time
	eventsWG  sync.WaitGroup
}

// New validates the given config and assembles a DragonBot. The database
// and the Slack session aren't touched until Run.
func New(config *Config) (*DragonBot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := newLogger(config.LogLevel, "dragonbot")
	slog.SetDefault(log)

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultSearchRequestTimeout}
	}

	var search *SearchTool
	if config.Search.APIKey != "" {
		search = newSearchTool(
			config.Search,
			nil,
			newLogger(config.AI.LogLevel, "search"),
		)
	} else {
		log.Warn("no search API key configured, web_search tool disabled")
	}

	session := newSlackSession(
		config.Slack,
		newLogger(config.Slack.LogLevel, "slack"),
	)

	d := &DragonBot{
		config: config,
		logger: log,
		slack:  session,
		search: search,
		completion: newCompletionClient(
			config.AI,
			search,
			nil,
			newLogger(config.AI.LogLevel, "completion"),
		),
		poster:     session.api,
		fetcher:    session.api,
		opener:     session.api,
		uploader:   session.api,
		groups:     session.api,
		inviter:    session.api,
		updater:    session.api,
		httpClient: httpClient,
		levels:     newLevelTracker(),
		intn:       rand.Intn,
	}
	d.logger.Info("bot assembled", slog.Any("config", config))
	return d, nil
}

// Run starts the bot and blocks until ctx is cancelled or the socket-mode
// connection fails unrecoverably. On return, in-flight handlers get up to
// ShutdownTimeout to finish.
func (d *DragonBot) Run(ctx context.Context) error {
	d.startedAt = time.Now()

	startupCtx, startupCancel := context.WithTimeout(
		ctx,
		d.config.StartupTimeout,
	)
	defer startupCancel()

	db, err := d.initDB(startupCtx)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	d.db = db
	d.ledger = NewUsageLedger(
		db,
		d.config.AI.DailyLimit,
		d.config.AI.PrivilegedUserID,
		d.logger,
	)

	if err = d.slack.authenticate(startupCtx); err != nil {
		return err
	}

	if d.config.API.Enabled {
		if err = d.startAPI(ctx); err != nil {
			return fmt.Errorf("error starting API server: %w", err)
		}
	}

	d.logger.Info(
		"starting socket mode",
		slog.String("version", Version),
		slog.String("commit", CommitSHA),
	)
	runErr := d.slack.runSocketMode(ctx, d)

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		d.config.ShutdownTimeout,
	)
	defer shutdownCancel()

	if d.api != nil {
		if shutdownErr := d.api.Shutdown(shutdownCtx); shutdownErr != nil {
			d.logger.Error(
				"error shutting down API server",
				slog.Any("error", shutdownErr),
			)
		}
	}
	d.waitForHandlers(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// waitForHandlers blocks until all spawned handlers finish, or ctx expires.
func (d *DragonBot) waitForHandlers(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.eventsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("timed out waiting for in-flight handlers")
	}
}

// spawn runs fn in its own goroutine, recovering panics so a single bad
// event can't take the bot down.
func (d *DragonBot) spawn(
	ctx context.Context,
	name string,
	fn func(ctx context.Context),
) {
	d.eventsWG.Add(1)
	go func() {
		defer d.eventsWG.Done()
		defer func() {
			if rc := recover(); rc != nil {
				d.logger.ErrorContext(
					ctx,
					"handler panicked",
					slog.String("handler", name),
					slog.Any("panic", rc),
				)
			}
		}()
		fn(WithLogger(ctx, d.logger.With(slog.String("handler", name))))
	}()
}

func (d *DragonBot) handleEventsAPIEvent(
	ctx context.Context,
	event slackevents.EventsAPIEvent,
) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		d.handleMention(ctx, ev)
	case *slackevents.MessageEvent:
		d.dispatchMessage(ctx, ev)
	case *slackevents.MemberJoinedChannelEvent:
		d.handleMemberJoined(ctx, ev)
	default:
		d.logger.DebugContext(
			ctx,
			"ignoring event",
			slog.String("type", event.InnerEvent.Type),
		)
	}
}

// dispatchMessage fans a message event out to every message listener.
// Each listener runs isolated: a panic in one must not starve the others,
// and listener order carries no semantics.
func (d *DragonBot) dispatchMessage(
	ctx context.Context,
	ev *slackevents.MessageEvent,
) {
	listeners := []struct {
		name string
		fn   func(context.Context, *slackevents.MessageEvent)
	}{
		{"thread_followup", d.handleThreadFollowup},
		{"fun_triggers", d.handleFunTriggers},
		{"leveling", d.handleLevelingMessage},
		{"ping_group", d.handlePingGroupMention},
	}
	for _, listener := range listeners {
		func() {
			defer func() {
				if rc := recover(); rc != nil {
					d.logger.ErrorContext(
						ctx,
						"message listener panicked",
						slog.String("listener", listener.name),
						slog.Any("panic", rc),
					)
				}
			}()
			listener.fn(ctx, ev)
		}()
	}
}

// slashHandlers maps each registered slash command to its handler.
func (d *DragonBot) slashHandlers() map[string]func(
	context.Context,
	slack.SlashCommand,
) {
	return map[string]func(context.Context, slack.SlashCommand){
		"/ask-ai":              d.askAICommand,
		"/ask-ai-personality":  d.askAIPersonalityCommand,
		"/generate-image":      d.generateImageCommand,
		"/joke":                d.jokeCommand,
		"/dadjoke":             d.dadJokeCommand,
		"/quote":               d.quoteCommand,
		"/fool":                d.foolCommand,
		"/rock-paper-scissors": d.rockPaperScissorsCommand,
		"/dog-picture":         d.dogPictureCommand,
		"/cat-picture":         d.catPictureCommand,
		"/xkcd":                d.xkcdCommand,
		"/xkcd-fetch":          d.xkcdFetchCommand,
		"/xkcd-random":         d.xkcdRandomCommand,
		"/xkcd-latest":         d.xkcdLatestCommand,
		"/level":               d.levelCommand,
		"/leaderboard":         d.leaderboardCommand,
		"/help":                d.helpCommand,
		"/ping":                d.pingCommand,
		"/about":               d.aboutCommand,
		"/credits":             d.creditsCommand,
		"/request-channel":     d.channelRequestCommand,
		"/join-manager":        d.joinManagerSetupCommand,
		"/joinadityaschannel":  d.joinChannelCommand,
	}
}

func (d *DragonBot) handleSlashCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	handler, ok := d.slashHandlers()[cmd.Command]
	if !ok {
		d.logger.WarnContext(
			ctx,
			"unknown slash command",
			slog.String("command", cmd.Command),
			slog.String("user_id", cmd.UserID),
		)
		return
	}
	handler(ctx, cmd)
}

func (d *DragonBot) handleInteraction(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	switch callback.Type {
	case slack.InteractionTypeViewSubmission:
		d.handleViewSubmission(ctx, callback)
	case slack.InteractionTypeBlockActions:
		d.handleBlockActions(ctx, callback)
	default:
		d.logger.DebugContext(
			ctx,
			"ignoring interaction",
			slog.String("type", string(callback.Type)),
		)
	}
}

func (d *DragonBot) handleViewSubmission(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	switch callback.View.CallbackID {
	case channelRequestCallbackID:
		d.handleChannelRequestSubmission(ctx, callback)
	case joinSetupCallbackID:
		d.handleJoinSetupSubmission(ctx, callback)
	case joinPickerCallbackID:
		d.handleJoinPickerSubmission(ctx, callback)
	case joinRequestCallbackID:
		d.handleJoinRequestSubmission(ctx, callback)
	default:
		d.logger.WarnContext(
			ctx,
			"unknown view submission",
			slog.String("callback_id", callback.View.CallbackID),
		)
	}
}

func (d *DragonBot) handleBlockActions(
	ctx context.Context,
	callback slack.InteractionCallback,
) {
	for _, action := range callback.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		switch action.ActionID {
		case joinApproveActionID, joinDenyActionID:
			d.handleJoinDecision(ctx, callback, action)
		default:
			d.logger.DebugContext(
				ctx,
				"ignoring block action",
				slog.String("action_id", action.ActionID),
			)
		}
	}
}
