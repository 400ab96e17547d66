package dragonbot

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/slack-go/slack"
)

const (
	testBotUserID = "U0BOT0000"
	testUserID    = "U0USER000"
	testChannelID = "C0CHAN000"
)

type postedMessage struct {
	channelID string
	text      string
	threadTS  string
}

// fakePoster records outbound messages instead of hitting the Slack API.
type fakePoster struct {
	mu    sync.Mutex
	posts []postedMessage
}

func (f *fakePoster) PostMessageContext(
	_ context.Context,
	channelID string,
	options ...slack.MsgOption,
) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions(
		"xoxb-test",
		channelID,
		"https://slack.example.com/api/",
		options...,
	)
	if err != nil {
		return "", "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(
		f.posts, postedMessage{
			channelID: channelID,
			text:      values.Get("text"),
			threadTS:  values.Get("thread_ts"),
		},
	)
	return channelID, "1700000000.000100", nil
}

func (f *fakePoster) messages() []postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedMessage{}, f.posts...)
}

// fakeFetcher serves a canned thread history.
type fakeFetcher struct {
	history []slack.Message
	err     error

	lastParams *slack.GetConversationRepliesParameters
}

func (f *fakeFetcher) GetConversationRepliesContext(
	_ context.Context,
	params *slack.GetConversationRepliesParameters,
) ([]slack.Message, bool, string, error) {
	f.lastParams = params
	return f.history, false, "", f.err
}

// fakeUpdater records message edits.
type fakeUpdater struct {
	channelID string
	timestamp string
	calls     int
}

func (f *fakeUpdater) UpdateMessageContext(
	_ context.Context,
	channelID string,
	timestamp string,
	_ ...slack.MsgOption,
) (string, string, string, error) {
	f.calls++
	f.channelID = channelID
	f.timestamp = timestamp
	return channelID, timestamp, "", nil
}

// fakeOpener records opened modals.
type fakeOpener struct {
	triggerID string
	view      slack.ModalViewRequest
	calls     int
}

func (f *fakeOpener) OpenViewContext(
	_ context.Context,
	triggerID string,
	view slack.ModalViewRequest,
) (*slack.ViewResponse, error) {
	f.calls++
	f.triggerID = triggerID
	f.view = view
	return &slack.ViewResponse{}, nil
}

// fakeUploader records uploaded files.
type fakeUploader struct {
	params slack.UploadFileV2Parameters
	calls  int
}

func (f *fakeUploader) UploadFileV2Context(
	_ context.Context,
	params slack.UploadFileV2Parameters,
) (*slack.FileSummary, error) {
	f.calls++
	f.params = params
	return &slack.FileSummary{ID: "F0FILE000"}, nil
}

// fakeInviter records channel invitations.
type fakeInviter struct {
	channelID string
	users     []string
	calls     int
}

func (f *fakeInviter) InviteUsersToConversationContext(
	_ context.Context,
	channelID string,
	users ...string,
) (*slack.Channel, error) {
	f.calls++
	f.channelID = channelID
	f.users = users
	return &slack.Channel{}, nil
}

// fakeGroups serves and records usergroup membership.
type fakeGroups struct {
	members []string
	updated string
	calls   int
}

func (f *fakeGroups) GetUserGroupMembersContext(
	_ context.Context,
	_ string,
) ([]string, error) {
	return f.members, nil
}

func (f *fakeGroups) UpdateUserGroupMembersContext(
	_ context.Context,
	_ string,
	members string,
) (slack.UserGroup, error) {
	f.calls++
	f.updated = members
	return slack.UserGroup{}, nil
}

// staticLedger always answers the same, for tests that aren't about quota.
type staticLedger bool

func (s staticLedger) CheckAndConsume(context.Context, string) bool {
	return bool(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestBot assembles a DragonBot wired to fakes, with the AI key set and
// the quota allowing.
func newTestBot(t *testing.T) (*DragonBot, *fakePoster) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Slack.AppToken = "xapp-test"
	cfg.AI.APIKey = "test-key"

	poster := &fakePoster{}
	d := &DragonBot{
		config:  cfg,
		logger:  discardLogger(),
		ledger:  staticLedger(true),
		levels:  newLevelTracker(),
		poster:  poster,
		fetcher: &fakeFetcher{},
		intn:    func(int) int { return 0 },
		slack: &slackSession{
			botUserID: testBotUserID,
			logger:    discardLogger(),
		},
	}
	return d, poster
}
