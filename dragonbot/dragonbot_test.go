package dragonbot

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSlashCommandUnknown(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.handleSlashCommand(
		context.Background(), slack.SlashCommand{
			Command:   "/does-not-exist",
			ChannelID: testChannelID,
		},
	)
	assert.Empty(t, poster.messages())
}

func TestSlashHandlersCoverHelp(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	handlers := d.slashHandlers()

	// Every command advertised in /help must be routable.
	for _, section := range helpSections {
		for _, entry := range section.entries {
			command := strings.Fields(entry.command)[0]
			if !strings.HasPrefix(command, "/") {
				continue
			}
			assert.Contains(t, handlers, command, entry.command)
		}
	}
}

func TestHandleEventsAPIEventRoutesMention(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)

	d.handleEventsAPIEvent(
		context.Background(), slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: "app_mention",
				Data: &slackevents.AppMentionEvent{
					User:      testUserID,
					Channel:   testChannelID,
					Text:      "<@U0BOT0000>",
					TimeStamp: "1700000008.000000",
				},
			},
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, aiGreetingMessage, posts[0].text)
}

func TestDispatchMessageSurvivesPanickingListener(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	// With a database present but no cooldown tracker, the leveling
	// listener panics. The other listeners must still run.
	d.db = newTestDB(t)
	d.levels = nil

	d.dispatchMessage(
		context.Background(), &slackevents.MessageEvent{
			User:        testUserID,
			Channel:     testChannelID,
			ChannelType: "channel",
			Text:        "hello dragon",
			TimeStamp:   "1700000009.000000",
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, "Hello! :wave:", posts[0].text)
}

func TestTruncateForSlack(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateForSlack("short"))
	long := strings.Repeat("a", slackMaxMessageLength+100)
	assert.Len(t, truncateForSlack(long), slackMaxMessageLength)

	// The cut must never split a multi-byte rune. The leading "a" shifts
	// every rune boundary off the byte limit.
	multibyte := "a" + strings.Repeat("é", slackMaxMessageLength)
	truncated := truncateForSlack(multibyte)
	assert.True(t, utf8.ValidString(truncated))
	assert.LessOrEqual(t, len(truncated), slackMaxMessageLength)
	assert.True(t, strings.HasPrefix(multibyte, truncated))
}

func TestConversationEventThreading(t *testing.T) {
	t.Parallel()

	fresh := conversationEvent{Timestamp: "2.0"}
	assert.Equal(t, "2.0", fresh.threadTimestamp())
	assert.False(t, fresh.isThreadReply())

	reply := conversationEvent{Timestamp: "2.0", ThreadTS: "1.0"}
	assert.Equal(t, "1.0", reply.threadTimestamp())
	assert.True(t, reply.isThreadReply())

	root := conversationEvent{Timestamp: "1.0", ThreadTS: "1.0"}
	assert.False(t, root.isThreadReply())
}
