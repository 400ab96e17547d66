package dragonbot

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLedger records how often the quota was consulted.
type countingLedger struct {
	allowed bool
	calls   int
}

func (c *countingLedger) CheckAndConsume(context.Context, string) bool {
	c.calls++
	return c.allowed
}

func mentionEvent(text, threadTS string) *slackevents.AppMentionEvent {
	return &slackevents.AppMentionEvent{
		User:            testUserID,
		Channel:         testChannelID,
		Text:            text,
		TimeStamp:       "1700000001.000000",
		ThreadTimeStamp: threadTS,
	}
}

func threadReplyEvent(text string) *slackevents.MessageEvent {
	return &slackevents.MessageEvent{
		User:            testUserID,
		Channel:         testChannelID,
		ChannelType:     "channel",
		Text:            text,
		TimeStamp:       "1700000002.000000",
		ThreadTimeStamp: "1700000001.000000",
	}
}

func TestHandleMentionBareGreeting(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	ledger := &countingLedger{allowed: true}
	d.ledger = ledger

	d.handleMention(context.Background(), mentionEvent("<@U0BOT0000>", ""))

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, aiGreetingMessage, posts[0].text)
	assert.Equal(t, "1700000001.000000", posts[0].threadTS)
	assert.Zero(t, ledger.calls, "a bare mention must not consume quota")
}

func TestHandleMentionRespondsInThread(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{
		responses: []string{textResponse("**Answer:** here's what I found")},
	}
	d.completion = newTestCompletionClient(t, proxy, nil)
	d.fetcher = &fakeFetcher{
		history: []slack.Message{
			userMsg(testUserID, "<@U0BOT0000> what's up?"),
		},
	}

	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> what's up?", ""),
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, "*Answer:* here's what I found", posts[0].text)
	assert.Equal(t, "1700000001.000000", posts[0].threadTS)

	require.Len(t, proxy.requests, 1)
	messages := proxy.requests[0].Messages
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "what's up?", messages[1].Content)
}

func TestHandleMentionSearchFlow(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{
		responses: []string{
			toolCallResponse("dragon facts"),
			textResponse("**Dragons** breathe fire."),
		},
	}
	searchCalls := 0
	search := newTestSearchTool(
		t, func(w http.ResponseWriter, r *http.Request) {
			searchCalls++
			assert.Equal(t, "dragon facts", r.URL.Query().Get("q"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(
				[]byte(`{"web": {"results": [
					{"title": "Dragonpedia", "url": "https://d.example", "description": "facts"}
				]}}`),
			)
		},
	)
	d.completion = newTestCompletionClient(t, proxy, search)
	d.fetcher = &fakeFetcher{
		history: []slack.Message{
			userMsg(testUserID, "<@U0BOT0000> tell me about dragons"),
		},
	}

	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> tell me about dragons", ""),
	)

	// One search hop, then a follow-up completion carrying the tool turn
	// and advertising no tools.
	assert.Equal(t, 1, searchCalls)
	require.Len(t, proxy.requests, 2)
	assert.NotEmpty(t, proxy.requests[0].Tools)
	second := proxy.requests[1]
	assert.Empty(t, second.Tools)
	toolTurn := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", toolTurn.Role)
	assert.Contains(t, toolTurn.Content, "Dragonpedia")

	// The reply is posted in the thread with Markdown converted to mrkdwn.
	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, "*Dragons* breathe fire.", posts[0].text)
	assert.Equal(t, "1700000001.000000", posts[0].threadTS)
}

func TestHandleMentionThreadFetchError(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{}
	d.completion = newTestCompletionClient(t, proxy, nil)
	d.fetcher = &fakeFetcher{err: errors.New("conversation_not_found")}

	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> hello?", ""),
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, aiErrorMessage, posts[0].text)
	assert.Equal(t, "1700000001.000000", posts[0].threadTS)
	assert.Empty(t, proxy.requests)
}

func TestHandleMentionQuotaNoticeOnFreshThread(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.ledger = staticLedger(false)

	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> hi there", ""),
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(
		t,
		aiQuotaExceededMessage(d.config.AI.DailyLimit),
		posts[0].text,
	)
}

func TestHandleMentionQuotaSilentInThread(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.ledger = staticLedger(false)

	// In an ongoing thread, a quota rejection stays silent instead of
	// repeating the notice on every follow-up.
	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> hi there", "1700000000.000000"),
	)

	assert.Empty(t, poster.messages())
}

func TestHandleMentionNoAPIKey(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.config.AI.APIKey = ""

	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> hi there", ""),
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, aiNotConfiguredMessage, posts[0].text)
}

func TestHandleMentionIgnoresOtherChannels(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.config.AI.ChannelID = "C0AICHAN0"

	d.handleMention(
		context.Background(),
		mentionEvent("<@U0BOT0000> hi there", ""),
	)

	assert.Empty(t, poster.messages())
}

func TestHandleThreadFollowupEngagedThread(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{responses: []string{textResponse("more info")}}
	d.completion = newTestCompletionClient(t, proxy, nil)
	d.fetcher = &fakeFetcher{
		history: []slack.Message{
			userMsg(testUserID, "<@U0BOT0000> original question"),
			botMsg("original answer"),
			userMsg(testUserID, "tell me more"),
		},
	}

	d.handleThreadFollowup(
		context.Background(),
		threadReplyEvent("tell me more"),
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, "more info", posts[0].text)
	assert.Equal(t, "1700000001.000000", posts[0].threadTS)
}

func TestHandleThreadFollowupUnengagedThread(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{responses: []string{textResponse("nope")}}
	d.completion = newTestCompletionClient(t, proxy, nil)
	d.fetcher = &fakeFetcher{
		history: []slack.Message{
			userMsg(testUserID, "talking amongst ourselves"),
			userMsg("U0OTHER00", "indeed"),
		},
	}

	d.handleThreadFollowup(
		context.Background(),
		threadReplyEvent("still talking"),
	)

	assert.Empty(t, poster.messages())
	assert.Empty(t, proxy.requests)
}

func TestHandleThreadFollowupIgnoresMentions(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	fetcher := &fakeFetcher{}
	d.fetcher = fetcher

	// Messages carrying the bot mention are the mention handler's job;
	// replying here too would double-post.
	d.handleThreadFollowup(
		context.Background(),
		threadReplyEvent("<@U0BOT0000> are you there?"),
	)

	assert.Empty(t, poster.messages())
	assert.Nil(t, fetcher.lastParams)
}

func TestHandleThreadFollowupQuotaSilent(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.ledger = staticLedger(false)
	d.fetcher = &fakeFetcher{
		history: []slack.Message{
			userMsg(testUserID, "<@U0BOT0000> question"),
			botMsg("answer"),
		},
	}

	d.handleThreadFollowup(
		context.Background(),
		threadReplyEvent("follow up"),
	)

	assert.Empty(t, poster.messages())
}

func TestHandleThreadFollowupIgnoresTopLevel(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	ev := threadReplyEvent("not in a thread")
	ev.ThreadTimeStamp = ""

	d.handleThreadFollowup(context.Background(), ev)
	assert.Empty(t, poster.messages())
}

func TestAskAICommand(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{
		responses: []string{textResponse("## Result\nfine")},
	}
	d.completion = newTestCompletionClient(t, proxy, nil)

	d.askAICommand(
		context.Background(), slack.SlashCommand{
			Command:   "/ask-ai",
			UserID:    testUserID,
			ChannelID: testChannelID,
			Text:      "how are you?",
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, "*Result*\nfine", posts[0].text)

	require.Len(t, proxy.requests, 1)
	messages := proxy.requests[0].Messages
	require.Len(t, messages, 1)
	assert.Equal(t, "how are you?", messages[0].Content)
}

func TestAskAICommandEmptyPrompt(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)

	d.askAICommand(
		context.Background(), slack.SlashCommand{
			Command:   "/ask-ai",
			UserID:    testUserID,
			ChannelID: testChannelID,
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].text, "Usage:")
}

func TestAskAICommandQuotaExceeded(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.ledger = staticLedger(false)

	d.askAICommand(
		context.Background(), slack.SlashCommand{
			Command:   "/ask-ai",
			UserID:    testUserID,
			ChannelID: testChannelID,
			Text:      "anything",
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(
		t,
		aiQuotaExceededMessage(d.config.AI.DailyLimit),
		posts[0].text,
	)
}

func TestAskAIPersonalityCommand(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	proxy := &completionProxy{responses: []string{textResponse("yo")}}
	d.completion = newTestCompletionClient(t, proxy, nil)
	d.intn = func(int) int { return 2 }

	d.askAIPersonalityCommand(
		context.Background(), slack.SlashCommand{
			Command:   "/ask-ai-personality",
			UserID:    testUserID,
			ChannelID: testChannelID,
			Text:      "roast me",
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, "yo", posts[0].text)

	require.Len(t, proxy.requests, 1)
	messages := proxy.requests[0].Messages
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "Act like a roasting mode", messages[0].Content)
}

func TestPickPersonality(t *testing.T) {
	t.Parallel()

	for i, expected := range personalities {
		i := i
		assert.Equal(t, expected, pickPersonality(func(int) int { return i }))
	}
}

func TestGenerateImageCommand(t *testing.T) {
	t.Parallel()

	imageBytes := []byte("fake-png-bytes")
	server := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(
					[]byte(`{"choices": [{"message": {
						"content": "",
						"images": [{"image_url": {"url": "data:image/png;base64,` +
						base64.StdEncoding.EncodeToString(imageBytes) + `"}}]
					}}]}`),
				)
			},
		),
	)
	t.Cleanup(server.Close)

	d, poster := newTestBot(t)
	cfg := DefaultConfig().AI
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL
	cfg.MaxRequestsPerSecond = 1000
	d.completion = newCompletionClient(
		cfg,
		nil,
		server.Client(),
		discardLogger(),
	)
	uploader := &fakeUploader{}
	d.uploader = uploader

	d.generateImageCommand(
		context.Background(), slack.SlashCommand{
			Command:   "/generate-image",
			UserID:    testUserID,
			ChannelID: testChannelID,
			Text:      "a dragon",
		},
	)

	require.Equal(t, 1, uploader.calls)
	assert.Equal(t, testChannelID, uploader.params.Channel)
	assert.Equal(t, len(imageBytes), uploader.params.FileSize)
	assert.Contains(t, uploader.params.InitialComment, "a dragon")

	// The progress message precedes the upload.
	posts := poster.messages()
	require.NotEmpty(t, posts)
	assert.Contains(t, posts[0].text, "Generating image")
}
