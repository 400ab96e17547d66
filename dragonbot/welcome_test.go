package dragonbot

import (
	"context"
	"testing"

	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMemberJoinedWelcomesAndAddsToGroup(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.config.Slack.WelcomeChannelID = "C0WELCOME"
	d.config.Slack.PingGroupID = "S0GROUP00"
	d.config.Slack.WelcomeNotifyUserID = "U0NOTIFY0"
	groups := &fakeGroups{members: []string{"U0EXIST00"}}
	d.groups = groups

	d.handleMemberJoined(
		context.Background(), &slackevents.MemberJoinedChannelEvent{
			User:    testUserID,
			Channel: "C0WELCOME",
		},
	)

	require.Equal(t, 1, groups.calls)
	assert.Equal(t, "U0EXIST00,"+testUserID, groups.updated)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].text, userMention(testUserID))
	assert.Contains(t, posts[0].text, userMention("U0NOTIFY0"))
}

func TestHandleMemberJoinedAlreadyInGroup(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	d.config.Slack.WelcomeChannelID = "C0WELCOME"
	d.config.Slack.PingGroupID = "S0GROUP00"
	groups := &fakeGroups{members: []string{testUserID}}
	d.groups = groups

	d.handleMemberJoined(
		context.Background(), &slackevents.MemberJoinedChannelEvent{
			User:    testUserID,
			Channel: "C0WELCOME",
		},
	)

	assert.Zero(t, groups.calls, "existing members must not be re-added")
}

func TestHandleMemberJoinedOtherChannel(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.config.Slack.WelcomeChannelID = "C0WELCOME"

	d.handleMemberJoined(
		context.Background(), &slackevents.MemberJoinedChannelEvent{
			User:    testUserID,
			Channel: testChannelID,
		},
	)

	assert.Empty(t, poster.messages())
}

func TestHandlePingGroupMention(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.config.Slack.PingGroupID = "S0GROUP00"

	d.handlePingGroupMention(
		context.Background(), &slackevents.MessageEvent{
			User:      testUserID,
			Channel:   testChannelID,
			Text:      "hey <!subteam^S0GROUP00> look at this",
			TimeStamp: "1700000007.000000",
		},
	)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Equal(t, ":thread:", posts[0].text)
	assert.Equal(t, "1700000007.000000", posts[0].threadTS)
}

func TestHandlePingGroupMentionIgnoresOtherGroups(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.config.Slack.PingGroupID = "S0GROUP00"

	d.handlePingGroupMention(
		context.Background(), &slackevents.MessageEvent{
			User:    testUserID,
			Channel: testChannelID,
			Text:    "hey <!subteam^S0OTHER00> look at this",
		},
	)

	assert.Empty(t, poster.messages())
}
