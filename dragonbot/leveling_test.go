package dragonbot

import (
	"context"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromXP(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		xp    int
		level int
	}{
		{0, 0},
		{50, 0},
		{99, 0},
		{100, 1},
		{399, 1},
		{400, 2},
		{899, 2},
		{900, 3},
		{10000, 10},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.level, levelFromXP(tc.xp), "xp=%d", tc.xp)
	}
}

func TestLevelTrackerCooldown(t *testing.T) {
	t.Parallel()

	tracker := newLevelTracker()
	current := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	assert.True(t, tracker.tryAward(testUserID))
	assert.False(t, tracker.tryAward(testUserID))

	// A different user has their own cooldown.
	assert.True(t, tracker.tryAward("U0OTHER00"))

	current = current.Add(xpCooldown)
	assert.True(t, tracker.tryAward(testUserID))
}

func TestAwardXPAccumulates(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	d.db = newTestDB(t)
	ctx := context.Background()

	record, err := d.awardXP(ctx, testUserID, xpPerMessage)
	require.NoError(t, err)
	assert.Equal(t, xpPerMessage, record.XP)

	record, err = d.awardXP(ctx, testUserID, xpPerMessage)
	require.NoError(t, err)
	assert.Equal(t, 2*xpPerMessage, record.XP)
}

func TestHandleLevelingMessageAnnouncesLevelUp(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.db = newTestDB(t)
	ctx := context.Background()

	// Seed the user just below the level 1 threshold.
	_, err := d.awardXP(ctx, testUserID, 100-xpPerMessage)
	require.NoError(t, err)

	ev := &slackevents.MessageEvent{
		User:        testUserID,
		Channel:     testChannelID,
		ChannelType: "channel",
		Text:        "one more message",
		TimeStamp:   "1700000003.000000",
	}
	d.handleLevelingMessage(ctx, ev)

	posts := poster.messages()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].text, "level 1")
	assert.Equal(t, ev.TimeStamp, posts[0].threadTS)

	var record UserXP
	require.NoError(
		t,
		d.db.Where("user_id = ?", testUserID).First(&record).Error,
	)
	assert.Equal(t, 1, record.Level)

	// The next message is inside the cooldown and changes nothing.
	d.handleLevelingMessage(ctx, ev)
	assert.Len(t, poster.messages(), 1)
}

func TestHandleLevelingMessageIgnoresBots(t *testing.T) {
	t.Parallel()

	d, poster := newTestBot(t)
	d.db = newTestDB(t)

	d.handleLevelingMessage(
		context.Background(), &slackevents.MessageEvent{
			User:        testBotUserID,
			BotID:       "B0BOT0000",
			Channel:     testChannelID,
			ChannelType: "channel",
			TimeStamp:   "1700000003.000000",
		},
	)
	assert.Empty(t, poster.messages())

	var count int64
	require.NoError(t, d.db.Model(&UserXP{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFormatLeaderboard(t *testing.T) {
	t.Parallel()

	out := formatLeaderboard(
		[]UserXP{
			{UserID: "U0AAA0000", XP: 900},
			{UserID: "U0BBB0000", XP: 400},
			{UserID: "U0CCC0000", XP: 100},
			{UserID: "U0DDD0000", XP: 10},
		},
	)
	assert.Contains(t, out, ":first_place_medal: <@U0AAA0000>: level 3 (900 XP)")
	assert.Contains(t, out, ":second_place_medal: <@U0BBB0000>: level 2 (400 XP)")
	assert.Contains(t, out, ":third_place_medal: <@U0CCC0000>: level 1 (100 XP)")
	assert.Contains(t, out, "4. <@U0DDD0000>: level 0 (10 XP)")
}
