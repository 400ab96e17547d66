package dragonbot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const (
	xpPerMessage    = 10
	xpCooldown      = time.Minute
	leaderboardSize = 10
)

var leaderboardMedals = []string{":first_place_medal:", ":second_place_medal:", ":third_place_medal:"}

// UserXP accumulates experience points per user. Level is derived from XP
// but stored so level-ups can be detected without re-reading history.
type UserXP struct {
	UserID string `json:"user_id" gorm:"primaryKey;type:string"`
	XP     int    `json:"xp" gorm:"not null"`
	Level  int    `json:"level" gorm:"not null"`

	ModelUnixTime
}

func (UserXP) TableName() string {
	return "user_xp"
}

// levelFromXP maps accumulated XP to a level: 100 XP for level 1, 400 for
// level 2, 900 for level 3, and so on.
func levelFromXP(xp int) int {
	if xp <= 0 {
		return 0
	}
	return int(math.Sqrt(float64(xp) / 100))
}

// levelTracker enforces the per-user XP award cooldown in memory.
type levelTracker struct {
	mu        sync.Mutex
	lastAward map[string]time.Time
	now       func() time.Time
}

func newLevelTracker() *levelTracker {
	return &levelTracker{
		lastAward: map[string]time.Time{},
		now:       time.Now,
	}
}

// tryAward reports whether the user is past the cooldown, and records the
// award time when they are.
func (t *levelTracker) tryAward(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastAward[userID]; ok && now.Sub(last) < xpCooldown {
		return false
	}
	t.lastAward[userID] = now
	return true
}

// handleLevelingMessage awards XP for a plain channel message, respecting
// the per-user cooldown, and announces level-ups in a thread on the
// triggering message.
func (d *DragonBot) handleLevelingMessage(
	ctx context.Context,
	ev *slackevents.MessageEvent,
) {
	if d.db == nil {
		return
	}
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" ||
		ev.User == d.slack.botUserID {
		return
	}
	if ev.ChannelType == "im" || ev.ChannelType == "mpim" {
		return
	}
	if !d.levels.tryAward(ev.User) {
		return
	}

	log := d.logger.With(
		slog.String("listener", "leveling"),
		slog.String("user_id", ev.User),
	)

	record, err := d.awardXP(ctx, ev.User, xpPerMessage)
	if err != nil {
		log.ErrorContext(ctx, "error awarding XP", tint.Err(err))
		return
	}

	newLevel := levelFromXP(record.XP)
	if newLevel <= record.Level {
		return
	}

	if err = d.db.WithContext(ctx).Model(&UserXP{}).Where(
		"user_id = ?",
		ev.User,
	).Update("level", newLevel).Error; err != nil {
		log.ErrorContext(ctx, "error storing level", tint.Err(err))
		return
	}

	log.InfoContext(ctx, "user leveled up", slog.Int("level", newLevel))
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			ev.Channel,
			ev.TimeStamp,
			fmt.Sprintf(
				":tada: %s leveled up to level %d!",
				userMention(ev.User),
				newLevel,
			),
		),
	)
}

// awardXP atomically adds the given XP to the user's total and returns the
// updated record. The insert-or-increment runs as a single statement so
// concurrent messages can't lose awards.
func (d *DragonBot) awardXP(
	ctx context.Context,
	userID string,
	amount int,
) (UserXP, error) {
	nowMilli := time.Now().UnixMilli()
	err := d.db.WithContext(ctx).Exec(
		`INSERT INTO user_xp (user_id, xp, level, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET xp = user_xp.xp + excluded.xp, updated_at = excluded.updated_at`,
		userID,
		amount,
		nowMilli,
		nowMilli,
	).Error
	if err != nil {
		return UserXP{}, fmt.Errorf("error updating xp: %w", err)
	}

	var record UserXP
	if err = d.db.WithContext(ctx).Where(
		"user_id = ?",
		userID,
	).First(&record).Error; err != nil {
		return UserXP{}, fmt.Errorf("error reading xp: %w", err)
	}
	return record, nil
}

// levelCommand handles /level, reporting the caller's XP and level.
func (d *DragonBot) levelCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := d.logger.With(
		slog.String("command", "/level"),
		slog.String("user_id", cmd.UserID),
	)

	if d.db == nil {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Leveling isn't available right now.",
			),
		)
		return
	}

	var record UserXP
	err := d.db.WithContext(ctx).Where(
		"user_id = ?",
		cmd.UserID,
	).First(&record).Error
	if err != nil {
		// Includes not-found: the user simply hasn't earned XP yet.
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				"You haven't earned any XP yet. Start chatting!",
			),
		)
		return
	}

	level := levelFromXP(record.XP)
	nextLevelXP := (level + 1) * (level + 1) * 100
	logPostError(
		ctx, log, postText(
			ctx,
			d.poster,
			cmd.ChannelID,
			"",
			fmt.Sprintf(
				"%s you are level %d with %d XP. %d XP to the next level.",
				userMention(cmd.UserID),
				level,
				record.XP,
				nextLevelXP-record.XP,
			),
		),
	)
}

// leaderboardCommand handles /leaderboard, showing the top users by XP.
func (d *DragonBot) leaderboardCommand(
	ctx context.Context,
	cmd slack.SlashCommand,
) {
	log := d.logger.With(slog.String("command", "/leaderboard"))

	if d.db == nil {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Leveling isn't available right now.",
			),
		)
		return
	}

	var records []UserXP
	err := d.db.WithContext(ctx).Order("xp desc").Limit(
		leaderboardSize,
	).Find(&records).Error
	if err != nil {
		log.ErrorContext(ctx, "error reading leaderboard", tint.Err(err))
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				":x: Couldn't load the leaderboard right now.",
			),
		)
		return
	}
	if len(records) == 0 {
		logPostError(
			ctx, log, postText(
				ctx,
				d.poster,
				cmd.ChannelID,
				"",
				"Nobody has earned XP yet. Start chatting!",
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
			formatLeaderboard(records),
		),
	)
}

// formatLeaderboard renders the leaderboard with medals for the top three.
func formatLeaderboard(records []UserXP) string {
	lines := []string{"*:trophy: XP Leaderboard*"}
	for i, record := range records {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(leaderboardMedals) {
			rank = leaderboardMedals[i]
		}
		lines = append(
			lines,
			fmt.Sprintf(
				"%s %s: level %d (%d XP)",
				rank,
				userMention(record.UserID),
				levelFromXP(record.XP),
				record.XP,
			),
		)
	}
	return strings.Join(lines, "\n")
}
