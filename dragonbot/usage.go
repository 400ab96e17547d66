package dragonbot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const usageDateLayout = "2006-01-02"

// AIUsage is the shared daily AI invocation counter. One row per calendar
// day, keyed by date. Rows accumulate and are never deleted.
type AIUsage struct {
	Date  string `json:"date" gorm:"primaryKey;type:string"`
	Count int    `json:"count" gorm:"not null"`

	ModelUnixTime
}

func (AIUsage) TableName() string {
	return "ai_usage"
}

// UsageLedger tracks AI invocations against the shared daily quota.
//
// CheckAndConsume reports whether the given actor may proceed. The
// privileged user always may, without consuming quota. When the backing
// store is unavailable the ledger fails open: an infrastructure outage
// must not take the conversation feature down with it.
type UsageLedger interface {
	CheckAndConsume(ctx context.Context, actorID string) bool
}

type dbUsageLedger struct {
	db               *gorm.DB
	dailyLimit       int
	privilegedUserID string
	logger           *slog.Logger
	now              func() time.Time
}

// NewUsageLedger returns a UsageLedger backed by the given database.
// A nil db is allowed and produces a ledger that always fails open.
func NewUsageLedger(
	db *gorm.DB,
	dailyLimit int,
	privilegedUserID string,
	log *slog.Logger,
) UsageLedger {
	if log == nil {
		log = slog.Default()
	}
	return &dbUsageLedger{
		db:               db,
		dailyLimit:       dailyLimit,
		privilegedUserID: privilegedUserID,
		logger:           log.With(loggerNameKey, "usage_ledger"),
		now:              time.Now,
	}
}

// CheckAndConsume atomically increments today's usage counter and reports
// whether the request is within the daily quota.
//
// The read-check-increment runs as a single upsert statement so concurrent
// events for the same day can't race past the limit. A zero-rows-affected
// result means the counter already reached the limit.
func (l *dbUsageLedger) CheckAndConsume(ctx context.Context, actorID string) bool {
	if l.privilegedUserID != "" && actorID == l.privilegedUserID {
		l.logger.DebugContext(
			ctx,
			"privileged user bypassing quota",
			slog.String("user_id", actorID),
		)
		return true
	}

	if l.db == nil {
		l.logger.WarnContext(
			ctx,
			"usage ledger unavailable, allowing request (fail-open)",
			slog.String("user_id", actorID),
		)
		return true
	}

	today := l.now().Format(usageDateLayout)
	nowMilli := l.now().UnixMilli()

	result := l.db.WithContext(ctx).Exec(
		`INSERT INTO ai_usage (date, count, created_at, updated_at)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT (date) DO UPDATE
		 SET count = ai_usage.count + 1, updated_at = excluded.updated_at
		 WHERE ai_usage.count < ?`,
		today,
		nowMilli,
		nowMilli,
		l.dailyLimit,
	)
	if result.Error != nil {
		l.logger.ErrorContext(
			ctx,
			"usage ledger write failed, allowing request (fail-open)",
			slog.String("user_id", actorID),
			tint.Err(result.Error),
		)
		return true
	}

	allowed := result.RowsAffected > 0
	if !allowed {
		l.logger.WarnContext(
			ctx,
			"daily AI limit reached",
			slog.String("user_id", actorID),
			slog.Int("daily_limit", l.dailyLimit),
		)
	}
	return allowed
}

// UsageToday returns today's usage record, or a zero-count record if
// nothing has been consumed yet today.
func UsageToday(ctx context.Context, db *gorm.DB) (AIUsage, error) {
	usage := AIUsage{Date: time.Now().Format(usageDateLayout)}
	if db == nil {
		return usage, errors.New("no database configured")
	}
	err := db.WithContext(ctx).Where(
		"date = ?",
		usage.Date,
	).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return usage, nil
	}
	return usage, err
}
