package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validator tag name
func init() {
	structValidator.SetTagName("binding")
}

// startAPI starts the status API server in the background. Errors from the
// listener after startup are logged, not fatal: the bot's Slack side keeps
// running without its status surface.
func (d *DragonBot) startAPI(ctx context.Context) error {
	log := newLogger(d.config.API.LogLevel, "api")

	listener, err := net.Listen(
		d.config.API.ListenNetwork,
		d.config.API.Listen,
	)
	if err != nil {
		return fmt.Errorf(
			"error listening on %s %s: %w",
			d.config.API.ListenNetwork,
			d.config.API.Listen,
			err,
		)
	}

	d.api = &http.Server{
		Handler:           d.apiHandler(log),
		ReadTimeout:       d.config.API.ReadTimeout,
		ReadHeaderTimeout: d.config.API.ReadHeaderTimeout,
		WriteTimeout:      d.config.API.WriteTimeout,
		IdleTimeout:       d.config.API.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	log.Info(
		"status API listening",
		slog.String("address", listener.Addr().String()),
	)
	go func() {
		serveErr := d.api.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("API server stopped", tint.Err(serveErr))
		}
	}()
	return nil
}

// apiHandler builds the gin router for the status API.
func (d *DragonBot) apiHandler(log *slog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		apiRequestLogger(log),
		cors.New(d.config.API.CORS.GINConfig()),
	)

	router.GET("/health", d.healthHandler)
	api := router.Group("/api")
	api.GET("/usage", d.usageHandler)
	api.GET("/leaderboard", d.leaderboardHandler)
	return router
}

// apiRequestLogger logs one line per request.
func apiRequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.InfoContext(
			c.Request.Context(),
			"request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (d *DragonBot) healthHandler(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"uptime":  time.Since(d.startedAt).Round(time.Second).String(),
		},
	)
}

// usageHandler reports today's AI usage against the daily limit.
func (d *DragonBot) usageHandler(c *gin.Context) {
	usage, err := UsageToday(c.Request.Context(), d.db)
	if err != nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "usage unavailable"},
		)
		return
	}
	c.JSON(
		http.StatusOK, gin.H{
			"date":        usage.Date,
			"count":       usage.Count,
			"daily_limit": d.config.AI.DailyLimit,
		},
	)
}

// leaderboardHandler reports the top users by XP.
func (d *DragonBot) leaderboardHandler(c *gin.Context) {
	if d.db == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "leaderboard unavailable"},
		)
		return
	}
	var records []UserXP
	err := d.db.WithContext(c.Request.Context()).Order("xp desc").Limit(
		leaderboardSize,
	).Find(&records).Error
	if err != nil {
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "leaderboard unavailable"},
		)
		return
	}

	type entry struct {
		UserID string `json:"user_id"`
		XP     int    `json:"xp"`
		Level  int    `json:"level"`
	}
	entries := make([]entry, 0, len(records))
	for _, record := range records {
		entries = append(
			entries, entry{
				UserID: record.UserID,
				XP:     record.XP,
				Level:  levelFromXP(record.XP),
			},
		)
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
