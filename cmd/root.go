package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/DragonSenseiGuy/dragon-bot-slack/dragonbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     = dragonbot.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "dragon-bot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar
// when unmarshaling the config.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvlVar := &slog.LevelVar{}
		if err := lvlVar.UnmarshalText([]byte(data.(string))); err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("could not load env file %s", envFile)
		}
	}

	viper.SetDefault("database", "")
	viper.SetDefault("database_type", dragonbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		dragonbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		dragonbot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", dragonbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", dragonbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", dragonbot.DefaultShutdownTimeout)

	// Slack config
	viper.SetDefault("slack.bot_token", "")
	viper.SetDefault("slack.app_token", "")
	viper.SetDefault("slack.owner_user_id", "")
	viper.SetDefault("slack.ping_group_id", "")
	viper.SetDefault("slack.welcome_channel_id", "")
	viper.SetDefault("slack.welcome_notify_user_id", "")
	viper.SetDefault("slack.log_level", dragonbot.DefaultSlackLogLevel.String())

	// AI config
	viper.SetDefault("ai.api_key", "")
	viper.SetDefault("ai.base_url", dragonbot.DefaultAIBaseURL)
	viper.SetDefault("ai.model", dragonbot.DefaultAIModel)
	viper.SetDefault("ai.image_model", dragonbot.DefaultAIImageModel)
	viper.SetDefault("ai.daily_limit", dragonbot.DefaultAIDailyLimit)
	viper.SetDefault("ai.privileged_user_id", "")
	viper.SetDefault("ai.channel_id", "")
	viper.SetDefault("ai.history_limit", dragonbot.DefaultAIHistoryLimit)
	viper.SetDefault("ai.request_timeout", dragonbot.DefaultAIRequestTimeout)
	viper.SetDefault(
		"ai.max_requests_per_second",
		dragonbot.DefaultAIMaxRequestsPerSecond,
	)
	viper.SetDefault("ai.log_level", dragonbot.DefaultAILogLevel.String())

	// Search config
	viper.SetDefault("search.api_key", "")
	viper.SetDefault("search.base_url", dragonbot.DefaultSearchBaseURL)
	viper.SetDefault("search.result_count", dragonbot.DefaultSearchResultCount)
	viper.SetDefault(
		"search.request_timeout",
		dragonbot.DefaultSearchRequestTimeout,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", dragonbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", dragonbot.DefaultListenNetwork)
	viper.SetDefault("api.read_timeout", dragonbot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		dragonbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", dragonbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", dragonbot.DefaultIdleTimeout)
	viper.SetDefault("api.log_level", dragonbot.DefaultAPILogLevel.String())
	viper.SetDefault(
		"api.cors.allow_headers",
		dragonbot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		dragonbot.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", dragonbot.DefaultCORSMaxAge)

	viper.SetEnvPrefix(dragonbot.DefaultEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"slack.log_level",
		"ai.log_level",
		"api.log_level",
	} {
		lvl, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, lvl)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load before reading configuration",
	)
}
