//nolint:lll // struct tags can't be split
package dragonbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
)

const (
	DefaultEnvPrefix = "DRAGONBOT"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultSlackLogLevel         = slog.LevelInfo
	DefaultAILogLevel            = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 30 * time.Second

	DefaultAIBaseURL              = "https://ai.hackclub.com/proxy/v1"
	DefaultAIModel                = "google/gemini-2.5-flash"
	DefaultAIImageModel           = "google/gemini-2.5-flash-image"
	DefaultAIDailyLimit           = 20
	DefaultAIHistoryLimit         = 50
	DefaultAIRequestTimeout       = 60 * time.Second
	DefaultAIMaxRequestsPerSecond = 1

	DefaultSearchBaseURL        = "https://api.search.brave.com/res/v1/web/search"
	DefaultSearchResultCount    = 5
	DefaultSearchRequestTimeout = 15 * time.Second

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultCORSMaxAge        = 12 * time.Hour

	slackMaxMessageLength = 40000
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
	}
)

type Config struct {
	// Database connection string. Empty disables persistence: the AI usage
	// ledger fails open and leveling/join-manager features are inactive.
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Slack configures the Slack session (socket mode)
	Slack *SlackConfig `yaml:"slack" mapstructure:"slack" json:"slack"`

	// AI configures the completion proxy integration and the daily quota
	AI *AIConfig `yaml:"ai" mapstructure:"ai" json:"ai"`

	// Search configures the web-search tool. An empty API key disables
	// tool advertisement; completions still work without search.
	Search *SearchConfig `yaml:"search" mapstructure:"search" json:"search"`

	// API configures the optional status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// SlackConfig configures the Slack session itself.
//
//nolint:lll // can't break tags
type SlackConfig struct {
	// Bot token (xoxb-...)
	BotToken string `yaml:"bot_token" mapstructure:"bot_token" json:"bot_token" log:"[redacted]" binding:"required"`

	// App-level token for socket mode (xapp-...)
	AppToken string `yaml:"app_token" mapstructure:"app_token" json:"app_token" log:"[redacted]" binding:"required"`

	// User ID of the bot owner, used by the join manager and the
	// channel-request command
	OwnerUserID string `yaml:"owner_user_id" mapstructure:"owner_user_id" json:"owner_user_id"`

	// Usergroup that gets a :thread: reply when pinged, and that new
	// members of the welcome channel are added to
	PingGroupID string `yaml:"ping_group_id" mapstructure:"ping_group_id" json:"ping_group_id"`

	// Channel whose member_joined_channel events trigger the welcome flow
	WelcomeChannelID string `yaml:"welcome_channel_id" mapstructure:"welcome_channel_id" json:"welcome_channel_id"`

	// User mentioned in the welcome message
	WelcomeNotifyUserID string `yaml:"welcome_notify_user_id" mapstructure:"welcome_notify_user_id" json:"welcome_notify_user_id"`

	// Base Slack logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// AIConfig configures the completion proxy integration, the conversation
// core, and the shared daily quota.
//
//nolint:lll // can't break tags
type AIConfig struct {
	// API key for the completion proxy. If empty, AI features short-circuit
	// with a "not configured" notice before any network call.
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`

	// Base URL of the OpenAI-compatible completion proxy
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Model used for chat completions
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// Model used for image generation
	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model"`

	// DailyLimit is the shared daily AI invocation quota
	DailyLimit int `yaml:"daily_limit" mapstructure:"daily_limit" json:"daily_limit" binding:"min=0"`

	// PrivilegedUserID bypasses the daily quota without consuming it
	PrivilegedUserID string `yaml:"privileged_user_id" mapstructure:"privileged_user_id" json:"privileged_user_id"`

	// ChannelID restricts the conversation core to a single channel.
	// Empty allows all channels.
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id"`

	// HistoryLimit caps the number of thread messages used to rebuild
	// conversation context. The same limit is passed to the thread-history
	// lookup.
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit" json:"history_limit" binding:"min=1"`

	// RequestTimeout applies to each outbound completion request
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// MaxRequestsPerSecond limits outbound completion proxy requests
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=1"`

	// AI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// SearchConfig configures the web-search tool.
//
//nolint:lll // can't break tags
type SearchConfig struct {
	// API key for the search provider. Empty disables the web_search tool.
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`

	// Base URL of the search endpoint
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Fixed number of results requested per search
	ResultCount int `yaml:"result_count" mapstructure:"result_count" json:"result_count" binding:"min=1"`

	// RequestTimeout applies to each outbound search request
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`
}

// APIConfig configures the status API server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Determines whether the status API server should be started
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"required_if=Enabled true,min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       c.MaxAge,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	slackLogLevel := &slog.LevelVar{}
	aiLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	slackLogLevel.Set(DefaultSlackLogLevel)
	aiLogLevel.Set(DefaultAILogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Slack: &SlackConfig{
			LogLevel: slackLogLevel,
		},
		AI: &AIConfig{
			BaseURL:              DefaultAIBaseURL,
			Model:                DefaultAIModel,
			ImageModel:           DefaultAIImageModel,
			DailyLimit:           DefaultAIDailyLimit,
			HistoryLimit:         DefaultAIHistoryLimit,
			RequestTimeout:       DefaultAIRequestTimeout,
			MaxRequestsPerSecond: DefaultAIMaxRequestsPerSecond,
			LogLevel:             aiLogLevel,
		},
		Search: &SearchConfig{
			BaseURL:        DefaultSearchBaseURL,
			ResultCount:    DefaultSearchResultCount,
			RequestTimeout: DefaultSearchRequestTimeout,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     DefaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
