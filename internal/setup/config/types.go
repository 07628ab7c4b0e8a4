package config

import "time"

// Storage drivers understood by the setup package.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CommonConfig contains configuration shared between bot and worker.
type CommonConfig struct {
	// Version of the common config.
	Version        int            `koanf:"version"`
	Debug          Debug          `koanf:"debug"`
	Telemetry      Telemetry      `koanf:"telemetry"`
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`
	Storage        Storage        `koanf:"storage"`
	Redis          Redis          `koanf:"redis"`
}

// BotConfig contains Telegram bot specific configuration.
type BotConfig struct {
	// Version of the bot config.
	Version  int      `koanf:"version"`
	Telegram Telegram `koanf:"telegram"`
	Quota    Quota    `koanf:"quota"`
	Health   Health   `koanf:"health"`
}

// WorkerConfig contains background loop configuration.
type WorkerConfig struct {
	// Version of the worker config.
	Version      int          `koanf:"version"`
	Dispatch     Dispatch     `koanf:"dispatch"`
	Processing   Processing   `koanf:"processing"`
	Housekeeping Housekeeping `koanf:"housekeeping"`
	Supervisor   Supervisor   `koanf:"supervisor"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Also write logs to stdout.
	Console bool `koanf:"console"`
}

// Telemetry contains OpenTelemetry export configuration.
type Telemetry struct {
	// Uptrace DSN. Tracing is disabled when empty.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Deployment environment reported with traces.
	Environment string `koanf:"environment"`
}

// CircuitBreaker contains circuit breaker configuration.
type CircuitBreaker struct {
	// Maximum number of requests allowed to pass through when the circuit is half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// The cyclic period of the closed state for the circuit breaker to clear the internal counts (ms).
	Interval int `koanf:"interval"`
	// The period of the open state after which the state of the circuit breaker becomes half-open (ms).
	Timeout int `koanf:"timeout"`
	// Consecutive failures before the circuit opens.
	FailureThreshold uint32 `koanf:"failure_threshold"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	// Driver is either "sqlite" or "postgres".
	Driver     string     `koanf:"driver"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	SQLite     SQLite     `koanf:"sqlite"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Full connection URL. Takes precedence over the discrete fields.
	DSN string `koanf:"dsn"`
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// SQLite contains embedded database configuration.
type SQLite struct {
	// Database file path.
	Path string `koanf:"path"`
	// Number of pooled connections.
	PoolSize int `koanf:"pool_size"`
	// Busy timeout in milliseconds.
	BusyTimeout int `koanf:"busy_timeout"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Telegram contains Telegram API configuration.
type Telegram struct {
	// Bot token for authentication.
	Token string `koanf:"token"`
	// Bot API endpoint format; empty uses the public Bot API.
	Endpoint string `koanf:"endpoint"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
	// Long polling timeout in seconds.
	PollTimeout int `koanf:"poll_timeout"`
	// Maximum concurrent API requests.
	MaxConcurrent int64 `koanf:"max_concurrent"`
	// Static admin allow-list.
	AdminIDs []int64 `koanf:"admin_ids"`
	// Channels every user must join before using the bot.
	RequiredChannels []RequiredChannel `koanf:"required_channels"`
	// Hours before a verified user is checked again.
	ReverifyHours int `koanf:"reverify_hours"`
	// Seconds a membership result is cached.
	MembershipCacheTTL int `koanf:"membership_cache_ttl"`
}

// RequiredChannel is a channel users must be subscribed to.
type RequiredChannel struct {
	// Public username including the leading @.
	Username string `koanf:"username"`
	// Invite link shown to users.
	URL string `koanf:"url"`
	// Display title.
	Title string `koanf:"title"`
}

// Quota contains budget configuration.
type Quota struct {
	// Budget for admins and subscribers.
	HighBudget int `koanf:"high_budget"`
	// Budget for everyone else.
	LowBudget int `koanf:"low_budget"`
	// Rolling window in seconds.
	Window int `koanf:"window"`
	// Days granted by an admin subscription grant when none are given.
	DefaultGrantDays int `koanf:"default_grant_days"`
	// Lock TTL in milliseconds for a single reaction request.
	LockTTL int `koanf:"lock_ttl"`
	// Maximum time in milliseconds to wait for a busy target.
	LockWait int `koanf:"lock_wait"`
}

// Health contains liveness endpoint configuration.
type Health struct {
	// Listen port.
	Port int `koanf:"port"`
	// Seconds between health checks.
	CheckInterval int `koanf:"check_interval"`
	// Seconds to wait after a failed health check.
	FailureInterval int `koanf:"failure_interval"`
	// Seconds between keep-alive pings.
	KeepAliveInterval int `koanf:"keep_alive_interval"`
}

// Dispatch contains batch delivery configuration.
type Dispatch struct {
	// Hard per-call ceiling on requested reactions.
	Ceiling int `koanf:"ceiling"`
	// Reactions per external call.
	BatchSize int `koanf:"batch_size"`
	// Delay between batches in milliseconds.
	BatchDelay int `koanf:"batch_delay"`
	// Random jitter added to the delay in milliseconds.
	BatchJitter int `koanf:"batch_jitter"`
	// Reaction symbols. Uses the built-in palette when empty.
	Palette []string `koanf:"palette"`
}

// Processing contains queue consumer configuration.
type Processing struct {
	// Poll interval in milliseconds.
	PollInterval int `koanf:"poll_interval"`
	// Sleep after an iteration error in milliseconds.
	ErrorBackoff int `koanf:"error_backoff"`
	// First delay in milliseconds before a skipped post is retried.
	RetryBackoff int `koanf:"retry_backoff"`
	// Upper bound in milliseconds on a post's retry delay.
	RetryMaxBackoff int `koanf:"retry_max_backoff"`
	// Reactions requested per discovered post.
	AutoReactCount int `koanf:"auto_react_count"`
	// Items fetched per page.
	PageSize int `koanf:"page_size"`
}

// Housekeeping contains queue purge configuration.
type Housekeeping struct {
	// Seconds between runs.
	Interval int `koanf:"interval"`
	// Days queue items are retained.
	RetentionDays int `koanf:"retention_days"`
	// Rows deleted per statement.
	BatchSize int `koanf:"batch_size"`
}

// Supervisor contains background task restart configuration.
type Supervisor struct {
	// Delay before restarting a stopped task in milliseconds.
	RestartDelay int `koanf:"restart_delay"`
}

// Millis converts a millisecond config value to a duration.
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Seconds converts a second config value to a duration.
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
