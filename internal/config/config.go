package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration. Values are loaded from
// environment variables with defaults suitable for local development.
type Config struct {
	// StoreBackend selects "memory" or "postgres".
	StoreBackend string `json:"store_backend"`
	DatabaseURL  string `json:"database_url"`
	RedisAddr    string `json:"redis_addr,omitempty"`
	HTTPAddr     string `json:"http_addr"`

	// RosterPath points at the teammates/users JSON document.
	RosterPath string `json:"roster_path"`

	NotifyWebhookURL    string        `json:"notify_webhook_url"`
	NotifyWebhookSecret string        `json:"-"`
	NotifyTimeout       time.Duration `json:"-"`
	NotifyTimeoutStr    string        `json:"notify_timeout"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`
	BatchSize       int           `json:"batch_size"`

	// SweepCron re-evaluates every pending trigger on a cron schedule.
	// Empty disables the sweep.
	SweepCron     string `json:"sweep_cron"`
	SweepTimezone string `json:"sweep_timezone"`

	// Decision thresholds, all on the 0-100 score scale.
	ExecuteThreshold   float64 `json:"execute_threshold"`
	DelegateThreshold  float64 `json:"delegate_threshold"`
	SummarizeThreshold float64 `json:"summarize_threshold"`
	AutomateThreshold  float64 `json:"automate_threshold"`
	FeasibilityFloor   float64 `json:"feasibility_floor"`

	// GuardrailFallback: "availability", "delegate", or "notify".
	GuardrailFallback string `json:"guardrail_fallback"`

	BusinessStartHour int `json:"business_start_hour"`
	BusinessEndHour   int `json:"business_end_hour"`

	OverdueGrace    time.Duration `json:"-"`
	OverdueGraceStr string        `json:"overdue_grace"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the notifier's maximum retry window
	// (currently 12m30s).
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	ReconcileBatchSize    int           `json:"reconcile_batch_size"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderEnabled gates scheduler and reconciler behind advisory-lock
	// leader election. Requires the postgres backend.
	LeaderEnabled bool `json:"leader_enabled"`
	// LeaderLockKey: all instances sharing the same database must use the
	// same key.
	LeaderLockKey              int64         `json:"leader_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		StoreBackend:               os.Getenv("STORE_BACKEND"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		RosterPath:                 os.Getenv("ROSTER_PATH"),
		NotifyWebhookURL:           os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:        os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		NotifyTimeoutStr:           os.Getenv("NOTIFY_TIMEOUT"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		SweepCron:                  os.Getenv("SWEEP_CRON"),
		SweepTimezone:              os.Getenv("SWEEP_TIMEZONE"),
		GuardrailFallback:          os.Getenv("GUARDRAIL_FALLBACK"),
		OverdueGraceStr:            os.Getenv("OVERDUE_GRACE"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		AnalyticsWindowStr:         os.Getenv("ANALYTICS_WINDOW"),
		AnalyticsRetentionStr:      os.Getenv("ANALYTICS_RETENTION"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:       os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:      os.Getenv("RECONCILE_THRESHOLD"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LeaderEnabled:              os.Getenv("LEADER_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	if cfg.StoreBackend == "" {
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = "postgres"
		} else {
			cfg.StoreBackend = "memory"
		}
	}

	cfg.BatchSize = loadInt("BATCH_SIZE", 100)
	cfg.ReconcileBatchSize = loadInt("RECONCILE_BATCH_SIZE", 100)
	cfg.EventBusBufferSize = loadInt("EVENTBUS_BUFFER_SIZE", 256)
	cfg.CircuitBreakerThreshold = loadInt("CIRCUIT_BREAKER_THRESHOLD", 5)
	cfg.DBMaxOpenConns = loadInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = loadInt("DB_MAX_IDLE_CONNS", 5)
	cfg.BusinessStartHour = loadInt("BUSINESS_START_HOUR", 9)
	cfg.BusinessEndHour = loadInt("BUSINESS_END_HOUR", 18)
	cfg.LeaderLockKey = int64(loadInt("LEADER_LOCK_KEY", 7321001))

	cfg.ExecuteThreshold = loadFloat("EXECUTE_THRESHOLD", 80)
	cfg.DelegateThreshold = loadFloat("DELEGATE_THRESHOLD", 60)
	cfg.SummarizeThreshold = loadFloat("SUMMARIZE_THRESHOLD", 40)
	cfg.AutomateThreshold = loadFloat("AUTOMATE_THRESHOLD", 70)
	cfg.FeasibilityFloor = loadFloat("FEASIBILITY_FLOOR", 70)

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.GuardrailFallback == "" {
		cfg.GuardrailFallback = "availability"
	}
	if cfg.SweepTimezone == "" {
		cfg.SweepTimezone = "UTC"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	defaultStr(&cfg.NotifyTimeoutStr, "30s")
	defaultStr(&cfg.TickIntervalStr, "15m")
	defaultStr(&cfg.OverdueGraceStr, "1h")
	defaultStr(&cfg.DBOpTimeoutStr, "5s")
	defaultStr(&cfg.DBConnMaxLifetimeStr, "30m")
	defaultStr(&cfg.HTTPShutdownTimeoutStr, "10s")
	defaultStr(&cfg.AnalyticsWindowStr, "1h")
	defaultStr(&cfg.AnalyticsRetentionStr, "720h")
	defaultStr(&cfg.ReconcileIntervalStr, "5m")
	defaultStr(&cfg.ReconcileThresholdStr, "15m")
	defaultStr(&cfg.CircuitBreakerCooldownStr, "2m")
	defaultStr(&cfg.LeaderRetryIntervalStr, "15s")
	defaultStr(&cfg.LeaderHeartbeatIntervalStr, "5s")

	// Parse durations; validation is handled separately by Validate().
	parseDur(&cfg.NotifyTimeout, cfg.NotifyTimeoutStr)
	parseDur(&cfg.TickInterval, cfg.TickIntervalStr)
	parseDur(&cfg.OverdueGrace, cfg.OverdueGraceStr)
	parseDur(&cfg.DBOpTimeout, cfg.DBOpTimeoutStr)
	parseDur(&cfg.DBConnMaxLifetime, cfg.DBConnMaxLifetimeStr)
	parseDur(&cfg.HTTPShutdownTimeout, cfg.HTTPShutdownTimeoutStr)
	parseDur(&cfg.AnalyticsWindow, cfg.AnalyticsWindowStr)
	parseDur(&cfg.AnalyticsRetention, cfg.AnalyticsRetentionStr)
	parseDur(&cfg.ReconcileInterval, cfg.ReconcileIntervalStr)
	parseDur(&cfg.ReconcileThreshold, cfg.ReconcileThresholdStr)
	parseDur(&cfg.CircuitBreakerCooldown, cfg.CircuitBreakerCooldownStr)
	parseDur(&cfg.LeaderRetryInterval, cfg.LeaderRetryIntervalStr)
	parseDur(&cfg.LeaderHeartbeatInterval, cfg.LeaderHeartbeatIntervalStr)

	return cfg
}

func loadInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: invalid %s %q (must be an integer), using default %d", name, raw, def)
		return def
	}
	return n
}

func loadFloat(name string, def float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config: invalid %s %q (must be a number), using default %g", name, raw, def)
		return def
	}
	return f
}

func defaultStr(target *string, def string) {
	if *target == "" {
		*target = def
	}
}

func parseDur(target *time.Duration, raw string) {
	if d, err := time.ParseDuration(raw); err == nil {
		*target = d
	}
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		StoreBackend            string  `json:"store_backend"`
		DatabaseURL             string  `json:"database_url"`
		RedisAddr               string  `json:"redis_addr,omitempty"`
		HTTPAddr                string  `json:"http_addr"`
		RosterPath              string  `json:"roster_path"`
		NotifyWebhookURL        string  `json:"notify_webhook_url"`
		NotifyWebhookSecret     string  `json:"notify_webhook_secret"`
		NotifyTimeout           string  `json:"notify_timeout"`
		TickInterval            string  `json:"tick_interval"`
		BatchSize               int     `json:"batch_size"`
		SweepCron               string  `json:"sweep_cron,omitempty"`
		SweepTimezone           string  `json:"sweep_timezone"`
		ExecuteThreshold        float64 `json:"execute_threshold"`
		DelegateThreshold       float64 `json:"delegate_threshold"`
		SummarizeThreshold      float64 `json:"summarize_threshold"`
		AutomateThreshold       float64 `json:"automate_threshold"`
		FeasibilityFloor        float64 `json:"feasibility_floor"`
		GuardrailFallback       string  `json:"guardrail_fallback"`
		BusinessStartHour       int     `json:"business_start_hour"`
		BusinessEndHour         int     `json:"business_end_hour"`
		OverdueGrace            string  `json:"overdue_grace"`
		DBOpTimeout             string  `json:"db_op_timeout"`
		DBMaxOpenConns          int     `json:"db_max_open_conns"`
		DBMaxIdleConns          int     `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string  `json:"db_conn_max_lifetime"`
		HTTPShutdownTimeout     string  `json:"http_shutdown_timeout"`
		MetricsEnabled          bool    `json:"metrics_enabled"`
		MetricsPath             string  `json:"metrics_path"`
		AnalyticsWindow         string  `json:"analytics_window"`
		AnalyticsRetention      string  `json:"analytics_retention"`
		ReconcileEnabled        bool    `json:"reconcile_enabled"`
		ReconcileInterval       string  `json:"reconcile_interval"`
		ReconcileThreshold      string  `json:"reconcile_threshold"`
		ReconcileBatchSize      int     `json:"reconcile_batch_size"`
		EventBusBufferSize      int     `json:"eventbus_buffer_size"`
		CircuitBreakerThreshold int     `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string  `json:"circuit_breaker_cooldown"`
		LeaderEnabled           bool    `json:"leader_enabled"`
		LeaderLockKey           int64   `json:"leader_lock_key"`
		LeaderRetryInterval     string  `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string  `json:"leader_heartbeat_interval"`
	}{
		StoreBackend:            c.StoreBackend,
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		RosterPath:              c.RosterPath,
		NotifyWebhookURL:        c.NotifyWebhookURL,
		NotifyWebhookSecret:     maskSecret(c.NotifyWebhookSecret),
		NotifyTimeout:           c.NotifyTimeoutStr,
		TickInterval:            c.TickIntervalStr,
		BatchSize:               c.BatchSize,
		SweepCron:               c.SweepCron,
		SweepTimezone:           c.SweepTimezone,
		ExecuteThreshold:        c.ExecuteThreshold,
		DelegateThreshold:       c.DelegateThreshold,
		SummarizeThreshold:      c.SummarizeThreshold,
		AutomateThreshold:       c.AutomateThreshold,
		FeasibilityFloor:        c.FeasibilityFloor,
		GuardrailFallback:       c.GuardrailFallback,
		BusinessStartHour:       c.BusinessStartHour,
		BusinessEndHour:         c.BusinessEndHour,
		OverdueGrace:            c.OverdueGraceStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		AnalyticsWindow:         c.AnalyticsWindowStr,
		AnalyticsRetention:      c.AnalyticsRetentionStr,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		EventBusBufferSize:      c.EventBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderEnabled:           c.LeaderEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if
// present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
