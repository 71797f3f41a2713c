package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration. Values come from an optional JSON file,
// then defaults, then environment overrides.
type Config struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string

	DatabaseDSN string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers     []string
	KafkaNotifyTopic string

	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	Feed FeedConfig
}

// FeedConfig tunes moderation and ranking behaviour.
type FeedConfig struct {
	// OwnPendingInAggregate lets authors see their own pending posts in multi-community listings.
	OwnPendingInAggregate    bool
	CommunityReportThreshold int64
	FeedReportThreshold      int64
	ViewDedupeWindow         time.Duration
	ReconcileInterval        time.Duration
	DefaultTrendingLength    int
}

type fileConfig struct {
	App struct {
		Port               string   `json:"port"`
		JWTSecret          string   `json:"jwt_secret"`
		RateLimitPerMinute int      `json:"rate_limit_per_minute"`
		AllowedOrigins     []string `json:"allowed_origins"`
	} `json:"app"`
	Database struct {
		DSN      string `json:"dsn"`
		Host     string `json:"host"`
		Port     string `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		Name     string `json:"name"`
	} `json:"database"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	Kafka struct {
		Brokers     []string `json:"brokers"`
		NotifyTopic string   `json:"notify_topic"`
	} `json:"kafka"`
	Log struct {
		Level      string `json:"level"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
		Compress   bool   `json:"compress"`
	} `json:"log"`
	Feed struct {
		OwnPendingInAggregate    bool   `json:"own_pending_in_aggregate"`
		CommunityReportThreshold int64  `json:"community_report_threshold"`
		FeedReportThreshold      int64  `json:"feed_report_threshold"`
		ViewDedupeWindow         string `json:"view_dedupe_window"`
		ReconcileInterval        string `json:"reconcile_interval"`
		DefaultTrendingLength    int    `json:"default_trending_length"`
	} `json:"feed"`
}

// Load reads .env files, the JSON file at path (missing file is fine), applies defaults
// and environment overrides.
func Load(path string) (Config, error) {
	loadDotEnvs()

	var cfg Config
	if path != "" {
		if err := loadJSON(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyDefaults(&cfg)
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}

// Default returns a configuration with only defaults applied.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func loadDotEnvs() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	// earlier files win; godotenv never overrides variables that are already set
	_ = godotenv.Load(".env." + env + ".local")
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env." + env)
	_ = godotenv.Load(".env")
}

func loadJSON(path string, out *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var fc fileConfig
	if err := json.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	out.AppPort = fc.App.Port
	out.JWTSecret = fc.App.JWTSecret
	out.RateLimitPerMinute = fc.App.RateLimitPerMinute
	out.AllowedOrigins = fc.App.AllowedOrigins

	out.DatabaseDSN = fc.Database.DSN
	out.DBHost = fc.Database.Host
	out.DBPort = fc.Database.Port
	out.DBUser = fc.Database.User
	out.DBPassword = fc.Database.Password
	out.DBName = fc.Database.Name

	out.RedisAddr = fc.Redis.Addr
	out.RedisPassword = fc.Redis.Password
	out.RedisDB = fc.Redis.DB

	out.KafkaBrokers = fc.Kafka.Brokers
	out.KafkaNotifyTopic = fc.Kafka.NotifyTopic

	out.LogLevel = fc.Log.Level
	out.LogPath = fc.Log.Path
	out.LogMaxSizeMB = fc.Log.MaxSizeMB
	out.LogMaxBackups = fc.Log.MaxBackups
	out.LogMaxAgeDays = fc.Log.MaxAgeDays
	out.LogCompress = fc.Log.Compress

	out.Feed.OwnPendingInAggregate = fc.Feed.OwnPendingInAggregate
	out.Feed.CommunityReportThreshold = fc.Feed.CommunityReportThreshold
	out.Feed.FeedReportThreshold = fc.Feed.FeedReportThreshold
	out.Feed.DefaultTrendingLength = fc.Feed.DefaultTrendingLength
	if fc.Feed.ViewDedupeWindow != "" {
		if out.Feed.ViewDedupeWindow, err = time.ParseDuration(fc.Feed.ViewDedupeWindow); err != nil {
			return fmt.Errorf("feed.view_dedupe_window: %w", err)
		}
	}
	if fc.Feed.ReconcileInterval != "" {
		if out.Feed.ReconcileInterval, err = time.ParseDuration(fc.Feed.ReconcileInterval); err != nil {
			return fmt.Errorf("feed.reconcile_interval: %w", err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppPort == "" {
		cfg.AppPort = "8080"
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.DBHost == "" {
		cfg.DBHost = "127.0.0.1"
	}
	if cfg.DBPort == "" {
		cfg.DBPort = "3306"
	}
	if cfg.DBName == "" {
		cfg.DBName = "community"
	}
	if cfg.KafkaNotifyTopic == "" {
		cfg.KafkaNotifyTopic = "community.notifications"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Feed.CommunityReportThreshold == 0 {
		cfg.Feed.CommunityReportThreshold = 5
	}
	if cfg.Feed.FeedReportThreshold == 0 {
		cfg.Feed.FeedReportThreshold = 5
	}
	if cfg.Feed.ViewDedupeWindow == 0 {
		cfg.Feed.ViewDedupeWindow = time.Hour
	}
	if cfg.Feed.ReconcileInterval == 0 {
		cfg.Feed.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Feed.DefaultTrendingLength == 0 {
		cfg.Feed.DefaultTrendingLength = 10
	}
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	num64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = d
		}
	}

	str("APP_PORT", &cfg.AppPort)
	str("JWT_SECRET", &cfg.JWTSecret)
	num("RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute)
	list("ALLOWED_ORIGINS", &cfg.AllowedOrigins)

	str("DATABASE_DSN", &cfg.DatabaseDSN)
	str("DB_HOST", &cfg.DBHost)
	str("DB_PORT", &cfg.DBPort)
	str("DB_USER", &cfg.DBUser)
	str("DB_PASSWORD", &cfg.DBPassword)
	str("DB_NAME", &cfg.DBName)

	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	num("REDIS_DB", &cfg.RedisDB)

	list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	str("KAFKA_NOTIFY_TOPIC", &cfg.KafkaNotifyTopic)

	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_PATH", &cfg.LogPath)
	num("LOG_MAX_SIZE_MB", &cfg.LogMaxSizeMB)
	num("LOG_MAX_BACKUPS", &cfg.LogMaxBackups)
	num("LOG_MAX_AGE_DAYS", &cfg.LogMaxAgeDays)
	flag("LOG_COMPRESS", &cfg.LogCompress)

	flag("FEED_OWN_PENDING_IN_AGGREGATE", &cfg.Feed.OwnPendingInAggregate)
	num64("COMMUNITY_REPORT_THRESHOLD", &cfg.Feed.CommunityReportThreshold)
	num64("FEED_REPORT_THRESHOLD", &cfg.Feed.FeedReportThreshold)
	dur("VIEW_DEDUPE_WINDOW", &cfg.Feed.ViewDedupeWindow)
	dur("COUNTER_RECONCILE_INTERVAL", &cfg.Feed.ReconcileInterval)
	num("DEFAULT_TRENDING_LENGTH", &cfg.Feed.DefaultTrendingLength)

	return firstErr
}

// DSN returns the MySQL DSN, assembling it from parts when DATABASE_DSN is unset.
func (c Config) DSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
