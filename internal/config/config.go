package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type RulesMode string

const (
	RulesPlaceholder RulesMode = "placeholder"
	RulesStandard    RulesMode = "standard"
)

type AppConfig struct {
	HTTPAddr       string
	AllowedOrigins []string
	JWTSecret      string

	RulesMode       RulesMode
	PseudoMoveLimit int

	RedisURL string
	MatchTTL time.Duration

	DatabaseURL        string
	SupabaseURL        string
	SupabaseServiceKey string

	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveKeyID     string
	ArchiveSecretKey string
	ArchivePrefix    string

	OutboxWorkers       int
	OutboxMaxAttempts   int
	OutboxSweepInterval time.Duration

	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	MessagesDir string
}

// ArchiveEnabled reports whether completed games are archived to object storage.
func (c *AppConfig) ArchiveEnabled() bool { return c.ArchiveBucket != "" }

// SupabaseEnabled reports whether the REST store is configured.
func (c *AppConfig) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment values win.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:            ":8080",
		RulesMode:           RulesPlaceholder,
		PseudoMoveLimit:     10,
		MatchTTL:            24 * time.Hour,
		ArchiveRegion:       "auto",
		ArchivePrefix:       "games",
		OutboxWorkers:       2,
		OutboxMaxAttempts:   5,
		OutboxSweepInterval: 30 * time.Second,
		WSPingInterval:      30 * time.Second,
		WSWriteTimeout:      5 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	} else if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("RULES_MODE"))); v != "" {
		cfg.RulesMode = RulesMode(v)
	}
	if v := strings.TrimSpace(os.Getenv("PSEUDO_TERMINATION_MOVES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PseudoMoveLimit = n
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/")
	cfg.SupabaseServiceKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))

	cfg.ArchiveBucket = strings.TrimSpace(os.Getenv("ARCHIVE_BUCKET"))
	cfg.ArchiveEndpoint = strings.TrimSpace(os.Getenv("ARCHIVE_ENDPOINT"))
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_REGION")); v != "" {
		cfg.ArchiveRegion = v
	}
	cfg.ArchiveKeyID = strings.TrimSpace(os.Getenv("ARCHIVE_ACCESS_KEY_ID"))
	cfg.ArchiveSecretKey = strings.TrimSpace(os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"))
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_PREFIX")); v != "" {
		cfg.ArchivePrefix = strings.Trim(v, "/")
	}

	if v := strings.TrimSpace(os.Getenv("OUTBOX_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OutboxWorkers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OUTBOX_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OutboxMaxAttempts = n
		}
	}

	var err error
	if cfg.MatchTTL, err = durationEnv("MATCH_TTL", cfg.MatchTTL); err != nil {
		return nil, err
	}
	if cfg.OutboxSweepInterval, err = durationEnv("OUTBOX_SWEEP_INTERVAL", cfg.OutboxSweepInterval); err != nil {
		return nil, err
	}
	if cfg.WSPingInterval, err = durationEnv("WS_PING_INTERVAL", cfg.WSPingInterval); err != nil {
		return nil, err
	}
	if cfg.WSWriteTimeout, err = durationEnv("WS_WRITE_TIMEOUT", cfg.WSWriteTimeout); err != nil {
		return nil, err
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.RulesMode != RulesPlaceholder && cfg.RulesMode != RulesStandard {
		return nil, fmt.Errorf("RULES_MODE must be %q or %q", RulesPlaceholder, RulesStandard)
	}
	if (cfg.SupabaseURL == "") != (cfg.SupabaseServiceKey == "") {
		return nil, errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	if cfg.ArchiveBucket != "" && cfg.ArchiveEndpoint == "" {
		return nil, errors.New("ARCHIVE_ENDPOINT is required when ARCHIVE_BUCKET is set")
	}

	return cfg, nil
}

// durationEnv accepts Go durations ("45s") or bare seconds ("45").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return def, nil
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
