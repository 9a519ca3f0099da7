package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBDSN    string
	HTTPAddr string
	LogLevel string
	RedisDSN string

	// raw secrets kept in-memory only; never log these
	BotToken       string
	AdminSecretKey string
	CORSOrigins    []string

	// discord api
	DiscordAPIBase string

	// sync tuning
	SyncPageSize  int           // members per page request
	SyncPageDelay time.Duration // pause between page requests
	SyncBatchSize int           // members per upsert batch
	SyncInterval  time.Duration // worker resync interval

	// avatar archival (S3/R2 compatible)
	R2Endpoint string
	R2Bucket   string
	R2KeysRaw  string
}

func Load() (Config, error) {
	cfg := Config{
		DBDSN:          os.Getenv("DB_DSN"),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:       getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:       getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		BotToken:       os.Getenv("BOT_TOKEN"),
		AdminSecretKey: getenvDefault("ADMIN_SECRET_KEY", ""),
		DiscordAPIBase: getenvDefault("DISCORD_API_BASE", "https://discord.com/api/v10"),
		R2Endpoint:     getenvDefault("R2_ENDPOINT", ""),
		R2Bucket:       getenvDefault("R2_BUCKET", ""),
		R2KeysRaw:      os.Getenv("R2_KEYS"),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	cfg.SyncPageSize = getenvInt("SYNC_PAGE_SIZE", 1000)
	if cfg.SyncPageSize < 1 || cfg.SyncPageSize > 1000 {
		cfg.SyncPageSize = 1000
	}
	cfg.SyncBatchSize = getenvInt("SYNC_BATCH_SIZE", 100)
	if cfg.SyncBatchSize < 1 {
		cfg.SyncBatchSize = 100
	}
	cfg.SyncPageDelay = time.Duration(getenvInt("SYNC_PAGE_DELAY_MS", 1000)) * time.Millisecond
	cfg.SyncInterval = time.Duration(getenvInt("SYNC_INTERVAL_MINUTES", 360)) * time.Minute

	// light validation: ensure secrets are valid json if set
	if cfg.R2KeysRaw != "" {
		var tmp any
		if err := json.Unmarshal([]byte(cfg.R2KeysRaw), &tmp); err != nil {
			return Config{}, errors.New("R2_KEYS must be valid json")
		}
	}

	// parse CORS origins
	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"} // default
	}

	return cfg, nil
}

// R2Keys are the S3-compatible credentials carried as a JSON blob in R2_KEYS.
type R2Keys struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	PublicURL       string `json:"public_url"`
	Region          string `json:"region"`
}

// ParseR2Keys decodes R2_KEYS. Returns zero keys when archival is not
// configured.
func (c Config) ParseR2Keys() (R2Keys, error) {
	if c.R2KeysRaw == "" {
		return R2Keys{}, nil
	}
	var keys R2Keys
	if err := json.Unmarshal([]byte(c.R2KeysRaw), &keys); err != nil {
		return R2Keys{}, err
	}
	if keys.Region == "" {
		keys.Region = "auto"
	}
	return keys, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
