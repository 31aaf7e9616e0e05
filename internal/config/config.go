package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Case Desk service.
type Config struct {
	Port      int
	Version   string
	Signing   SigningConfig
	Agent     AgentConfig
	Chat      ChatConfig
	Database  DatabaseConfig
	Artifacts ArtifactsConfig
	Retention RetentionConfig
	Telemetry TelemetryConfig
}

type SigningConfig struct {
	// Secret is the shared signing secret for webhook verification.
	Secret string
	// ReplayTolerance bounds how stale a request timestamp may be.
	// Zero disables the freshness check.
	ReplayTolerance time.Duration
}

type AgentConfig struct {
	ID       string
	Endpoint string
	Timeout  time.Duration
}

type ChatConfig struct {
	BotToken string
	APIBase  string
}

type DatabaseConfig struct {
	// URL selects the PostgreSQL store when set; empty falls back to the
	// in-memory store.
	URL     string
	DataDir string
}

type ArtifactsConfig struct {
	Bucket string
	// Local switches brief artifacts to the filesystem store (dev, tests).
	Local bool
}

type RetentionConfig struct {
	// Days is the retention window for idle cases. Zero disables the
	// retention sweep entirely.
	Days int
	// Interval is how often the janitor sweeps.
	Interval time.Duration
	// ArchiveDir holds cold copies of purged cases; empty uses the
	// default under the user's home directory.
	ArchiveDir string
	// Compress gzips archive files.
	Compress bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
// Call Validate before serving: required values are a startup-fatal concern,
// not a per-request one.
func Load() *Config {
	return &Config{
		Port:    envInt("CASEDESK_PORT", 8080),
		Version: envStr("CASEDESK_VERSION", "0.1.0"),
		Signing: SigningConfig{
			Secret:          envStr("CASEDESK_SIGNING_SECRET", ""),
			ReplayTolerance: envDur("CASEDESK_REPLAY_TOLERANCE", 5*time.Minute),
		},
		Agent: AgentConfig{
			ID:       envStr("CASEDESK_AGENT_ID", ""),
			Endpoint: envStr("CASEDESK_AGENT_ENDPOINT", ""),
			Timeout:  envDur("CASEDESK_AGENT_TIMEOUT", 30*time.Second),
		},
		Chat: ChatConfig{
			BotToken: envStr("CASEDESK_BOT_TOKEN", ""),
			APIBase:  envStr("CASEDESK_CHAT_API_BASE", "https://slack.com/api"),
		},
		Database: DatabaseConfig{
			URL:     envStr("DATABASE_URL", ""),
			DataDir: envStr("CASEDESK_DATA_DIR", ""),
		},
		Artifacts: ArtifactsConfig{
			Bucket: envStr("CASEDESK_ARTIFACT_BUCKET", ""),
			Local:  envBool("CASEDESK_ARTIFACTS_LOCAL", false),
		},
		Retention: RetentionConfig{
			Days:       envInt("CASEDESK_RETENTION_DAYS", 0),
			Interval:   envDur("CASEDESK_RETENTION_INTERVAL", time.Hour),
			ArchiveDir: envStr("CASEDESK_ARCHIVE_DIR", ""),
			Compress:   envBool("CASEDESK_ARCHIVE_COMPRESS", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "casedesk"),
		},
	}
}

// Validate checks that every required value is present.
func (c *Config) Validate() error {
	if c.Signing.Secret == "" {
		return fmt.Errorf("CASEDESK_SIGNING_SECRET is required")
	}
	if c.Agent.ID == "" {
		return fmt.Errorf("CASEDESK_AGENT_ID is required")
	}
	if c.Agent.Endpoint == "" {
		return fmt.Errorf("CASEDESK_AGENT_ENDPOINT is required")
	}
	if c.Chat.BotToken == "" {
		return fmt.Errorf("CASEDESK_BOT_TOKEN is required")
	}
	if !c.Artifacts.Local && c.Artifacts.Bucket == "" {
		return fmt.Errorf("CASEDESK_ARTIFACT_BUCKET is required (or set CASEDESK_ARTIFACTS_LOCAL=true)")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
