package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration for the control plane.
// This is distinct from the domain SystemConfig (C1), which holds
// operator-supplied provider keys, assets, and MCP settings in the store.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Scheduler SchedulerConfig
	MCP       MCPConfig
	Executors ExecutorConfig
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// SchedulerConfig tunes the periodic monitoring loop (C9).
type SchedulerConfig struct {
	TickInterval  time.Duration
	StartupDelay  time.Duration
}

// MCPConfig holds the well-known internal URLs the dispatcher lazily
// registers remote clients against (§4.4).
type MCPConfig struct {
	WazuhURL        string
	FalconURL       string
	VelociraptorURL string
}

// ExecutorConfig tunes the internal SSH/SFTP/search executors (C3).
type ExecutorConfig struct {
	SSHTimeout      time.Duration
	MCPHTTPTimeout  time.Duration
	SearchAPIKeyEnv string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("HOSTWARDEN_PORT", 8080),
		Version: envStr("HOSTWARDEN_VERSION", "0.1.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "hostwarden-control-plane"),
		},
		Scheduler: SchedulerConfig{
			TickInterval: envDuration("SCHEDULER_TICK_SECONDS", 60*time.Second),
			StartupDelay: envDuration("SCHEDULER_STARTUP_DELAY_SECONDS", 5*time.Second),
		},
		MCP: MCPConfig{
			WazuhURL:        envStr("MCP_WAZUH_URL", "http://localhost:8001/mcp"),
			FalconURL:       envStr("MCP_FALCON_URL", "http://localhost:8002/mcp"),
			VelociraptorURL: envStr("MCP_VELOCIRAPTOR_URL", "http://localhost:8003/mcp"),
		},
		Executors: ExecutorConfig{
			SSHTimeout:      envDuration("MONITOR_SSH_TIMEOUT_SECONDS", 30*time.Second),
			MCPHTTPTimeout:  envDuration("MCP_HTTP_TIMEOUT_SECONDS", 30*time.Second),
			SearchAPIKeyEnv: envStr("SEARCH_API_KEY_ENV", "TAVILY_API_KEY"),
		},
	}
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

// envDuration reads an integer-seconds env var into a time.Duration.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
