package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"private-db-agent/internal/attestation"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/policy"
)

// Config captures runtime configuration for the agent, read once at
// startup the same way the teacher's escrow-gateway config.go:
// LoadConfigFromEnv reads its environment.
type Config struct {
	ServiceName    string
	ServiceVersion string

	AuthEnabled       bool
	AuthNonceTTL      time.Duration
	AuthMaxFutureSkew time.Duration

	CapabilityRulesJSON string
	CapabilityRulesFile string

	DBDriver          string
	DatabaseURL       string
	PostgresSSL       bool
	PostgresMaxPool   int
	SQLiteFilePath    string

	A2AAgentID      string
	A2ASharedSecret string

	ReplayPersistencePath string

	AttestationCfg attestation.Config
}

// LoadConfigFromEnv builds Config from the process environment, per
// spec.md §6's environment-variable table.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ServiceName:       getenvDefault("SERVICE_NAME", "private-db-agent"),
		ServiceVersion:    getenvDefault("SERVICE_VERSION", "dev"),
		AuthEnabled:       getenvDefault("AUTH_ENABLED", "true") != "false",
		AuthNonceTTL:      5 * time.Minute,
		AuthMaxFutureSkew: 30 * time.Second,
		DBDriver:          getenvDefault("DB_DRIVER", "sqlite"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		PostgresSSL:       os.Getenv("POSTGRES_SSL") == "true",
		PostgresMaxPool:   10,
		SQLiteFilePath:    getenvDefault("SQLITE_FILE_PATH", "private-db-agent.db"),
		A2AAgentID:            os.Getenv("A2A_AGENT_ID"),
		A2ASharedSecret:       os.Getenv("A2A_SHARED_SECRET"),
		ReplayPersistencePath: strings.TrimSpace(os.Getenv("REPLAY_PERSISTENCE_PATH")),
		AttestationCfg:        attestation.LoadConfigFromEnv(),
	}

	if raw := strings.TrimSpace(os.Getenv("AUTH_NONCE_TTL_SECONDS")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_NONCE_TTL_SECONDS: %w", err)
		}
		if secs <= 0 {
			return Config{}, errors.New("AUTH_NONCE_TTL_SECONDS must be positive")
		}
		cfg.AuthNonceTTL = time.Duration(secs) * time.Second
	}

	if raw := strings.TrimSpace(os.Getenv("AUTH_MAX_FUTURE_SKEW_SECONDS")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_MAX_FUTURE_SKEW_SECONDS: %w", err)
		}
		if secs <= 0 {
			return Config{}, errors.New("AUTH_MAX_FUTURE_SKEW_SECONDS must be positive")
		}
		cfg.AuthMaxFutureSkew = time.Duration(secs) * time.Second
	}

	if raw := strings.TrimSpace(os.Getenv("POSTGRES_MAX_POOL_SIZE")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse POSTGRES_MAX_POOL_SIZE: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("POSTGRES_MAX_POOL_SIZE must be positive")
		}
		cfg.PostgresMaxPool = val
	}

	cfg.CapabilityRulesJSON = strings.TrimSpace(os.Getenv("POLICY_CAPABILITY_RULES_JSON"))
	cfg.CapabilityRulesFile = strings.TrimSpace(os.Getenv("POLICY_CAPABILITY_RULES_FILE"))

	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DBDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
	}

	return cfg, nil
}

func (cfg Config) openAdapter() (dbadapter.Adapter, error) {
	switch cfg.DBDriver {
	case "postgres":
		return dbadapter.OpenPostgres(dbadapter.PostgresOptions{
			DSN:         cfg.DatabaseURL,
			SSL:         cfg.PostgresSSL,
			MaxPoolSize: cfg.PostgresMaxPool,
		})
	default:
		return dbadapter.OpenSQLite(cfg.SQLiteFilePath)
	}
}

func (cfg Config) capabilityRules() (*policy.CapabilityRules, error) {
	switch {
	case cfg.CapabilityRulesFile != "":
		return policy.LoadCapabilityRulesYAMLFile(cfg.CapabilityRulesFile)
	case cfg.CapabilityRulesJSON != "":
		return policy.LoadCapabilityRulesJSON(cfg.CapabilityRulesJSON)
	default:
		return policy.NewCapabilityRules(policy.DefaultCapabilityRules())
	}
}

// agentSigners builds the registered-peer-agent map from the single
// A2A_AGENT_ID / A2A_SHARED_SECRET pair the environment carries. That pair
// is the only source of peer agents: the map holds at most one HMAC agent,
// and no other peer agents are registered.
func (cfg Config) agentSigners() map[string]*auth.AgentSigner {
	agents := make(map[string]*auth.AgentSigner)
	if cfg.A2AAgentID != "" && cfg.A2ASharedSecret != "" {
		agents[cfg.A2AAgentID] = &auth.AgentSigner{
			AgentID:      cfg.A2AAgentID,
			Scheme:       auth.SchemeHMAC,
			SharedSecret: cfg.A2ASharedSecret,
		}
	}
	return agents
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
