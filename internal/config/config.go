package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// OversubscriptionPolicy decides what happens to a pledge that would push
// pledged_amount past target_amount.
type OversubscriptionPolicy string

const (
	// PolicyReject refuses the whole pledge.
	PolicyReject OversubscriptionPolicy = "reject"
	// PolicyPartialFill accepts only the remaining headroom.
	PolicyPartialFill OversubscriptionPolicy = "partial_fill"
)

// Config is the full service configuration, loaded once at startup and
// passed explicitly into constructors. Gate thresholds deliberately live
// here rather than as package globals so they are testable per instance.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Policy   PolicyConfig
	Features FeatureFlags
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

// PolicyConfig carries the funding-policy knobs the state machine and
// gates consult. The source system left these unspecified; they are
// explicit configuration, never hardcoded constants.
type PolicyConfig struct {
	// MinActivationScore is the credit-score floor for FUNDED→ACTIVE.
	MinActivationScore decimal.Decimal
	// ScoreEntityType is the entity type the activation gate scores
	// (normally "organization", the invoice issuer).
	ScoreEntityType string
	// Oversubscription picks reject vs partial_fill for overflowing pledges.
	Oversubscription OversubscriptionPolicy
	// TrancheLockTimeout bounds the wait for a tranche's exclusive lock.
	TrancheLockTimeout time.Duration
	// AttestationMaxAge rejects attestations older than this at activation
	// time; zero disables the recency check.
	AttestationMaxAge time.Duration
}

type FeatureFlags struct {
	EnableFinancing     bool
	EnableAttestations  bool
	EnableCreditScoring bool
}

// Load reads configuration from the environment, honoring a local .env
// file when present.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getString("SERVICE_NAME", "be-tranche-core"),
			Version:     getString("SERVICE_VERSION", "dev"),
			Environment: getString("ENVIRONMENT", "development"),
			LogLevel:    getString("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            getInt("SERVER_PORT", 8086),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getString("DATABASE_HOST", "localhost"),
			Port:        getInt("DATABASE_PORT", 5432),
			User:        getString("DATABASE_USER", "commons"),
			Password:    getString("DATABASE_PASSWORD", ""),
			Database:    getString("DATABASE_NAME", "commons_ledger"),
			SSLMode:     getString("DATABASE_SSLMODE", "disable"),
			MaxConns:    int32(getInt("DATABASE_MAX_CONNS", 25)),
			MinConns:    int32(getInt("DATABASE_MIN_CONNS", 2)),
			MaxConnTime: getDuration("DATABASE_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getDuration("DATABASE_MAX_IDLE_TIME", 15*time.Minute),
		},
		NATS: NATSConfig{
			URL:     getString("NATS_URL", "nats://localhost:4222"),
			Enabled: getBool("NATS_ENABLED", true),
		},
		Policy: PolicyConfig{
			ScoreEntityType:    getString("POLICY_SCORE_ENTITY_TYPE", "organization"),
			Oversubscription:   OversubscriptionPolicy(getString("POLICY_OVERSUBSCRIPTION", string(PolicyReject))),
			TrancheLockTimeout: getDuration("POLICY_TRANCHE_LOCK_TIMEOUT", 5*time.Second),
			AttestationMaxAge:  getDuration("POLICY_ATTESTATION_MAX_AGE", 0),
		},
		Features: FeatureFlags{
			EnableFinancing:     getBool("ENABLE_INVOICE_FINANCING", true),
			EnableAttestations:  getBool("ENABLE_ATTESTATIONS", true),
			EnableCreditScoring: getBool("ENABLE_CREDIT_SCORING", true),
		},
	}

	minScore, err := decimal.NewFromString(getString("POLICY_MIN_ACTIVATION_SCORE", "60"))
	if err != nil {
		return nil, errors.InvalidInput("POLICY_MIN_ACTIVATION_SCORE", "not a valid decimal")
	}
	cfg.Policy.MinActivationScore = minScore

	switch cfg.Policy.Oversubscription {
	case PolicyReject, PolicyPartialFill:
	default:
		return nil, errors.InvalidInput("POLICY_OVERSUBSCRIPTION", "must be reject or partial_fill")
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
