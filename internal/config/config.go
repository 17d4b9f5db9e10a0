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

const (
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
	DriverMemory   = "memory"
)

type Config struct {
	Env        string
	ListenAddr string

	StoreDriver string
	DatabaseURL string

	AuditWorkers      int
	AuditPollInterval time.Duration

	ClassifierURL    string
	ClassifierAPIKey string
	ClassifierModel  string
	// ClassifierTimeout bounds one classifier call. Zero leaves the bound to
	// the caller's context.
	ClassifierTimeout time.Duration

	StrictQuantity bool

	AWSRegion      string
	AWSEndpoint    string
	AWSAccessKey   string
	AWSSecretKey   string
	DonationsTable string
	ClaimsTable    string
	LocksTable     string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after merging a .env file from the working
// directory when present. Variables already set win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:               getenv("APP_ENV", "development"),
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		StoreDriver:       strings.ToLower(getenv("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AuditWorkers:      getenvInt("AUDIT_WORKERS", 2),
		AuditPollInterval: getenvDuration("AUDIT_POLL_INTERVAL", 500*time.Millisecond),
		ClassifierURL:     os.Getenv("CLASSIFIER_URL"),
		ClassifierAPIKey:  os.Getenv("CLASSIFIER_API_KEY"),
		ClassifierModel:   os.Getenv("CLASSIFIER_MODEL"),
		ClassifierTimeout: getenvDuration("CLASSIFIER_TIMEOUT", 0),
		StrictQuantity:    getenvBool("STRICT_QUANTITY", false),
		AWSRegion:         getenv("AWS_REGION", "us-east-1"),
		AWSEndpoint:       os.Getenv("AWS_ENDPOINT"),
		AWSAccessKey:      os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:      os.Getenv("AWS_SECRET_ACCESS_KEY"),
		DonationsTable:    getenv("DDB_TABLE_DONATIONS", "food_items"),
		ClaimsTable:       getenv("DDB_TABLE_CLAIMS", "claims"),
		LocksTable:        getenv("DDB_TABLE_CLAIM_LOCKS", "claim_locks"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverDynamo:
		if c.DonationsTable == "" || c.ClaimsTable == "" || c.LocksTable == "" {
			errs = append(errs, errors.New("DDB_TABLE_DONATIONS, DDB_TABLE_CLAIMS and DDB_TABLE_CLAIM_LOCKS are required for the dynamodb store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.AuditWorkers < 0 {
		errs = append(errs, errors.New("AUDIT_WORKERS must not be negative"))
	}
	return errors.Join(errs...)
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && out > 0 {
			return out
		}
	}
	return def
}
