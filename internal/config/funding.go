package config

import (
	"os"
	"strconv"
	"time"
)

// FundingConfig holds the GLM policy knobs. Everything is overridable via
// environment so demo deployments can tune grants without a rebuild.
type FundingConfig struct {
	SignupGrantGLM   int64         // starting credit for new user accounts
	MaxTransferGLM   int64         // ceiling on a single transfer or pledge
	MaxTopUpGLM      int64         // ceiling on a single credit purchase
	CommitRetries    int           // attempts after the first on transient contention
	CommitBackoff    time.Duration // initial backoff between attempts, doubles each retry
	DefaultPageSize  int
	MaxPageSize      int
	ReceiveCodeTTL   time.Duration // lifetime of a receive-GLM QR code
	MaxPledgeNoteLen int
}

func LoadFundingConfig() *FundingConfig {
	return &FundingConfig{
		SignupGrantGLM:   getEnvAsInt64("GLM_SIGNUP_GRANT", 1000),
		MaxTransferGLM:   getEnvAsInt64("GLM_MAX_TRANSFER", 1_000_000),
		MaxTopUpGLM:      getEnvAsInt64("GLM_MAX_TOPUP", 100_000),
		CommitRetries:    getEnvAsInt("LEDGER_COMMIT_RETRIES", 3),
		CommitBackoff:    getEnvAsDuration("LEDGER_COMMIT_BACKOFF", 25*time.Millisecond),
		DefaultPageSize:  getEnvAsInt("LEDGER_DEFAULT_PAGE_SIZE", 20),
		MaxPageSize:      getEnvAsInt("LEDGER_MAX_PAGE_SIZE", 100),
		ReceiveCodeTTL:   getEnvAsDuration("RECEIVE_CODE_TTL", 5*time.Minute),
		MaxPledgeNoteLen: getEnvAsInt("PLEDGE_NOTE_MAX_LEN", 500),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
