package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/pkg/oracle"
	"github.com/screa/hook-salt-miner/pkg/types"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv
const EnvPrefix = "HOOKMINER_"

// Errors
var (
	ErrNoOracle          = errors.New("must specify either --rpc-url or --init-code-hash")
	ErrMissingAddress    = errors.New("must specify --factory, --token, --deployer and --user")
	ErrNoTotalSupply     = errors.New("must specify --total-supply")
	ErrInvalidBudget     = errors.New("--max-attempts and --timeout must be positive")
	ErrInvalidWorkers    = errors.New("--workers must be positive")
	ErrConflictingConfig = errors.New("--config-data and --config-data-file are mutually exclusive")
)

// Config holds the application configuration
type Config struct {
	// Oracle
	RPCURL           string
	PredictSignature string
	InitCodeHash     string // offline CREATE2 prediction when set

	// Mining request
	Factory        string
	Token          string
	Deployer       string
	User           string
	TotalSupply    string
	ConfigData     string
	ConfigDataFile string
	MaxAttempts    int
	Timeout        time.Duration
	Mask           uint16
	RequiredBits   uint16
	Encoding       string

	// Search
	Workers          int // in-flight prediction calls
	ProgressInterval int

	// Salt cache
	RedisURL string
	CacheTTL time.Duration
	NoCache  bool

	// Observability
	MetricsAddr string
	Verbose     bool
	LogFile     string
	LogLevel    string
	LogFormat   string
	LogInterval int // Logging interval in seconds
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		PredictSignature: oracle.DefaultPredictSignature,
		MaxAttempts:      1000,
		Timeout:          5 * time.Minute,
		Mask:             types.DefaultHookMask,
		RequiredBits:     types.DefaultRequiredBits,
		Encoding:         "packed",
		Workers:          1,
		ProgressInterval: 50,
		CacheTTL:         30 * 24 * time.Hour,
		LogLevel:         "info",
		LogFormat:        "text",
		LogInterval:      5, // Default 5 seconds
	}
}

// ApplyEnv overlays HOOKMINER_* environment variables onto c. It runs before
// flag parsing so explicit flags still win.
func (c *Config) ApplyEnv() {
	c.RPCURL = getEnv("RPC_URL", c.RPCURL)
	c.PredictSignature = getEnv("PREDICT_SIGNATURE", c.PredictSignature)
	c.InitCodeHash = getEnv("INIT_CODE_HASH", c.InitCodeHash)
	c.Factory = getEnv("FACTORY", c.Factory)
	c.Token = getEnv("TOKEN", c.Token)
	c.Deployer = getEnv("DEPLOYER", c.Deployer)
	c.User = getEnv("USER_ADDRESS", c.User)
	c.TotalSupply = getEnv("TOTAL_SUPPLY", c.TotalSupply)
	c.ConfigData = getEnv("CONFIG_DATA", c.ConfigData)
	c.MaxAttempts = getEnvInt("MAX_ATTEMPTS", c.MaxAttempts)
	c.Timeout = getEnvDuration("TIMEOUT", c.Timeout)
	c.Encoding = getEnv("ENCODING", c.Encoding)
	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPCURL == "" && c.InitCodeHash == "" {
		return ErrNoOracle
	}
	if c.Factory == "" || c.Token == "" || c.Deployer == "" || c.User == "" {
		return ErrMissingAddress
	}
	if c.TotalSupply == "" {
		return ErrNoTotalSupply
	}
	if c.ConfigData != "" && c.ConfigDataFile != "" {
		return ErrConflictingConfig
	}
	if c.MaxAttempts <= 0 || c.Timeout <= 0 {
		return ErrInvalidBudget
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	return nil
}

// GetTargetDescription returns a human-readable description of the target
func (c *Config) GetTargetDescription() string {
	return fmt.Sprintf("address & 0x%04x == 0x%04x", c.Mask, c.RequiredBits)
}

// Request builds the mining request described by the configuration
func (c *Config) Request() (*types.MiningRequest, error) {
	var (
		req types.MiningRequest
		err error
	)

	addrs := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"factory", c.Factory, &req.Factory},
		{"token", c.Token, &req.Token},
		{"deployer", c.Deployer, &req.Deployer},
		{"user", c.User, &req.User},
	}
	for _, a := range addrs {
		addr, err := crypto.ParseAddress(a.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s address: %w", a.name, err)
		}
		*a.dst = addr
	}

	supply, err := ParseTotalSupply(c.TotalSupply)
	if err != nil {
		return nil, err
	}
	req.TotalSupply = supply.ToBig()

	if req.ConfigData, err = c.GetConfigData(); err != nil {
		return nil, fmt.Errorf("invalid config data: %w", err)
	}
	if req.Encoding, err = types.ParseSaltEncoding(c.Encoding); err != nil {
		return nil, err
	}

	req.MaxAttempts = c.MaxAttempts
	req.Timeout = c.Timeout
	req.Mask = c.Mask
	req.RequiredBits = c.RequiredBits
	return &req, nil
}

// ParseTotalSupply parses a decimal or 0x-prefixed hex amount that must fit
// in a uint128
func ParseTotalSupply(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	var (
		v   *uint256.Int
		err error
	)
	if digits, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		// uint256 rejects leading zeros in hex input
		digits = strings.TrimLeft(digits, "0")
		if digits == "" {
			return new(uint256.Int), nil
		}
		v, err = uint256.FromHex("0x" + digits)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid total supply %q: %w", s, err)
	}
	if v.BitLen() > 128 {
		return nil, fmt.Errorf("total supply %s does not fit in uint128", v.Dec())
	}
	return v, nil
}

// GetConfigData returns the opaque strategy config bytes
func (c *Config) GetConfigData() ([]byte, error) {
	if c.ConfigDataFile != "" {
		return readConfigDataFromFile(c.ConfigDataFile)
	}
	return crypto.DecodeHex(c.ConfigData)
}

// readConfigDataFromFile reads hex encoded config data from a file
func readConfigDataFromFile(filename string) ([]byte, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return crypto.DecodeHex(strings.TrimSpace(string(content)))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
