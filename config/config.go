package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bnema/webmclip/internal/domain"
)

const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

type Config struct {
	Port       int
	ListenAddr string
	DataDir    string
	LogLevel   string
	LogFormat  string
	Store      string

	FFmpegPath       string
	FFprobePath      string
	UseBundledFFmpeg bool
	BinDir           string

	InboxDir      string
	AuthTokenHash string
	BehindProxy   bool
	MinFreeMB     int
	// RateLimit is the number of mutating requests allowed per client per minute.
	RateLimit int

	PolicyFile string
	Policy     domain.Policy
}

// Addr is the address the HTTP server binds.
func (c *Config) Addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// MinFreeBytes converts MinFreeMB for the health check.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(c.MinFreeMB) << 20
}

func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 7891)
	if err != nil {
		return nil, err
	}
	minFree, err := getEnvInt("MIN_FREE_MB", 512)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvInt("RATE_LIMIT", 30)
	if err != nil {
		return nil, err
	}
	useBundled, err := getEnvBool("USE_BUNDLED_FFMPEG", false)
	if err != nil {
		return nil, err
	}
	behindProxy, err := getEnvBool("BEHIND_PROXY", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             port,
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		DataDir:          getEnv("DATA_DIR", "/data"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		Store:            strings.ToLower(getEnv("STORE", StoreSQLite)),
		FFmpegPath:       os.Getenv("FFMPEG_PATH"),
		FFprobePath:      os.Getenv("FFPROBE_PATH"),
		UseBundledFFmpeg: useBundled,
		BinDir:           getEnv("BIN_DIR", "bin"),
		InboxDir:         os.Getenv("INBOX_DIR"),
		AuthTokenHash:    os.Getenv("AUTH_TOKEN_HASH"),
		BehindProxy:      behindProxy,
		MinFreeMB:        minFree,
		RateLimit:        rateLimit,
		PolicyFile:       os.Getenv("POLICY_FILE"),
	}

	cfg.Policy, err = LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid PORT: %d", c.Port)
	case c.Store != StoreSQLite && c.Store != StoreJSON:
		return fmt.Errorf("invalid STORE %q: want %s or %s", c.Store, StoreSQLite, StoreJSON)
	case c.LogFormat != "console" && c.LogFormat != "json":
		return fmt.Errorf("invalid LOG_FORMAT %q: want console or json", c.LogFormat)
	case c.MinFreeMB < 0:
		return fmt.Errorf("invalid MIN_FREE_MB: %d", c.MinFreeMB)
	case c.RateLimit <= 0:
		return fmt.Errorf("invalid RATE_LIMIT: %d", c.RateLimit)
	case c.DataDir == "":
		return errors.New("DATA_DIR is required")
	}
	return c.Policy.Validate()
}

// LoadPolicy returns the default policy overlaid with the YAML file at path.
// An empty path yields the defaults.
func LoadPolicy(path string) (domain.Policy, error) {
	if path == "" {
		return domain.DefaultPolicy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	p, err := ParsePolicy(f)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy overlays YAML onto the default policy and validates the result.
// Unknown keys are rejected.
func ParsePolicy(r io.Reader) (domain.Policy, error) {
	p := domain.DefaultPolicy()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return domain.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

// MarshalPolicy renders p in the policy file format.
func MarshalPolicy(p domain.Policy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
