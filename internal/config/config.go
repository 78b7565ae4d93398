package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Database DatabaseConfig
	Gate     GateConfig
	Redis    RedisConfig
	Log      LogConfig
	Web      WebConfig
}

type DatabaseConfig struct {
	URL          string // postgres:// URL or SQLite file path
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// GateConfig holds the recognition engine tunables.
type GateConfig struct {
	ResidentTolerance float64
	VisitorTolerance  float64
	VisitorTTL        time.Duration
	Cooldown          time.Duration
	SweepInterval     time.Duration
	CropRetention     time.Duration
	ProcessEveryN     int
	EmbeddingDim      int
	CropDir           string
	HNSW              bool // enable HNSW candidate search for large resident sets
}

type RedisConfig struct {
	URL       string // empty keeps the cooldown table in process
	KeyPrefix string // separates entrances sharing one server
}

type LogConfig struct {
	Level string // debug, info, warn, error
	File  string // optional, logs go to stderr when empty
}

type WebConfig struct {
	Host   string
	Port   int
	APIKey string // when set, /api/v1 requires X-API-Key
}

// Addr returns the listen address.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// fileConfig mirrors the optional config file. Durations are strings ("30s", "2m").
type fileConfig struct {
	Database struct {
		URL          string `yaml:"url" toml:"url"`
		MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns" toml:"max_idle_conns"`
	} `yaml:"database" toml:"database"`
	Gate struct {
		ResidentTolerance float64 `yaml:"resident_tolerance" toml:"resident_tolerance"`
		VisitorTolerance  float64 `yaml:"visitor_tolerance" toml:"visitor_tolerance"`
		VisitorTTL        string  `yaml:"visitor_ttl" toml:"visitor_ttl"`
		Cooldown          string  `yaml:"cooldown" toml:"cooldown"`
		SweepInterval     string  `yaml:"sweep_interval" toml:"sweep_interval"`
		CropRetention     string  `yaml:"crop_retention" toml:"crop_retention"`
		ProcessEveryN     int     `yaml:"process_every_n" toml:"process_every_n"`
		EmbeddingDim      int     `yaml:"embedding_dim" toml:"embedding_dim"`
		CropDir           string  `yaml:"crop_dir" toml:"crop_dir"`
		HNSW              *bool   `yaml:"hnsw" toml:"hnsw"`
	} `yaml:"gate" toml:"gate"`
	Redis struct {
		URL       string `yaml:"url" toml:"url"`
		KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
	} `yaml:"redis" toml:"redis"`
	Log struct {
		Level string `yaml:"level" toml:"level"`
		File  string `yaml:"file" toml:"file"`
	} `yaml:"log" toml:"log"`
	Web struct {
		Host   string `yaml:"host" toml:"host"`
		Port   int    `yaml:"port" toml:"port"`
		APIKey string `yaml:"api_key" toml:"api_key"`
	} `yaml:"web" toml:"web"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:          "registros/accesos.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Gate: GateConfig{
			ResidentTolerance: constants.DefaultResidentTolerance,
			VisitorTolerance:  constants.DefaultVisitorTolerance,
			VisitorTTL:        constants.DefaultVisitorTTL,
			Cooldown:          constants.DefaultCooldown,
			SweepInterval:     constants.DefaultSweepInterval,
			CropRetention:     constants.DefaultCropRetention,
			ProcessEveryN:     constants.DefaultProcessEveryN,
			EmbeddingDim:      constants.DefaultEmbeddingDim,
			CropDir:           "dataset/visitas",
		},
		Log: LogConfig{
			Level: "info",
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8085,
		},
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("30s") or plain seconds ("30").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, ok := parseDuration(s); ok {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func parseDuration(s string) (time.Duration, bool) {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// Load builds the configuration from defaults, the optional file named by
// GATE_CONFIG and finally the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("GATE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile reads a YAML (.yaml/.yml) or TOML (.toml) file on top of the defaults.
// The environment is not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config file extension %q", ErrInvalidConfig, filepath.Ext(path))
	}

	return c.apply(&fc)
}

func (c *Config) apply(fc *fileConfig) error {
	if fc.Database.URL != "" {
		c.Database.URL = fc.Database.URL
	}
	if fc.Database.MaxOpenConns > 0 {
		c.Database.MaxOpenConns = fc.Database.MaxOpenConns
	}
	if fc.Database.MaxIdleConns > 0 {
		c.Database.MaxIdleConns = fc.Database.MaxIdleConns
	}

	g := fc.Gate
	if g.ResidentTolerance != 0 {
		c.Gate.ResidentTolerance = g.ResidentTolerance
	}
	if g.VisitorTolerance != 0 {
		c.Gate.VisitorTolerance = g.VisitorTolerance
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gate.visitor_ttl", g.VisitorTTL, &c.Gate.VisitorTTL},
		{"gate.cooldown", g.Cooldown, &c.Gate.Cooldown},
		{"gate.sweep_interval", g.SweepInterval, &c.Gate.SweepInterval},
		{"gate.crop_retention", g.CropRetention, &c.Gate.CropRetention},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, ok := parseDuration(d.raw)
		if !ok {
			return fmt.Errorf("%w: %s: bad duration %q", ErrInvalidConfig, d.name, d.raw)
		}
		*d.dst = v
	}
	if g.ProcessEveryN != 0 {
		c.Gate.ProcessEveryN = g.ProcessEveryN
	}
	if g.EmbeddingDim != 0 {
		c.Gate.EmbeddingDim = g.EmbeddingDim
	}
	if g.CropDir != "" {
		c.Gate.CropDir = g.CropDir
	}
	if g.HNSW != nil {
		c.Gate.HNSW = *g.HNSW
	}

	if fc.Redis.URL != "" {
		c.Redis.URL = fc.Redis.URL
	}
	if fc.Redis.KeyPrefix != "" {
		c.Redis.KeyPrefix = fc.Redis.KeyPrefix
	}
	if fc.Log.Level != "" {
		c.Log.Level = fc.Log.Level
	}
	if fc.Log.File != "" {
		c.Log.File = fc.Log.File
	}
	if fc.Web.Host != "" {
		c.Web.Host = fc.Web.Host
	}
	if fc.Web.Port != 0 {
		c.Web.Port = fc.Web.Port
	}
	if fc.Web.APIKey != "" {
		c.Web.APIKey = fc.Web.APIKey
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Gate.ResidentTolerance = envFloat("GATE_RESIDENT_TOLERANCE", c.Gate.ResidentTolerance)
	c.Gate.VisitorTolerance = envFloat("GATE_VISITOR_TOLERANCE", c.Gate.VisitorTolerance)
	c.Gate.VisitorTTL = envDuration("GATE_VISITOR_TTL", c.Gate.VisitorTTL)
	c.Gate.Cooldown = envDuration("GATE_COOLDOWN", c.Gate.Cooldown)
	c.Gate.SweepInterval = envDuration("GATE_SWEEP_INTERVAL", c.Gate.SweepInterval)
	c.Gate.CropRetention = envDuration("GATE_CROP_RETENTION", c.Gate.CropRetention)
	c.Gate.ProcessEveryN = envInt("GATE_PROCESS_EVERY_N", c.Gate.ProcessEveryN)
	c.Gate.EmbeddingDim = envInt("GATE_EMBEDDING_DIM", c.Gate.EmbeddingDim)
	c.Gate.CropDir = envString("GATE_CROP_DIR", c.Gate.CropDir)
	c.Gate.HNSW = envBool("GATE_HNSW", c.Gate.HNSW)

	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)
	c.Redis.KeyPrefix = envString("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.File = envString("LOG_FILE", c.Log.File)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.APIKey = envString("GATE_API_KEY", c.Web.APIKey)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database URL is required"))
	}
	if c.Gate.ResidentTolerance <= 0 {
		errs = append(errs, fmt.Errorf("resident tolerance must be positive, got %v", c.Gate.ResidentTolerance))
	}
	if c.Gate.VisitorTolerance <= 0 {
		errs = append(errs, fmt.Errorf("visitor tolerance must be positive, got %v", c.Gate.VisitorTolerance))
	}
	if c.Gate.VisitorTTL <= 0 {
		errs = append(errs, fmt.Errorf("visitor TTL must be positive, got %v", c.Gate.VisitorTTL))
	}
	if c.Gate.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %v", c.Gate.Cooldown))
	}
	if c.Gate.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %v", c.Gate.SweepInterval))
	}
	if c.Gate.ProcessEveryN < 1 {
		errs = append(errs, fmt.Errorf("process-every-n must be at least 1, got %d", c.Gate.ProcessEveryN))
	}
	if c.Gate.EmbeddingDim < 1 {
		errs = append(errs, fmt.Errorf("embedding dimension must be at least 1, got %d", c.Gate.EmbeddingDim))
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web port out of range: %d", c.Web.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
