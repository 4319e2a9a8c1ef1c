// Package config loads the render service configuration: an optional .env
// file, an optional YAML file named by CONFIG_FILE, then the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/samuelrizzo/github-unwrapped/internal/credentials"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
)

// Config is the full service configuration.
type Config struct {
	HTTPPort string `yaml:"http_port"`
	AppEnv   string `yaml:"app_env"`

	Log LogConfig `yaml:"log"`
	// SentryDSN enables error reporting when set.
	SentryDSN string `yaml:"sentry_dsn"`

	// Host is the public origin of the front end, used for OAuth redirects.
	Host         string `yaml:"host"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// GitHubTokens is positional: index 0 is GITHUB_TOKEN_1.
	GitHubTokens []string `yaml:"github_tokens"`
	GitHubAPIURL string   `yaml:"github_api_url"`

	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Renderer RendererConfig `yaml:"renderer"`
	Storage  StorageConfig  `yaml:"storage"`

	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
}

type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	// Addr enables the cross-process claim when set.
	Addr     string        `yaml:"addr"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

type RendererConfig struct {
	BaseURL      string        `yaml:"base_url"`
	WorkDir      string        `yaml:"workdir"`
	Timeout      time.Duration `yaml:"timeout"`
	CleanupLocal bool          `yaml:"cleanup_local"`
}

type StorageConfig struct {
	// Provider is "localfs" or "gdrive".
	Provider  string       `yaml:"provider"`
	LocalRoot string       `yaml:"local_root"`
	GDrive    GDriveConfig `yaml:"gdrive"`
}

type GDriveConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	FolderID     string `yaml:"folder_id"`
}

// Defaults returns the configuration used before any file or variable is read.
func Defaults() Config {
	return Config{
		HTTPPort:     "8080",
		AppEnv:       "development",
		Log:          LogConfig{Level: "info", Format: "json"},
		GitHubAPIURL: "https://api.github.com",
		Store: StoreConfig{
			Driver:     "postgres",
			SQLitePath: "unwrapped.db",
		},
		Renderer: RendererConfig{
			WorkDir:      os.TempDir(),
			Timeout:      10 * time.Minute,
			CleanupLocal: true,
		},
		Storage: StorageConfig{
			Provider:  "localfs",
			LocalRoot: "public/output",
		},
		CORSAllowedOrigins: []string{"*"},
		RateLimitPerMinute: 60,
		ShutdownTimeout:    30 * time.Second,
	}
}

// Load reads .env.local and .env when present, then CONFIG_FILE, then the
// environment, and validates the result.
func Load() (Config, error) {
	LoadDotEnv(DotEnvFiles...)
	return LoadFrom(os.Getenv)
}

// DotEnvFiles are read in order. A variable is never overwritten, so
// .env.local wins over .env and the process environment wins over both.
var DotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads each of files that exists, earlier files first.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// LoadFrom builds a Config from getenv without touching .env files.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if file := strings.TrimSpace(getenv("CONFIG_FILE")); file != "" {
		if err := cfg.mergeFile(file); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	if cfg.Redis.ClaimTTL == 0 {
		cfg.Redis.ClaimTTL = cfg.Renderer.Timeout + time.Minute
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(err, "config.load", "read config file")
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeValidation, "config.load", "parse config file")
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str("HTTP_PORT", &c.HTTPPort)
	str("APP_ENV", &c.AppEnv)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SENTRY_DSN", &c.SentryDSN)
	str("HOST", &c.Host)
	str("CLIENT_ID", &c.ClientID)
	str("CLIENT_SECRET", &c.ClientSecret)
	str("GITHUB_API_URL", &c.GitHubAPIURL)
	str("STORE_DRIVER", &c.Store.Driver)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("SQLITE_PATH", &c.Store.SQLitePath)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("RENDERER_HTTP_BASEURL", &c.Renderer.BaseURL)
	str("RENDER_WORKDIR", &c.Renderer.WorkDir)
	str("STORAGE_PROVIDER", &c.Storage.Provider)
	str("STORAGE_LOCAL_ROOT", &c.Storage.LocalRoot)
	str("GDRIVE_CLIENT_ID", &c.Storage.GDrive.ClientID)
	str("GDRIVE_CLIENT_SECRET", &c.Storage.GDrive.ClientSecret)
	str("GDRIVE_REFRESH_TOKEN", &c.Storage.GDrive.RefreshToken)
	str("GDRIVE_FOLDER_ID", &c.Storage.GDrive.FolderID)

	for i := 1; i <= credentials.SlotCount; i++ {
		if v := strings.TrimSpace(getenv("GITHUB_TOKEN_" + strconv.Itoa(i))); v != "" {
			for len(c.GitHubTokens) < i {
				c.GitHubTokens = append(c.GitHubTokens, "")
			}
			c.GitHubTokens[i-1] = v
		}
	}

	if v := strings.TrimSpace(getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}

	var err error
	if c.Log.Source, err = envBool(getenv, "LOG_SOURCE", c.Log.Source); err != nil {
		return err
	}
	if c.Renderer.CleanupLocal, err = envBool(getenv, "CLEANUP_LOCAL", c.Renderer.CleanupLocal); err != nil {
		return err
	}
	if c.RateLimitPerMinute, err = envInt(getenv, "RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute); err != nil {
		return err
	}
	if c.Renderer.Timeout, err = envDuration(getenv, "RENDER_TIMEOUT", c.Renderer.Timeout); err != nil {
		return err
	}
	if c.Redis.ClaimTTL, err = envDuration(getenv, "CLAIM_TTL", c.Redis.ClaimTTL); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = envDuration(getenv, "SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	var problems []string

	if c.Host == "" {
		problems = append(problems, "HOST is required")
	}
	if c.Credentials().Usable() == 0 {
		problems = append(problems, "at least one GITHUB_TOKEN_n is required")
	}
	if len(c.GitHubTokens) > credentials.SlotCount {
		problems = append(problems, fmt.Sprintf("at most %d GitHub tokens are supported", credentials.SlotCount))
	}
	if c.Renderer.BaseURL == "" {
		problems = append(problems, "RENDERER_HTTP_BASEURL is required")
	}
	if c.Renderer.Timeout <= 0 {
		problems = append(problems, "RENDER_TIMEOUT must be positive")
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "SQLITE_PATH is required for the sqlite store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Storage.Provider {
	case "localfs":
		if c.Storage.LocalRoot == "" {
			problems = append(problems, "STORAGE_LOCAL_ROOT is required for localfs")
		}
	case "gdrive":
		g := c.Storage.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			problems = append(problems, "GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required for gdrive")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_PROVIDER %q", c.Storage.Provider))
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.CodeValidation, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// Credentials returns the GitHub token slots.
func (c Config) Credentials() credentials.Set {
	var values [credentials.SlotCount]string
	copy(values[:], c.GitHubTokens)
	return credentials.NewSet(values)
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(getenv func(string) string, key string, def bool) (bool, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, apperrors.ValidationField(key, fmt.Sprintf("%s must be a boolean", key))
	}
	return b, nil
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, apperrors.ValidationField(key, fmt.Sprintf("%s must be an integer", key))
	}
	return n, nil
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, apperrors.ValidationField(key, fmt.Sprintf("%s must be a duration such as 10m", key))
	}
	return d, nil
}
