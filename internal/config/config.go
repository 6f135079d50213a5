// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TMSCAN_LOGGER_LEVEL.
const EnvPrefix = "TMSCAN"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Analysis() AnalysisConfig
	Mapper() MapperConfig
	Server() ServerConfig
	GitHub() GitHubConfig
	Database() DatabaseConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AnalysisCfg AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	MapperCfg   MapperConfig   `mapstructure:"mapper" yaml:"mapper"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	GitHubCfg   GitHubConfig   `mapstructure:"github" yaml:"github"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }
func (c *Config) Mapper() MapperConfig     { return c.MapperCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) GitHub() GitHubConfig     { return c.GitHubCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Sections ---

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AnalysisConfig controls the rule engine.
type AnalysisConfig struct {
	// Concurrency caps how many rules run at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// RulesFiles are loaded as custom declarative rules on every analysis.
	RulesFiles []string `mapstructure:"rules_files" yaml:"rules_files"`
	// DisabledRules removes fixed catalog entries by id.
	DisabledRules []string `mapstructure:"disabled_rules" yaml:"disabled_rules"`
}

// MapperConfig controls diagram mapping.
type MapperConfig struct {
	// Strict fails a mapping on the first invalid node or edge.
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per client; 0 disables limiting.
	RateLimit    float64    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst        int        `mapstructure:"burst" yaml:"burst"`
	MaxBodyBytes int64      `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	Auth         AuthConfig `mapstructure:"auth" yaml:"auth"`
}

// AuthConfig enables HS256 bearer-token authentication when a secret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"-"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// Enabled reports whether requests must carry a bearer token.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// GitHubConfig holds the server-side source-control credentials.
type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"-"`
	// Repo is "owner/name".
	Repo    string `mapstructure:"repo" yaml:"repo"`
	Branch  string `mapstructure:"branch" yaml:"branch"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// RulesPath is where rule templates live inside Repo.
	RulesPath string `mapstructure:"rules_path" yaml:"rules_path"`
}

// Configured reports whether server-side pushes are possible.
func (g GitHubConfig) Configured() bool { return g.Token != "" && g.Repo != "" }

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tmscan")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Analysis --
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("analysis.rules_files", []string{})
	v.SetDefault("analysis.disabled_rules", []string{})

	// -- Mapper --
	v.SetDefault("mapper.strict", false)

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("server.max_body_bytes", 5<<20)
	v.SetDefault("server.auth.jwt_secret", "") // Should be set via env var
	v.SetDefault("server.auth.issuer", "")

	// -- GitHub --
	v.SetDefault("github.token", "") // Should be set via env var
	v.SetDefault("github.repo", "")
	v.SetDefault("github.branch", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.rules_path", "templates/rules.json")

	// -- Database --
	v.SetDefault("database.url", "")
}

// ConfigureEnv wires the TMSCAN_ prefix and key replacer onto v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("github.repo", EnvPrefix+"_GITHUB_REPO", "GITHUB_REPO")
	_ = v.BindEnv("server.auth.jwt_secret", EnvPrefix+"_SERVER_AUTH_JWT_SECRET")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the token if Unmarshal didn't pick it up
	if cfg.GitHubCfg.Token == "" {
		cfg.GitHubCfg.Token = os.Getenv(EnvPrefix + "_GITHUB_TOKEN")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in file paths.
func (c *Config) expandPaths() error {
	for i, p := range c.AnalysisCfg.RulesFiles {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return fmt.Errorf("analysis.rules_files[%d]: %w", i, err)
		}
		c.AnalysisCfg.RulesFiles[i] = expanded
	}
	if c.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(c.LoggerCfg.LogFile)
		if err != nil {
			return fmt.Errorf("logger.log_file: %w", err)
		}
		c.LoggerCfg.LogFile = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AnalysisCfg.Concurrency <= 0 {
		return fmt.Errorf("analysis.concurrency must be a positive integer")
	}
	switch c.LoggerCfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be 'console' or 'json', got %q", c.LoggerCfg.Format)
	}
	if err := c.ServerCfg.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.GitHubCfg.Validate(); err != nil {
		return fmt.Errorf("github configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the server configuration.
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.Burst <= 0 {
		return fmt.Errorf("burst must be positive when rate_limit is set")
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be a positive integer")
	}
	return nil
}

// Validate checks the GitHub configuration.
func (g *GitHubConfig) Validate() error {
	if g.Repo == "" {
		return nil
	}
	_, _, err := SplitRepo(g.Repo)
	return err
}

// SplitRepo splits an "owner/name" repository reference.
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository must be in 'owner/name' form, got %q", repo)
	}
	return owner, name, nil
}
