package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort         = 8080
	DefaultHost         = "127.0.0.1"
	DefaultLogLevel     = "info"
	DefaultMaxFileSize  = 50 * 1024 * 1024 // 50MB per uploaded form
	DefaultWorkers      = 4
	DefaultQueueSize    = 64
	DefaultRenderDPI    = 200
	DefaultStageTimeout = 10 * time.Minute
	DefaultGeminiModel  = "gemini-3-pro-preview"
	DefaultRasterizer   = "pdftoppm"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the form-fill service
type Config struct {
	// Server configuration
	Mode string // "server" for the HTTP API, "stdio" for the MCP surface
	Host string
	Port int

	// Storage configuration
	DataDir    string // root of the blob store (mappings, jobs, completed, library)
	ScratchDir string // working space for rasterization and temp copies

	// Pipeline configuration
	Workers      int
	QueueSize    int
	RenderDPI    int
	StageTimeout time.Duration // deadline per pipeline stage; 0 disables
	Rasterizer   string        // external page rasterizer binary

	// Model configuration
	GeminiAPIKey string
	GeminiModel  string

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeServer,
		Host:         DefaultHost,
		Port:         DefaultPort,
		DataDir:      filepath.Join(os.TempDir(), "acroflow"),
		ScratchDir:   "",
		Workers:      DefaultWorkers,
		QueueSize:    DefaultQueueSize,
		RenderDPI:    DefaultRenderDPI,
		StageTimeout: DefaultStageTimeout,
		Rasterizer:   DefaultRasterizer,
		GeminiModel:  DefaultGeminiModel,
		Version:      "1.0.0",
		ServerName:   "acroflow",
		LogLevel:     DefaultLogLevel,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	pflag.Parse()

	populateConfigFromViper(cfg)

	if cfg.DataDir != "" {
		if expanded, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = expanded
		}
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(cfg.DataDir, "scratch")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix("ACROFLOW")
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("datadir", cfg.DataDir)
	viper.SetDefault("scratchdir", cfg.ScratchDir)
	viper.SetDefault("workers", cfg.Workers)
	viper.SetDefault("queuesize", cfg.QueueSize)
	viper.SetDefault("renderdpi", cfg.RenderDPI)
	viper.SetDefault("stagetimeout", cfg.StageTimeout)
	viper.SetDefault("rasterizer", cfg.Rasterizer)
	viper.SetDefault("geminimodel", cfg.GeminiModel)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)

	// The API key is env-only on purpose so it never lands in shell
	// history via a flag. The unprefixed GEMINI_API_KEY matches the
	// Google SDK convention.
	_ = viper.BindEnv("geminiapikey", "ACROFLOW_GEMINI_API_KEY", "GEMINI_API_KEY")
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Run mode: 'server' for the HTTP API, 'stdio' for the MCP surface")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("datadir", cfg.DataDir, "Directory holding mappings, jobs and completed artifacts")
	pflag.String("scratchdir", cfg.ScratchDir, "Working directory for rasterization (defaults under datadir)")
	pflag.Int("workers", cfg.Workers, "Number of concurrent fill-job workers")
	pflag.Int("queuesize", cfg.QueueSize, "Job queue capacity")
	pflag.Int("renderdpi", cfg.RenderDPI, "Rasterization DPI for verification and flattened renderings")
	pflag.Duration("stagetimeout", cfg.StageTimeout, "Deadline per pipeline stage (0 disables)")
	pflag.String("rasterizer", cfg.Rasterizer, "External PDF page rasterizer binary")
	pflag.String("geminimodel", cfg.GeminiModel, "Gemini model id for labeling and fill planning")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum uploaded PDF size in bytes")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "datadir", "scratchdir", "workers", "queuesize",
		"renderdpi", "stagetimeout", "rasterizer", "geminimodel", "loglevel", "maxfilesize",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nacroflow - PDF form auto-fill service\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --datadir=/var/lib/acroflow                  # HTTP API (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=stdio                                 # MCP over stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --host=0.0.0.0 --port=8081 --workers=8       # exposed, larger pool\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  ACROFLOW_MODE, ACROFLOW_HOST, ACROFLOW_PORT\n")
		fmt.Fprintf(os.Stderr, "  ACROFLOW_DATADIR, ACROFLOW_WORKERS, ACROFLOW_RENDERDPI\n")
		fmt.Fprintf(os.Stderr, "  ACROFLOW_GEMINIMODEL, ACROFLOW_LOGLEVEL\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY (or ACROFLOW_GEMINI_API_KEY)\n")
	}
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DataDir = viper.GetString("datadir")
	cfg.ScratchDir = viper.GetString("scratchdir")
	cfg.Workers = viper.GetInt("workers")
	cfg.QueueSize = viper.GetInt("queuesize")
	cfg.RenderDPI = viper.GetInt("renderdpi")
	cfg.StageTimeout = viper.GetDuration("stagetimeout")
	cfg.Rasterizer = viper.GetString("rasterizer")
	cfg.GeminiAPIKey = viper.GetString("geminiapikey")
	cfg.GeminiModel = viper.GetString("geminimodel")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.DataDir == "" {
		return errors.New("data directory cannot be empty")
	}
	if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DataDir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create data directory %s: %w", c.DataDir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access data directory %s: %w", c.DataDir, err)
	}

	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.QueueSize < 1 {
		return errors.New("queue size must be at least 1")
	}
	if c.RenderDPI < 36 || c.RenderDPI > 600 {
		return errors.New("render DPI must be between 36 and 600")
	}
	if c.StageTimeout < 0 {
		return errors.New("stage timeout cannot be negative")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsServerMode returns true if running the HTTP API
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if running the MCP stdio surface
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
