package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/logger"
)

// Config holds the settings shared by apk-patcher and apk-patchd.
type Config struct {
	// ServerAddress is the apk-patchd gRPC address (listen address for the daemon).
	ServerAddress string `yaml:"server_addr"`
	// Timeout bounds dialing and unary RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// BaseName is the file name of the base container.
	BaseName string `yaml:"base_name"`
	// MarkerLifetime is how long an unreadable output marker is honoured.
	MarkerLifetime time.Duration `yaml:"marker_lifetime"`
	// ReportFile overrides the default report location next to the output directory.
	ReportFile string `yaml:"report_file,omitempty"`
	// MetricsFile, when set, receives metrics in the Prometheus text format after each run.
	MetricsFile string `yaml:"metrics_file,omitempty"`
	// Repackager configures the external repackaging tool.
	Repackager Repackager `yaml:"repackager"`
	// Signing holds the keystore used when repackaging.
	Signing Signing `yaml:"signing"`
}

// Repackager configures the external repackaging tool.
type Repackager struct {
	// Command is the executable and its leading arguments.
	Command []string `yaml:"command"`
	// WorkDir is the working directory of the tool.
	WorkDir string `yaml:"work_dir,omitempty"`
	// LogLevel is passed to the tool with -l.
	LogLevel int `yaml:"log_level"`
	// TailSize is the number of trailing tool lines kept for error reports.
	TailSize int `yaml:"tail_size"`
	// Force overwrites existing outputs (-f).
	Force bool `yaml:"force"`
	// Verbose enables verbose tool output (-v).
	Verbose bool `yaml:"verbose"`
	// OutputLogLevel filters tool lines written to the log (debug, info, warn, error).
	// Empty keeps the process log level.
	OutputLogLevel string `yaml:"output_log_level,omitempty"`
}

// Signing is the persisted signing material. Passwords are usually supplied
// through the environment instead.
type Signing struct {
	KeyStore      string `yaml:"keystore"`
	Alias         string `yaml:"alias,omitempty"`
	StorePassword string `yaml:"store_password,omitempty"`
	KeyPassword   string `yaml:"key_password,omitempty"`
}

// ToDomain converts the settings into signing material, filling placeholders.
func (s Signing) ToDomain() apk.Signing {
	return apk.Signing{
		KeyStore:      s.KeyStore,
		StorePassword: s.StorePassword,
		Alias:         s.Alias,
		KeyPassword:   s.KeyPassword,
	}.WithPlaceholders()
}

const (
	// DefaultConfigFilename is the default filename for patcher settings.
	DefaultConfigFilename = "apk-patcher-settings.yaml"

	// DefaultServerAddress is the default apk-patchd address.
	DefaultServerAddress = "127.0.0.1:50071"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultMarkerLifetime is the default lifetime of an unreadable output marker.
	DefaultMarkerLifetime = 30 * time.Minute

	// DefaultLogLevel is the default repackaging tool verbosity.
	DefaultLogLevel = 2

	// DefaultTailSize is the default number of tool lines kept on failure.
	DefaultTailSize = 20

	// DefaultFilePermissions is the default file permission for config and report files.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is used for directories created by the patcher.
	DefaultDirPermissions = 0o755
)

// DefaultCommand starts the repackaging tool through the JVM.
func DefaultCommand() []string {
	return []string{"java", "-jar", "lspatch.jar"}
}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNegativeLogLevel is returned for a negative tool log level.
	errNegativeLogLevel = errors.New("repackager log level must not be negative")
	// errUnknownLogLevel is returned for an unparsable output log level.
	errUnknownLogLevel = errors.New("unknown log level")
)

// Default returns settings with every default applied.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault loads path when it is set or when the default settings file
// exists; otherwise it returns Default.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	if _, err := os.Stat(DefaultConfigFilename); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return Load(DefaultConfigFilename)
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold signing secrets.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		settings.ServerAddress = DefaultServerAddress
	}

	if _, _, err := net.SplitHostPort(settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.BaseName == "" {
		settings.BaseName = apk.DefaultBaseName
	}

	if settings.MarkerLifetime <= 0 {
		settings.MarkerLifetime = DefaultMarkerLifetime
	}

	if len(settings.Repackager.Command) == 0 {
		settings.Repackager.Command = DefaultCommand()
	}

	if settings.Repackager.LogLevel < 0 {
		return errNegativeLogLevel
	}

	if settings.Repackager.LogLevel == 0 {
		settings.Repackager.LogLevel = DefaultLogLevel
	}

	if settings.Repackager.TailSize <= 0 {
		settings.Repackager.TailSize = DefaultTailSize
	}

	if level := settings.Repackager.OutputLogLevel; level != "" {
		if _, ok := logger.ParseLogLevel(level); !ok {
			return fmt.Errorf("%w: %q", errUnknownLogLevel, level)
		}
	}

	return nil
}
