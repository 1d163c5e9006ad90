package udplog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coffersTech/udplog/internal/hook"
	"github.com/coffersTech/udplog/internal/identity"
	"github.com/coffersTech/udplog/internal/netif"
	"github.com/coffersTech/udplog/internal/queue"
)

var (
	// ErrInvalidConfig is wrapped by every configuration error.
	ErrInvalidConfig = errors.New("udplog: invalid config")

	// ErrStopped is returned by operations that need a running mirror.
	ErrStopped = errors.New("udplog: mirror not running")
)

// Config controls a Mirror. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// LogPort is the host-bound port log lines are sent to.
	LogPort uint16 `yaml:"log_port"`

	// CommandPort is the local port the control protocol listens on.
	// Zero picks a free port.
	CommandPort uint16 `yaml:"command_port"`

	// MaxLine bounds each datagram, identifier prefix included.
	MaxLine int `yaml:"max_line"`

	// QueueDepth is the number of lines buffered for the transmit worker.
	QueueDepth int `yaml:"queue_depth"`

	// Policy is "drop" (discard the newest line when full) or "block"
	// (make the logging goroutine wait for space).
	Policy string `yaml:"policy"`

	PrefixIdentifier bool   `yaml:"prefix_identifier"`
	Format           string `yaml:"format"`

	// MinLevel is the lowest slog level mirrored. Empty mirrors everything
	// the previous sink would not filter itself.
	MinLevel string `yaml:"min_level"`

	IdentifierPrefix string `yaml:"identifier_prefix"`

	// Interfaces lists interface names to derive the broadcast address
	// from, in preference order. Empty uses the first usable interface.
	Interfaces []string `yaml:"interfaces"`

	WatchInterval time.Duration `yaml:"watch_interval"`

	MDNS        bool   `yaml:"mdns"`
	RegistryURL string `yaml:"registry_url"`
	RegistryKey string `yaml:"registry_key"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		LogPort:          9999,
		CommandPort:      9998,
		MaxLine:          256,
		QueueDepth:       32,
		Policy:           "drop",
		PrefixIdentifier: true,
		Format:           "text",
		IdentifierPrefix: identity.DefaultPrefix,
		WatchInterval:    netif.DefaultInterval,
		ServiceName:      "udplog",
	}
}

// minLine leaves room for an identifier prefix plus a few bytes of text.
const minLine = 32

// Validate reports the first problem with c, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if _, err := c.settings(); err != nil {
		return err
	}
	return nil
}

// settings is the parsed form of the string-typed fields.
type settings struct {
	policy queue.Policy
	format hook.Format
	level  slog.Level
}

func (c Config) settings() (settings, error) {
	var s settings
	if c.LogPort == 0 {
		return s, fmt.Errorf("%w: log_port must be in [1,65535]", ErrInvalidConfig)
	}
	if c.MaxLine < minLine {
		return s, fmt.Errorf("%w: max_line must be at least %d, got %d", ErrInvalidConfig, minLine, c.MaxLine)
	}
	if c.QueueDepth <= 0 {
		return s, fmt.Errorf("%w: queue_depth must be positive, got %d", ErrInvalidConfig, c.QueueDepth)
	}
	if c.WatchInterval < 0 {
		return s, fmt.Errorf("%w: watch_interval must not be negative", ErrInvalidConfig)
	}

	var err error
	if s.policy, err = queue.ParsePolicy(c.Policy); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if s.format, err = hook.ParseFormat(c.Format); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if s.level, err = parseLevel(c.MinLevel); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return s, nil
}

func parseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return hook.AllLevels, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("min_level: %w", err)
	}
	return l, nil
}

// LoadConfigFile reads a YAML file over DefaultConfig. Unknown keys are
// rejected.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from UDPLOG_* environment variables. Unset or
// unparsable numeric values leave the current setting alone.
func ApplyEnv(cfg *Config) {
	cfg.LogPort = envPort("UDPLOG_LOG_PORT", cfg.LogPort)
	cfg.CommandPort = envPort("UDPLOG_COMMAND_PORT", cfg.CommandPort)
	cfg.MaxLine = envInt("UDPLOG_MAX_LINE", cfg.MaxLine)
	cfg.QueueDepth = envInt("UDPLOG_QUEUE_DEPTH", cfg.QueueDepth)
	cfg.Policy = envLower("UDPLOG_POLICY", cfg.Policy)
	cfg.PrefixIdentifier = envBool("UDPLOG_PREFIX_IDENTIFIER", cfg.PrefixIdentifier)
	cfg.Format = envLower("UDPLOG_FORMAT", cfg.Format)
	cfg.MinLevel = envLower("UDPLOG_MIN_LEVEL", cfg.MinLevel)
	cfg.IdentifierPrefix = envString("UDPLOG_IDENTIFIER_PREFIX", cfg.IdentifierPrefix)
	if v := envString("UDPLOG_INTERFACES", ""); v != "" {
		cfg.Interfaces = splitList(v)
	}
	cfg.WatchInterval = envDuration("UDPLOG_WATCH_INTERVAL", cfg.WatchInterval)
	cfg.MDNS = envBool("UDPLOG_MDNS", cfg.MDNS)
	cfg.RegistryURL = envString("UDPLOG_REGISTRY_URL", cfg.RegistryURL)
	cfg.RegistryKey = envString("UDPLOG_REGISTRY_KEY", cfg.RegistryKey)
	cfg.ServiceName = envString("UDPLOG_SERVICE_NAME", cfg.ServiceName)
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envLower(key, def string) string {
	return strings.ToLower(envString(key, def))
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(envString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func envPort(key string, def uint16) uint16 {
	v, err := strconv.ParseUint(envString(key, ""), 10, 16)
	if err != nil {
		return def
	}
	return uint16(v)
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(envString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(envString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
