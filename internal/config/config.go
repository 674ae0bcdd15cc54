// Package config is the process-wide configuration surface for the
// routing engine: router.timeout, router.kafkaBrokers, and the opaque
// persistence settings forwarded verbatim to the persistence
// collaborator, plus logging and metrics toggles. It follows skipper's
// config.Config pattern closely: a flat struct with yaml tags, a
// flag.FlagSet populated by NewConfig, and Parse() layering an optional
// YAML file on top of the flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	defaultTimeout = 30 * time.Second

	configFileUsage    = "if set, loads the config from a yaml file; flags given on the command line still override its values"
	timeoutUsage       = "default outbound request timeout applied when neither the route nor channel set one"
	kafkaBrokersUsage  = "comma-separated list of host:port Kafka broker addresses used for bus routes"
	logLevelUsage      = "log level: panic, fatal, error, warn, info, debug or trace"
	enableMetricsUsage = "enable prometheus metrics for dispatch outcomes"
	mongoURIUsage      = "opaque mongo/persistence connection string, forwarded to the persistence collaborator"
)

// Config is the routing engine's process-wide configuration.
type Config struct {
	ConfigFile string `yaml:"-"`

	RouterTimeout      time.Duration `yaml:"router.timeout"`
	RouterKafkaBrokers string        `yaml:"router.kafkaBrokers"`

	LogLevel      string `yaml:"log-level"`
	EnableMetrics bool   `yaml:"enable-metrics"`

	MongoURI string `yaml:"mongo"`
}

// NewConfig registers the engine's flags on fs and returns
// the struct they populate, following config.NewConfig's "flag.Var against
// struct fields" shape.
func NewConfig(fs *flag.FlagSet) *Config {
	cfg := new(Config)

	fs.StringVar(&cfg.ConfigFile, "config-file", "", configFileUsage)
	fs.DurationVar(&cfg.RouterTimeout, "router-timeout", defaultTimeout, timeoutUsage)
	fs.StringVar(&cfg.RouterKafkaBrokers, "router-kafka-brokers", "", kafkaBrokersUsage)
	fs.StringVar(&cfg.LogLevel, "log-level", "info", logLevelUsage)
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", false, enableMetricsUsage)
	fs.StringVar(&cfg.MongoURI, "mongo", "", mongoURIUsage)

	return cfg
}

// Parse parses registered flags, then — if ConfigFile is set — overlays a
// YAML file on top, exactly as config.Config.Parse does: flags first,
// ConfigFile flag read from those, YAML unmarshalled onto the same struct,
// flags re-applied so command-line overrides still win.
func (c *Config) Parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	if c.ConfigFile != "" {
		data, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}
		if err := fs.Parse(args); err != nil {
			return err
		}
	}

	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	log.SetLevel(level)

	return nil
}

// KafkaBrokers splits RouterKafkaBrokers into a clean slice of addresses.
func (c *Config) KafkaBrokers() []string {
	if c.RouterKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.RouterKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
