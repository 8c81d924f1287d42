package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/influxdata/dagmigrate/kit/cli"
	"github.com/influxdata/dagmigrate/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the dagmigrate configuration. It can be read from a TOML file
// and every value can be overridden by an environment variable or a flag.
type Config struct {
	MigrationsDir string        `toml:"migrations-dir"`
	Driver        string        `toml:"driver"`
	DSN           string        `toml:"dsn"`
	Table         string        `toml:"table"`
	TracingType   string        `toml:"tracing-type"`
	MetricsPath   string        `toml:"metrics-path"`
	Logging       logger.Config `toml:"logging"`
}

// NewConfig returns a Config with defaults.
func NewConfig() Config {
	return Config{
		MigrationsDir: "migrations",
		Driver:        "sqlite",
		DSN:           "dagmigrate.sqlite",
		Table:         "_dagmigrate",
		Logging:       logger.NewConfig(),
	}
}

func (c *Config) opts() []cli.Opt {
	defaults := NewConfig()
	return []cli.Opt{
		cli.NewOpt(&c.MigrationsDir, "migrations-dir", defaults.MigrationsDir, "directory holding the migration manifests"),
		cli.NewOpt(&c.Driver, "driver", defaults.Driver, "database driver, sqlite or postgres"),
		cli.NewOpt(&c.DSN, "dsn", defaults.DSN, "database file (sqlite) or connection string (postgres)"),
		cli.NewOpt(&c.Table, "table", defaults.Table, "table recording applied migrations"),
		cli.NewOpt(&c.TracingType, "tracing-type", "", "tracing backend; jaeger reads the standard JAEGER_* environment variables"),
		cli.NewOpt(&c.MetricsPath, "metrics-path", "", "write prometheus metrics to this file after the command"),
		cli.NewOpt(&c.Logging.Level, "log-level", defaults.Logging.Level, "supported log levels are debug, info, warn and error"),
		cli.NewOpt(&c.Logging.Format, "log-format", defaults.Logging.Format, "log format: auto, console, logfmt or json"),
	}
}

// bind registers the configuration flags on fs.
func (c *Config) bind(v *viper.Viper, fs *pflag.FlagSet) {
	cli.BindOptions(v, fs, c.opts())
}

// load resolves the configuration. Values from the TOML file at path, if
// any, rank below environment variables and flags.
func (c *Config) load(v *viper.Viper, path string) error {
	if path != "" {
		settings, err := readConfigFile(path)
		if err != nil {
			return err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return fmt.Errorf("merging config file %s: %w", path, err)
		}
	}
	if err := cli.ResolveOptions(v, c.opts()); err != nil {
		return err
	}

	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown driver %q; supported drivers are sqlite and postgres", c.Driver)
	}
	switch c.TracingType {
	case "", "jaeger":
	default:
		return fmt.Errorf("unknown tracing type %q", c.TracingType)
	}
	return nil
}

// readConfigFile decodes the TOML file at path and returns the values it
// defines, keyed by flag name.
func readConfigFile(path string) (map[string]interface{}, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}

	settings := make(map[string]interface{})
	set := func(key string, flag string, v interface{}) {
		if md.IsDefined(strings.Split(key, ".")...) {
			settings[flag] = v
		}
	}
	set("migrations-dir", "migrations-dir", c.MigrationsDir)
	set("driver", "driver", c.Driver)
	set("dsn", "dsn", c.DSN)
	set("table", "table", c.Table)
	set("tracing-type", "tracing-type", c.TracingType)
	set("metrics-path", "metrics-path", c.MetricsPath)
	set("logging.level", "log-level", c.Logging.Level.String())
	set("logging.format", "log-format", c.Logging.Format)
	return settings, nil
}
