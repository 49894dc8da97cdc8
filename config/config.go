package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/MarcinKonowalczyk/runbf/bf"
)

// Config holds interpreter defaults. Command line flags override it.
type Config struct {
	Interpreter InterpreterConfig `toml:"interpreter"`
	Tree        TreeConfig        `toml:"tree"`
	Log         LogConfig         `toml:"log"`
}

// InterpreterConfig controls a single run
type InterpreterConfig struct {
	// EOF is one of keep, zero or error
	EOF      string   `toml:"eof"`
	MaxSteps uint64   `toml:"max_steps"`
	Timeout  Duration `toml:"timeout"`
	CRLF     bool     `toml:"crlf"`
}

type TreeConfig struct {
	// Format used when emitting a tree: json or yaml
	Format string `toml:"format"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadFromEnv loads the file named by RUNBF_CONFIG, then the default
// locations. Without any file it returns the defaults.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("RUNBF_CONFIG")
	if path == "" {
		defaultPaths := []string{
			"./runbf.toml",
			filepath.Join(os.Getenv("HOME"), ".config/runbf/config.toml"),
		}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Interpreter.EOF == "" {
		c.Interpreter.EOF = bf.EOFKeep.String()
	}
	if c.Tree.Format == "" {
		c.Tree.Format = bf.FormatJSON.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if _, err := bf.ParseEOFPolicy(c.Interpreter.EOF); err != nil {
		return err
	}
	if _, err := bf.ParseFormat(c.Tree.Format); err != nil {
		return err
	}
	if c.Interpreter.Timeout.Duration < 0 {
		return fmt.Errorf("negative timeout %s", c.Interpreter.Timeout.Duration)
	}
	return nil
}

// Options translates the interpreter section into interpreter options
func (c *Config) Options() ([]bf.Option, error) {
	eof, err := bf.ParseEOFPolicy(c.Interpreter.EOF)
	if err != nil {
		return nil, err
	}
	return []bf.Option{
		bf.WithEOFPolicy(eof),
		bf.WithMaxSteps(c.Interpreter.MaxSteps),
		bf.WithNewlineTranslation(c.Interpreter.CRLF),
	}, nil
}
