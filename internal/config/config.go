// Package config assembles runtime settings from defaults, an optional
// YAML file, and environment variables, in that order. Everything is an
// explicit struct handed to constructors; there is no package-level
// mutable state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "300ms" / "5s" style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// SinkType selects where aggregated results go.
type SinkType string

const (
	SinkFile   SinkType = "file"
	SinkRemote SinkType = "remote"
)

type SinkConfig struct {
	Type SinkType `yaml:"type"`

	// File sink
	DNSFile string `yaml:"dns_file"`
	TLSFile string `yaml:"tls_file"`

	// Remote sink
	APIBase  string `yaml:"api_base"`
	APIToken string `yaml:"api_token"`
}

type Config struct {
	DomainsFile   string `yaml:"domains_file"`
	ResolversFile string `yaml:"resolvers_file"`
	LogDir        string `yaml:"log_dir"`
	Listen        string `yaml:"listen"` // status API bind address, empty = disabled

	Interval     Duration `yaml:"interval"`     // 0 = single run
	Timeout      Duration `yaml:"timeout"`      // per-probe timeout
	RunDeadline  Duration `yaml:"run_deadline"` // overall per-run deadline, 0 = none
	Concurrency  int      `yaml:"concurrency"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	RateLimit    int      `yaml:"rate_limit"`   // probes/sec, 0 = unlimited
	PerResolver  int      `yaml:"per_resolver"` // in-flight cap per resolver, 0 = off

	Sink SinkConfig `yaml:"sink"`
}

func Default() Config {
	return Config{
		DomainsFile:   "config.txt",
		ResolversFile: "dns_servers.txt",
		LogDir:        "logs",
		Timeout:       Duration(5 * time.Second),
		Concurrency:   10,
		MaxRetries:    2,
		RetryBackoff:  Duration(300 * time.Millisecond),
		Sink: SinkConfig{
			Type:    SinkFile,
			DNSFile: "dns_check.json",
			TLSFile: "ssl_check.json",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path means
// defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays DOMAINWATCH_* environment variables onto cfg.
func FromEnv(cfg Config) Config {
	setString(&cfg.DomainsFile, "DOMAINWATCH_DOMAINS_FILE")
	setString(&cfg.ResolversFile, "DOMAINWATCH_RESOLVERS_FILE")
	setString(&cfg.LogDir, "DOMAINWATCH_LOG_DIR")
	setString(&cfg.Listen, "DOMAINWATCH_LISTEN")

	setDuration(&cfg.Interval, "DOMAINWATCH_INTERVAL")
	setDuration(&cfg.Timeout, "DOMAINWATCH_TIMEOUT")
	setDuration(&cfg.RunDeadline, "DOMAINWATCH_RUN_DEADLINE")
	setDuration(&cfg.RetryBackoff, "DOMAINWATCH_RETRY_BACKOFF")
	setInt(&cfg.Concurrency, "DOMAINWATCH_CONCURRENCY")
	setInt(&cfg.MaxRetries, "DOMAINWATCH_MAX_RETRIES")
	setInt(&cfg.RateLimit, "DOMAINWATCH_RATE_LIMIT")
	setInt(&cfg.PerResolver, "DOMAINWATCH_PER_RESOLVER")

	if v := os.Getenv("DOMAINWATCH_SINK"); v != "" {
		cfg.Sink.Type = SinkType(v)
	}
	setString(&cfg.Sink.DNSFile, "DOMAINWATCH_DNS_FILE")
	setString(&cfg.Sink.TLSFile, "DOMAINWATCH_TLS_FILE")
	setString(&cfg.Sink.APIBase, "DOMAINWATCH_API_BASE")
	setString(&cfg.Sink.APIToken, "DOMAINWATCH_API_TOKEN")
	return cfg
}

// Validate rejects configurations that cannot produce a run. These are
// setup errors: fatal before any probing starts.
func (c Config) Validate() error {
	switch c.Sink.Type {
	case SinkFile:
		if c.Sink.DNSFile == "" || c.Sink.TLSFile == "" {
			return fmt.Errorf("file sink requires dns_file and tls_file")
		}
	case SinkRemote:
		if c.Sink.APIBase == "" {
			return fmt.Errorf("remote sink requires api_base")
		}
		if c.Sink.APIToken == "" {
			return fmt.Errorf("remote sink requires api_token (set DOMAINWATCH_API_TOKEN)")
		}
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}
	if c.DomainsFile == "" {
		return fmt.Errorf("domains_file must be set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			*dst = Duration(d)
		}
	}
}
