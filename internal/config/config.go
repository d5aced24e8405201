package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/launchr/internal/logger"
	"github.com/loykin/launchr/internal/ollama"
	"github.com/loykin/launchr/internal/process"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LAUNCHR_BACKEND_URL.
const EnvPrefix = "LAUNCHR"

// Launch modes for the backend.
const (
	ModeExec    = "exec"
	ModeSidecar = "sidecar"
)

// Config is the full supervisor configuration.
type Config struct {
	StateDir string               `toml:"state_dir" mapstructure:"state_dir"`
	Backend  BackendConfig        `toml:"backend" mapstructure:"backend"`
	Ollama   OllamaConfig         `toml:"ollama" mapstructure:"ollama"`
	Models   []ollama.Requirement `toml:"models" mapstructure:"models"`
	Health   HealthConfig         `toml:"health" mapstructure:"health"`
	Log      logger.Config        `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig        `toml:"metrics" mapstructure:"metrics"`
}

type BackendConfig struct {
	URL           string        `toml:"url" mapstructure:"url"`
	Name          string        `toml:"name" mapstructure:"name"`
	ResourceDir   string        `toml:"resource_dir" mapstructure:"resource_dir"`
	Mode          string        `toml:"mode" mapstructure:"mode"`
	Output        string        `toml:"output" mapstructure:"output"`
	Args          []string      `toml:"args" mapstructure:"args"`
	Env           []string      `toml:"env" mapstructure:"env"`
	EnvFiles      []string      `toml:"env_files" mapstructure:"env_files"`
	PortRelease   time.Duration `toml:"port_release" mapstructure:"port_release"`
	SkipStaleKill bool          `toml:"skip_stale_kill" mapstructure:"skip_stale_kill"`
	// Detached starts the backend in its own session with no pipes back to
	// launchr, so it outlives the supervisor process.
	Detached    bool          `toml:"detached" mapstructure:"detached"`
	StopTimeout time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

type OllamaConfig struct {
	URL          string        `toml:"url" mapstructure:"url"`
	Paths        []string      `toml:"paths" mapstructure:"paths"`
	Fallback     string        `toml:"fallback" mapstructure:"fallback"`
	Args         []string      `toml:"args" mapstructure:"args"`
	Attempts     int           `toml:"attempts" mapstructure:"attempts"`
	Interval     time.Duration `toml:"interval" mapstructure:"interval"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	ListTimeout  time.Duration `toml:"list_timeout" mapstructure:"list_timeout"`
	PullTimeout  time.Duration `toml:"pull_timeout" mapstructure:"pull_timeout"`
}

type HealthConfig struct {
	Path     string        `toml:"path" mapstructure:"path"`
	Attempts int           `toml:"attempts" mapstructure:"attempts"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

// FlagKeys maps CLI flag names to configuration keys for BindFlags.
var FlagKeys = map[string]string{
	"backend-url":  "backend.url",
	"resource-dir": "backend.resource_dir",
	"mode":         "backend.mode",
	"output":       "backend.output",
	"ollama-url":   "ollama.url",
	"log-level":    "log.level",
	"log-file":     "log.file.path",
	"metrics-file": "metrics.textfile",
	"state-dir":    "state_dir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", "")
	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.name", "localbook-backend")
	v.SetDefault("backend.resource_dir", "")
	v.SetDefault("backend.mode", ModeExec)
	v.SetDefault("backend.output", string(process.OutputCapture))
	v.SetDefault("backend.args", []string{})
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.env_files", []string{})
	v.SetDefault("backend.port_release", process.DefaultPortRelease)
	v.SetDefault("backend.skip_stale_kill", false)
	v.SetDefault("backend.detached", false)
	v.SetDefault("backend.stop_timeout", 5*time.Second)

	v.SetDefault("ollama.url", ollama.DefaultBaseURL)
	v.SetDefault("ollama.paths", process.DefaultOllamaPaths)
	v.SetDefault("ollama.fallback", "ollama")
	v.SetDefault("ollama.args", []string{"serve"})
	v.SetDefault("ollama.attempts", process.DefaultServiceAttempts)
	v.SetDefault("ollama.interval", process.DefaultServiceInterval)
	v.SetDefault("ollama.probe_timeout", ollama.DefaultProbeTimeout)
	v.SetDefault("ollama.list_timeout", ollama.DefaultListTimeout)
	v.SetDefault("ollama.pull_timeout", ollama.DefaultPullTimeout)

	v.SetDefault("health.path", "/health")
	v.SetDefault("health.attempts", 30)
	v.SetDefault("health.interval", time.Second)
	v.SetDefault("health.timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.dir", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "")
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	c, err := decode(v)
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return c
}

// Load reads the TOML file at path (optional), applies LAUNCHR_* environment
// overrides and any flags in fs named in FlagKeys, then validates the result.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := BindFlags(v, fs); err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(c.Models) == 0 {
		c.Models = append([]ollama.Requirement(nil), ollama.DefaultRequirements...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// BindFlags binds every flag in fs that appears in FlagKeys. Only flags the
// user actually changed take precedence over file and environment values.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := FlagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseHTTPURL(c.Backend.URL); err != nil {
		errs = append(errs, fmt.Errorf("backend.url: %w", err))
	}
	if _, err := parseHTTPURL(c.Ollama.URL); err != nil {
		errs = append(errs, fmt.Errorf("ollama.url: %w", err))
	}
	if strings.TrimSpace(c.Backend.Name) == "" {
		errs = append(errs, errors.New("backend.name must not be empty"))
	}
	switch c.Backend.Mode {
	case ModeExec, ModeSidecar:
	default:
		errs = append(errs, fmt.Errorf("backend.mode: unknown mode %q", c.Backend.Mode))
	}
	switch process.OutputMode(c.Backend.Output) {
	case process.OutputInherit, process.OutputCapture, process.OutputDiscard:
	case process.OutputFile:
		if c.Log.File.Dir == "" && c.Log.File.StdoutPath == "" && c.Log.File.StderrPath == "" {
			errs = append(errs, errors.New("backend.output = \"file\" requires log.file.dir or explicit paths"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.output: unknown mode %q", c.Backend.Output))
	}
	if c.Backend.Mode == ModeSidecar && process.OutputMode(c.Backend.Output) != process.OutputCapture {
		errs = append(errs, errors.New("backend.mode = \"sidecar\" always captures output; set backend.output = \"capture\""))
	}
	if c.Backend.Detached {
		if c.Backend.Mode != ModeExec {
			errs = append(errs, errors.New("backend.detached requires backend.mode = \"exec\""))
		}
		switch process.OutputMode(c.Backend.Output) {
		case process.OutputInherit, process.OutputDiscard:
		default:
			errs = append(errs, fmt.Errorf("backend.detached requires backend.output \"inherit\" or \"discard\", got %q", c.Backend.Output))
		}
	}
	if c.Health.Attempts <= 0 {
		errs = append(errs, errors.New("health.attempts must be positive"))
	}
	if c.Ollama.Attempts <= 0 {
		errs = append(errs, errors.New("ollama.attempts must be positive"))
	}
	if c.Health.Interval < 0 || c.Ollama.Interval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if !strings.HasPrefix(c.Health.Path, "/") {
		errs = append(errs, fmt.Errorf("health.path must start with '/', got %q", c.Health.Path))
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			errs = append(errs, fmt.Errorf("models[%d]: id must not be empty", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
	}
	return errors.Join(errs...)
}

// HealthURL is the backend liveness endpoint.
func (c *Config) HealthURL() string {
	return strings.TrimRight(c.Backend.URL, "/") + c.Health.Path
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}
