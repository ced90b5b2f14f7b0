// Package config handles conduit.yaml loading for the conduit CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/pithecene-io/conduit/tools"
)

// Config represents a conduit.yaml configuration file.
// All values are optional and act as defaults for conduit flags.
// CLI flags always override config values.
type Config struct {
	Endpoint           string                `yaml:"endpoint"`
	Headers            map[string]string     `yaml:"headers"`
	System             string                `yaml:"system"`
	CallSettings       map[string]any        `yaml:"call_settings"`
	Config             map[string]any        `yaml:"config"`
	Body               map[string]any        `yaml:"body"`
	InitialState       any                   `yaml:"initial_state"`
	RequestTimeout     Duration              `yaml:"request_timeout"`
	MaxConcurrentTools int64                 `yaml:"max_concurrent_tools"`
	Tools              map[string]ToolConfig `yaml:"tools"`
	Journal            JournalConfig         `yaml:"journal"`
	Adapter            AdapterConfig         `yaml:"adapter"`
	Log                LogConfig             `yaml:"log"`
}

// ToolConfig is a tool definition within the config file.
// Name is derived from the map key, not stored in the struct.
type ToolConfig struct {
	Description string            `yaml:"description"`
	Parameters  map[string]any    `yaml:"parameters"`
	Command     []string          `yaml:"command"`
	Env         map[string]string `yaml:"env,omitempty"`
	Dir         string            `yaml:"dir,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	Disabled    bool              `yaml:"disabled"`
}

// JournalConfig holds run journal defaults from the config file.
type JournalConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Stream  string            `yaml:"stream,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging defaults from the config file.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be checked by YAML decoding alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint %q is not an absolute URL", c.Endpoint))
		}
	}
	if c.MaxConcurrentTools < 0 {
		errs = append(errs, errors.New("max_concurrent_tools must be >= 0"))
	}
	switch c.Journal.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("journal.backend must be fs or s3, got %q", c.Journal.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type))
	}
	for _, name := range c.toolNames() {
		if c.Tools[name].Timeout.Duration < 0 {
			errs = append(errs, fmt.Errorf("tools.%s.timeout must be >= 0", name))
		}
	}
	return errors.Join(errs...)
}

// ToolDefs converts the map-keyed tool config into a slice of tool
// definitions sorted by name. Tools with a command run it as a local
// process; tools without one wait for a client-supplied result.
func (c *Config) ToolDefs() ([]tools.Tool, error) {
	if len(c.Tools) == 0 {
		return nil, nil
	}

	defs := make([]tools.Tool, 0, len(c.Tools))
	for _, name := range c.toolNames() {
		tc := c.Tools[name]
		params, err := normalizeJSON(tc.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tools.%s.parameters: %w", name, err)
		}
		def := tools.Tool{
			Name:        name,
			Description: tc.Description,
			Parameters:  params,
			Disabled:    tc.Disabled,
		}
		if len(tc.Command) > 0 {
			def.Executor = &tools.CommandTool{
				Command: tc.Command[0],
				Args:    tc.Command[1:],
				Env:     envList(tc.Env),
				Dir:     tc.Dir,
				Timeout: tc.Timeout.Duration,
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// RequestMaps returns call_settings, config and body normalized to JSON
// values.
func (c *Config) RequestMaps() (callSettings, config, body map[string]any, err error) {
	if callSettings, err = normalizeJSON(c.CallSettings); err != nil {
		return nil, nil, nil, fmt.Errorf("call_settings: %w", err)
	}
	if config, err = normalizeJSON(c.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	if body, err = normalizeJSON(c.Body); err != nil {
		return nil, nil, nil, fmt.Errorf("body: %w", err)
	}
	return callSettings, config, body, nil
}

// State returns initial_state normalized to a JSON value.
func (c *Config) State() (any, error) {
	if c.InitialState == nil {
		return nil, nil
	}
	data, err := json.Marshal(c.InitialState)
	if err != nil {
		return nil, fmt.Errorf("initial_state: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("initial_state: %w", err)
	}
	return v, nil
}

func (c *Config) toolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizeJSON round-trips m through encoding/json so that numbers are
// float64 and nested maps are map[string]any, as a JSON decoder would
// produce them.
func normalizeJSON(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
