package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/config"
)

// Precedence for every setting: explicit flag, then config file, then
// the flag's default.

// loadConfig loads --config, or conduit.yaml from the working directory
// when it exists. Returns nil when no config file applies.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultPath); err != nil {
		return nil, nil
	}
	return config.Load(config.DefaultPath)
}

// configVal reads a field from cfg, returning the zero value for nil cfg.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}

func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig *int) int {
	if c.IsSet(name) || fromConfig == nil {
		return c.Int(name)
	}
	return *fromConfig
}

func resolveInt64(c *cli.Context, name string, fromConfig int64) int64 {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int64(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

// parseHeaders parses Key=Value pairs.
func parseHeaders(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		key, val, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q (want Key=Value)", v)
		}
		out[key] = val
	}
	return out, nil
}

// mergeHeaders layers flag headers over config headers.
func mergeHeaders(fromConfig, fromFlags map[string]string) map[string]string {
	if len(fromConfig) == 0 && len(fromFlags) == 0 {
		return nil
	}
	out := make(map[string]string, len(fromConfig)+len(fromFlags))
	for k, v := range fromConfig {
		out[k] = v
	}
	for k, v := range fromFlags {
		out[k] = v
	}
	return out
}
