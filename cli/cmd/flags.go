// Package cmd provides CLI commands for the conduit binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a conduit.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default: ./conduit.yaml if present)",
	}

	// LogLevelFlag sets the minimum log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
		Value: "warn",
	}
)

// OutputFlags returns the flags shared by every command that renders data.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// journalFlags select and address the run journal.
func journalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "journal-backend",
			Usage: "Journal backend: fs or s3",
			Value: "fs",
		},
		&cli.StringFlag{
			Name:  "journal-path",
			Usage: "Journal location (fs: directory, s3: bucket/prefix); empty disables the journal",
		},
		&cli.StringFlag{
			Name:  "journal-dataset",
			Usage: "Journal dataset ID",
			Value: "conduit",
		},
		&cli.StringFlag{
			Name:  "journal-s3-region",
			Usage: "AWS region for the S3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "journal-s3-endpoint",
			Usage: "Custom S3 endpoint (R2, MinIO)",
		},
		&cli.BoolFlag{
			Name:  "journal-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}

// sessionFlags configure a live session against an endpoint.
func sessionFlags() []cli.Flag {
	flags := []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		&cli.StringFlag{
			Name:    "endpoint",
			Aliases: []string{"e"},
			Usage:   "Agent endpoint URL",
		},
		&cli.StringSliceFlag{
			Name:  "header",
			Usage: "Request header as Key=Value (repeatable)",
		},
		&cli.StringFlag{
			Name:  "system",
			Usage: "System prompt sent with every request",
		},
		&cli.StringFlag{
			Name:  "state",
			Usage: "Initial agent state as JSON",
		},
		&cli.DurationFlag{
			Name:  "request-timeout",
			Usage: "Timeout waiting for response headers (0 = none)",
			Value: 30 * time.Second,
		},
		&cli.Int64Flag{
			Name:  "max-concurrent-tools",
			Usage: "Maximum concurrent tool executions (0 = unbounded)",
		},
		&cli.StringFlag{
			Name:  "debug-addr",
			Usage: "Serve session inspection JSON on this address (e.g. 127.0.0.1:6060)",
		},
		&cli.StringFlag{
			Name:  "adapter-type",
			Usage: "Run notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "adapter-stream",
			Usage: "Redis stream key (uses XADD instead of PUBLISH)",
		},
		&cli.StringFlag{
			Name:  "adapter-secret",
			Usage: "Webhook HMAC signing secret",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Adapter publish timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Adapter retry attempts",
			Value: 3,
		},
	}
	return append(flags, journalFlags()...)
}
