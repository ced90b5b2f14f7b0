package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/render"
	"github.com/pithecene-io/conduit/registry"
)

// SessionRow is a thin row of the sessions table.
type SessionRow struct {
	ID              string    `json:"id"`
	Endpoint        string    `json:"endpoint"`
	Running         bool      `json:"running"`
	PendingCommands int       `json:"pending_commands"`
	Messages        int       `json:"messages"`
	RunsStarted     int64     `json:"runs_started"`
	RunsFailed      int64     `json:"runs_failed"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionsCommand returns the sessions command.
// It reads the inspection endpoint of a process started with --debug-addr.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List live sessions of a conduit process started with --debug-addr",
		Flags: append(OutputFlags(),
			&cli.StringFlag{
				Name:     "addr",
				Usage:    "Debug address of the process (host:port)",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		),
		Action: sessionsAction,
	}
}

func sessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	entries, err := fetchSessions(c, c.String("addr"), c.Duration("timeout"))
	if err != nil {
		return cli.Exit(err.Error(), exitTransport)
	}

	if r.Format() != render.FormatTable {
		return r.Render(entries)
	}
	rows := make([]SessionRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, SessionRow{
			ID:              e.ID,
			Endpoint:        e.Endpoint,
			Running:         e.Running,
			PendingCommands: e.PendingCommands,
			Messages:        e.Messages,
			RunsStarted:     e.Metrics.RunsStarted,
			RunsFailed:      e.Metrics.RunsFailed,
			CreatedAt:       e.CreatedAt,
		})
	}
	return r.Render(rows)
}

func fetchSessions(c *cli.Context, addr string, timeout time.Duration) ([]registry.Entry, error) {
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(c.Context, http.MethodGet, strings.TrimSuffix(url, "/")+"/", nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sessions: unexpected status %d", resp.StatusCode)
	}

	var entries []registry.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("fetch sessions: decode: %w", err)
	}
	return entries, nil
}
