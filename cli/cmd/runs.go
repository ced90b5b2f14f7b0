package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/render"
	"github.com/pithecene-io/conduit/journal"
	"github.com/pithecene-io/conduit/types"
)

// defaultRunsLimit caps the runs listing when --limit is not given.
const defaultRunsLimit = 50

// RunRow is a thin row of the runs table.
type RunRow struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id"`
	Seq        int       `json:"seq"`
	Outcome    string    `json:"outcome"`
	Commands   int       `json:"commands"`
	Frames     int64     `json:"frames"`
	ToolCalls  int64     `json:"tool_calls"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// RunsCommand returns the runs command.
// Tables show thin rows; json and yaml carry the full records.
func RunsCommand() *cli.Command {
	flags := append(OutputFlags(), ConfigFlag)
	flags = append(flags, journalFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "session",
			Usage: "Filter by session ID",
		},
		&cli.StringFlag{
			Name:  "outcome",
			Usage: "Filter by outcome: success, error, aborted",
		},
		&cli.StringFlag{
			Name:  "day",
			Usage: "Filter by UTC day (YYYY-MM-DD)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of runs to return (0 = no limit)",
			Value: defaultRunsLimit,
		},
	)
	return &cli.Command{
		Name:   "runs",
		Usage:  "List journaled runs, newest first",
		Flags:  flags,
		Action: runsAction,
	}
}

func runsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	filter, err := parseRunsFilter(c)
	if err != nil {
		return cli.Exit(err.Error(), exitRunError)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	jc := resolveJournalChoice(c, cfg)
	if jc.path == "" {
		return cli.Exit("runs requires --journal-path or journal.path in config", exitRunError)
	}
	j, err := buildJournal(c.Context, jc)
	if err != nil {
		return err
	}

	records, err := j.Query(c.Context, filter)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}

	if r.Format() != render.FormatTable {
		return r.Render(records)
	}
	rows := make([]RunRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, toRunRow(rec))
	}
	return r.Render(rows)
}

func parseRunsFilter(c *cli.Context) (journal.Filter, error) {
	f := journal.Filter{
		SessionID: c.String("session"),
		Day:       c.String("day"),
		Limit:     c.Int("limit"),
	}
	switch outcome := types.OutcomeStatus(c.String("outcome")); outcome {
	case "", types.OutcomeSuccess, types.OutcomeError, types.OutcomeAborted:
		f.Outcome = outcome
	default:
		return f, fmt.Errorf("invalid --outcome: %s (must be success, error, or aborted)", outcome)
	}
	if f.Day != "" {
		if _, err := time.Parse(time.DateOnly, f.Day); err != nil {
			return f, fmt.Errorf("invalid --day: %s (want YYYY-MM-DD)", f.Day)
		}
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("invalid --limit: %d", f.Limit)
	}
	return f, nil
}

func toRunRow(rec types.RunRecord) RunRow {
	return RunRow{
		RunID:      rec.RunID,
		SessionID:  rec.SessionID,
		Seq:        rec.Seq,
		Outcome:    string(rec.Outcome),
		Commands:   rec.Commands,
		Frames:     rec.Frames,
		ToolCalls:  rec.ToolCalls,
		DurationMs: rec.DurationMs,
		StartedAt:  rec.StartedAt,
	}
}
