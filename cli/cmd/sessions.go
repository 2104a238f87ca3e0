package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/config"
	"github.com/pithecene-io/conduit/cli/render"
	"github.com/pithecene-io/conduit/iox"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/store"
	"github.com/pithecene-io/conduit/store/sqlite"
)

// SessionSummary is the read-only view of one persisted session.
type SessionSummary struct {
	SessionID string `json:"sessionId"`
	ThreadID  string `json:"threadId"`
	RunID     string `json:"runId"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
}

// MessageSummary is the read-only view of one persisted fragment.
type MessageSummary struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// SessionsCommand returns the sessions command with its read-only
// subcommands. All of them read the SQLite store directly; the serve
// daemon does not need to be running.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect persisted sessions",
		Subcommands: []*cli.Command{
			sessionsListCommand(),
			sessionsInspectCommand(),
			sessionsMessagesCommand(),
		},
	}
}

func sessionsListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List sessions, newest first",
		Flags: append(ReadOnlyFlags(), ConfigFlag, DBFlag,
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions to return (0 = no limit)",
				Value: 50,
			},
		),
		Action: sessionsListAction,
	}
}

func sessionsListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	st, err := openReadStore(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(st)

	records, err := st.ListSessions(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	summaries := make([]SessionSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, newSessionSummary(record))
	}
	return r.Render(summaries)
}

func sessionsInspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show one session",
		ArgsUsage: "<session-id>",
		Flags:     append(ReadOnlyFlags(), ConfigFlag, DBFlag),
		Action:    sessionsInspectAction,
	}
}

func sessionsInspectAction(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return cli.Exit("session id is required", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	st, err := openReadStore(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(st)

	record, err := st.GetSession(c.Context, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("session not found: %s", sessionID), 1)
	}
	if err != nil {
		return err
	}
	return r.Render(newSessionSummary(record))
}

func sessionsMessagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "messages",
		Usage:     "Show a session's raw fragments in arrival order",
		ArgsUsage: "<session-id>",
		Flags:     append(ReadOnlyFlags(), ConfigFlag, DBFlag),
		Action:    sessionsMessagesAction,
	}
}

func sessionsMessagesAction(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return cli.Exit("session id is required", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	st, err := openReadStore(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(st)

	records, err := st.ListMessages(c.Context, sessionID)
	if err != nil {
		return err
	}

	summaries := make([]MessageSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, MessageSummary{
			Kind:      record.Kind,
			Timestamp: formatMillis(record.Timestamp),
			Payload:   string(record.Payload),
		})
	}
	return r.Render(summaries)
}

// openReadStore opens the SQLite store named by --db, or by the config
// file's storage section.
func openReadStore(c *cli.Context) (store.Store, error) {
	path := c.String("db")
	poolSize := config.DefaultPoolSize

	if path == "" {
		configPath := c.String("config")
		if configPath == "" {
			return nil, cli.Exit("either --db or --config is required", 1)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Backend != "sqlite" {
			return nil, cli.Exit(fmt.Sprintf("storage.backend is %q, nothing to inspect", cfg.Storage.Backend), 1)
		}
		path = cfg.Storage.Path
		poolSize = cfg.Storage.PoolSize
	}

	return sqlite.Open(sqlite.PoolConfig{
		Path:     path,
		PoolSize: poolSize,
		Logger:   log.NewLogger("cli"),
	})
}

func newSessionSummary(record store.SessionRecord) SessionSummary {
	summary := SessionSummary{
		SessionID: record.SessionID,
		ThreadID:  record.ThreadID,
		RunID:     record.RunID,
		Status:    string(record.Status),
		StartedAt: formatMillis(record.StartedAt),
	}
	if record.EndedAt != nil {
		summary.EndedAt = formatMillis(*record.EndedAt)
	}
	return summary
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
