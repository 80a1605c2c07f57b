package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/adapter"
	redisadapter "github.com/FadeVT/Frostband/adapter/redis"
	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/lode"
)

// Sources for the history command.
const (
	historyLedger = "ledger"
	historyRedis  = "redis"
)

// HistoryCommand returns the run history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent runs from the ledger or the notification history",
		Flags: append(ReadOnlyFlags(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum runs to show", Value: 20},
			&cli.StringFlag{Name: "pipeline", Usage: "Only runs of this pipeline: pull_purge, direct_upload, local_upload"},
			&cli.StringFlag{Name: "source", Usage: "Read from: ledger or redis", Value: historyLedger},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	limit := c.Int("limit")
	if limit <= 0 {
		return configError(fmt.Errorf("--limit must be positive, got %d", limit))
	}

	switch c.String("source") {
	case historyLedger:
		ledger, err := e.ledger(c.Context)
		if err != nil {
			return configError(err)
		}
		if ledger == nil {
			return configError(errors.New("no ledger configured (set ledger.backend)"))
		}
		defer func() { _ = ledger.Close() }()

		records, err := ledger.Recent(c.Context, limit, c.String("pipeline"))
		if errors.Is(err, lode.ErrNoRuns) {
			return r.Render([]lode.RunRecord{})
		}
		if err != nil {
			return failf("read ledger: %v", err)
		}
		return r.Render(records)

	case historyRedis:
		n := e.cfg.Notify
		if n.Type != historyRedis || n.HistoryKey == "" {
			return configError(errors.New("redis history needs notify.type redis and notify.history_key"))
		}
		a, err := redisadapter.New(redisadapter.Config{URL: n.URL, Channel: n.Channel, HistoryKey: n.HistoryKey})
		if err != nil {
			return configError(err)
		}
		defer func() { _ = a.Close() }()

		events, err := a.History(c.Context, int64(limit))
		if err != nil {
			return failf("read redis history: %v", err)
		}
		if p := c.String("pipeline"); p != "" {
			kept := events[:0]
			for _, ev := range events {
				if ev.Pipeline == p {
					kept = append(kept, ev)
				}
			}
			events = kept
		}
		if events == nil {
			events = []adapter.RunCompletedEvent{}
		}
		return r.Render(events)

	default:
		return configError(fmt.Errorf("unknown history source %q (must be ledger or redis)", c.String("source")))
	}
}
