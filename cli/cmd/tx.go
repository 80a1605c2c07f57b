package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/results"
)

// TxCommand returns the WiGLE transaction commands.
func TxCommand() *cli.Command {
	outFlag := &cli.StringFlag{Name: "output-dir", Usage: "Result directory (overrides local.output_dir)"}
	rangeFlags := []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "First upload day, YYYYMMDD"},
		&cli.StringFlag{Name: "to", Usage: "Last upload day, YYYYMMDD"},
	}
	return &cli.Command{
		Name:  "tx",
		Usage: "List uploads and fetch their KML results",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List transactions uploaded within a date range",
				Flags:  append(append(ReadOnlyFlags(), outFlag), rangeFlags...),
				Action: txListAction,
			},
			{
				Name:      "fetch",
				Usage:     "Download KML results into the output directory, skipping existing files",
				ArgsUsage: "<transid>... | --new --from YYYYMMDD --to YYYYMMDD",
				Flags: append(append(ReadOnlyFlags(), outFlag,
					&cli.BoolFlag{Name: "new", Usage: "Fetch every transaction in range without a local result"},
				), rangeFlags...),
				Action: txFetchAction,
			},
		},
	}
}

func txListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.ingestClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	rows, err := results.Find(c.Context, client, e.cfg.Local.OutputDir, c.String("from"), c.String("to"))
	if errors.Is(err, results.ErrInvalidDate) {
		return configError(err)
	}
	if err != nil {
		return failf("list transactions: %v", err)
	}
	if rows == nil {
		rows = []results.Row{}
	}
	return r.Render(rows)
}

func txFetchAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Bool("new") == (c.NArg() > 0) {
		return configError(errors.New("pass transaction ids or --new, not both"))
	}

	client, err := e.ingestClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ids := c.Args().Slice()
	if c.Bool("new") {
		rows, err := results.Find(c.Context, client, e.cfg.Local.OutputDir, c.String("from"), c.String("to"))
		if errors.Is(err, results.ErrInvalidDate) {
			return configError(err)
		}
		if err != nil {
			return failf("list transactions: %v", err)
		}
		ids = results.NewIDs(rows)
	}

	outcomes, err := results.Fetch(c.Context, client, e.cfg.Local.OutputDir, ids)
	if err != nil {
		return failf("fetch results: %v", err)
	}
	if err := r.Render(outcomes); err != nil {
		return err
	}
	for _, o := range outcomes {
		if o.Status == results.FetchFailed {
			return cli.Exit("", exitPartial)
		}
	}
	return nil
}
