package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/capture"
	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/pipeline"
	"github.com/FadeVT/Frostband/types"
)

// LocalCommand returns the local capture maintenance commands.
func LocalCommand() *cli.Command {
	dirFlag := &cli.StringFlag{Name: "capture-dir", Usage: "Local capture directory (overrides local.capture_dir)"}
	allFlag := &cli.BoolFlag{Name: "all", Usage: "Select every capture in the capture directory"}
	return &cli.Command{
		Name:  "local",
		Usage: "Inspect, upload, delete and archive pulled captures",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List captures in the capture directory",
				Flags:  append(ReadOnlyFlags(), dirFlag),
				Action: localListAction,
			},
			{
				Name:   "summary",
				Usage:  "Count captures and archives in the capture directory",
				Flags:  append(ReadOnlyFlags(), dirFlag),
				Action: localSummaryAction,
			},
			{
				Name:      "upload",
				Usage:     "Upload captures to WiGLE (nothing is deleted)",
				ArgsUsage: "<file>... | --all",
				Flags:     []cli.Flag{dirFlag, allFlag, TUIFlag, FramesFlag},
				Action:    localUploadAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete captures from the capture directory",
				ArgsUsage: "<file>...",
				Flags:     []cli.Flag{dirFlag, YesFlag},
				Action:    localDeleteAction,
			},
			{
				Name:      "archive",
				Usage:     "Bundle captures into YYYY-MM-DD.zip and remove the originals",
				ArgsUsage: "<file>... | --all",
				Flags: append(ReadOnlyFlags(), dirFlag, allFlag, YesFlag,
					&cli.BoolFlag{Name: "overwrite", Usage: "Replace today's archive if it exists"},
				),
				Action: localArchiveAction,
			},
		},
	}
}

// localRow is the listing shape of one capture.
type localRow struct {
	Path     string    `json:"path"`
	Size     string    `json:"size"`
	Bytes    int64     `json:"bytes"`
	Modified time.Time `json:"modified"`
}

func localListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	arts, err := capture.List(e.cfg.Local.CaptureDir)
	if err != nil {
		return failf("list captures: %v", err)
	}
	rows := make([]localRow, 0, len(arts))
	for _, a := range arts {
		rows = append(rows, localRow{Path: a.Path, Size: capture.FormatBytes(a.Size), Bytes: a.Size, Modified: a.ModTime})
	}
	return r.Render(rows)
}

type localSummary struct {
	Dir          string `json:"dir"`
	Files        int    `json:"files"`
	Size         string `json:"size"`
	Archives     int    `json:"archives"`
	ArchivesSize string `json:"archives_size"`
}

func localSummaryAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := capture.Summarize(e.cfg.Local.CaptureDir)
	if err != nil {
		return failf("summarize captures: %v", err)
	}
	return r.Render(localSummary{
		Dir:          e.cfg.Local.CaptureDir,
		Files:        s.Files,
		Size:         capture.FormatBytes(s.Bytes),
		Archives:     s.Archives,
		ArchivesSize: capture.FormatBytes(s.ArchiveBytes),
	})
}

// selectPaths returns the positional file arguments, or every capture in
// dir with --all.
func selectPaths(c *cli.Context, dir string) ([]string, error) {
	if c.Bool("all") {
		if c.NArg() > 0 {
			return nil, errors.New("--all cannot be combined with file arguments")
		}
		arts, err := capture.List(dir)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(arts))
		for _, a := range arts {
			paths = append(paths, a.Path)
		}
		return paths, nil
	}
	if c.NArg() == 0 {
		return nil, errors.New("no files given (pass file paths or --all)")
	}
	return c.Args().Slice(), nil
}

func localUploadAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	paths, err := selectPaths(c, e.cfg.Local.CaptureDir)
	if err != nil {
		return configError(err)
	}
	uploader, err := e.ingestClient()
	if err != nil {
		return err
	}
	defer func() { _ = uploader.Close() }()

	collector := metrics.NewCollector(string(types.PipelineLocalUpload), "", "")
	l, err := pipeline.NewLocalUpload(pipeline.LocalConfig{
		Paths:         paths,
		Uploader:      uploader,
		HasCredential: e.hasCredential,
		Logger:        e.logger,
		Collector:     collector,
	})
	if err != nil {
		return configError(err)
	}
	return execute(c, e, l, collector)
}

func localDeleteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return configError(errors.New("no files given"))
	}
	paths := c.Args().Slice()
	if err := confirm(c, fmt.Sprintf("Permanently delete %d local file(s)?", len(paths))); err != nil {
		return failf("%v", err)
	}

	deleted, err := capture.Delete(paths, true)
	for _, p := range deleted {
		fmt.Fprintf(c.App.Writer, "deleted %s\n", p)
	}
	if err != nil {
		return failf("delete: %v", err)
	}
	return nil
}

// archiveResponse is the rendered result of local archive.
type archiveResponse struct {
	Path         string   `json:"path"`
	Archived     []string `json:"archived"`
	RemoveErrors []string `json:"remove_errors,omitempty"`
	Mirror       string   `json:"mirror,omitempty"`
}

func localArchiveAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := e.cfg.Local.CaptureDir
	paths, err := selectPaths(c, dir)
	if err != nil {
		return configError(err)
	}

	now := time.Now()
	overwrite := c.Bool("overwrite")
	target := capture.ArchivePath(dir, now)
	if _, err := os.Stat(target); err == nil && !overwrite {
		if err := confirm(c, fmt.Sprintf("%s already exists. Overwrite it?", target)); err != nil {
			return failf("%v", err)
		}
		overwrite = true
	}

	res, err := capture.Archive(dir, paths, now, overwrite)
	if err != nil {
		return failf("archive: %v", err)
	}
	resp := archiveResponse{Path: res.Path, Archived: res.Archived, RemoveErrors: res.RemoveErrors}

	mirror, err := e.mirror(c.Context)
	if err != nil {
		e.logger.Warn("archive mirror unavailable", map[string]any{"error": err.Error()})
	} else if mirror != nil {
		key, err := mirror.Put(c.Context, res.Path)
		if err != nil {
			e.logger.Warn("archive mirror failed", map[string]any{"path": res.Path, "error": err.Error()})
		}
		resp.Mirror = key
	}

	if err := r.Render(resp); err != nil {
		return err
	}
	if len(res.RemoveErrors) > 0 {
		return failf("archived, but %d original(s) could not be removed", len(res.RemoveErrors))
	}
	return nil
}
