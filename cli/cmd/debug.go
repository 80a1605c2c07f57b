package cmd

import (
	"errors"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/ipc"
)

// DebugCommand returns the debug command with subcommands.
// Debug commands are read-only diagnostic tools.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools",
		Subcommands: []*cli.Command{
			{
				Name:   "frames",
				Usage:  "Decode progress frames (from --frames) read on stdin",
				Flags:  ReadOnlyFlags(),
				Action: debugFramesAction,
			},
		},
	}
}

// frameRow is the flattened view of one decoded frame.
type frameRow struct {
	Type   string `json:"type"`
	RunID  string `json:"run_id,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Line   string `json:"line,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func debugFramesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rows, err := decodeFrames(c.App.Reader)
	if rerr := r.Render(rows); rerr != nil {
		return rerr
	}
	if err != nil {
		return failf("%v", err)
	}
	return nil
}

// decodeFrames reads frames until EOF. Undecodable frames become error
// rows; a truncated or oversized frame ends the stream with an error.
func decodeFrames(rd io.Reader) ([]frameRow, error) {
	dec := ipc.NewFrameDecoder(rd)
	rows := []frameRow{}
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if ipc.IsFatalFrameError(err) {
			return rows, err
		}
		if err != nil {
			rows = append(rows, frameRow{Type: "invalid", Error: err.Error()})
			continue
		}
		switch f.Type {
		case ipc.TypeEvent:
			rows = append(rows, frameRow{
				Type:  f.Type,
				RunID: f.Event.RunID,
				Stage: string(f.Event.Stage),
				Line:  f.Event.Line,
			})
		case ipc.TypeResult:
			rows = append(rows, frameRow{
				Type:   f.Type,
				RunID:  f.Result.RunID,
				Stage:  string(f.Result.FailedStage),
				Status: string(f.Result.Status),
				Error:  f.Result.Error,
			})
		}
	}
}
