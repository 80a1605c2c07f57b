package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	FrameContract string `json:"frame_contract"`
	Commit        string `json:"commit"`
}

// VersionCommand returns the version command. It never reads the config
// file or contacts the device.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:       types.Version,
			FrameContract: types.FrameContractVersion,
			Commit:        commit,
		})
	}
}
