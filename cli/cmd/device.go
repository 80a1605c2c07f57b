package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/capture"
	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/device"
)

// DeviceCommand returns the collection device control commands.
func DeviceCommand() *cli.Command {
	service := func(action device.ServiceAction, usage string) *cli.Command {
		return &cli.Command{
			Name:   string(action),
			Usage:  usage,
			Flags:  RemoteFlags(),
			Action: serviceAction(action),
		}
	}
	return &cli.Command{
		Name:  "device",
		Usage: "Control the collection device",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the capture service state and the remote capture count",
				Flags:  append(ReadOnlyFlags(), RemoteFlags()...),
				Action: deviceStatusAction,
			},
			{
				Name:   "test",
				Usage:  "Check that a non-interactive SSH session works",
				Flags:  RemoteFlags(),
				Action: deviceTestAction,
			},
			service(device.ActionStart, "Start the capture service"),
			service(device.ActionStop, "Stop the capture service"),
			service(device.ActionRestart, "Restart the capture service"),
			{
				Name:   "reboot",
				Usage:  "Reboot the device",
				Flags:  append(RemoteFlags(), YesFlag),
				Action: powerAction("reboot"),
			},
			{
				Name:   "shutdown",
				Usage:  "Power the device off",
				Flags:  append(RemoteFlags(), YesFlag),
				Action: powerAction("shutdown"),
			},
		},
	}
}

// withDevice loads the environment and opens a controller for the
// duration of fn.
func withDevice(c *cli.Context, fn func(e *env, ctl *device.Controller) error) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.remoteClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	return fn(e, device.New(client, e.cfg.Remote.Service))
}

// deviceStatus is the rendered device summary.
type deviceStatus struct {
	Device  string `json:"device"`
	Service string `json:"service"`
	State   string `json:"state"`
	Dir     string `json:"dir"`
	Files   int    `json:"files"`
	Size    string `json:"size"`
	Bytes   int64  `json:"bytes"`
}

func deviceStatusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return withDevice(c, func(e *env, ctl *device.Controller) error {
		state, err := ctl.ServiceState(c.Context)
		if err != nil {
			return failf("service state: %v", err)
		}
		sum, err := ctl.Summarize(c.Context, e.cfg.Remote.Dir, e.cfg.Remote.Pattern)
		if err != nil {
			return failf("remote summary: %v", err)
		}
		return r.Render(deviceStatus{
			Device:  e.device(),
			Service: e.cfg.Remote.Service,
			State:   state,
			Dir:     e.cfg.Remote.Dir,
			Files:   sum.Files,
			Size:    capture.FormatBytes(sum.Bytes),
			Bytes:   sum.Bytes,
		})
	})
}

func deviceTestAction(c *cli.Context) error {
	return withDevice(c, func(e *env, ctl *device.Controller) error {
		if err := ctl.Ping(c.Context); err != nil {
			return failf("connection to %s failed: %v", e.device(), err)
		}
		fmt.Fprintf(c.App.Writer, "connection to %s OK\n", e.device())
		return nil
	})
}

func serviceAction(action device.ServiceAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		return withDevice(c, func(e *env, ctl *device.Controller) error {
			if err := ctl.Service(c.Context, action); err != nil {
				return failf("%v", err)
			}
			fmt.Fprintf(c.App.Writer, "%s: %s done\n", e.cfg.Remote.Service, action)
			return nil
		})
	}
}

func powerAction(kind string) cli.ActionFunc {
	return func(c *cli.Context) error {
		return withDevice(c, func(e *env, ctl *device.Controller) error {
			confirmed := confirm(c, fmt.Sprintf("%s %s now?", kind, e.device())) == nil
			op := ctl.Reboot
			if kind == "shutdown" {
				op = ctl.Shutdown
			}
			if err := op(c.Context, confirmed); err != nil {
				return failf("%s: %v", kind, err)
			}
			fmt.Fprintf(c.App.Writer, "%s requested for %s\n", kind, e.device())
			return nil
		})
	}
}
