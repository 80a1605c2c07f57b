package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/FadeVT/Frostband/cli/config"
	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/log"
	"github.com/FadeVT/Frostband/vault"
)

// ConfigCommand returns the configuration commands. They operate on the
// file as written, without defaults or command-line overrides.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show and edit frostband.yaml",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show every setting (the API token is never printed)",
				Flags:  ReadOnlyFlags(),
				Action: configShowAction,
			},
			{
				Name:      "set",
				Usage:     "Set one setting: " + strings.Join(config.SettableKeys, ", "),
				ArgsUsage: "<key> <value>",
				Action:    configSetAction,
			},
			{
				Name:   "set-token",
				Usage:  "Read the WiGLE API token from stdin and store it encrypted",
				Action: configSetTokenAction,
			},
			{
				Name:  "path",
				Usage: "Print the configuration file path",
				Action: func(c *cli.Context) error {
					path, err := configPath(c)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, path)
					return nil
				},
			},
		},
	}
}

func configPath(c *cli.Context) (string, error) {
	if p := c.String("config"); p != "" {
		return p, nil
	}
	p, err := config.DefaultPath()
	if err != nil {
		return "", configError(err)
	}
	return p, nil
}

// settingRow is one line of config show.
type settingRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func configShowAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	path, err := configPath(c)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrEmpty(path)
	if err != nil {
		return configError(err)
	}

	rows := make([]settingRow, 0, len(config.SettableKeys)+1)
	for _, key := range config.SettableKeys {
		v, _ := cfg.Get(key)
		rows = append(rows, settingRow{Key: key, Value: v})
	}
	token := "(not set)"
	if cfg.WiGLE.APITokenEnc != "" {
		token = "(encrypted)"
	}
	rows = append(rows, settingRow{Key: "wigle.api_token", Value: token})
	return r.Render(rows)
}

func configSetAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return configError(errors.New("usage: frostband config set <key> <value>"))
	}
	path, err := configPath(c)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrEmpty(path)
	if err != nil {
		return configError(err)
	}
	if err := cfg.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return configError(err)
	}
	if err := config.Save(path, cfg); err != nil {
		return failf("%v", err)
	}
	return nil
}

func configSetTokenAction(c *cli.Context) error {
	path, err := configPath(c)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrEmpty(path)
	if err != nil {
		return configError(err)
	}

	token, err := readSecret(c, "WiGLE API token: ")
	if err != nil {
		return failf("read token: %v", err)
	}
	if token == "" {
		return configError(errors.New("empty token"))
	}

	keyPath := filepath.Join(filepath.Dir(path), config.KeyFileName)
	v := vault.New(vault.Detect(keyPath), log.NewLoggerWithWriter(c.App.ErrWriter))
	blob := v.Encrypt(token)
	if blob == "" {
		return failf("could not encrypt the token with %s", v.Protector().Name())
	}
	cfg.WiGLE.APITokenEnc = blob
	if err := config.Save(path, cfg); err != nil {
		return failf("%v", err)
	}
	fmt.Fprintf(c.App.ErrWriter, "token stored (%s)\n", v.Protector().Name())
	return nil
}

// readSecret reads one line without echo when stdin is a terminal, and
// a plain line otherwise.
func readSecret(c *cli.Context, prompt string) (string, error) {
	if f, ok := c.App.Reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.App.ErrWriter, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.App.ErrWriter)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := readLine(c.App.Reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
