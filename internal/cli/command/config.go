package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	cliconfig "github.com/yndnr/tokvault-go/internal/cli/config"
	"github.com/yndnr/tokvault-go/internal/cli/output"
	"github.com/yndnr/tokvault-go/internal/infra/confloader"
	"github.com/yndnr/tokvault-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "CLI settings and server configuration checks",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective CLI settings",
				Action: configShow,
			},
			{
				Name:      "set",
				Usage:     "Save a CLI setting (server, token, output, ca_file)",
				ArgsUsage: "KEY VALUE",
				Action:    configSet,
			},
			{
				Name:      "check",
				Usage:     "Validate a tokvault-server configuration file",
				ArgsUsage: "FILE",
				Action:    configCheck,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	g := ParseGlobalFlags(c)
	eff := (&cliconfig.CLIConfig{
		Server: g.Server,
		Token:  g.Token,
		Output: string(g.Output),
		CAFile: g.CAFile,
	}).Redacted()
	return render(c, eff, func() *output.Table {
		t := &output.Table{Headers: []string{"KEY", "VALUE"}}
		t.AddRow("config_file", g.ConfigPath)
		t.AddRow("server", eff.Server)
		t.AddRow("token", dash(eff.Token))
		t.AddRow("output", eff.Output)
		t.AddRow("ca_file", dash(eff.CAFile))
		return t
	})
}

func configSet(c *cli.Context) error {
	key, err := requireArg(c, 0, "KEY")
	if err != nil {
		return err
	}
	if c.Args().Len() < 2 {
		return fmt.Errorf("VALUE is required")
	}
	path := ParseGlobalFlags(c).ConfigPath
	cfg, err := cliconfig.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, c.Args().Get(1)); err != nil {
		return err
	}
	if err := cliconfig.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "saved %s to %s\n", key, path)
	return nil
}

func configCheck(c *cli.Context) error {
	file, err := requireArg(c, 0, "FILE")
	if err != nil {
		return err
	}
	cfg := config.Default()
	if err := confloader.NewLoader(confloader.WithConfigFile(file)).Load(cfg); err != nil {
		return err
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	fmt.Fprintf(stdout(c), "%s: OK (storage=%s, notify=%s)\n", file, cfg.Storage.Backend, cfg.Notify.Sink)
	return nil
}
