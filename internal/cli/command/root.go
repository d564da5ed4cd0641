package command

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	cliconfig "github.com/yndnr/tokvault-go/internal/cli/config"
	"github.com/yndnr/tokvault-go/internal/cli/connection"
	"github.com/yndnr/tokvault-go/internal/cli/output"
	"github.com/yndnr/tokvault-go/internal/infra/buildinfo"
	"github.com/yndnr/tokvault-go/internal/infra/tlsroots"
)

const globalsKey = "globals"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "tokvault-cli",
		Usage:   "Manage orders and download tokens on a tokvault-server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			OrderCommand(),
			TokenCommand(),
			AuthCommand(),
			DownloadCommand(),
			SystemCommand(),
			ConfigCommand(),
		},
		Before: loadGlobals,
	}
}

// globalFlags returns the global CLI flags. Unset flags fall back to the
// saved CLI configuration.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "tokvault-server base URL (e.g. http://127.0.0.1:8080)",
			EnvVars: []string{"TOKVAULT_CLI_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			Usage:   "Bearer token for the internal API",
			EnvVars: []string{"TOKVAULT_CLI_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			EnvVars: []string{"TOKVAULT_CLI_OUTPUT"},
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "PEM bundle to trust in addition to the system roots",
			EnvVars: []string{"TOKVAULT_CLI_CA_FILE"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"TOKVAULT_CLI_CONFIG"},
			Value:   cliconfig.DefaultConfigPath(),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: 30 * time.Second,
		},
	}
}

// GlobalFlags is the resolved connection and output settings.
type GlobalFlags struct {
	Server     string
	Token      string
	Output     output.Format
	CAFile     string
	ConfigPath string
	Timeout    time.Duration
}

func loadGlobals(c *cli.Context) error {
	path := c.String("config")
	cfg, err := cliconfig.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	g := &GlobalFlags{
		Server:     pick(c, "server", cfg.Server),
		Token:      pick(c, "token", cfg.Token),
		CAFile:     pick(c, "ca-file", cfg.CAFile),
		ConfigPath: path,
		Timeout:    c.Duration("timeout"),
	}
	if g.Output, err = output.ParseFormat(pick(c, "output", cfg.Output)); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[globalsKey] = g
	return nil
}

// pick prefers an explicitly set flag or env var over the saved value.
func pick(c *cli.Context, name, saved string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	return saved
}

// ParseGlobalFlags returns the settings resolved before the command ran.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	if g, ok := c.App.Metadata[globalsKey].(*GlobalFlags); ok {
		return g
	}
	return &GlobalFlags{Server: cliconfig.Default().Server, Output: output.FormatTable, Timeout: 30 * time.Second}
}

// NewClient returns an API client for the resolved server.
func NewClient(c *cli.Context) (*connection.HTTPClient, error) {
	g := ParseGlobalFlags(c)
	return newClient(g, g.Timeout)
}

func newClient(g *GlobalFlags, timeout time.Duration) (*connection.HTTPClient, error) {
	hc, err := tlsroots.ClientFor(g.CAFile, timeout)
	if err != nil {
		return nil, err
	}
	return connection.NewHTTPClient(g.Server, g.Token).WithHTTPClient(hc), nil
}

// render writes data in the selected format. table, when non-nil, builds
// the table view; otherwise the table formatter flattens data.
func render(c *cli.Context, data any, table func() *output.Table) error {
	format := ParseGlobalFlags(c).Output
	if format == output.FormatTable && table != nil {
		return table().Render(stdout(c))
	}
	return output.NewFormatter(format).Format(stdout(c), data)
}

func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
