package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokvault-go/internal/cli/output"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server status and health checks",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the admin status summary",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check that the server is up",
				Action: systemCheck("/health"),
			},
			{
				Name:   "ready",
				Usage:  "Check that the server can reach its token store",
				Action: systemCheck("/ready"),
			},
		},
	}
}

func systemStatus(c *cli.Context) error {
	var result map[string]any
	if err := call(c, "GET", "/admin/v1/status/summary", nil, &result); err != nil {
		return err
	}
	return render(c, result, nil)
}

func systemCheck(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		var result map[string]any
		if err := call(c, "GET", path, nil, &result); err != nil {
			return fmt.Errorf("%s check failed: %w", path[1:], err)
		}
		return render(c, result, func() *output.Table {
			t := &output.Table{Headers: []string{"TARGET", "CHECK", "RESULT"}}
			t.AddRow(ParseGlobalFlags(c).Server, path[1:], output.FormatValue(result["status"]))
			return t
		})
	}
}
