package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/server/config"
)

// AuthCommand returns the auth subcommand group.
func AuthCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Internal API credentials",
		Subcommands: []*cli.Command{
			{
				Name:  "issue",
				Usage: "Sign a bearer token for the internal API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret",
						Usage:    "Server auth secret",
						EnvVars:  []string{"TOKVAULT_SECURITY__AUTH_SECRET"},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "issuer",
						Usage:   "Issuer the server expects",
						EnvVars: []string{"TOKVAULT_SECURITY__AUTH_ISSUER"},
						Value:   config.DefaultAuthIssuer,
					},
					&cli.StringFlag{Name: "subject", Usage: "Caller name", Value: "tokvault-cli"},
					&cli.StringFlag{Name: "role", Usage: "service or admin", Value: string(service.RoleService)},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
				},
				Action: authIssue,
			},
		},
	}
}

func authIssue(c *cli.Context) error {
	role, err := service.ParseRole(c.String("role"))
	if err != nil {
		return err
	}
	auth, err := service.NewAuthService(&service.AuthServiceConfig{
		Secret: []byte(c.String("secret")),
		Issuer: c.String("issuer"),
	})
	if err != nil {
		return err
	}
	tok, err := auth.Issue(c.String("subject"), role, c.Duration("ttl"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout(c), tok)
	return err
}
