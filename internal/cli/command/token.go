package command

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokvault-go/internal/cli/output"
	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/server/httpserver/handler"
	"github.com/yndnr/tokvault-go/pkg/token"
)

// TokenCommand returns the token subcommand group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Aliases: []string{"tok"},
		Usage:   "Inspect and sweep download tokens",
		Subcommands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Show a token's metadata and usage without consuming it",
				ArgsUsage: "TOKEN_OR_URL",
				Description: "With --secret the token is verified locally and only its embedded\n" +
					"metadata is shown. Otherwise the server is asked, which requires an\n" +
					"admin bearer token.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "secret",
						Usage:   "Token signing secret for offline verification",
						EnvVars: []string{"TOKVAULT_SECURITY__TOKEN_SECRET"},
					},
				},
				Action: tokenInspect,
			},
			{
				Name:  "sweep",
				Usage: "Remove expired tokens now",
				Flags: []cli.Flag{
					&cli.TimestampFlag{
						Name:   "before",
						Usage:  "Remove tokens that expired before this time (RFC 3339)",
						Layout: time.RFC3339,
					},
				},
				Action: tokenSweep,
			},
		},
	}
}

// tokenArg accepts a bare token or a download URL ending in one.
func tokenArg(c *cli.Context) (string, error) {
	raw, err := requireArg(c, 0, "TOKEN_OR_URL")
	if err != nil {
		return "", err
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		raw = path.Base(u.Path)
	}
	if !domain.HasTokenPrefix(raw) {
		return "", fmt.Errorf("not a download token: %s", domain.MaskToken(raw))
	}
	return raw, nil
}

func tokenInspect(c *cli.Context) error {
	tok, err := tokenArg(c)
	if err != nil {
		return err
	}
	if secret := c.String("secret"); secret != "" {
		return inspectOffline(c, tok, []byte(secret))
	}

	var view service.TokenView
	if err := call(c, "GET", "/admin/v1/tokens/"+url.PathEscape(tok), nil, &view); err != nil {
		return err
	}
	return render(c, view, func() *output.Table {
		t := metadataTable(view.Token, view.Metadata)
		t.AddRow("status", view.Status)
		t.AddRow("remaining", strconv.Itoa(view.Remaining))
		if view.Record != nil {
			t.AddRow("uses_consumed", strconv.Itoa(view.Record.UsesConsumed))
		}
		return t
	})
}

func inspectOffline(c *cli.Context, tok string, secret []byte) error {
	codec, err := token.NewCodec(secret)
	if err != nil {
		return err
	}
	md, err := codec.Verify(tok)
	if err != nil {
		return fmt.Errorf("token %s: %w", domain.MaskToken(tok), err)
	}
	state := "valid"
	if time.Now().UnixMilli() >= md.ExpiresAt {
		state = "expired"
	}
	view := map[string]any{"token": domain.MaskToken(tok), "metadata": md, "status": state}
	return render(c, view, func() *output.Table {
		t := metadataTable(domain.MaskToken(tok), md)
		t.AddRow("status", state)
		return t
	})
}

func metadataTable(masked string, md token.Metadata) *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("token", masked)
	t.AddRow("order_id", md.OrderID)
	t.AddRow("product_id", md.ProductID)
	t.AddRow("user_id", md.UserID)
	t.AddRow("issued_at", formatMillis(md.IssuedAt))
	t.AddRow("expires_at", formatMillis(md.ExpiresAt))
	t.AddRow("max_uses", strconv.Itoa(md.MaxUses))
	return t
}

func tokenSweep(c *cli.Context) error {
	var body handler.SweepRequest
	if ts := c.Timestamp("before"); ts != nil {
		body.Before = ts.UnixMilli()
	}
	var result handler.SweepResponse
	if err := call(c, "POST", "/admin/v1/tokens/sweep", body, &result); err != nil {
		return err
	}
	return render(c, result, func() *output.Table {
		t := &output.Table{Headers: []string{"REMOVED", "TRIGGERED AT"}}
		t.AddRow(strconv.Itoa(result.Removed), result.TriggeredAt)
		return t
	})
}
