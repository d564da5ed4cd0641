package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokvault-go/internal/cli/connection"
	"github.com/yndnr/tokvault-go/internal/cli/output"
)

// DownloadCommand returns the download command.
func DownloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"dl"},
		Usage:     "Redeem a download link; this consumes one use",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"O"},
				Usage:   "Output file (default: the server-provided file name)",
			},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Hide the progress bar"},
		},
		Action: downloadAction,
	}
}

func downloadAction(c *cli.Context) error {
	link, err := requireArg(c, 0, "URL")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return fmt.Errorf("URL must be absolute: %s", link)
	}

	// No overall timeout: large files stream for as long as they need.
	client, err := newClient(ParseGlobalFlags(c), 0)
	if err != nil {
		return err
	}

	dir := "."
	if out := c.String("out"); out != "" {
		dir = filepath.Dir(out)
	}
	tmp, err := os.CreateTemp(dir, ".tokvault-download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var progress func(int64, int64)
	var bar *output.ProgressBar
	if !c.Bool("quiet") {
		bar = output.NewProgressBar(c.App.ErrWriter, "downloading")
		progress = bar.Update
	}

	info, err := client.Download(c.Context, link, tmp, progress)
	if bar != nil && info != nil {
		bar.Finish()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		var apiErr *connection.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return errors.New("download link is invalid, expired or used up")
		}
		return err
	}

	dest := c.String("out")
	if dest == "" {
		dest = filepath.Base(info.Filename)
		if dest == "." || dest == string(filepath.Separator) {
			dest = "download.bin"
		}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "saved %s (%s, %d downloads left)\n", dest, output.FormatBytes(info.Written), info.Remaining)
	return nil
}
