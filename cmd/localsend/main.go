// Command localsend sends and receives files on the local network,
// paired by a spoken two-word code phrase.
//
// Usage:
//
//	localsend send <path>... [--port P] [--timeout SECS]
//	localsend <code-phrase> [--out DIR] [--yes] [--timeout SECS]
//
// The sender prints a generated phrase such as "swift-ocean"; running
// localsend with that phrase on another machine on the same network
// downloads the offered files over fingerprint-pinned TLS.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/localsend/localsend-cli/discovery"
	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/transfer"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v1.2.0 -X main.commit=abc1234"
var (
	version = "v1.0.0-dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		printTips(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "localsend",
		Usage:           "share files over the local network, paired by a code phrase",
		Version:         fmt.Sprintf("%s (commit %s)", version, commit),
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "destination directory for received files",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "accept the offered files without asking",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "seconds to wait for a matching sender",
				Value: 300,
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				log.SetDefault(log.New(log.ParseLevel("debug")))
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "offer files or directories to one receiver",
				ArgsUsage: "<path>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "TCP port for the transfer server (default: probe the LocalSend range)",
					},
					&cli.IntFlag{
						Name:  "timeout",
						Usage: "seconds to wait for a receiver",
						Value: 300,
					},
				},
				Action: runSend,
			},
		},
		// No subcommand: the first argument is the code phrase.
		Action: runReceive,
	}
}

func runSend(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		cli.ShowSubcommandHelp(ctx)
		return cli.Exit("send needs at least one file or directory", 1)
	}
	return transfer.Send(transfer.SendConfig{
		Paths:   ctx.Args().Slice(),
		Port:    ctx.Int("port"),
		Timeout: time.Duration(ctx.Int("timeout")) * time.Second,
	})
}

func runReceive(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		cli.ShowAppHelp(ctx)
		return cli.Exit("pass the sender's code phrase, or use the send command", 1)
	}
	if ctx.NArg() > 1 {
		return cli.Exit("expected exactly one code phrase", 1)
	}
	return transfer.Receive(transfer.ReceiveConfig{
		Phrase:     ctx.Args().First(),
		OutDir:     ctx.String("out"),
		AutoAccept: ctx.Bool("yes"),
		Timeout:    time.Duration(ctx.Int("timeout")) * time.Second,
		Progress:   true,
	})
}

// printTips turns the common failure modes into something actionable.
func printTips(err error) {
	switch {
	case errors.Is(err, transfer.ErrTimeout):
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "No peer found. Check that:")
		fmt.Fprintln(os.Stderr, "  - both machines are on the same network")
		fmt.Fprintln(os.Stderr, "  - the code phrase matches exactly")
		fmt.Fprintln(os.Stderr, "  - no firewall blocks UDP 53317 or the transfer port")
	case errors.Is(err, discovery.ErrPortInUse):
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Another LocalSend instance may already be running on this machine.")
	}
}
