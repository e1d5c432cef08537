package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/internal/klogflags"
	"k8s.io/klog/v2"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "ngdp",
		Version:     gitCommitSHA,
		Description: "CLI to resolve and retrieve content from Blizzard's NGDP content distribution system.",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "region", Usage: "NGDP region (us, eu, cn, kr, tw, sg)", EnvVars: []string{"NGDP_REGION"}},
			&cli.StringFlag{Name: "product", Usage: "product code (wow, wow_classic, d3, ...)", EnvVars: []string{"NGDP_PRODUCT"}},
			&cli.StringFlag{Name: "output", Usage: "output format: text, json, pretty-json, bpsv", Value: "text", EnvVars: []string{"NGDP_OUTPUT"}},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored text output"},
			&cli.StringFlag{Name: "log-level", Usage: "shorthand for -v, klog verbosity level", EnvVars: []string{"NGDP_LOG_LEVEL"}},
			&cli.StringFlag{Name: "config", Usage: "path to the YAML config file (default: " + "~/.config/ngdp/config.yaml" + ")", EnvVars: []string{"NGDP_CONFIG"}},
		}, klogflags.Flags()...),
		Before: func(c *cli.Context) error {
			if lvl := c.String("log-level"); lvl != "" {
				// klog.Level.Set applies the value to klog's global verbosity.
				var v klog.Level
				if err := v.Set(lvl); err != nil {
					return cli.Exit(fmt.Sprintf("bad --log-level %q: %v", lvl, err), ExitUserError)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			newProductsCmd(),
			newInspectCmd(),
			newDownloadCmd(),
			newStorageCmd(),
			newCertsCmd(),
			newKeysCmd(),
			newConfigCmd(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		if ec, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintln(os.Stderr, "ngdp:", err)
			os.Exit(ec.ExitCode())
		}
		klog.Errorf("ngdp: %v", err)
		os.Exit(ExitUserError)
	}
}
