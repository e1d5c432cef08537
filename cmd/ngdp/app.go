// Command ngdp is the CLI front-end over the library packages in this
// module: products/inspect/download/storage/certs/keys/config, per
// spec.md §6's "CLI surface".
//
// Grounded on the teacher's main.go/klog.go/tools.go: urfave/cli/v2 app
// construction, klog-backed logging flags, and small file/format helper
// functions, adapted from the teacher's CAR-file domain to NGDP's
// products/builds/storage domain.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/bpsv"
	"github.com/wowemulation-dev/ngdp/config"
)

// Exit codes per spec.md §6.
const (
	ExitOK         = 0
	ExitUserError  = 1
	ExitTransient  = 2
	ExitCorruption = 3
	ExitMissingKey = 4
)

// OutputFormat is the CLI's `--output` flag value.
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputJSON       OutputFormat = "json"
	OutputPrettyJSON OutputFormat = "pretty-json"
	OutputBPSV       OutputFormat = "bpsv"
)

func outputFormat(c *cli.Context) OutputFormat {
	switch OutputFormat(c.String("output")) {
	case OutputJSON:
		return OutputJSON
	case OutputPrettyJSON:
		return OutputPrettyJSON
	case OutputBPSV:
		return OutputBPSV
	default:
		return OutputText
	}
}

// render writes v to stdout in the format the --output flag requested.
// textFn produces the text-mode rendering; it is not called for the JSON
// or BPSV modes. doc, if non-nil, is used for OutputBPSV (re-emitting the
// document's own BPSV bytes rather than marshaling the Go value).
func render(c *cli.Context, v any, doc *bpsv.Document, textFn func() string) error {
	switch outputFormat(c) {
	case OutputJSON:
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(v)
	case OutputPrettyJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	case OutputBPSV:
		if doc == nil {
			return cli.Exit("this command has no BPSV representation", ExitUserError)
		}
		os.Stdout.Write(bpsv.Emit(doc))
		return nil
	default:
		fmt.Println(textFn())
		return nil
	}
}

// loadConfig resolves the effective configuration (file + env overrides +
// any --region/--product flag overrides, flags winning).
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadEffective(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("loading config: %v", err), ExitUserError)
	}
	if r := c.String("region"); r != "" {
		cfg.Region = r
	}
	if p := c.String("product"); p != "" {
		cfg.Product = p
	}
	return cfg, nil
}

// exitCodeFor maps a structured ngdperr category (or any other error) to
// spec.md §6's exit codes. Unwrapped/unknown errors are treated as user
// errors.
func exitCodeFor(err error) int {
	return classifyExit(err)
}

// wrapExit runs fn and, on error, re-wraps it as a *cli.ExitError so
// app.RunContext's final error handling sets the process exit code per
// spec.md §6, without each command needing to repeat the classification.
func wrapExit(fn func(c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		err := fn(c)
		if err == nil {
			return nil
		}
		if _, ok := err.(cli.ExitCoder); ok {
			return err
		}
		return cli.Exit(err.Error(), exitCodeFor(err))
	}
}
