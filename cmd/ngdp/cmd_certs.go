package main

import (
	"encoding/pem"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/ribbit"
)

// newCertsCmd implements `ngdp certs download`.
func newCertsCmd() *cli.Command {
	return &cli.Command{
		Name:  "certs",
		Usage: "fetch Ribbit-hosted certificates",
		Subcommands: []*cli.Command{
			{
				Name:      "download",
				Usage:     "download a certificate by its hex Subject Key Identifier",
				ArgsUsage: "<ski>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "file to write the PEM-encoded certificate to"},
				},
				Action: wrapExit(certsDownload),
			},
		},
	}
}

func certsDownload(c *cli.Context) error {
	ski, err := requireArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rc := ribbit.NewClient(cfg.Region)
	der, err := rc.GetCert(c.Context, ski)
	if err != nil {
		return err
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if out := c.String("output"); out != "" {
		if err := os.WriteFile(out, block, 0o644); err != nil {
			return err
		}
		return render(c, map[string]string{"path": out, "ski": ski}, nil, func() string {
			return fmt.Sprintf("wrote certificate %s to %s", ski, out)
		})
	}
	os.Stdout.Write(block)
	return nil
}
