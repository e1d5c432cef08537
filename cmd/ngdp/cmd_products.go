package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/bpsv"
	"github.com/wowemulation-dev/ngdp/resolver"
	"github.com/wowemulation-dev/ngdp/ribbit"
	"github.com/wowemulation-dev/ngdp/tact"
)

// newProductsCmd implements `ngdp products {list|versions|cdns|info}`.
func newProductsCmd() *cli.Command {
	return &cli.Command{
		Name:  "products",
		Usage: "inspect product version/CDN manifests",
		Subcommands: []*cli.Command{
			{Name: "list", Usage: "list installable products", Action: wrapExit(productsList)},
			{Name: "versions", Usage: "show per-region build versions for a product", Action: wrapExit(productsVersions)},
			{Name: "cdns", Usage: "show per-region CDN mirrors for a product", Action: wrapExit(productsCDNs)},
			{Name: "info", Usage: "show versions and CDNs together", Action: wrapExit(productsInfo)},
		},
	}
}

// fetchBPSV runs §4.11a's Ribbit-then-TACT-HTTP fallback for one
// endpoint, returning the raw BPSV document both protocols agree on.
func fetchBPSV(ctx context.Context, region, product, endpoint string) (*bpsv.Document, error) {
	rc := ribbit.NewClient(region)
	tc := tact.NewClient(nil, region)

	ribbitFn := func(ctx context.Context) (*bpsv.Document, error) {
		switch endpoint {
		case "versions":
			return rc.GetVersions(ctx, product)
		case "cdns":
			return rc.GetCDNs(ctx, product)
		case "bgdl":
			return rc.GetBGDL(ctx, product)
		default:
			raw, err := rc.GetEndpoint(ctx, "v1", fmt.Sprintf("products/%s/%s", product, endpoint))
			if err != nil {
				return nil, err
			}
			return bpsv.Parse(raw)
		}
	}
	tactFn := func(ctx context.Context) (*bpsv.Document, error) {
		raw, err := tc.GetEndpoint(ctx, product, endpoint)
		if err != nil {
			return nil, err
		}
		return bpsv.Parse(raw)
	}
	return resolver.FirstSuccess(ctx, 1, ribbitFn, tactFn)
}

func productsList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rc := ribbit.NewClient(cfg.Region)
	doc, err := rc.GetSummary(c.Context)
	if err != nil {
		return err
	}
	entries, err := tact.DecodeSummary(doc)
	if err != nil {
		return err
	}
	return render(c, entries, doc, func() string {
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%-30s seqn=%d flags=%s\n", e.Product, e.Seqn, e.Flags)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func productsVersions(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	product := c.Args().First()
	if product == "" {
		product = cfg.Product
	}
	doc, err := fetchBPSV(c.Context, cfg.Region, product, "versions")
	if err != nil {
		return err
	}
	entries, err := tact.DecodeVersions(doc)
	if err != nil {
		return err
	}
	return render(c, entries, doc, func() string {
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%-6s build=%-8d version=%-20s buildconfig=%s\n", e.Region, e.BuildID, e.VersionsName, e.BuildConfig)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func productsCDNs(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	product := c.Args().First()
	if product == "" {
		product = cfg.Product
	}
	doc, err := fetchBPSV(c.Context, cfg.Region, product, "cdns")
	if err != nil {
		return err
	}
	entries, err := tact.DecodeCDNs(doc)
	if err != nil {
		return err
	}
	return render(c, entries, doc, func() string {
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%-6s path=%-20s hosts=%s\n", e.Name, e.Path, e.Hosts)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func productsInfo(c *cli.Context) error {
	if err := productsVersions(c); err != nil {
		return err
	}
	return productsCDNs(c)
}
