package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/blte"
	"github.com/wowemulation-dev/ngdp/buildconfig"
	"github.com/wowemulation-dev/ngdp/cdn"
	"github.com/wowemulation-dev/ngdp/encodingtable"
	"github.com/wowemulation-dev/ngdp/keyservice"
	"github.com/wowemulation-dev/ngdp/resolver"
	"github.com/wowemulation-dev/ngdp/rootfile"
	"github.com/wowemulation-dev/ngdp/storage"
	"github.com/wowemulation-dev/ngdp/tact"
	"github.com/wowemulation-dev/ngdp/uri"
	"k8s.io/klog/v2"
)

// newDownloadCmd implements `ngdp download {build|files}`.
func newDownloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "fetch build manifests and file content from the CDN",
		Subcommands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "fetch a product's active build config, CDN config, and encoding table",
				ArgsUsage: "[product]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "directory to write fetched manifests into", Value: "."},
				},
				Action: wrapExit(downloadBuild),
			},
			{
				Name:      "files",
				Usage:     "resolve and fetch one or more files by path, fdid:, ckey:, or ekey: specifier",
				ArgsUsage: "<build-config> <specifier>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "directory to write resolved files into", Value: "."},
					&cli.StringFlag{Name: "storage", Usage: "path to a local CASC installation to check before the CDN"},
					&cli.UintFlag{Name: "locale-mask", Usage: "locale bitmask to filter Root records by", Value: 0xFFFFFFFF},
				},
				Action: wrapExit(downloadFiles),
			},
		},
	}
}

// resolveActiveVersion runs fetchBPSV against the versions endpoint and
// returns the row matching cfg.Region, falling back to the first row
// when the region has no dedicated entry (single-region products).
func resolveActiveVersion(c *cli.Context, region, product string) (tact.VersionEntry, []cdn.Mirror, error) {
	doc, err := fetchBPSV(c.Context, region, product, "versions")
	if err != nil {
		return tact.VersionEntry{}, nil, err
	}
	versions, err := tact.DecodeVersions(doc)
	if err != nil {
		return tact.VersionEntry{}, nil, err
	}
	var entry tact.VersionEntry
	found := false
	for _, v := range versions {
		if v.Region == region {
			entry = v
			found = true
			break
		}
	}
	if !found && len(versions) > 0 {
		entry = versions[0]
	}
	if entry.BuildConfig == "" {
		return tact.VersionEntry{}, nil, fmt.Errorf("no version entry for region %q", region)
	}

	cdnDoc, err := fetchBPSV(c.Context, region, product, "cdns")
	if err != nil {
		return entry, nil, err
	}
	cdnEntries, err := tact.DecodeCDNs(cdnDoc)
	if err != nil {
		return entry, nil, err
	}
	mirrors := mirrorsFor(cdnEntries, region)
	return entry, mirrors, nil
}

func mirrorsFor(entries []tact.CDNEntry, region string) []cdn.Mirror {
	var chosen *tact.CDNEntry
	for i := range entries {
		if entries[i].Name == region {
			chosen = &entries[i]
			break
		}
	}
	if chosen == nil && len(entries) > 0 {
		chosen = &entries[0]
	}
	if chosen == nil {
		return nil
	}
	var mirrors []cdn.Mirror
	for _, host := range strings.Fields(chosen.Hosts) {
		mirrors = append(mirrors, cdn.Mirror{Host: host, Path: chosen.Path})
	}
	return mirrors
}

func downloadBuild(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	product := c.Args().First()
	if product == "" {
		product = cfg.Product
	}
	entry, mirrors, err := resolveActiveVersion(c, cfg.Region, product)
	if err != nil {
		return err
	}
	if len(mirrors) == 0 {
		return fmt.Errorf("no CDN mirrors available for product %q region %q", product, cfg.Region)
	}
	client := cdn.NewClient(nil, mirrors)

	buildRaw, err := client.FetchLoose(c.Context, entry.BuildConfig, cdn.KindConfig)
	if err != nil {
		return fmt.Errorf("fetching build config: %w", err)
	}
	buildDoc, err := buildconfig.Parse(buildRaw)
	if err != nil {
		return err
	}
	bc := buildconfig.DecodeBuildConfig(buildDoc)

	cdnRaw, err := client.FetchLoose(c.Context, entry.CDNConfig, cdn.KindConfig)
	if err != nil {
		return fmt.Errorf("fetching CDN config: %w", err)
	}
	cdnDoc, err := buildconfig.Parse(cdnRaw)
	if err != nil {
		return err
	}
	cc := buildconfig.DecodeCDNConfig(cdnDoc)
	client.SetArchives(cc.Archives)

	out := c.String("output")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(out, "build.config"), buildRaw, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(out, "cdn.config"), cdnRaw, 0o644); err != nil {
		return err
	}

	if len(bc.Encoding) >= 2 {
		encRaw, err := client.FetchLoose(c.Context, bc.Encoding[1], cdn.KindData)
		if err != nil {
			return fmt.Errorf("fetching encoding table: %w", err)
		}
		plain, err := blte.Decode(encRaw, nil)
		if err != nil {
			return fmt.Errorf("decoding encoding table: %w", err)
		}
		if err := os.WriteFile(filepath.Join(out, "encoding"), plain, 0o644); err != nil {
			return err
		}
	}

	return render(c, bc, buildDoc, func() string {
		return fmt.Sprintf("build-name=%s root=%s wrote manifests to %s", bc.BuildName, bc.Root, out)
	})
}

func downloadFiles(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	args := c.Args().Slice()
	if len(args) < 2 {
		return cli.Exit("usage: ngdp download files <build-config> <specifier>...", ExitUserError)
	}
	buildPath, specs := args[0], args[1:]

	buildRaw, err := os.ReadFile(buildPath)
	if err != nil {
		return err
	}
	buildDoc, err := buildconfig.Parse(buildRaw)
	if err != nil {
		return err
	}
	bc := buildconfig.DecodeBuildConfig(buildDoc)
	if len(bc.Encoding) < 2 {
		return fmt.Errorf("build config has no encoding EKey")
	}

	product := cfg.Product
	_, mirrors, err := resolveActiveVersion(c, cfg.Region, product)
	if err != nil {
		return err
	}
	if len(mirrors) == 0 {
		return fmt.Errorf("no CDN mirrors available for product %q region %q", product, cfg.Region)
	}
	client := cdn.NewClient(nil, mirrors)

	encRaw, err := client.FetchLoose(c.Context, bc.Encoding[1], cdn.KindData)
	if err != nil {
		return fmt.Errorf("fetching encoding table: %w", err)
	}
	encPlain, err := blte.Decode(encRaw, nil)
	if err != nil {
		return err
	}
	encTable, err := encodingtable.Parse(encPlain, int64(len(encPlain)))
	if err != nil {
		return err
	}

	var rootManifest *rootfile.Manifest
	if bc.Root != "" {
		rootEKeys := encTable.FindAllEKeys(hexToCKey(bc.Root))
		if len(rootEKeys) > 0 {
			rootRaw, err := client.FetchLoose(c.Context, fmt.Sprintf("%x", rootEKeys[0]), cdn.KindData)
			if err == nil {
				if rootPlain, err := blte.Decode(rootRaw, nil); err == nil {
					if m, err := rootfile.Parse(rootPlain); err == nil {
						rootManifest = m
					}
				}
			}
		}
	}

	keys := keyservice.New()
	keys.LoadStandardDirs()

	var local resolver.LocalIndex
	var archive resolver.LocalArchiveReader
	if dir := c.String("storage"); dir != "" {
		inst, err := storage.Open(dir)
		if err != nil {
			return fmt.Errorf("opening local storage: %w", err)
		}
		defer inst.Close()
		local, archive = inst, inst
	}

	res := &resolver.Resolver{
		Encoding: encTable,
		Local:    local,
		Archive:  archive,
		CDN:      cdn.ResolverFetcher(client),
		Keys:     keys,
	}
	if rootManifest != nil {
		res.Paths = rootManifest
	}

	out := c.String("output")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	localeMask := uint32(c.Uint("locale-mask"))

	for _, spec := range specs {
		specifier, err := uri.Parse(spec)
		if err != nil {
			return err
		}
		ref := specifier.Ref(localeMask, 0)
		data, err := res.Resolve(c.Context, ref)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", spec, err)
		}
		name := outputName(specifier)
		if err := os.WriteFile(filepath.Join(out, name), data, 0o644); err != nil {
			return err
		}
		klog.Infof("wrote %s (%d bytes) from %s", name, len(data), spec)
	}
	return nil
}

func outputName(s uri.Specifier) string {
	switch s.Kind {
	case uri.KindFileDataID:
		return fmt.Sprintf("fdid-%d.bin", s.FileDataID)
	case uri.KindCKey:
		return fmt.Sprintf("ckey-%x.bin", s.CKey)
	case uri.KindEKey:
		return fmt.Sprintf("ekey-%x.bin", s.EKey)
	default:
		return filepath.Base(s.Path)
	}
}

func hexToCKey(s string) [16]byte {
	var out [16]byte
	n := len(s) / 2
	if n > 16 {
		n = 16
	}
	for i := 0; i < n; i++ {
		hi := hexVal(s[i*2])
		lo := hexVal(s[i*2+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	default:
		return 0
	}
}

