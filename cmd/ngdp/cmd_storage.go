package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/storage"
)

// newStorageCmd implements `ngdp storage {init|info|verify|repair}` over a
// local CASC installation directory.
func newStorageCmd() *cli.Command {
	dirFlag := &cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "local CASC installation root", Value: ".", Required: false}
	return &cli.Command{
		Name:  "storage",
		Usage: "manage a local CASC installation",
		Subcommands: []*cli.Command{
			{Name: "init", Usage: "create a fresh Data/data and Data/indices layout", Flags: []cli.Flag{dirFlag}, Action: wrapExit(storageInit)},
			{Name: "info", Usage: "summarize a local installation's buckets and entries", Flags: []cli.Flag{dirFlag}, Action: wrapExit(storageInfo)},
			{Name: "verify", Usage: "re-check every local entry's bucket fold and BLTE decode", Flags: []cli.Flag{dirFlag}, Action: wrapExit(storageVerify)},
			{Name: "repair", Usage: "drop journal entries verify found broken", Flags: []cli.Flag{dirFlag}, Action: wrapExit(storageRepair)},
		},
	}
}

func storageInit(c *cli.Context) error {
	inst, err := storage.Init(c.String("dir"))
	if err != nil {
		return err
	}
	defer inst.Close()
	return render(c, map[string]string{"root": c.String("dir")}, nil, func() string {
		return fmt.Sprintf("initialized CASC layout at %s", c.String("dir"))
	})
}

func storageInfo(c *cli.Context) error {
	inst, err := storage.Open(c.String("dir"))
	if err != nil {
		return err
	}
	defer inst.Close()
	buckets := inst.Buckets()
	return render(c, map[string]any{
		"buckets": buckets,
		"entries": inst.EntryCount(),
	}, nil, func() string {
		return fmt.Sprintf("buckets=%d entries=%d", len(buckets), inst.EntryCount())
	})
}

func storageVerify(c *cli.Context) error {
	inst, err := storage.Open(c.String("dir"))
	if err != nil {
		return err
	}
	defer inst.Close()
	report, err := inst.Verify(c.Context)
	if err != nil {
		return err
	}
	if !report.OK() {
		return cli.Exit(fmt.Sprintf("verification found %d bucket mismatches, %d read errors, %d checksum errors",
			len(report.BucketMismatch), len(report.ReadErrors), len(report.ChecksumErrors)), ExitCorruption)
	}
	return render(c, report, nil, func() string {
		return fmt.Sprintf("checked %d entries, no corruption found", report.EntriesChecked)
	})
}

func storageRepair(c *cli.Context) error {
	inst, err := storage.Open(c.String("dir"))
	if err != nil {
		return err
	}
	defer inst.Close()
	dropped, err := inst.Repair(c.Context)
	if err != nil {
		return err
	}
	return render(c, map[string]int{"dropped": dropped}, nil, func() string {
		if dropped == 0 {
			return "no broken entries found"
		}
		return fmt.Sprintf("dropped %d broken journal entries", dropped)
	})
}
