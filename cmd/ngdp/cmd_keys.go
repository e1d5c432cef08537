package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/keyservice"
)

// newKeysCmd implements `ngdp keys {update|status}` over the decryption
// keyring (`TactKey.csv`/`tact.keys`) used to decrypt encrypted BLTE
// chunks.
func newKeysCmd() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "manage the TACT decryption keyring",
		Subcommands: []*cli.Command{
			{Name: "update", Usage: "load keys from the standard search paths and report how many were found", Action: wrapExit(keysUpdate)},
			{Name: "status", Usage: "list the standard keyring search paths and which exist", Action: wrapExit(keysStatus)},
		},
	}
}

func keysUpdate(c *cli.Context) error {
	svc := keyservice.New()
	n := svc.LoadStandardDirs()
	return render(c, map[string]int{"keys_loaded": n}, nil, func() string {
		return fmt.Sprintf("loaded %d keys", n)
	})
}

func keysStatus(c *cli.Context) error {
	candidates := keyservice.StandardDirCandidates()
	type row struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
	}
	rows := make([]row, len(candidates))
	for i, p := range candidates {
		_, err := os.Stat(p)
		rows[i] = row{Path: p, Exists: err == nil}
	}
	return render(c, rows, nil, func() string {
		var b strings.Builder
		for _, r := range rows {
			mark := "missing"
			if r.Exists {
				mark = "found"
			}
			fmt.Fprintf(&b, "%-7s %s\n", mark, r.Path)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
