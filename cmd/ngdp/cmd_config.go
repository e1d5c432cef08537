package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/wowemulation-dev/ngdp/config"
)

// newConfigCmd implements `ngdp config {show|set|get|reset}` over the
// on-disk YAML config file.
func newConfigCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "view and edit the CLI's configuration file",
		Subcommands: []*cli.Command{
			{Name: "show", Usage: "print the effective configuration", Action: wrapExit(configShow)},
			{Name: "get", Usage: "print one configuration key's value", ArgsUsage: "<key>", Action: wrapExit(configGet)},
			{Name: "set", Usage: "set one configuration key and save the file", ArgsUsage: "<key> <value>", Action: wrapExit(configSet)},
			{Name: "reset", Usage: "overwrite the config file with built-in defaults", Action: wrapExit(configReset)},
		},
	}
}

func configPath(c *cli.Context) string {
	if p := c.String("config"); p != "" {
		return p
	}
	return config.StandardConfigPath()
}

func configShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return render(c, cfg, nil, func() string {
		return fmt.Sprintf("region:    %s\nproduct:   %s\ncache_dir: %s\nmirrors:   %s",
			cfg.Region, cfg.Product, cfg.CacheDir, strings.Join(cfg.Mirrors, ","))
	})
}

func configGet(c *cli.Context) error {
	key, err := requireArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var value string
	switch key {
	case "region":
		value = cfg.Region
	case "product":
		value = cfg.Product
	case "cache_dir":
		value = cfg.CacheDir
	case "mirrors":
		value = strings.Join(cfg.Mirrors, ",")
	default:
		return cli.Exit(fmt.Sprintf("unknown config key %q", key), ExitUserError)
	}
	return render(c, map[string]string{key: value}, nil, func() string { return value })
}

func configSet(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) != 2 {
		return cli.Exit("usage: ngdp config set <key> <value>", ExitUserError)
	}
	key, value := args[0], args[1]

	path := configPath(c)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	switch key {
	case "region":
		cfg.Region = value
	case "product":
		cfg.Product = value
	case "cache_dir":
		cfg.CacheDir = value
	case "mirrors":
		cfg.Mirrors = strings.Split(value, ",")
	default:
		return cli.Exit(fmt.Sprintf("unknown config key %q", key), ExitUserError)
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	return render(c, cfg, nil, func() string {
		return fmt.Sprintf("set %s = %s (saved to %s)", key, value, path)
	})
}

func configReset(c *cli.Context) error {
	path := configPath(c)
	cfg := config.Default()
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	return render(c, cfg, nil, func() string {
		return fmt.Sprintf("reset %s to built-in defaults", path)
	})
}
