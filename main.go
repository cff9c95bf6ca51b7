package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
	"wherd.dev/eggbot/internal/bot"
	"wherd.dev/eggbot/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "eggbot",
		Usage: "modular Discord bot with ChatKudos",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   ".eggbot",
				Usage:   "path to the JSON or YAML config file",
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "directory for module data, overrides data_dir",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error, overrides log_level",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Get config file path from args for compatibility with `eggbot <config>`
	configPath := c.String("config")
	if c.NArg() > 0 {
		configPath = c.Args().First()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if dir := c.String("data"); dir != "" {
		cfg.DataDir = dir
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}

	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	// Create bot instance
	b := bot.New(cfg)
	return b.Run()
}
