package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rubiojr/cdpbridge/cmd"
	"github.com/rubiojr/cdpbridge/pkg/config"
)

func main() {
	app := &cli.Command{
		Name:  "cdpbridge",
		Usage: "A BROP/CDP multiplexing bridge to a single browser extension",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: config.GetDefaultConfigPath(),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a default configuration file",
				Action: func(ctx context.Context, c *cli.Command) error {
					return initConfig(c.String("config"))
				},
			},
			cmd.ServeCommand(),
			cmd.StatusCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func initConfig(configPath string) error {
	cfg := config.GetDefaultConfig()
	if err := cfg.SaveTemplateConfig(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("configuration initialized at %s\n", configPath)
	return nil
}
