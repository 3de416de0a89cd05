package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/assetforge/internal"
	pkgconfig "github.com/starford/assetforge/pkg/config"
)

var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if entry := cmd.String("entry"); entry != "" {
		cfg.Pipeline.Entry = entry
	}
	if output := cmd.String("output"); output != "" {
		cfg.Pipeline.Output = output
	}
	if cmd.Bool("strict") {
		cfg.Pipeline.Strict = true
	}
	if cmd.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func runWith(fn func(context.Context, ...internal.Option) error, name string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		opts, err := options(cmd)
		if err != nil {
			return err
		}
		if err := fn(ctx, opts...); err != nil {
			return fmt.Errorf("%s error: %w", name, err)
		}
		return nil
	}
}

func main() {
	pipelineFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "entry",
			Aliases: []string{"i"},
			Usage:   "Input directory (overrides pipeline.entry)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output directory (overrides pipeline.output)",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Fail when any asset fails to build",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Ignore and do not write the graph cache",
		},
	}

	cmd := &cli.Command{
		Name:    "assetforge",
		Usage:   "Incremental asset build pipeline with watch mode",
		Version: version,
		Action:  runWith(internal.Build, "build"),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Build the entry directory once",
				Flags:  pipelineFlags,
				Action: runWith(internal.Build, "build"),
			},
			{
				Name:   "watch",
				Usage:  "Build, then rebuild incrementally on changes",
				Flags:  pipelineFlags,
				Action: runWith(internal.Run, "watch"),
			},
			{
				Name:   "mcp",
				Usage:  "Watch and serve build state over MCP on stdio",
				Flags:  pipelineFlags,
				Action: runWith(internal.ServeMCP, "mcp"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
