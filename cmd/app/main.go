// Package main provides the entry point for key-commune's CLI.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/portablestew/key-commune/cmd/app/commands"
)

const version = "0.1.0"

func main() {
	cmd := &cli.Command{
		Name:    "key-commune",
		Usage:   "reverse proxy that multiplexes a shared pool of API credentials",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "start the proxy",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunServer(ctx, version)
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrate(slog.Default())
				},
			},
			{
				Name:  "generate-encryption-key",
				Usage: "print a freshly generated at-rest encryption key",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunGenerateEncryptionKey(os.Stdout)
				},
			},
			{
				Name:  "import-keys",
				Usage: "enroll credentials, one per line (material or material,display), read from stdin",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunImportKeys(ctx, slog.Default(), os.Stdin)
				},
			},
			{
				Name:  "clean-stats",
				Usage: "manually trigger the statistics retention cleanup",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunCleanStats(ctx, slog.Default())
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
