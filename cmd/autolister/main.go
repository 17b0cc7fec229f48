// Package main is the entrypoint for the autolister command line.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/autolister/internal/cli"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := cli.BuildCLI().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
