package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/trendwatch/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.close()

	rt.logger.Info().
		Dur("timeout", *timeout).
		Msg("database health check passed")
	fmt.Println("ok: database ping successful")
	return 0
}
