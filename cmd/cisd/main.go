package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cis-project/cis/internal/infrastructure/config"
	"github.com/cis-project/cis/internal/interfaces/cli"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: load config:", err)
		os.Exit(3)
	}

	application, err := newApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stop, err := application.run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer stop()

	root := cli.NewRootCommand(application.services)
	os.Exit(cli.Execute(ctx, root))
}
