package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/runbf/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}
