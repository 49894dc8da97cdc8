package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/MarcinKonowalczyk/runbf/cli"
	bf_shim "github.com/MarcinKonowalczyk/runbf/shim"
)

func main() {
	// Maybe hijack the shim to run as brainfuck interpreter
	if brainfuck, args := isBrainfuckArg(os.Args[1:]); brainfuck {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code := cli.Execute(ctx, args)
		cancel()
		os.Exit(code)
	}

	shim.Run(context.Background(), bf_shim.NewManager(bf_shim.RuntimeName))
}

// The task service starts the interpreter as `<shim> brainfuck [flags] <file>`
func isBrainfuckArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == "brainfuck" {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			return true, append(rest, args[i+1:]...)
		}
	}
	return false, args
}
