// Package main provides the entry point for the roster CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information, set with -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.execute(ctx, os.Args[1:]); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
