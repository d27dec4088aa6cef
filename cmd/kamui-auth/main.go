// Package main is the entry point for the Kamui auth CLI.
// kamui-auth signs in to the Kamui Platform and keeps the session tokens
// fresh for other tools.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kamui-project/kamui-auth/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
