package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"isxlicense/internal/cmds"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmds.NewRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		// the JSON result already says what went wrong
		if !errors.Is(err, cmds.ErrCommandFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}
