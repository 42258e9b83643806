package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/poputchik/deploykit/cmd"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx, fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime))
	stop()
	if err != nil {
		os.Exit(1)
	}
}
