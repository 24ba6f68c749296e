package main

import (
	"context"
	"os"

	"github.com/roushou/stepwise/internal/app"
)

func main() {
	ctx, cancel := app.ContextWithShutdownSignal(context.Background())
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
