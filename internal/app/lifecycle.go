package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// ContextWithShutdownSignal cancels the returned context on SIGINT or
// SIGTERM. context.Cause reports which signal arrived.
func ContextWithShutdownSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			cancel(fmt.Errorf("received %s", sig))
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}
