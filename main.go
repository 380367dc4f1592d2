// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/bidi-pilot/cmd"
	"github.com/xkilldash9x/bidi-pilot/internal/observability"
)

// main is the entry point for the bidi-pilot CLI.
func main() {
	// Interrupts cancel the running conversation; deferred cleanup still closes the browser.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	observability.Sync()
	os.Exit(code)
}
