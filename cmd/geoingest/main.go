/*
This is the entrypoint for the geoingest binary.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tingold/geoingest/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}
