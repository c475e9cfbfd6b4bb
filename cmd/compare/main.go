// Command compare measures the distortion between two images.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hupe1980/pixcache/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	args := append([]string{os.Args[0], "compare"}, os.Args[1:]...)
	code := cli.Run(ctx, os.Stdout, os.Stderr, args, environ())

	stop()
	os.Exit(code)
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return env
}
