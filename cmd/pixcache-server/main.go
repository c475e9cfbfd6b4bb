// Command pixcache-server serves pixel caches to remote compare processes.
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

	env := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	args := append([]string{os.Args[0], "serve"}, os.Args[1:]...)
	code := cli.Run(ctx, os.Stdout, os.Stderr, args, env)

	stop()
	os.Exit(code)
}
