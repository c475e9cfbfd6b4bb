package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/dpc"
)

// DefaultListenAddr is the port the distributed pixel cache listens on.
const DefaultListenAddr = ":6668"

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	runtimeFlags
	listen string
}

// ServeCmd returns the command running a distributed pixel cache server.
// ready, when not nil, receives the bound address once the server accepts
// connections.
func ServeCmd(env map[string]string, ready func(net.Addr)) *Command {
	var f serveFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	f.register(fs)
	fs.StringVar(&f.listen, "listen", DefaultListenAddr, "Address to listen on")

	return &Command{
		Flags: fs,
		Usage: "serve [flags]",
		Short: "Serve pixel caches to remote clients",
		Long: `Serve pixel caches to compare processes that run out of local resources.

Clients authenticate with the shared secret (--cache-secret or
PIXCACHE_SECRET). The server allocates caches under its own --limit
ceilings and stops on SIGINT or SIGTERM.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: serve takes no arguments", errInvalidFlag)
			}
			return runServe(ctx, o, fs, &f, env, ready)
		},
	}
}

func runServe(ctx context.Context, o *IO, fs *flag.FlagSet, f *serveFlags, env map[string]string, ready func(net.Addr)) error {
	cfg, err := f.load(fs, env)
	if err != nil {
		return err
	}
	if cfg.Secret == "" {
		return fmt.Errorf("%w: a shared secret is required", errInvalidFlag)
	}
	// A server never forwards its own caches.
	cfg.Hosts = nil

	log := logger(o, cfg)
	rt, err := pixcache.New(pixcache.WithConfig(cfg), pixcache.WithLogger(log))
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	ln, err := net.Listen("tcp", f.listen)
	if err != nil {
		return err
	}
	srv := dpc.NewServer(rt.Manager(), []byte(cfg.Secret), dpc.WithServerLogger(log.Logger))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "sessions", srv.Sessions())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, dpc.ErrServerClosed) {
		return err
	}
	return nil
}
