package cli

import (
	"fmt"
	"log/slog"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/pixcache"
)

// runtimeFlags are the settings every command accepts. They are applied on
// top of the config file and the environment.
type runtimeFlags struct {
	config    string
	limits    []string
	hosts     []string
	secret    string
	remote    string
	logLevel  string
	logFormat string
}

func (f *runtimeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "HuJSON config file")
	fs.StringArrayVar(&f.limits, "limit", nil, "Resource limit as kind=value (memory, map, disk, width, height, thread, throttle)")
	fs.StringSliceVar(&f.hosts, "cache-host", nil, "Distributed pixel cache hosts")
	fs.StringVar(&f.secret, "cache-secret", "", "Shared secret of the distributed pixel cache")
	fs.StringVar(&f.remote, "remote", "", "Blob store URL backing overflow caches (file://, memory://, s3://, minio://)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
}

// load resolves the configuration: defaults, then the config file, then
// env, then flags.
func (f *runtimeFlags) load(fs *flag.FlagSet, env map[string]string) (pixcache.Config, error) {
	cfg, err := pixcache.LoadConfig(f.config, lookupEnv(env))
	if err != nil {
		return pixcache.Config{}, err
	}
	for _, l := range f.limits {
		kind, value, ok := strings.Cut(l, "=")
		if !ok {
			return pixcache.Config{}, fmt.Errorf("%w: --limit %q, want kind=value", errInvalidFlag, l)
		}
		if err := cfg.SetLimit(kind, value); err != nil {
			return pixcache.Config{}, err
		}
	}
	if fs.Changed("cache-host") {
		cfg.Hosts = f.hosts
	}
	if fs.Changed("cache-secret") {
		cfg.Secret = f.secret
	}
	if fs.Changed("remote") {
		cfg.Remote = f.remote
	}
	if f.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(f.logLevel)); err != nil {
			return pixcache.Config{}, fmt.Errorf("%w: --log-level %q", errInvalidFlag, f.logLevel)
		}
	}
	switch strings.ToLower(f.logFormat) {
	case "":
	case "text", "json":
		cfg.LogFormat = strings.ToLower(f.logFormat)
	default:
		return pixcache.Config{}, fmt.Errorf("%w: --log-format %q", errInvalidFlag, f.logFormat)
	}
	return cfg, nil
}

// logger writes the runtime log to the command's stderr.
func logger(o *IO, cfg pixcache.Config) *pixcache.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return pixcache.NewLogger(slog.NewJSONHandler(o.Err(), opts))
	}
	return pixcache.NewLogger(slog.NewTextHandler(o.Err(), opts))
}

func lookupEnv(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}
