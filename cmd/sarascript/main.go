package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/ib-77/sarascript/pkg/assemble"
	"github.com/ib-77/sarascript/pkg/config"
	"github.com/ib-77/sarascript/pkg/fetch"
	"github.com/ib-77/sarascript/pkg/rop/core"
	"github.com/ib-77/sarascript/pkg/server"
)

func main() {
	usage := fmt.Sprintf(`Sarascript document assembler.

Render a document once, or serve a directory and assemble HTML and Markdown
on every request.

Usage:
    sarascript render <file> [--config=<path>] [--authority=<authority>] [--v=<level>]
    sarascript serve [--config=<path>] [--listen=<addr>] [--v=<level>]
    sarascript -h | --help
    sarascript --version

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<path>            Configuration file [default: %s].
    --authority=<authority>    Host (and port) for directives without one.
    --listen=<addr>            Address to serve on, overrides the config.
    --v=<level>                Log verbosity [default: 0].`, config.DefaultPath)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], fetch.Version)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if v, _ := opts.String("--v"); v != "" {
		flag.Set("v", v)
	}
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if render_, _ := opts.Bool("render"); render_ {
		err = render(ctx, opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		err = serve(ctx, opts)
	}
	if err != nil {
		glog.Errorf("%v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func render(ctx context.Context, opts docopt.Opts) error {
	c, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if authority, _ := opts.String("--authority"); authority != "" {
		c.DefaultAuthority = authority
		if err := c.Validate(); err != nil {
			return err
		}
	}

	path, _ := opts.String("<file>")
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	fetcher, closeFetcher, err := newFetcher(ctx, c)
	if err != nil {
		return err
	}
	defer closeFetcher()

	out, err := assemble.New(fetcher).Assemble(core.WithWorkerOptions(ctx, c.MaxWorkers), src)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func serve(ctx context.Context, opts docopt.Opts) error {
	c, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if listen, _ := opts.String("--listen"); listen != "" {
		c.Listen = listen
	}

	fetcher, closeFetcher, err := newFetcher(ctx, c)
	if err != nil {
		return err
	}
	defer closeFetcher()

	s := server.New(server.Options{
		Root:                c.Root,
		ServerSideRendering: c.ServerSideRendering,
		MaxWorkers:          c.MaxWorkers,
	}, assemble.New(fetcher))
	return s.ListenAndServe(ctx, c.Listen)
}

// loadConfig reads --config. A missing file at the default path means the
// defaults; a missing file named explicitly is an error.
func loadConfig(opts docopt.Opts) (*config.Config, error) {
	path, _ := opts.String("--config")
	c, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == config.DefaultPath {
		glog.Infof("[sarascript] no configuration at %s, using defaults\n", path)
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	glog.Infof("[sarascript] loaded configuration from %s\n", path)
	return c, nil
}

// newFetcher builds the fetch stack: a client, request coalescing, and the
// Redis cache when one is configured and reachable.
func newFetcher(ctx context.Context, c *config.Config) (assemble.Fetcher, func(), error) {
	pool, err := c.CertPool()
	if err != nil {
		return nil, nil, err
	}

	var f fetch.Fetcher = fetch.Coalesce(&fetch.Client{
		DefaultAuthority: c.DefaultAuthority,
		RootCAs:          pool,
		ConnectTimeout:   c.ConnectTimeout,
		TLSTimeout:       c.TLSTimeout,
		RequestTimeout:   c.RequestTimeout,
	})

	if c.Redis.Addr == "" {
		return f, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.Redis.Addr})
	cache := fetch.NewRedisCache(rdb, "")
	if err := cache.Ping(ctx); err != nil {
		glog.Warningf("[sarascript] redis %s unreachable, fetching without cache: %v\n", c.Redis.Addr, err)
		rdb.Close()
		return f, func() {}, nil
	}
	glog.Infof("[sarascript] caching fetches in redis %s for %s\n", c.Redis.Addr, c.Redis.TTL)
	return fetch.WithCache(f, cache, c.Redis.TTL), func() { rdb.Close() }, nil
}
