package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tensorbuffers/internal/cache"
	"github.com/samcharles93/tensorbuffers/internal/logger"
	"github.com/samcharles93/tensorbuffers/internal/metrics"
	"github.com/samcharles93/tensorbuffers/internal/server"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

func serveCmd() *cli.Command {
	var (
		addr         string
		cacheEntries int64
		cacheBytes   int64
		readTimeout  time.Duration
	)

	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve a container over HTTP",
		ArgsUsage: "LOCATION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.Int64Flag{
				Name:        "cache-entries",
				Usage:       "tensor payloads kept in memory",
				Value:       cache.DefaultMaxEntries,
				Destination: &cacheEntries,
			},
			&cli.Int64Flag{
				Name:        "cache-bytes",
				Usage:       "upper bound on cached payload bytes (negative disables the cache)",
				Value:       cache.DefaultMaxBytes,
				Destination: &cacheBytes,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, cfg, &addr, &cacheEntries)
			location := cmd.Args().First()
			if location == "" {
				return errors.New("serve: LOCATION is required")
			}
			log := logger.FromContext(ctx)

			m := metrics.New()
			r, err := openContainer(ctx, location, m)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			opts := server.Options{
				Name:    filepath.Base(location),
				Metrics: m,
				Logger:  log.WithGroup("server"),
			}
			if !tbuf.IsRemote(location) {
				if st, err := os.Stat(location); err == nil {
					opts.ModTime = st.ModTime()
				}
			}
			fetcher := cache.New(r, cache.Options{
				MaxEntries: int(cacheEntries),
				MaxBytes:   cacheBytes,
				Observer:   m,
			})
			srv := server.New(fetcher, opts)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			srv.Register(e)
			log.Info("starting server", "address", addr, "location", location, "tensors", r.NumTensors())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(s *http.Server) error {
					s.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, srv.Instrument(e))
		},
	}
}
