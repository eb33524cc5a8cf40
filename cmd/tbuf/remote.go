package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tensorbuffers/internal/logger"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

// setup loads the config file and installs the logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	cfg = loaded
	applyGlobalConfig(cmd, cfg)

	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func httpOptions(ctx context.Context, observer tbuf.RangeObserver) tbuf.HTTPOptions {
	header := http.Header{}
	for k, v := range cfg.Remote.Headers {
		header.Set(k, v)
	}
	if bearerToken != "" {
		header.Set("Authorization", "Bearer "+bearerToken)
	}
	return tbuf.HTTPOptions{
		Timeout:      timeout,
		MaxRetries:   int(maxRetries),
		RetryWaitMin: cfg.Remote.RetryWaitMin,
		RetryWaitMax: cfg.Remote.RetryWaitMax,
		Header:       header,
		Logger:       logger.FromContext(ctx).WithGroup("http"),
		Observer:     observer,
	}
}

// openContainer opens a local path, file URL or http(s) URL.
func openContainer(ctx context.Context, location string, observer tbuf.RangeObserver) (*tbuf.Reader, error) {
	return tbuf.Open(ctx, location, httpOptions(ctx, observer))
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
