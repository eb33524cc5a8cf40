package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

const envBearerToken = "TBUF_BEARER_TOKEN"

var (
	configFile  string
	logLevel    string
	logFormat   string
	debug       bool
	timeout     time.Duration
	maxRetries  int64
	bearerToken string
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/tensorbuffers/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func remoteFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "per request timeout for remote containers",
			Value:       30 * time.Second,
			Destination: &timeout,
		},
		&cli.Int64Flag{
			Name:        "max-retries",
			Usage:       "retries per range read for remote containers (negative disables)",
			Value:       4,
			Destination: &maxRetries,
		},
		&cli.StringFlag{
			Name:        "bearer-token",
			Usage:       "bearer token sent with remote requests",
			Sources:     cli.EnvVars(envBearerToken),
			Destination: &bearerToken,
		},
	}
}
