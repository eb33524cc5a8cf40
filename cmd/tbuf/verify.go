package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/tensorbuffers/internal/logger"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

var errVerifyMismatch = errors.New("verify: containers differ")

func verifyCmd() *cli.Command {
	var (
		against     string
		concurrency int64
	)

	return &cli.Command{
		Name:      "verify",
		Usage:     "Fetch every tensor and check payload sizes, optionally against a second copy",
		ArgsUsage: "LOCATION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "against",
				Usage:       "second location whose payload digests must match",
				Destination: &against,
			},
			&cli.Int64Flag{
				Name:        "concurrency",
				Aliases:     []string{"j"},
				Usage:       "parallel tensor fetches",
				Value:       int64(runtime.GOMAXPROCS(0)),
				Destination: &concurrency,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConcurrencyConfig(cmd, cfg, &concurrency)
			location := cmd.Args().First()
			if location == "" {
				return errors.New("verify: LOCATION is required")
			}
			log := logger.FromContext(ctx)

			r, err := openContainer(ctx, location, nil)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			var other *tbuf.Reader
			if against != "" {
				other, err = openContainer(ctx, against, nil)
				if err != nil {
					return err
				}
				defer func() { _ = other.Close() }()
			}

			mismatches, err := verifyContainers(ctx, r, other, int(concurrency))
			if err != nil {
				return err
			}
			for _, m := range mismatches {
				log.Error("tensor mismatch", "name", m)
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%w: %d tensors", errVerifyMismatch, len(mismatches))
			}
			_, _ = fmt.Fprintf(stdout(cmd), "ok: %d tensors verified\n", r.NumTensors())
			return nil
		},
	}
}

// verifyContainers fetches every tensor of r with bounded parallelism. When
// other is set, tensors missing from it or with different digests are
// returned by name.
func verifyContainers(ctx context.Context, r, other *tbuf.Reader, concurrency int) ([]string, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	if other != nil && other.NumTensors() != r.NumTensors() {
		logger.FromContext(ctx).Warn("tensor counts differ", "left", r.NumTensors(), "right", other.NumTensors())
	}

	var (
		mu         sync.Mutex
		mismatches []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, tm := range r.Tensors() {
		g.Go(func() error {
			t, err := r.Fetch(gctx, tm)
			if err != nil {
				return fmt.Errorf("fetch %q: %w", tm.Name, err)
			}
			if uint64(len(t.Data)) != tm.DataSize {
				return fmt.Errorf("%w: %q has %d bytes, want %d", tbuf.ErrShapeMismatch, tm.Name, len(t.Data), tm.DataSize)
			}
			if other == nil {
				return nil
			}
			ot, err := other.FetchByName(gctx, tm.Name)
			if err == nil && ot.DataType() == tm.DataType && digest(ot.Data) == digest(t.Data) {
				return nil
			}
			if err != nil && !errors.Is(err, tbuf.ErrNotFound) {
				return fmt.Errorf("fetch %q from second location: %w", tm.Name, err)
			}
			mu.Lock()
			mismatches = append(mismatches, tm.Name)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(mismatches)
	return mismatches, nil
}
