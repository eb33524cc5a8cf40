package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tensorbuffers/internal/logger"
)

func getCmd() *cli.Command {
	var (
		name   string
		output string
	)

	return &cli.Command{
		Name:      "get",
		Usage:     "Write the raw payload of one tensor",
		ArgsUsage: "LOCATION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Aliases:     []string{"n"},
				Usage:       "tensor name",
				Destination: &name,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output file (default stdout)",
				Destination: &output,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			location := cmd.Args().First()
			if location == "" {
				return errors.New("get: LOCATION is required")
			}
			r, err := openContainer(ctx, location, nil)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			t, err := r.FetchByName(ctx, name)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Debug("fetched tensor", "name", name, "dtype", t.DataType().String(), "shape", t.Shape(), "size", len(t.Data))

			if output == "" {
				_, err = stdout(cmd).Write(t.Data)
				return err
			}
			if err := os.WriteFile(output, t.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			return nil
		},
	}
}
