package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tensorbuffers/internal/logger"
	"github.com/samcharles93/tensorbuffers/pkg/convert"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

// namedCollection overrides the model identifier of a collection.
type namedCollection struct {
	convert.Collection
	model string
}

func (c namedCollection) Model() string { return c.model }

// Upcasts forwards the widening count of the wrapped collection.
func (c namedCollection) Upcasts() int {
	if u, ok := c.Collection.(interface{ Upcasts() int }); ok {
		return u.Upcasts()
	}
	return 0
}

func convertCmd() *cli.Command {
	var (
		input    string
		output   string
		format   string
		appendTo bool
		model    string
		noUpcast bool
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a safetensors or GGUF model into a TensorBuffers container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i", "in"},
				Usage:       "input .safetensors file, sharded model directory or .gguf file",
				Destination: &input,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o", "out"},
				Usage:       "output container path (default $TBUF_OUT_DIR/<input>.tbuf)",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "input format (auto, safetensors, gguf)",
				Value:       "auto",
				Destination: &format,
			},
			&cli.BoolFlag{
				Name:        "append",
				Usage:       "append tensors to an existing container",
				Destination: &appendTo,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "model identifier stored in the container metadata",
				Destination: &model,
			},
			&cli.BoolFlag{
				Name:        "no-upcast",
				Usage:       "reject F16/BF16 tensors instead of widening them to Float32",
				Destination: &noUpcast,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			outPath, defaulted, err := resolveConvertOut(input, output)
			if err != nil {
				return err
			}
			if defaulted {
				log.Info("output path not set, using default", "path", outPath)
			}

			opts := convert.DefaultOptions()
			opts.Upcast = !noUpcast
			c, err := convert.Open(input, format, opts)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if model != "" {
				c = namedCollection{Collection: c, model: model}
			}

			var w *tbuf.Writer
			if appendTo {
				w, err = tbuf.OpenAppend(ctx, outPath)
			} else {
				w, err = tbuf.Create(outPath)
			}
			if err != nil {
				return err
			}

			stats, err := convert.Run(ctx, w, c, log)
			if err != nil {
				_ = w.Close()
				return fmt.Errorf("convert %s: %w", input, err)
			}
			_, _ = fmt.Fprintf(stdout(cmd), "wrote %d tensors (%d bytes, %d upcast) to %s\n", stats.Tensors, stats.Bytes, stats.Upcast, outPath)
			return nil
		},
	}
}
