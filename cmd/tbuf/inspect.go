package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"lukechampine.com/blake3"

	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

type inspectTensor struct {
	tbuf.TensorMetadata
	Digest string `json:"blake3,omitempty"`
}

type inspectReport struct {
	Location       string                   `json:"location"`
	Version        string                   `json:"version"`
	Model          string                   `json:"model,omitempty"`
	Size           int64                    `json:"size"`
	MetadataOffset int64                    `json:"metadata_offset"`
	MetadataSize   int64                    `json:"metadata_size"`
	Tensors        []inspectTensor          `json:"tensors"`
	Operations     []tbuf.OperationMetadata `json:"operations,omitempty"`
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func inspectCmd() *cli.Command {
	var (
		asJSON     bool
		withDigest bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the tensor table of a container",
		ArgsUsage: "LOCATION",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print a JSON report", Destination: &asJSON},
			&cli.BoolFlag{Name: "digest", Usage: "fetch every payload and print its BLAKE3 digest", Destination: &withDigest},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			location := cmd.Args().First()
			if location == "" {
				return errors.New("inspect: LOCATION is required")
			}
			r, err := openContainer(ctx, location, nil)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			report, err := buildReport(ctx, r, location, withDigest)
			if err != nil {
				return err
			}
			w := stdout(cmd)
			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(data))
				return err
			}
			printReport(w, report, withDigest)
			return nil
		},
	}
}

func buildReport(ctx context.Context, r *tbuf.Reader, location string, withDigest bool) (inspectReport, error) {
	report := inspectReport{
		Location:       location,
		Version:        r.Version(),
		Model:          r.Model(),
		Size:           r.Size(),
		MetadataOffset: r.MetadataOffset(),
		MetadataSize:   r.MetadataSize(),
		Operations:     r.OperationOrder(),
	}
	for _, tm := range r.Tensors() {
		it := inspectTensor{TensorMetadata: tm}
		if withDigest {
			t, err := r.Fetch(ctx, tm)
			if err != nil {
				return report, fmt.Errorf("fetch %q: %w", tm.Name, err)
			}
			it.Digest = digest(t.Data)
		}
		report.Tensors = append(report.Tensors, it)
	}
	return report, nil
}

func printReport(w io.Writer, report inspectReport, withDigest bool) {
	_, _ = fmt.Fprintf(w, "location:  %s\n", report.Location)
	_, _ = fmt.Fprintf(w, "version:   %s\n", report.Version)
	if report.Model != "" {
		_, _ = fmt.Fprintf(w, "model:     %s\n", report.Model)
	}
	_, _ = fmt.Fprintf(w, "size:      %d\n", report.Size)
	_, _ = fmt.Fprintf(w, "metadata:  %d bytes at %d\n", report.MetadataSize, report.MetadataOffset)
	_, _ = fmt.Fprintf(w, "tensors:   %d\n\n", len(report.Tensors))

	header := []string{"NAME", "DTYPE", "SHAPE", "OFFSET", "SIZE"}
	if withDigest {
		header = append(header, "BLAKE3")
	}
	rows := make([][]string, 0, len(report.Tensors))
	for _, t := range report.Tensors {
		row := []string{
			t.Name,
			t.DataType.String(),
			"[" + formatShape(t.Shape) + "]",
			strconv.FormatUint(t.DataOffset, 10),
			strconv.FormatUint(t.DataSize, 10),
		}
		if withDigest {
			row = append(row, t.Digest[:16])
		}
		rows = append(rows, row)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(rows)
	table.Render()

	if len(report.Operations) > 0 {
		_, _ = fmt.Fprintf(w, "\noperations (%d, topological order):\n", len(report.Operations))
		for _, op := range report.Operations {
			inputs := make([]string, len(op.InputOperations))
			for i, in := range op.InputOperations {
				inputs[i] = strconv.FormatUint(in, 10)
			}
			_, _ = fmt.Fprintf(w, "  %d  %-12s output=%#x inputs=[%s]\n", op.ID, op.Operation, op.Output, strings.Join(inputs, " "))
		}
	}
}

func formatShape(shape []uint64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return strings.Join(parts, ",")
}
