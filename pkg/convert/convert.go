// Package convert translates tensor collections parsed from other model
// formats into TensorBuffers containers.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samcharles93/tensorbuffers/internal/logger"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

// ErrNormalization reports a source tensor that has no TensorBuffers equivalent.
var ErrNormalization = errors.New("convert: cannot normalize tensor")

// NormalizationError describes one tensor a collection could not translate.
type NormalizationError struct {
	Format string
	Tensor string
	Type   string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("convert: %s tensor %q of type %s: %s", e.Format, e.Tensor, e.Type, e.Reason)
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrNormalization
}

// Entry is one tensor ready to be written.
type Entry struct {
	Name     string
	Shape    []uint64
	DataType tbuf.DataType
	Data     []byte
}

// Collection yields the tensors of an external model file.
type Collection interface {
	// Format names the source format, e.g. "safetensors".
	Format() string
	// Model is a model identifier found in the source, or empty.
	Model() string
	// Each calls fn for every tensor in the source's order. Entry data is
	// only valid during the call.
	Each(fn func(Entry) error) error
	Close() error
}

// Options controls how source types are normalized.
type Options struct {
	// Upcast turns F16 and BF16 tensors into Float32. When false they are
	// rejected with a NormalizationError.
	Upcast bool
}

// DefaultOptions upcasts half precision tensors.
func DefaultOptions() Options {
	return Options{Upcast: true}
}

// Stats summarizes a conversion.
type Stats struct {
	Tensors  int
	Bytes    uint64
	Upcast   int
	Duration time.Duration
}

// Run writes every entry of c through w and finalizes it. Writer errors
// are returned unchanged.
func Run(ctx context.Context, w *tbuf.Writer, c Collection, log logger.Logger) (Stats, error) {
	start := time.Now()
	var stats Stats

	if model := c.Model(); model != "" {
		if err := w.SetModel(model); err != nil {
			return stats, err
		}
	}

	err := c.Each(func(e Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tm, err := w.AddTensor(e.Name, e.Shape, e.DataType, e.Data)
		if err != nil {
			return err
		}
		stats.Tensors++
		stats.Bytes += tm.DataSize
		log.Debug("tensor written", "name", tm.Name, "shape", tm.Shape, "dtype", tm.DataType.String(), "offset", tm.DataOffset, "size", tm.DataSize)
		return nil
	})
	if err != nil {
		return stats, err
	}
	if u, ok := c.(interface{ Upcasts() int }); ok {
		stats.Upcast = u.Upcasts()
	}
	if err := w.Finalize(); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	log.Info("conversion finished", "format", c.Format(), "tensors", stats.Tensors, "bytes", stats.Bytes, "upcast", stats.Upcast, "duration", stats.Duration)
	return stats, nil
}

// Open opens path as a collection of the given format: "auto",
// "safetensors" or "gguf".
func Open(path, format string, opts Options) (Collection, error) {
	if format == "" || format == "auto" {
		detected, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = detected
	}
	switch format {
	case FormatSafetensors:
		return OpenSafetensors(path, opts)
	case FormatGGUF:
		return OpenGGUF(path, opts)
	default:
		return nil, fmt.Errorf("convert: unknown format %q", format)
	}
}

const (
	FormatSafetensors = "safetensors"
	FormatGGUF        = "gguf"
)

// DetectFormat guesses the format of path from its name or magic bytes.
func DetectFormat(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return FormatSafetensors, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return FormatSafetensors, nil
	case ".gguf":
		return FormatGGUF, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 0); err == nil && string(magic[:]) == "GGUF" {
		return FormatGGUF, nil
	}
	return FormatSafetensors, nil
}
