package convert

import (
	"fmt"

	"github.com/samcharles93/tensorbuffers/internal/gguf"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

// GGUFCollection reads unquantized tensors from a GGUF file.
type GGUFCollection struct {
	file    *gguf.File
	opts    Options
	upcasts int
}

// OpenGGUF maps a GGUF file.
func OpenGGUF(path string, opts Options) (*GGUFCollection, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("convert: open gguf %s: %w", path, err)
	}
	return &GGUFCollection{file: f, opts: opts}, nil
}

func (c *GGUFCollection) Format() string { return FormatGGUF }

func (c *GGUFCollection) Model() string {
	name, _ := gguf.GetString(c.file.KV, "general.name")
	return name
}

// Upcasts returns how many half precision tensors were widened so far.
func (c *GGUFCollection) Upcasts() int { return c.upcasts }

func (c *GGUFCollection) Each(fn func(Entry) error) error {
	for _, info := range c.file.Tensors {
		e, err := c.entry(info)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *GGUFCollection) entry(info gguf.TensorInfo) (Entry, error) {
	reject := func(reason string) (Entry, error) {
		return Entry{}, &NormalizationError{Format: FormatGGUF, Tensor: info.Name, Type: info.Type.String(), Reason: reason}
	}

	e := Entry{Name: info.Name, Shape: info.Shape()}
	switch info.Type {
	case gguf.GGMLTypeF32:
		e.DataType = tbuf.Float32
	case gguf.GGMLTypeF64:
		e.DataType = tbuf.Float64
	case gguf.GGMLTypeI8:
		e.DataType = tbuf.Int8
	case gguf.GGMLTypeI16:
		e.DataType = tbuf.Int16
	case gguf.GGMLTypeI32:
		e.DataType = tbuf.Int32
	case gguf.GGMLTypeI64:
		e.DataType = tbuf.Int64
	case gguf.GGMLTypeF16, gguf.GGMLTypeBF16:
		if !c.opts.Upcast {
			return reject("half precision is not stored; enable upcasting")
		}
		e.DataType = tbuf.Float32
	default:
		return reject("block-quantized tensors are not supported")
	}

	data, err := c.file.TensorData(info)
	if err != nil {
		return Entry{}, fmt.Errorf("convert: %w", err)
	}
	switch info.Type {
	case gguf.GGMLTypeF16:
		data = f16ToF32(data)
		c.upcasts++
	case gguf.GGMLTypeBF16:
		data = bf16ToF32(data)
		c.upcasts++
	}
	e.Data = data
	return e, nil
}

func (c *GGUFCollection) Close() error {
	return c.file.Close()
}
