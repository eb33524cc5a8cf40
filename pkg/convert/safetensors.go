package convert

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"github.com/nlpodyssey/safetensors"
	"github.com/nlpodyssey/safetensors/dtype"

	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

const (
	shardIndexFile        = "model.safetensors.index.json"
	safetensorsHeaderSize = 100 << 20
)

type shardIndex struct {
	Metadata  map[string]any    `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

type safetensorsShard struct {
	path  string
	file  *os.File
	st    *safetensors.LazyST
	names []string
}

// SafetensorsCollection reads one safetensors file or a directory of shards.
// Tensor payloads are read lazily, one at a time.
type SafetensorsCollection struct {
	shards  []*safetensorsShard
	model   string
	opts    Options
	upcasts int
}

// OpenSafetensors opens a .safetensors file, or a directory holding either
// a sharded checkpoint with model.safetensors.index.json or plain
// *.safetensors files.
func OpenSafetensors(path string, opts Options) (*SafetensorsCollection, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if st.IsDir() {
		files, err = shardFiles(path)
		if err != nil {
			return nil, err
		}
	} else {
		files = []string{path}
	}

	c := &SafetensorsCollection{opts: opts}
	for _, file := range files {
		shard, err := openShard(file)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.shards = append(c.shards, shard)
		if c.model == "" {
			c.model = modelFromMetadata(shard.st.Metadata())
		}
	}
	return c, nil
}

func shardFiles(dir string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, shardIndexFile))
	switch {
	case err == nil:
		var idx shardIndex
		if err := json.Unmarshal(raw, &idx); err != nil {
			return nil, fmt.Errorf("convert: parse %s: %w", shardIndexFile, err)
		}
		var files []string
		for _, shard := range idx.WeightMap {
			p := filepath.Join(dir, filepath.Clean(shard))
			if !slices.Contains(files, p) {
				files = append(files, p)
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("convert: %s lists no shards", shardIndexFile)
		}
		slices.Sort(files)
		return files, nil
	case errors.Is(err, os.ErrNotExist):
		files, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("convert: no .safetensors files in %s", dir)
		}
		slices.Sort(files)
		return files, nil
	default:
		return nil, err
	}
}

func openShard(path string) (*safetensorsShard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := safetensors.NewLazy(f, safetensorsHeaderSize)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("convert: read safetensors header of %s: %w", path, err)
	}
	names := st.TensorNames()
	slices.Sort(names)
	return &safetensorsShard{path: path, file: f, st: st, names: names}, nil
}

func modelFromMetadata(md map[string]string) string {
	for _, key := range []string{"model", "name", "model_name"} {
		if v := md[key]; v != "" {
			return v
		}
	}
	return ""
}

func (c *SafetensorsCollection) Format() string { return FormatSafetensors }
func (c *SafetensorsCollection) Model() string  { return c.model }

// Upcasts returns how many half precision tensors were widened so far.
func (c *SafetensorsCollection) Upcasts() int { return c.upcasts }

func (c *SafetensorsCollection) Each(fn func(Entry) error) error {
	for _, shard := range c.shards {
		for _, name := range shard.names {
			lt, ok := shard.st.LazyTensor(name)
			if !ok {
				return fmt.Errorf("convert: tensor %q vanished from %s", name, shard.path)
			}
			e, err := c.entry(lt)
			if err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *SafetensorsCollection) entry(lt safetensors.LazyTensor) (Entry, error) {
	dt := lt.DType()
	shape := make([]uint64, 0, len(lt.Shape()))
	for _, d := range lt.Shape() {
		shape = append(shape, uint64(d))
	}
	e := Entry{Name: lt.Name(), Shape: shape}

	reject := func(reason string) (Entry, error) {
		return Entry{}, &NormalizationError{Format: FormatSafetensors, Tensor: lt.Name(), Type: dt.String(), Reason: reason}
	}

	switch dt {
	case dtype.F32:
		e.DataType = tbuf.Float32
	case dtype.F64:
		e.DataType = tbuf.Float64
	case dtype.I8:
		e.DataType = tbuf.Int8
	case dtype.I16:
		e.DataType = tbuf.Int16
	case dtype.I32:
		e.DataType = tbuf.Int32
	case dtype.I64:
		e.DataType = tbuf.Int64
	case dtype.U8:
		e.DataType = tbuf.UInt8
	case dtype.U16:
		e.DataType = tbuf.UInt16
	case dtype.U32:
		e.DataType = tbuf.UInt32
	case dtype.U64:
		e.DataType = tbuf.UInt64
	case dtype.F16, dtype.BF16:
		if !c.opts.Upcast {
			return reject("half precision is not stored; enable upcasting")
		}
		e.DataType = tbuf.Float32
	case dtype.Bool:
		return reject("boolean tensors have no equivalent data type")
	default:
		return reject("unknown data type")
	}

	data, err := lt.ReadData()
	if err != nil {
		return Entry{}, fmt.Errorf("convert: read tensor %q: %w", lt.Name(), err)
	}
	switch dt {
	case dtype.F16:
		data = f16ToF32(data)
		c.upcasts++
	case dtype.BF16:
		data = bf16ToF32(data)
		c.upcasts++
	}
	if data == nil {
		data = []byte{}
	}
	e.Data = data
	return e, nil
}

func (c *SafetensorsCollection) Close() error {
	var errs []error
	for _, shard := range c.shards {
		if err := shard.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.shards = nil
	return errors.Join(errs...)
}
