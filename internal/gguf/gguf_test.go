package gguf_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/tensorbuffers/internal/gguf"
	"github.com/samcharles93/tensorbuffers/internal/gguf/gguftest"
)

func writeTestFile(t *testing.T, kv []gguftest.KeyValue, tensors []gguftest.TensorPayload) string {
	t.Helper()

	var buf bytes.Buffer
	if err := gguftest.Write(&buf, kv, tensors); err != nil {
		t.Fatalf("write gguf: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func TestOpenParsesDirectory(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t,
		[]gguftest.KeyValue{
			{Key: "general.name", Value: "tiny"},
			{Key: "general.architecture", Value: "llama"},
			{Key: "llama.block_count", Value: uint32(2)},
		},
		[]gguftest.TensorPayload{
			{Name: "tok_embd", Dims: []uint64{3, 2}, Type: gguf.GGMLTypeF32, Data: f32Bytes(1, 2, 3, 4, 5, 6)},
			{Name: "norm", Dims: []uint64{3}, Type: gguf.GGMLTypeI8, Data: []byte{1, 2, 3}},
		},
	)

	f, err := gguf.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Header.Version != 3 || f.Header.TensorCount != 2 || f.Header.KVCount != 3 {
		t.Fatalf("header = %+v", f.Header)
	}
	if name, ok := gguf.GetString(f.KV, "general.name"); !ok || name != "tiny" {
		t.Fatalf("general.name = %q, %v", name, ok)
	}
	if n, ok := gguf.GetUint64(f.KV, "llama.block_count"); !ok || n != 2 {
		t.Fatalf("block_count = %d, %v", n, ok)
	}
	if f.DataOffset%32 != 0 {
		t.Fatalf("data offset %d not aligned", f.DataOffset)
	}

	info, ok := f.TensorByName("tok_embd")
	if !ok {
		t.Fatalf("tok_embd missing")
	}
	if got := info.Shape(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("row-major shape = %v, want [2 3]", got)
	}
	data, err := f.TensorData(info)
	if err != nil {
		t.Fatalf("tensor data: %v", err)
	}
	if !bytes.Equal(data, f32Bytes(1, 2, 3, 4, 5, 6)) {
		t.Fatalf("tok_embd payload mismatch")
	}

	norm, _ := f.TensorByName("norm")
	data, err = f.TensorData(norm)
	if err != nil || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Fatalf("norm payload = %v, %v", data, err)
	}
}

func TestTensorDataRejectsQuantized(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, nil, []gguftest.TensorPayload{
		{Name: "q", Dims: []uint64{32}, Type: gguf.GGMLTypeQ8_0, Data: make([]byte, 34)},
	})
	f, err := gguf.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.TensorData(f.Tensors[0]); !errors.Is(err, gguf.ErrUnsupportedType) {
		t.Fatalf("got %v, want gguf.ErrUnsupportedType", err)
	}
}

func TestOpenRejectsBadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.gguf")
	if err := os.WriteFile(bad, []byte("GGML\x03\x00\x00\x00"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := gguf.Open(bad); !errors.Is(err, gguf.ErrInvalidMagic) {
		t.Fatalf("bad magic: got %v", err)
	}

	truncated := filepath.Join(dir, "truncated.gguf")
	if err := os.WriteFile(truncated, []byte("GGUF\x03\x00\x00\x00\x05"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := gguf.Open(truncated); err == nil {
		t.Fatalf("truncated header: expected error")
	}
}

func TestHelpersTypeChecks(t *testing.T) {
	t.Parallel()

	kv := map[string]gguf.Value{
		"s":   {Type: gguf.TypeString, Value: "hello"},
		"u":   {Type: gguf.TypeUint32, Value: uint32(7)},
		"neg": {Type: gguf.TypeInt32, Value: int32(-1)},
	}
	if _, ok := gguf.GetString(kv, "u"); ok {
		t.Fatalf("GetString accepted an integer")
	}
	if v, ok := gguf.GetUint64(kv, "u"); !ok || v != 7 {
		t.Fatalf("gguf.GetUint64(u) = %d, %v", v, ok)
	}
	if _, ok := gguf.GetUint64(kv, "neg"); ok {
		t.Fatalf("GetUint64 accepted a negative value")
	}
	if _, ok := gguf.GetString(kv, "missing"); ok {
		t.Fatalf("GetString found a missing key")
	}
}
