package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envOutDir       = "TBUF_OUT_DIR"
	containerSuffix = ".tbuf"
)

// resolveConvertOut picks the output path for convert. Without --output it
// is $TBUF_OUT_DIR/<input base>.tbuf, defaulting to ./out.
func resolveConvertOut(input, outFlag string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(filepath.Clean(input))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid input path: %q", input)
	}
	for _, ext := range []string{".safetensors", ".gguf"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}

	outDir := strings.TrimSpace(os.Getenv(envOutDir))
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}

	outPath := filepath.Join(outDir, base+containerSuffix)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}
