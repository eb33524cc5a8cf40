package tbuf

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat      = errors.New("tbuf: invalid container format")
	ErrCorruptMetadata    = errors.New("tbuf: corrupt metadata")
	ErrMalformedGraph     = errors.New("tbuf: malformed operation graph")
	ErrNotFound           = errors.New("tbuf: not found")
	ErrRange              = errors.New("tbuf: range out of bounds")
	ErrUnsupportedRange   = errors.New("tbuf: source does not support range requests")
	ErrIO                 = errors.New("tbuf: i/o error")
	ErrDuplicateName      = errors.New("tbuf: duplicate tensor name")
	ErrShapeMismatch      = errors.New("tbuf: payload does not match shape")
	ErrUnknownTensor      = errors.New("tbuf: unknown tensor")
	ErrUnknownOperation   = errors.New("tbuf: unknown operation")
	ErrCycleDetected      = errors.New("tbuf: operation graph cycle")
	ErrInvalidState       = errors.New("tbuf: writer already finalized")
	ErrInvalidArgument    = errors.New("tbuf: invalid argument")
	ErrDuplicateOperation = errors.New("tbuf: duplicate operation id")
	ErrDataTypeMismatch   = errors.New("tbuf: data type mismatch")
)

// RangeError reports a byte range that does not fit inside a source or region.
type RangeError struct {
	Offset int64
	Length int64
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("tbuf: range [%d, %d+%d) out of bounds for size %d", e.Offset, e.Offset, e.Length, e.Size)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}

func checkRange(off, n, size int64) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return &RangeError{Offset: off, Length: n, Size: size}
	}
	return nil
}
