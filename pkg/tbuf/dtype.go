package tbuf

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType is the element type of a stored tensor.
type DataType uint8

const (
	DataTypeNone DataType = iota
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
)

var dataTypeNames = [...]string{
	DataTypeNone: "None",
	Float32:      "Float32",
	Float64:      "Float64",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	UInt8:        "UInt8",
	UInt16:       "UInt16",
	UInt32:       "UInt32",
	UInt64:       "UInt64",
}

// Size returns the element size in bytes, or 0 for None and unknown values.
func (d DataType) Size() int {
	switch d {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Float32, Int32, UInt32:
		return 4
	case Float64, Int64, UInt64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d may be used for a stored tensor.
func (d DataType) Valid() bool {
	return d.Size() > 0
}

func (d DataType) String() string {
	if int(d) < len(dataTypeNames) {
		return dataTypeNames[d]
	}
	return "DataType(" + strconv.Itoa(int(d)) + ")"
}

// ParseDataType resolves a data type name case-insensitively.
func ParseDataType(s string) (DataType, bool) {
	for i, name := range dataTypeNames {
		if i != 0 && strings.EqualFold(name, s) {
			return DataType(i), true
		}
	}
	return DataTypeNone, false
}

func (d DataType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DataType) UnmarshalText(b []byte) error {
	v, ok := ParseDataType(string(b))
	if !ok {
		return fmt.Errorf("%w: data type %q", ErrInvalidArgument, b)
	}
	*d = v
	return nil
}
