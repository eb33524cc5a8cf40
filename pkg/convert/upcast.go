package convert

import (
	"encoding/binary"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// f16ToF32 widens little-endian IEEE half floats to little-endian float32.
func f16ToF32(src []byte) []byte {
	out := make([]byte, 2*len(src))
	for i := 0; i+1 < len(src); i += 2 {
		f := float16.Frombits(binary.LittleEndian.Uint16(src[i:])).Float32()
		binary.LittleEndian.PutUint32(out[2*i:], math.Float32bits(f))
	}
	return out
}

// bf16ToF32 widens little-endian bfloat16 values to little-endian float32.
func bf16ToF32(src []byte) []byte {
	vals := bfloat16.DecodeFloat32(src)
	out := make([]byte, 4*len(vals))
	for i, f := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}
