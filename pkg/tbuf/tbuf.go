// Package tbuf implements the TensorBuffers container format.
//
// A container is laid out as
//
//	[magic:4][tensor payloads][metadata table][metadata size:4][magic:4]
//
// The metadata table is located from the last 8 bytes, so a reader needs only
// the trailer and the table itself before it can resolve any tensor. Payload
// offsets recorded in the metadata are absolute, which lets new tensors be
// appended by writing over the old footer without moving existing payloads.
package tbuf

// Magic is the 4-byte signature at both ends of every container.
const Magic = "TBUF"

// SchemaVersion is the metadata version string written by this package.
const SchemaVersion = "1.0.0"

const (
	magicSize   = 4
	trailerSize = 8 // metadata size (u32 LE) + magic

	// minContainerSize is a header magic plus the trailer with an empty table.
	minContainerSize = magicSize + trailerSize

	// dataStart is the offset of the first payload byte.
	dataStart = magicSize
)
