// Point record types and their fixed-size layouts.
//
// A point is the six-u64 leaf record of the archive: a key
// (timestamp, point id, entry number) and a value (three measurement
// slots). Layouts are the capability set the sorted buffer and other
// fixed-size containers are parameterized over — size, read, write,
// and key ordering — bound once at construction rather than
// dispatched per record.
//
// Keys serialise big-endian so that bytes.Compare over the 24-byte
// blob is exactly the (timestamp, pointID, entryNumber) order; the
// buffer never needs to interpret key bytes itself.
package tsarc

import (
	"bytes"
	"encoding/binary"
)

// PointKey orders points by time, then series, then entry.
type PointKey struct {
	Timestamp   uint64
	PointID     uint64
	EntryNumber uint64
}

// PointValue carries the three measurement slots.
type PointValue struct {
	Value1 uint64
	Value2 uint64
	Value3 uint64
}

const (
	pointKeySize   = 24
	pointValueSize = 24
)

// Layout is the fixed-size record capability: how many bytes a record
// occupies, how to move it in and out of a byte slot, and (for keys)
// how two serialised records order.
type Layout[T any] struct {
	Size        int
	Read        func(src []byte, v *T)
	Write       func(dst []byte, v *T)
	LessOrEqual func(a, b []byte) bool
}

// PointKeyLayout returns the layout for PointKey.
func PointKeyLayout() Layout[PointKey] {
	return Layout[PointKey]{
		Size: pointKeySize,
		Read: func(src []byte, k *PointKey) {
			k.Timestamp = binary.BigEndian.Uint64(src[0:8])
			k.PointID = binary.BigEndian.Uint64(src[8:16])
			k.EntryNumber = binary.BigEndian.Uint64(src[16:24])
		},
		Write: func(dst []byte, k *PointKey) {
			binary.BigEndian.PutUint64(dst[0:8], k.Timestamp)
			binary.BigEndian.PutUint64(dst[8:16], k.PointID)
			binary.BigEndian.PutUint64(dst[16:24], k.EntryNumber)
		},
		LessOrEqual: func(a, b []byte) bool {
			return bytes.Compare(a[:pointKeySize], b[:pointKeySize]) <= 0
		},
	}
}

// PointValueLayout returns the layout for PointValue. Values carry no
// ordering; LessOrEqual is nil.
func PointValueLayout() Layout[PointValue] {
	return Layout[PointValue]{
		Size: pointValueSize,
		Read: func(src []byte, v *PointValue) {
			v.Value1 = binary.BigEndian.Uint64(src[0:8])
			v.Value2 = binary.BigEndian.Uint64(src[8:16])
			v.Value3 = binary.BigEndian.Uint64(src[16:24])
		},
		Write: func(dst []byte, v *PointValue) {
			binary.BigEndian.PutUint64(dst[0:8], v.Value1)
			binary.BigEndian.PutUint64(dst[8:16], v.Value2)
			binary.BigEndian.PutUint64(dst[16:24], v.Value3)
		},
	}
}
