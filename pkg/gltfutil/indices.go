package gltfutil

import (
	"encoding/binary"
	"errors"

	"github.com/qmuntal/gltf"
)

var (
	// ErrBadIndexAccessor marks an index accessor that cannot be read.
	ErrBadIndexAccessor = errors.New("gltfutil: unreadable index accessor")
	// ErrBadIndexComponent marks an unsupported index component type.
	ErrBadIndexComponent = errors.New("gltfutil: unsupported index component type")
)

// ReadIndexStream decodes an index accessor to uint32 values, honoring
// the view stride.
func ReadIndexStream(doc *gltf.Document, accessorIdx uint32) ([]uint32, error) {
	span, ok := ResolveSpan(doc, accessorIdx)
	if !ok {
		return nil, ErrBadIndexAccessor
	}

	acc := doc.Accessors[accessorIdx]
	out := make([]uint32, span.Count)

	switch acc.ComponentType {
	case gltf.ComponentUbyte:
		for i := uint32(0); i < span.Count; i++ {
			out[i] = uint32(span.At(i)[0])
		}
	case gltf.ComponentUshort:
		for i := uint32(0); i < span.Count; i++ {
			out[i] = uint32(binary.LittleEndian.Uint16(span.At(i)))
		}
	case gltf.ComponentUint:
		for i := uint32(0); i < span.Count; i++ {
			out[i] = binary.LittleEndian.Uint32(span.At(i))
		}
	default:
		return nil, ErrBadIndexComponent
	}

	return out, nil
}

// IndexTypeForMax returns the smallest index component type that can
// represent maxIndex.
func IndexTypeForMax(maxIndex uint32) gltf.ComponentType {
	switch {
	case maxIndex <= 255:
		return gltf.ComponentUbyte
	case maxIndex <= 65535:
		return gltf.ComponentUshort
	default:
		return gltf.ComponentUint
	}
}

// PutIndex writes one index value into element i of a span allocated
// with the given component type.
func PutIndex(span Span, i uint32, value uint32, c gltf.ComponentType) {
	dst := span.At(i)
	switch c {
	case gltf.ComponentUbyte:
		dst[0] = byte(value)
	case gltf.ComponentUshort:
		binary.LittleEndian.PutUint16(dst, uint16(value))
	case gltf.ComponentUint:
		binary.LittleEndian.PutUint32(dst, value)
	}
}

// IdentityIndices returns the sequence [0, n).
func IdentityIndices(n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}
