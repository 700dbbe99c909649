// Package gltfutil provides the shared low-level utilities the transform
// passes are built on: strided accessor resolution, accessor allocation,
// index stream decoding and the document-wide reference walker.
package gltfutil

import (
	"github.com/qmuntal/gltf"
)

// ComponentSize returns the byte width of a single component.
func ComponentSize(c gltf.ComponentType) uint32 {
	switch c {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentUint, gltf.ComponentFloat:
		return 4
	default:
		return 0
	}
}

// ComponentCount returns the number of components per element.
func ComponentCount(t gltf.AccessorType) uint32 {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	default:
		return 0
	}
}

// ElementSize returns the tightly packed byte size of one element.
func ElementSize(t gltf.AccessorType, c gltf.ComponentType) uint32 {
	return ComponentCount(t) * ComponentSize(c)
}

// Span is a resolved, bounds-checked view over an accessor's data.
// Data starts at the accessor's first element; element i lives at
// Data[i*Stride : i*Stride+ElemSize].
type Span struct {
	Data     []byte
	Stride   uint32
	ElemSize uint32
	Count    uint32
}

// At returns the bytes of element i.
func (s Span) At(i uint32) []byte {
	off := i * s.Stride
	return s.Data[off : off+s.ElemSize]
}

// Tight reports whether the elements are tightly packed.
func (s Span) Tight() bool {
	return s.Stride == s.ElemSize
}

// ResolveSpan resolves an accessor index to a Span, validating the
// accessor -> bufferView -> buffer chain and that the addressed range
// fits the buffer. Accessors without a buffer view (Draco-compressed
// primitives) and any out-of-range condition resolve to not-ok.
func ResolveSpan(doc *gltf.Document, accessorIdx uint32) (Span, bool) {
	if int(accessorIdx) >= len(doc.Accessors) {
		return Span{}, false
	}
	acc := doc.Accessors[accessorIdx]
	if acc.BufferView == nil || int(*acc.BufferView) >= len(doc.BufferViews) {
		return Span{}, false
	}
	view := doc.BufferViews[*acc.BufferView]
	if int(view.Buffer) >= len(doc.Buffers) {
		return Span{}, false
	}
	buffer := doc.Buffers[view.Buffer]

	elemSize := ElementSize(acc.Type, acc.ComponentType)
	if elemSize == 0 {
		return Span{}, false
	}

	stride := view.ByteStride
	if stride == 0 {
		stride = elemSize
	}

	offset := uint64(view.ByteOffset) + uint64(acc.ByteOffset)
	var required uint64
	if acc.Count > 0 {
		required = offset + uint64(stride)*uint64(acc.Count-1) + uint64(elemSize)
	}
	if required > uint64(len(buffer.Data)) {
		return Span{}, false
	}

	return Span{
		Data:     buffer.Data[offset:],
		Stride:   stride,
		ElemSize: elemSize,
		Count:    acc.Count,
	}, true
}

// AllocateAccessor creates a fresh buffer sized for count tightly packed
// elements, a view spanning it from offset 0 and an accessor at byte
// offset 0, and returns the new accessor's index. Callers fill the bytes
// through ResolveSpan.
func AllocateAccessor(doc *gltf.Document, count uint32, t gltf.AccessorType, c gltf.ComponentType, target gltf.Target) uint32 {
	size := uint32(uint64(count) * uint64(ElementSize(t, c)))

	doc.Buffers = append(doc.Buffers, &gltf.Buffer{
		ByteLength: size,
		Data:       make([]byte, size),
	})
	bufferIdx := uint32(len(doc.Buffers) - 1)

	doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
		Buffer:     bufferIdx,
		ByteLength: size,
		Target:     target,
	})
	viewIdx := uint32(len(doc.BufferViews) - 1)

	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(viewIdx),
		ComponentType: c,
		Count:         count,
		Type:          t,
	})
	return uint32(len(doc.Accessors) - 1)
}
