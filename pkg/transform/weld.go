package transform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// WeldOptions controls the weld pass.
type WeldOptions struct {
	// Overwrite re-welds primitives that already carry indices.
	Overwrite bool
	Reporter  *progress.Reporter
}

// WeldResult summarizes a weld run.
type WeldResult struct {
	Primitives     int
	VerticesBefore int
	VerticesAfter  int
}

var errMissingPosition = errors.New("transform: primitive missing POSITION attribute")

const weldEmpty = 0xffffffff

// Weld merges vertices that are bitwise identical across all attribute
// streams, per primitive, producing indexed geometry over fresh
// buffers. POINTS primitives are skipped; indexed primitives are
// skipped unless Overwrite is set.
func Weld(doc *gltf.Document, opts WeldOptions) (WeldResult, error) {
	var result WeldResult

	for meshIdx, mesh := range doc.Meshes {
		for primIdx, prim := range mesh.Primitives {
			welded, before, after, err := weldPrimitive(doc, prim, opts)
			if err != nil {
				return result, fmt.Errorf("mesh %d primitive %d: %w", meshIdx, primIdx, err)
			}
			if welded {
				result.Primitives++
				result.VerticesBefore += int(before)
				result.VerticesAfter += int(after)
			}
		}
	}

	opts.Reporter.Report("weld", "Weld complete", 1.0,
		fmt.Sprintf("%d primitives, %d -> %d vertices", result.Primitives, result.VerticesBefore, result.VerticesAfter))
	return result, nil
}

// vertexStream resolves every attribute of a primitive to its span for
// hashing and comparison.
type vertexStream struct {
	spans []gltfutil.Span
}

func newVertexStream(doc *gltf.Document, prim *gltf.Primitive) vertexStream {
	var vs vertexStream
	for _, accIdx := range prim.Attributes {
		if span, ok := gltfutil.ResolveSpan(doc, accIdx); ok {
			vs.spans = append(vs.spans, span)
		}
	}
	return vs
}

// hash mixes the vertex's concatenated attribute bytes with a fixed
// 32-bit mixer; trailing bytes are packed into a final word with zero
// padding.
func (vs vertexStream) hash(index uint32) uint32 {
	const m = 0x5bd1e995
	const r = 24

	var h uint32
	mix := func(k uint32) {
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
	}

	for _, span := range vs.spans {
		src := span.At(index)
		wordCount := len(src) / 4
		for i := 0; i < wordCount; i++ {
			mix(binary.LittleEndian.Uint32(src[i*4:]))
		}

		if rem := len(src) % 4; rem != 0 {
			var k uint32
			for i, b := range src[wordCount*4:] {
				k |= uint32(b) << (i * 8)
			}
			mix(k)
		}
	}

	return h
}

// equal compares two source vertices byte-for-byte across all spans.
func (vs vertexStream) equal(a, b uint32) bool {
	if a == b {
		return true
	}
	for _, span := range vs.spans {
		if !bytes.Equal(span.At(a), span.At(b)) {
			return false
		}
	}
	return true
}

func ceilPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func findSlot(table []uint32, vs vertexStream, key uint32) uint32 {
	mask := uint32(len(table) - 1)
	bucket := vs.hash(key) & mask

	for probe := uint32(0); probe <= mask; probe++ {
		value := table[bucket]
		if value == weldEmpty || vs.equal(value, key) {
			return bucket
		}
		bucket = (bucket + 1) & mask
	}
	return bucket
}

func weldPrimitive(doc *gltf.Document, prim *gltf.Primitive, opts WeldOptions) (welded bool, before, after uint32, err error) {
	if prim.Indices != nil && !opts.Overwrite {
		return false, 0, 0, nil
	}
	if prim.Mode == gltf.PrimitivePoints {
		return false, 0, 0, nil
	}

	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return false, 0, 0, errMissingPosition
	}
	if int(posIdx) >= len(doc.Accessors) {
		return false, 0, 0, errMissingPosition
	}
	vertexCount := doc.Accessors[posIdx].Count
	if vertexCount == 0 {
		return false, 0, 0, nil
	}

	var srcIndices []uint32
	if prim.Indices != nil {
		srcIndices, err = gltfutil.ReadIndexStream(doc, *prim.Indices)
		if err != nil {
			return false, 0, 0, err
		}
	} else {
		srcIndices = gltfutil.IdentityIndices(vertexCount)
	}

	vs := newVertexStream(doc, prim)

	tableSize := ceilPowerOfTwo(max(1, vertexCount+vertexCount/4))
	table := make([]uint32, tableSize)
	for i := range table {
		table[i] = weldEmpty
	}
	remap := make([]uint32, vertexCount)
	for i := range remap {
		remap[i] = weldEmpty
	}

	dstVertexCount := uint32(0)
	for _, srcIdx := range srcIndices {
		if srcIdx >= vertexCount || remap[srcIdx] != weldEmpty {
			continue
		}
		slot := findSlot(table, vs, srcIdx)
		if table[slot] == weldEmpty {
			table[slot] = srcIdx
			remap[srcIdx] = dstVertexCount
			dstVertexCount++
		} else {
			remap[srcIdx] = remap[table[slot]]
		}
	}

	if dstVertexCount == 0 {
		return false, 0, 0, nil
	}

	rebuildPrimitive(doc, prim, srcIndices, remap, dstVertexCount)
	return true, vertexCount, dstVertexCount, nil
}

// rebuildPrimitive writes the compacted vertex streams and the remapped
// index stream into freshly allocated accessors and rebinds the
// primitive. Pre-existing buffers are left untouched for a later prune
// to reclaim.
func rebuildPrimitive(doc *gltf.Document, prim *gltf.Primitive, srcIndices []uint32, remap []uint32, dstVertexCount uint32) {
	indexType := gltf.ComponentUint
	if dstVertexCount <= 255 {
		indexType = gltf.ComponentUbyte
	} else if dstVertexCount <= 65535 {
		indexType = gltf.ComponentUshort
	}

	indexAccessor := gltfutil.AllocateAccessor(doc, uint32(len(srcIndices)),
		gltf.AccessorScalar, indexType, gltf.TargetElementArrayBuffer)
	indexSpan, _ := gltfutil.ResolveSpan(doc, indexAccessor)
	for i, srcIdx := range srcIndices {
		gltfutil.PutIndex(indexSpan, uint32(i), remap[srcIdx], indexType)
	}

	for semantic, accIdx := range prim.Attributes {
		srcSpan, ok := gltfutil.ResolveSpan(doc, accIdx)
		if !ok {
			continue
		}
		srcAccessor := doc.Accessors[accIdx]

		dstAccessor := gltfutil.AllocateAccessor(doc, dstVertexCount,
			srcAccessor.Type, srcAccessor.ComponentType, gltf.TargetArrayBuffer)
		doc.Accessors[dstAccessor].Normalized = srcAccessor.Normalized
		doc.Accessors[dstAccessor].Min = append([]float32(nil), srcAccessor.Min...)
		doc.Accessors[dstAccessor].Max = append([]float32(nil), srcAccessor.Max...)
		dstSpan, _ := gltfutil.ResolveSpan(doc, dstAccessor)

		written := make([]bool, dstVertexCount)
		for _, srcIdx := range srcIndices {
			if srcIdx >= uint32(len(remap)) {
				continue
			}
			dstIdx := remap[srcIdx]
			if dstIdx == weldEmpty || written[dstIdx] {
				continue
			}
			copy(dstSpan.At(dstIdx), srcSpan.At(srcIdx)[:srcSpan.ElemSize])
			written[dstIdx] = true
		}

		prim.Attributes[semantic] = dstAccessor
	}

	prim.Indices = gltf.Index(indexAccessor)
}
