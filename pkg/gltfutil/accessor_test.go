package gltfutil

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/qmuntal/gltf"
)

// vec3Doc builds a document with one buffer holding count float32 vec3
// elements at the given stride (0 means tight).
func vec3Doc(count uint32, stride uint32, fill func(i uint32) [3]float32) *gltf.Document {
	elem := uint32(12)
	step := stride
	if step == 0 {
		step = elem
	}
	data := make([]byte, step*count)
	for i := uint32(0); i < count; i++ {
		v := fill(i)
		off := i * step
		binary.LittleEndian.PutUint32(data[off:], math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(data[off+4:], math.Float32bits(v[1]))
		binary.LittleEndian.PutUint32(data[off+8:], math.Float32bits(v[2]))
	}

	return &gltf.Document{
		Buffers: []*gltf.Buffer{{ByteLength: uint32(len(data)), Data: data}},
		BufferViews: []*gltf.BufferView{{
			Buffer:     0,
			ByteLength: uint32(len(data)),
			ByteStride: stride,
		}},
		Accessors: []*gltf.Accessor{{
			BufferView:    gltf.Index(0),
			ComponentType: gltf.ComponentFloat,
			Type:          gltf.AccessorVec3,
			Count:         count,
		}},
	}
}

func TestComponentSizes(t *testing.T) {
	tests := []struct {
		c    gltf.ComponentType
		want uint32
	}{
		{gltf.ComponentByte, 1},
		{gltf.ComponentUbyte, 1},
		{gltf.ComponentShort, 2},
		{gltf.ComponentUshort, 2},
		{gltf.ComponentUint, 4},
		{gltf.ComponentFloat, 4},
	}
	for _, tt := range tests {
		if got := ComponentSize(tt.c); got != tt.want {
			t.Errorf("ComponentSize(%v) = %d, want %d", tt.c, got, tt.want)
		}
	}

	if got := ElementSize(gltf.AccessorVec3, gltf.ComponentFloat); got != 12 {
		t.Errorf("ElementSize(vec3,f32) = %d, want 12", got)
	}
	if got := ElementSize(gltf.AccessorMat4, gltf.ComponentFloat); got != 64 {
		t.Errorf("ElementSize(mat4,f32) = %d, want 64", got)
	}
}

func TestResolveSpanTight(t *testing.T) {
	doc := vec3Doc(4, 0, func(i uint32) [3]float32 {
		return [3]float32{float32(i), 0, 0}
	})

	span, ok := ResolveSpan(doc, 0)
	if !ok {
		t.Fatal("ResolveSpan failed")
	}
	if span.Stride != 12 || span.ElemSize != 12 || span.Count != 4 {
		t.Fatalf("span = %+v", span)
	}
	if !span.Tight() {
		t.Error("expected tight span")
	}

	got := math.Float32frombits(binary.LittleEndian.Uint32(span.At(3)))
	if got != 3 {
		t.Errorf("element 3 x = %v, want 3", got)
	}
}

func TestResolveSpanStrided(t *testing.T) {
	doc := vec3Doc(3, 16, func(i uint32) [3]float32 {
		return [3]float32{0, float32(i) * 2, 0}
	})

	span, ok := ResolveSpan(doc, 0)
	if !ok {
		t.Fatal("ResolveSpan failed")
	}
	if span.Stride != 16 {
		t.Fatalf("stride = %d, want 16", span.Stride)
	}
	if span.Tight() {
		t.Error("expected strided span")
	}

	got := math.Float32frombits(binary.LittleEndian.Uint32(span.At(2)[4:]))
	if got != 4 {
		t.Errorf("element 2 y = %v, want 4", got)
	}
}

func TestResolveSpanOutOfRange(t *testing.T) {
	doc := vec3Doc(4, 0, func(uint32) [3]float32 { return [3]float32{} })

	// Count overruns the buffer.
	doc.Accessors[0].Count = 5
	if _, ok := ResolveSpan(doc, 0); ok {
		t.Error("overlong accessor should not resolve")
	}
	doc.Accessors[0].Count = 4

	// Offset pushes the last element past the end.
	doc.Accessors[0].ByteOffset = 4
	if _, ok := ResolveSpan(doc, 0); ok {
		t.Error("offset accessor should not resolve")
	}
	doc.Accessors[0].ByteOffset = 0

	// Missing buffer view.
	doc.Accessors[0].BufferView = nil
	if _, ok := ResolveSpan(doc, 0); ok {
		t.Error("viewless accessor should not resolve")
	}

	// Bad accessor index.
	if _, ok := ResolveSpan(doc, 7); ok {
		t.Error("bad accessor index should not resolve")
	}
}

func TestAllocateAccessor(t *testing.T) {
	doc := &gltf.Document{}

	idx := AllocateAccessor(doc, 6, gltf.AccessorScalar, gltf.ComponentUshort, gltf.TargetElementArrayBuffer)
	if idx != 0 {
		t.Fatalf("accessor index = %d, want 0", idx)
	}
	if len(doc.Buffers) != 1 || len(doc.BufferViews) != 1 || len(doc.Accessors) != 1 {
		t.Fatalf("table sizes = %d/%d/%d", len(doc.Buffers), len(doc.BufferViews), len(doc.Accessors))
	}
	if doc.Buffers[0].ByteLength != 12 || len(doc.Buffers[0].Data) != 12 {
		t.Errorf("buffer size = %d/%d, want 12", doc.Buffers[0].ByteLength, len(doc.Buffers[0].Data))
	}
	if doc.BufferViews[0].Target != gltf.TargetElementArrayBuffer {
		t.Errorf("target = %v", doc.BufferViews[0].Target)
	}

	span, ok := ResolveSpan(doc, idx)
	if !ok {
		t.Fatal("allocated accessor should resolve")
	}
	if span.Count != 6 || span.ElemSize != 2 || span.Stride != 2 {
		t.Errorf("span = %+v", span)
	}

	// A second allocation gets its own buffer.
	idx2 := AllocateAccessor(doc, 2, gltf.AccessorVec3, gltf.ComponentFloat, gltf.TargetArrayBuffer)
	if idx2 != 1 || len(doc.Buffers) != 2 {
		t.Errorf("second allocation: accessor %d, buffers %d", idx2, len(doc.Buffers))
	}
	if doc.BufferViews[1].Buffer != 1 {
		t.Errorf("second view buffer = %d, want 1", doc.BufferViews[1].Buffer)
	}
}
