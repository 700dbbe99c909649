package transform

import (
	"encoding/binary"
	"math"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// newPositionAccessor allocates and fills a vec3/float32 accessor.
func newPositionAccessor(doc *gltf.Document, verts [][3]float32) uint32 {
	idx := gltfutil.AllocateAccessor(doc, uint32(len(verts)), gltf.AccessorVec3, gltf.ComponentFloat, gltf.TargetArrayBuffer)
	span, _ := gltfutil.ResolveSpan(doc, idx)
	for i, v := range verts {
		elem := span.At(uint32(i))
		binary.LittleEndian.PutUint32(elem, math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(elem[4:], math.Float32bits(v[1]))
		binary.LittleEndian.PutUint32(elem[8:], math.Float32bits(v[2]))
	}
	return idx
}

// newIndexAccessor allocates and fills a scalar index accessor.
func newIndexAccessor(doc *gltf.Document, indices []uint32, c gltf.ComponentType) uint32 {
	idx := gltfutil.AllocateAccessor(doc, uint32(len(indices)), gltf.AccessorScalar, c, gltf.TargetElementArrayBuffer)
	span, _ := gltfutil.ResolveSpan(doc, idx)
	for i, v := range indices {
		gltfutil.PutIndex(span, uint32(i), v, c)
	}
	return idx
}

// readPositions decodes a vec3/float32 accessor back into vertices.
func readPositions(doc *gltf.Document, accessorIdx uint32) [][3]float32 {
	span, ok := gltfutil.ResolveSpan(doc, accessorIdx)
	if !ok {
		return nil
	}
	out := make([][3]float32, span.Count)
	for i := uint32(0); i < span.Count; i++ {
		elem := span.At(i)
		out[i] = [3]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[8:])),
		}
	}
	return out
}

// triangleDoc builds a one-node, one-mesh document around an indexed
// triangle primitive.
func triangleDoc(verts [][3]float32, indices []uint32) *gltf.Document {
	doc := &gltf.Document{}
	posIdx := newPositionAccessor(doc, verts)
	idxIdx := newIndexAccessor(doc, indices, gltf.ComponentUint)

	doc.Meshes = []*gltf.Mesh{{
		Primitives: []*gltf.Primitive{{
			Mode:       gltf.PrimitiveTriangles,
			Attributes: map[string]uint32{"POSITION": posIdx},
			Indices:    gltf.Index(idxIdx),
		}},
	}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0)}}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}
	doc.Scene = gltf.Index(0)
	return doc
}

// quadVerts is a unit quad split into two triangles with two duplicated
// corner vertices (6 vertices total).
func quadVerts() [][3]float32 {
	return [][3]float32{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
		{1, 0, 0}, // duplicate of 1
		{1, 1, 0},
		{0, 1, 0}, // duplicate of 2
	}
}

// checkDocumentInvariants verifies the universal index and range
// invariants every pass must preserve.
func checkDocumentInvariants(t testingT, doc *gltf.Document) {
	t.Helper()

	checkRef := func(what string, ref *uint32, size int) {
		if ref != nil && int(*ref) >= size {
			t.Errorf("%s index %d out of range (table size %d)", what, *ref, size)
		}
	}

	for _, scene := range doc.Scenes {
		for _, root := range scene.Nodes {
			if int(root) >= len(doc.Nodes) {
				t.Errorf("scene root %d out of range", root)
			}
		}
	}

	seenChild := map[uint32]bool{}
	for _, node := range doc.Nodes {
		for _, child := range node.Children {
			if int(child) >= len(doc.Nodes) {
				t.Errorf("child %d out of range", child)
			}
			if seenChild[child] {
				t.Errorf("node %d has multiple parents", child)
			}
			seenChild[child] = true
		}
		checkRef("node.mesh", node.Mesh, len(doc.Meshes))
		checkRef("node.skin", node.Skin, len(doc.Skins))
		checkRef("node.camera", node.Camera, len(doc.Cameras))
	}

	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			checkRef("primitive.indices", prim.Indices, len(doc.Accessors))
			checkRef("primitive.material", prim.Material, len(doc.Materials))
			for name, accIdx := range prim.Attributes {
				if int(accIdx) >= len(doc.Accessors) {
					t.Errorf("attribute %s index %d out of range", name, accIdx)
				}
			}
		}
	}

	for i, acc := range doc.Accessors {
		if acc.BufferView == nil {
			continue
		}
		if int(*acc.BufferView) >= len(doc.BufferViews) {
			t.Errorf("accessor %d view out of range", i)
			continue
		}
		if _, ok := gltfutil.ResolveSpan(doc, uint32(i)); !ok && acc.Count > 0 {
			t.Errorf("accessor %d does not resolve", i)
		}
	}

	for i, view := range doc.BufferViews {
		if int(view.Buffer) >= len(doc.Buffers) {
			t.Errorf("view %d buffer out of range", i)
			continue
		}
		if uint64(view.ByteOffset)+uint64(view.ByteLength) > uint64(len(doc.Buffers[view.Buffer].Data)) {
			t.Errorf("view %d overruns its buffer", i)
		}
	}
}

// testingT is the subset of *testing.T the helpers need.
type testingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}
