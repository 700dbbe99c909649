package transform

import (
	"testing"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// twoPrimitiveMesh builds one mesh with two 4-vertex, 6-index triangle
// primitives sharing a material.
func twoPrimitiveMesh(t *testing.T) *gltf.Document {
	t.Helper()

	doc := &gltf.Document{}
	doc.Materials = []*gltf.Material{{Name: "shared"}}

	makePrim := func(offset float32) *gltf.Primitive {
		pos := newPositionAccessor(doc, [][3]float32{
			{offset, 0, 0}, {offset + 1, 0, 0}, {offset, 1, 0}, {offset + 1, 1, 0},
		})
		idx := newIndexAccessor(doc, []uint32{0, 1, 2, 1, 3, 2}, gltf.ComponentUshort)
		return &gltf.Primitive{
			Mode:       gltf.PrimitiveTriangles,
			Attributes: map[string]uint32{"POSITION": pos},
			Indices:    gltf.Index(idx),
			Material:   gltf.Index(0),
		}
	}

	doc.Meshes = []*gltf.Mesh{{
		Name:       "quads",
		Primitives: []*gltf.Primitive{makePrim(0), makePrim(10)},
	}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0)}}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}
	return doc
}

func TestJoinTwoCompatiblePrimitives(t *testing.T) {
	doc := twoPrimitiveMesh(t)
	original0 := readPositions(doc, doc.Meshes[0].Primitives[0].Attributes["POSITION"])
	original1 := readPositions(doc, doc.Meshes[0].Primitives[1].Attributes["POSITION"])

	result, err := Join(doc, JoinOptions{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.GroupsMerged != 1 || result.PrimitivesRemoved != 2 {
		t.Fatalf("result = %+v", result)
	}

	mesh := doc.Meshes[0]
	if len(mesh.Primitives) != 1 {
		t.Fatalf("primitive count = %d, want 1", len(mesh.Primitives))
	}
	joined := mesh.Primitives[0]

	posAcc := doc.Accessors[joined.Attributes["POSITION"]]
	if posAcc.Count != 8 {
		t.Errorf("joined POSITION count = %d, want 8", posAcc.Count)
	}

	indices, err := gltfutil.ReadIndexStream(doc, *joined.Indices)
	if err != nil {
		t.Fatalf("reading joined indices: %v", err)
	}
	if len(indices) != 12 {
		t.Fatalf("joined index count = %d, want 12", len(indices))
	}

	// Second primitive's indices rebased by +4.
	want := []uint32{0, 1, 2, 1, 3, 2, 4, 5, 6, 5, 7, 6}
	for i := range want {
		if indices[i] != want[i] {
			t.Errorf("index %d = %d, want %d", i, indices[i], want[i])
		}
	}

	// u8 component type suffices for 8 vertices.
	if doc.Accessors[*joined.Indices].ComponentType != gltf.ComponentUbyte {
		t.Errorf("index component type = %v, want unsigned byte", doc.Accessors[*joined.Indices].ComponentType)
	}

	// Vertex data concatenated in order.
	joinedPos := readPositions(doc, joined.Attributes["POSITION"])
	for i, v := range original0 {
		if joinedPos[i] != v {
			t.Errorf("vertex %d = %v, want %v", i, joinedPos[i], v)
		}
	}
	for i, v := range original1 {
		if joinedPos[4+i] != v {
			t.Errorf("vertex %d = %v, want %v", 4+i, joinedPos[4+i], v)
		}
	}
	checkDocumentInvariants(t, doc)
}

func TestJoinSkipsDifferentMaterials(t *testing.T) {
	doc := twoPrimitiveMesh(t)
	doc.Materials = append(doc.Materials, &gltf.Material{Name: "other"})
	doc.Meshes[0].Primitives[1].Material = gltf.Index(1)

	result, err := Join(doc, JoinOptions{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.GroupsMerged != 0 {
		t.Errorf("primitives with different materials joined")
	}
	if len(doc.Meshes[0].Primitives) != 2 {
		t.Errorf("primitive count = %d, want 2", len(doc.Meshes[0].Primitives))
	}
}

func TestJoinSkipsMorphTargets(t *testing.T) {
	doc := twoPrimitiveMesh(t)
	target := map[string]uint32{"POSITION": doc.Meshes[0].Primitives[0].Attributes["POSITION"]}
	doc.Meshes[0].Primitives[0].Targets = []map[string]uint32{target}
	doc.Meshes[0].Primitives[1].Targets = []map[string]uint32{target}

	result, err := Join(doc, JoinOptions{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.GroupsMerged != 0 {
		t.Errorf("morph-target primitives must never join")
	}
}

func TestJoinRollsBackOnAttributeMismatch(t *testing.T) {
	doc := twoPrimitiveMesh(t)

	// Same key shape, but sabotage the second primitive's POSITION
	// component type after key computation would normally separate
	// them; instead make the accessor unresolvable to force a mid-group
	// failure.
	accessorCount := len(doc.Accessors)
	viewCount := len(doc.BufferViews)
	bufferCount := len(doc.Buffers)

	badIdx := doc.Meshes[0].Primitives[1].Attributes["POSITION"]
	doc.Accessors[badIdx].Count = 100000 // overruns its buffer

	result, err := Join(doc, JoinOptions{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.GroupsMerged != 0 {
		t.Errorf("broken group should not merge")
	}
	if len(doc.Accessors) != accessorCount || len(doc.BufferViews) != viewCount || len(doc.Buffers) != bufferCount {
		t.Errorf("rollback incomplete: %d/%d/%d tables", len(doc.Accessors), len(doc.BufferViews), len(doc.Buffers))
	}
	if len(doc.Meshes[0].Primitives) != 2 {
		t.Errorf("primitive count = %d, want 2 after rollback", len(doc.Meshes[0].Primitives))
	}
}

func TestJoinKeepNamedStillJoinsWithinMesh(t *testing.T) {
	doc := twoPrimitiveMesh(t)

	// KeepNamed adds the mesh name to the key; every primitive of one
	// mesh shares that name, so within one mesh it changes nothing.
	result, err := Join(doc, JoinOptions{KeepNamed: true})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.GroupsMerged != 1 {
		t.Errorf("KeepNamed within one mesh should still join")
	}
}

func TestJoinNonIndexedGroup(t *testing.T) {
	doc := &gltf.Document{}
	makePrim := func() *gltf.Primitive {
		pos := newPositionAccessor(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
		return &gltf.Primitive{
			Mode:       gltf.PrimitiveTriangles,
			Attributes: map[string]uint32{"POSITION": pos},
		}
	}
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{makePrim(), makePrim()}}}

	result, err := Join(doc, JoinOptions{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.GroupsMerged != 1 {
		t.Fatalf("non-indexed group did not join")
	}
	joined := doc.Meshes[0].Primitives[0]
	if joined.Indices != nil {
		t.Error("joined non-indexed primitive should stay non-indexed")
	}
	if doc.Accessors[joined.Attributes["POSITION"]].Count != 6 {
		t.Errorf("joined vertex count = %d, want 6", doc.Accessors[joined.Attributes["POSITION"]].Count)
	}
}
