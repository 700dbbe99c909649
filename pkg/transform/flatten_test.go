package transform

import (
	gomath "math"
	"testing"

	"github.com/qmuntal/gltf"
)

func TestFlattenTwoLevelChain(t *testing.T) {
	doc := &gltf.Document{}
	pos := newPositionAccessor(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{{
		Mode:       gltf.PrimitiveTriangles,
		Attributes: map[string]uint32{"POSITION": pos},
	}}}}
	doc.Nodes = []*gltf.Node{
		{Translation: [3]float32{1, 0, 0}, Children: []uint32{1}},
		{Translation: [3]float32{0, 2, 0}, Mesh: gltf.Index(0)},
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	flattened, err := Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flattened != 1 {
		t.Fatalf("flattened = %d, want 1", flattened)
	}

	// Node 1 now carries the baked world translation (1,2,0).
	m := doc.Nodes[1].Matrix
	if m[12] != 1 || m[13] != 2 || m[14] != 0 {
		t.Errorf("baked translation = (%v,%v,%v), want (1,2,0)", m[12], m[13], m[14])
	}
	if doc.Nodes[1].Translation != ([3]float32{}) {
		t.Errorf("TRS translation not cleared: %v", doc.Nodes[1].Translation)
	}

	// Node 1 was detached from node 0 and added to the scene roots.
	if len(doc.Nodes[0].Children) != 0 {
		t.Errorf("node 0 children = %v, want empty", doc.Nodes[0].Children)
	}
	roots := doc.Scenes[0].Nodes
	if len(roots) != 2 || roots[0] != 0 || roots[1] != 1 {
		t.Errorf("scene roots = %v, want [0 1]", roots)
	}
	checkDocumentInvariants(t, doc)
}

func TestFlattenRespectsMatrixForm(t *testing.T) {
	// Parent scales by 2, child holds a stored matrix translation.
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Scale: [3]float32{2, 2, 2}, Children: []uint32{1}},
		{Matrix: [16]float32{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			3, 0, 0, 1,
		}},
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	if _, err := Flatten(doc); err != nil {
		t.Fatalf("Flatten: %v", err)
	}

	m := doc.Nodes[1].Matrix
	// world = scale(2) * translate(3,0,0): translation column becomes 6.
	if m[12] != 6 {
		t.Errorf("baked x translation = %v, want 6", m[12])
	}
	if m[0] != 2 || m[5] != 2 || m[10] != 2 {
		t.Errorf("baked scale lost: %v", m)
	}
}

func TestFlattenRotationComposition(t *testing.T) {
	// Parent rotates a quarter turn around Z, child translates +X.
	s := float32(gomath.Sqrt2 / 2)
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Rotation: [4]float32{0, 0, s, s}, Children: []uint32{1}},
		{Translation: [3]float32{1, 0, 0}},
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	if _, err := Flatten(doc); err != nil {
		t.Fatalf("Flatten: %v", err)
	}

	m := doc.Nodes[1].Matrix
	if gomath.Abs(float64(m[12])) > 1e-6 || gomath.Abs(float64(m[13])-1) > 1e-6 {
		t.Errorf("rotated translation = (%v,%v), want (0,1)", m[12], m[13])
	}
}

func TestFlattenSkipsJointsAndAnimatedNodes(t *testing.T) {
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Children: []uint32{1, 2, 3}, Translation: [3]float32{5, 0, 0}},
		{}, // joint
		{}, // animated
		{}, // free: the only flatten candidate
	}
	doc.Skins = []*gltf.Skin{{Joints: []uint32{1}}}
	doc.Animations = []*gltf.Animation{{
		Channels: []*gltf.Channel{{
			Sampler: gltf.Index(0),
			Target:  gltf.ChannelTarget{Node: gltf.Index(2), Path: gltf.TRSRotation},
		}},
		Samplers: []*gltf.AnimationSampler{{}},
	}}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	flattened, err := Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flattened != 1 {
		t.Errorf("flattened = %d, want 1 (joint and animated node stay)", flattened)
	}
	if len(doc.Nodes[0].Children) != 2 {
		t.Errorf("children = %v, want joint and animated node only", doc.Nodes[0].Children)
	}
}

func TestFlattenWeightsAnimationDoesNotBlock(t *testing.T) {
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Children: []uint32{1}},
		{},
	}
	doc.Animations = []*gltf.Animation{{
		Channels: []*gltf.Channel{{
			Sampler: gltf.Index(0),
			Target:  gltf.ChannelTarget{Node: gltf.Index(1), Path: gltf.TRSWeights},
		}},
		Samplers: []*gltf.AnimationSampler{{}},
	}}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	flattened, err := Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flattened != 1 {
		t.Errorf("flattened = %d, want 1 (weights channels do not constrain)", flattened)
	}
}

func TestFlattenDescendantsOfJointsStay(t *testing.T) {
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Children: []uint32{1}},
		{Children: []uint32{2}}, // joint
		{},                      // descendant of a joint
	}
	doc.Skins = []*gltf.Skin{{Joints: []uint32{1}}}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	flattened, err := Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flattened != 0 {
		t.Errorf("flattened = %d, want 0", flattened)
	}
}

func TestFlattenDetectsCycle(t *testing.T) {
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Children: []uint32{1}},
		{Children: []uint32{0}},
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	if _, err := Flatten(doc); err == nil {
		t.Error("expected cycle error")
	}
}

func TestFlattenEmptyDocument(t *testing.T) {
	flattened, err := Flatten(&gltf.Document{})
	if err != nil || flattened != 0 {
		t.Errorf("Flatten(empty) = %d, %v", flattened, err)
	}
}

func TestFlattenIsIdempotentOnResult(t *testing.T) {
	doc := &gltf.Document{}
	doc.Nodes = []*gltf.Node{
		{Translation: [3]float32{1, 0, 0}, Children: []uint32{1}},
		{Translation: [3]float32{0, 2, 0}},
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []uint32{0}}}

	if _, err := Flatten(doc); err != nil {
		t.Fatalf("first Flatten: %v", err)
	}
	second, err := Flatten(doc)
	if err != nil {
		t.Fatalf("second Flatten: %v", err)
	}
	if second != 0 {
		t.Errorf("second flatten moved %d nodes", second)
	}
}
