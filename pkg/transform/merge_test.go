package transform

import (
	"testing"

	"github.com/qmuntal/gltf"
)

// sceneDoc builds a document with its own buffer-backed geometry, two
// scenes and a configurable default scene.
func sceneDoc(t *testing.T, defaultScene uint32) *gltf.Document {
	t.Helper()

	doc := triangleDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, []uint32{0, 1, 2})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: "second-root"})
	doc.Scenes = []*gltf.Scene{
		{Name: "a", Nodes: []uint32{0}},
		{Name: "b", Nodes: []uint32{1}},
	}
	doc.Scene = gltf.Index(defaultScene)
	return doc
}

func TestMergeDefaultScenesOnlyIntoSingleScene(t *testing.T) {
	docA := sceneDoc(t, 0)
	docB := sceneDoc(t, 1)
	nodesInA := len(docA.Nodes)

	merger := NewMerger()
	opts := MergeOptions{DefaultSceneOnly: true}
	if err := merger.Merge(docA, opts); err != nil {
		t.Fatalf("merge A: %v", err)
	}
	if err := merger.Merge(docB, opts); err != nil {
		t.Fatalf("merge B: %v", err)
	}

	merged := merger.Document()
	if len(merged.Scenes) != 1 {
		t.Fatalf("scene count = %d, want 1", len(merged.Scenes))
	}
	if merged.Scene == nil || *merged.Scene != 0 {
		t.Errorf("default scene = %v, want 0", merged.Scene)
	}

	// Roots: A's default scene roots unshifted, B's default scene roots
	// shifted by |A.nodes|.
	roots := merged.Scenes[0].Nodes
	want := []uint32{0, uint32(nodesInA) + 1}
	if len(roots) != len(want) {
		t.Fatalf("roots = %v, want %v", roots, want)
	}
	for i := range want {
		if roots[i] != want[i] {
			t.Errorf("root %d = %d, want %d", i, roots[i], want[i])
		}
	}
	checkDocumentInvariants(t, merged)
}

func TestMergeKeepScenes(t *testing.T) {
	docA := sceneDoc(t, 0)
	docB := sceneDoc(t, 0)

	merger := NewMerger()
	opts := MergeOptions{KeepScenes: true}
	if err := merger.Merge(docA, opts); err != nil {
		t.Fatalf("merge A: %v", err)
	}
	if err := merger.Merge(docB, opts); err != nil {
		t.Fatalf("merge B: %v", err)
	}

	merged := merger.Document()
	if len(merged.Scenes) != 4 {
		t.Fatalf("scene count = %d, want 4", len(merged.Scenes))
	}
	// The second document's scene roots are shifted.
	if merged.Scenes[2].Nodes[0] != 2 {
		t.Errorf("shifted root = %d, want 2", merged.Scenes[2].Nodes[0])
	}
	checkDocumentInvariants(t, merged)
}

func TestMergeRelocatesBuffers(t *testing.T) {
	docA := triangleDoc([][3]float32{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}}, []uint32{0, 1, 2})
	docB := triangleDoc([][3]float32{{4, 4, 4}, {5, 5, 5}, {6, 6, 6}}, []uint32{0, 1, 2})

	wantA := readPositions(docA, docA.Meshes[0].Primitives[0].Attributes["POSITION"])
	wantB := readPositions(docB, docB.Meshes[0].Primitives[0].Attributes["POSITION"])

	merger := NewMerger()
	if err := merger.Merge(docA, MergeOptions{}); err != nil {
		t.Fatalf("merge A: %v", err)
	}
	if err := merger.Merge(docB, MergeOptions{}); err != nil {
		t.Fatalf("merge B: %v", err)
	}

	merged := merger.Document()
	if len(merged.Buffers) != 1 {
		t.Fatalf("buffer count = %d, want 1", len(merged.Buffers))
	}
	if merged.Buffers[0].URI != "" {
		t.Error("merged buffer must be inline-only")
	}
	for _, view := range merged.BufferViews {
		if view.Buffer != 0 {
			t.Errorf("view buffer = %d, want 0", view.Buffer)
		}
	}

	// Geometry reads back intact through the relocated views.
	gotA := readPositions(merged, merged.Meshes[0].Primitives[0].Attributes["POSITION"])
	gotB := readPositions(merged, merged.Meshes[1].Primitives[0].Attributes["POSITION"])
	for i := range wantA {
		if gotA[i] != wantA[i] {
			t.Errorf("A vertex %d = %v, want %v", i, gotA[i], wantA[i])
		}
	}
	for i := range wantB {
		if gotB[i] != wantB[i] {
			t.Errorf("B vertex %d = %v, want %v", i, gotB[i], wantB[i])
		}
	}
	checkDocumentInvariants(t, merged)
}

func TestMergeShiftsCrossReferences(t *testing.T) {
	docA := triangleDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, []uint32{0, 1, 2})

	docB := triangleDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, []uint32{0, 1, 2})
	docB.Materials = []*gltf.Material{{
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: 0},
		},
	}}
	docB.Textures = []*gltf.Texture{{Source: gltf.Index(0), Sampler: gltf.Index(0)}}
	docB.Images = []*gltf.Image{{URI: "tex.png"}}
	docB.Samplers = []*gltf.Sampler{{}}
	docB.Meshes[0].Primitives[0].Material = gltf.Index(0)
	docB.Skins = []*gltf.Skin{{Joints: []uint32{0}}}
	docB.Nodes[0].Skin = gltf.Index(0)
	docB.Animations = []*gltf.Animation{{
		Channels: []*gltf.Channel{{
			Sampler: gltf.Index(0),
			Target:  gltf.ChannelTarget{Node: gltf.Index(0), Path: gltf.TRSTranslation},
		}},
		Samplers: []*gltf.AnimationSampler{{
			Input:  gltf.Index(0),
			Output: gltf.Index(1),
		}},
	}}

	merger := NewMerger()
	if err := merger.Merge(docA, MergeOptions{}); err != nil {
		t.Fatalf("merge A: %v", err)
	}
	if err := merger.Merge(docB, MergeOptions{}); err != nil {
		t.Fatalf("merge B: %v", err)
	}

	merged := merger.Document()

	// B's node landed at index 1 and keeps its mesh and skin links.
	nodeB := merged.Nodes[1]
	if nodeB.Mesh == nil || *nodeB.Mesh != 1 {
		t.Errorf("node B mesh = %v, want 1", nodeB.Mesh)
	}
	if nodeB.Skin == nil || *nodeB.Skin != 0 {
		t.Errorf("node B skin = %v, want 0", nodeB.Skin)
	}

	// B's animation channel targets the shifted node.
	channel := merged.Animations[0].Channels[0]
	if channel.Target.Node == nil || *channel.Target.Node != 1 {
		t.Errorf("channel target = %v, want 1", channel.Target.Node)
	}
	// B's sampler accessors shifted by A's accessor count (2).
	sampler := merged.Animations[0].Samplers[0]
	if *sampler.Input != 2 || *sampler.Output != 3 {
		t.Errorf("sampler = %d/%d, want 2/3", *sampler.Input, *sampler.Output)
	}

	// B's skin joints shifted.
	if merged.Skins[0].Joints[0] != 1 {
		t.Errorf("joint = %d, want 1", merged.Skins[0].Joints[0])
	}
	checkDocumentInvariants(t, merged)
}

func TestMergeUnionsExtensionLists(t *testing.T) {
	docA := triangleDoc([][3]float32{{0, 0, 0}}, []uint32{0})
	docA.ExtensionsUsed = []string{"KHR_materials_unlit"}
	docB := triangleDoc([][3]float32{{0, 0, 0}}, []uint32{0})
	docB.ExtensionsUsed = []string{"KHR_materials_unlit", "KHR_texture_transform"}
	docB.ExtensionsRequired = []string{"KHR_texture_transform"}

	merger := NewMerger()
	merger.Merge(docA, MergeOptions{})
	merger.Merge(docB, MergeOptions{})

	merged := merger.Document()
	if len(merged.ExtensionsUsed) != 2 {
		t.Errorf("extensionsUsed = %v", merged.ExtensionsUsed)
	}
	if len(merged.ExtensionsRequired) != 1 {
		t.Errorf("extensionsRequired = %v", merged.ExtensionsRequired)
	}
}

func TestMergeLoadFailureAborts(t *testing.T) {
	merger := NewMerger()
	if err := merger.LoadAndMerge("/nonexistent/input.gltf", MergeOptions{}); err == nil {
		t.Error("expected error for missing input")
	}
}
