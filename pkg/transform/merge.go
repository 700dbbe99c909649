package transform

import (
	"fmt"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// MergeOptions controls how source scenes land in the merged document.
type MergeOptions struct {
	// KeepScenes appends each source scene as its own scene instead of
	// collecting every root under one "Merged Scene".
	KeepScenes bool
	// DefaultSceneOnly takes only each source's default scene (index 0
	// when unset).
	DefaultSceneOnly bool
}

type mergeOffsets struct {
	nodes       uint32
	meshes      uint32
	materials   uint32
	textures    uint32
	images      uint32
	samplers    uint32
	accessors   uint32
	bufferViews uint32
	skins       uint32
	cameras     uint32
}

// Merger accumulates documents into one. All source buffer bytes are
// concatenated into a single growing buffer 0; the result carries
// inline bytes only, never a URI. After a failed Merge the accumulator
// is inconsistent and must be discarded.
type Merger struct {
	doc   *gltf.Document
	first bool
}

// NewMerger returns an empty accumulator.
func NewMerger() *Merger {
	return &Merger{first: true}
}

// Document returns the merged document.
func (m *Merger) Document() *gltf.Document {
	if m.doc == nil {
		m.doc = &gltf.Document{}
	}
	return m.doc
}

// LoadAndMerge loads a file and merges it into the accumulator. A load
// failure aborts the merge.
func (m *Merger) LoadAndMerge(path string, opts MergeOptions) error {
	doc, err := gltfutil.Load(path)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return m.Merge(doc, opts)
}

// Merge appends a source document. The source is consumed: its tables
// are moved into the accumulator and renumbered in place.
func (m *Merger) Merge(src *gltf.Document, opts MergeOptions) error {
	if m.first {
		m.doc = &gltf.Document{}
		m.doc.Asset = src.Asset
		m.doc.Buffers = []*gltf.Buffer{{Name: "merged_buffer"}}
		m.first = false
	}
	dst := m.doc

	for _, name := range src.ExtensionsUsed {
		dst.ExtensionsUsed = gltfutil.AddExtension(dst.ExtensionsUsed, name)
	}
	for _, name := range src.ExtensionsRequired {
		dst.ExtensionsRequired = gltfutil.AddExtension(dst.ExtensionsRequired, name)
	}

	offsets := mergeOffsets{
		nodes:       uint32(len(dst.Nodes)),
		meshes:      uint32(len(dst.Meshes)),
		materials:   uint32(len(dst.Materials)),
		textures:    uint32(len(dst.Textures)),
		images:      uint32(len(dst.Images)),
		samplers:    uint32(len(dst.Samplers)),
		accessors:   uint32(len(dst.Accessors)),
		bufferViews: uint32(len(dst.BufferViews)),
		skins:       uint32(len(dst.Skins)),
		cameras:     uint32(len(dst.Cameras)),
	}

	// Relocate every source buffer into the single merged buffer.
	merged := dst.Buffers[0]
	currentSize := uint32(len(merged.Data))
	bufferOffsets := make([]uint32, len(src.Buffers))
	running := uint32(0)
	for i, buffer := range src.Buffers {
		bufferOffsets[i] = running
		running += uint32(len(buffer.Data))
	}
	for _, buffer := range src.Buffers {
		merged.Data = append(merged.Data, buffer.Data...)
	}
	merged.ByteLength = uint32(len(merged.Data))
	merged.URI = ""

	for _, view := range src.BufferViews {
		adjustment := currentSize
		if int(view.Buffer) < len(bufferOffsets) {
			adjustment += bufferOffsets[view.Buffer]
		}
		view.Buffer = 0
		view.ByteOffset += adjustment
		dst.BufferViews = append(dst.BufferViews, view)
	}

	dst.Accessors = append(dst.Accessors, src.Accessors...)
	dst.Samplers = append(dst.Samplers, src.Samplers...)
	dst.Images = append(dst.Images, src.Images...)
	dst.Textures = append(dst.Textures, src.Textures...)
	dst.Materials = append(dst.Materials, src.Materials...)
	dst.Meshes = append(dst.Meshes, src.Meshes...)
	dst.Skins = append(dst.Skins, src.Skins...)
	dst.Cameras = append(dst.Cameras, src.Cameras...)
	dst.Nodes = append(dst.Nodes, src.Nodes...)
	dst.Animations = append(dst.Animations, src.Animations...)

	shiftAppended(dst, offsets, counts{
		nodes:      len(src.Nodes),
		meshes:     len(src.Meshes),
		materials:  len(src.Materials),
		textures:   len(src.Textures),
		images:     len(src.Images),
		accessors:  len(src.Accessors),
		animations: len(src.Animations),
		skins:      len(src.Skins),
	})

	m.mergeScenes(src, opts, offsets.nodes)
	return nil
}

type counts struct {
	nodes      int
	meshes     int
	materials  int
	textures   int
	images     int
	accessors  int
	animations int
	skins      int
}

func shiftRef(ref *uint32, offset uint32) *uint32 {
	if ref == nil {
		return nil
	}
	return gltf.Index(*ref + offset)
}

// shiftAppended renumbers every inter-table index on the entries just
// appended by the recorded table offsets.
func shiftAppended(dst *gltf.Document, off mergeOffsets, n counts) {
	for _, node := range dst.Nodes[len(dst.Nodes)-n.nodes:] {
		for i := range node.Children {
			node.Children[i] += off.nodes
		}
		node.Mesh = shiftRef(node.Mesh, off.meshes)
		node.Skin = shiftRef(node.Skin, off.skins)
		node.Camera = shiftRef(node.Camera, off.cameras)
	}

	for _, mesh := range dst.Meshes[len(dst.Meshes)-n.meshes:] {
		for _, prim := range mesh.Primitives {
			prim.Material = shiftRef(prim.Material, off.materials)
			prim.Indices = shiftRef(prim.Indices, off.accessors)
			for name, idx := range prim.Attributes {
				prim.Attributes[name] = idx + off.accessors
			}
			for _, target := range prim.Targets {
				for name, idx := range target {
					target[name] = idx + off.accessors
				}
			}
			if ext, ok := gltfutil.DracoOf(prim); ok {
				ext.BufferView += off.bufferViews
			}
		}
	}

	for _, mat := range dst.Materials[len(dst.Materials)-n.materials:] {
		if mat.PBRMetallicRoughness != nil {
			if info := mat.PBRMetallicRoughness.BaseColorTexture; info != nil {
				info.Index += off.textures
			}
			if info := mat.PBRMetallicRoughness.MetallicRoughnessTexture; info != nil {
				info.Index += off.textures
			}
		}
		if mat.NormalTexture != nil {
			mat.NormalTexture.Index = shiftRef(mat.NormalTexture.Index, off.textures)
		}
		if mat.OcclusionTexture != nil {
			mat.OcclusionTexture.Index = shiftRef(mat.OcclusionTexture.Index, off.textures)
		}
		if mat.EmissiveTexture != nil {
			mat.EmissiveTexture.Index += off.textures
		}
	}

	for _, tex := range dst.Textures[len(dst.Textures)-n.textures:] {
		tex.Source = shiftRef(tex.Source, off.images)
		tex.Sampler = shiftRef(tex.Sampler, off.samplers)
	}

	for _, img := range dst.Images[len(dst.Images)-n.images:] {
		img.BufferView = shiftRef(img.BufferView, off.bufferViews)
	}

	for _, acc := range dst.Accessors[len(dst.Accessors)-n.accessors:] {
		acc.BufferView = shiftRef(acc.BufferView, off.bufferViews)
	}

	for _, anim := range dst.Animations[len(dst.Animations)-n.animations:] {
		for _, sampler := range anim.Samplers {
			sampler.Input = shiftRef(sampler.Input, off.accessors)
			sampler.Output = shiftRef(sampler.Output, off.accessors)
		}
		for _, channel := range anim.Channels {
			channel.Target.Node = shiftRef(channel.Target.Node, off.nodes)
		}
	}

	for _, skin := range dst.Skins[len(dst.Skins)-n.skins:] {
		skin.InverseBindMatrices = shiftRef(skin.InverseBindMatrices, off.accessors)
		skin.Skeleton = shiftRef(skin.Skeleton, off.nodes)
		for i := range skin.Joints {
			skin.Joints[i] += off.nodes
		}
	}
}

func (m *Merger) mergeScenes(src *gltf.Document, opts MergeOptions, nodeOffset uint32) {
	dst := m.doc

	sourceScenes := src.Scenes
	if opts.DefaultSceneOnly {
		sceneIdx := uint32(0)
		if src.Scene != nil {
			sceneIdx = *src.Scene
		}
		if int(sceneIdx) < len(src.Scenes) {
			sourceScenes = src.Scenes[sceneIdx : sceneIdx+1]
		} else {
			sourceScenes = nil
		}
	}

	if opts.KeepScenes {
		for _, scene := range sourceScenes {
			for i := range scene.Nodes {
				scene.Nodes[i] += nodeOffset
			}
			dst.Scenes = append(dst.Scenes, scene)
		}
		if dst.Scene == nil && len(dst.Scenes) > 0 {
			dst.Scene = gltf.Index(0)
		}
		return
	}

	if len(dst.Scenes) == 0 {
		dst.Scenes = []*gltf.Scene{{Name: "Merged Scene"}}
		dst.Scene = gltf.Index(0)
	}
	for _, scene := range sourceScenes {
		for _, node := range scene.Nodes {
			dst.Scenes[0].Nodes = append(dst.Scenes[0].Nodes, node+nodeOffset)
		}
	}
}
