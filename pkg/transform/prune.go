package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// PruneOptions controls what the prune pass preserves.
type PruneOptions struct {
	// KeepLeaves keeps empty leaf nodes instead of removing them.
	KeepLeaves bool
	// KeepAttributes keeps vertex attributes the material does not use.
	KeepAttributes bool
	// KeepExtras protects leaf nodes that carry custom extras.
	KeepExtras bool

	Reporter *progress.Reporter
}

// PruneResult counts removed entries per table.
type PruneResult struct {
	Nodes       int
	Meshes      int
	Materials   int
	Accessors   int
	Textures    int
	Images      int
	Samplers    int
	BufferViews int
	Buffers     int
	Skins       int
	Cameras     int
}

// Total returns the number of removed entries across all tables.
func (r PruneResult) Total() int {
	return r.Nodes + r.Meshes + r.Materials + r.Accessors + r.Textures +
		r.Images + r.Samplers + r.BufferViews + r.Buffers + r.Skins + r.Cameras
}

type markSet struct {
	nodes       map[uint32]bool
	meshes      map[uint32]bool
	materials   map[uint32]bool
	accessors   map[uint32]bool
	textures    map[uint32]bool
	images      map[uint32]bool
	samplers    map[uint32]bool
	bufferViews map[uint32]bool
	buffers     map[uint32]bool
	skins       map[uint32]bool
	cameras     map[uint32]bool
}

func newMarkSet() *markSet {
	return &markSet{
		nodes:       map[uint32]bool{},
		meshes:      map[uint32]bool{},
		materials:   map[uint32]bool{},
		accessors:   map[uint32]bool{},
		textures:    map[uint32]bool{},
		images:      map[uint32]bool{},
		samplers:    map[uint32]bool{},
		bufferViews: map[uint32]bool{},
		buffers:     map[uint32]bool{},
		skins:       map[uint32]bool{},
		cameras:     map[uint32]bool{},
	}
}

// Prune removes everything unreachable from the scenes (animations are
// always considered live) and compacts every table.
func Prune(doc *gltf.Document, opts PruneOptions) (PruneResult, error) {
	opts.Reporter.Report("prune", "Marking reachable resources", 0.0, "")

	marks := mark(doc)

	if !opts.KeepLeaves {
		pruneEmptyLeafNodes(doc, opts.KeepExtras)
		marks = mark(doc)
	}

	if !opts.KeepAttributes {
		pruneUnusedAttributes(doc)
		marks = mark(doc)
	}

	result := PruneResult{
		Nodes:       len(doc.Nodes) - len(marks.nodes),
		Meshes:      len(doc.Meshes) - len(marks.meshes),
		Materials:   len(doc.Materials) - len(marks.materials),
		Accessors:   len(doc.Accessors) - len(marks.accessors),
		Textures:    len(doc.Textures) - len(marks.textures),
		Images:      len(doc.Images) - len(marks.images),
		Samplers:    len(doc.Samplers) - len(marks.samplers),
		BufferViews: len(doc.BufferViews) - len(marks.bufferViews),
		Buffers:     len(doc.Buffers) - len(marks.buffers),
		Skins:       len(doc.Skins) - len(marks.skins),
		Cameras:     len(doc.Cameras) - len(marks.cameras),
	}

	opts.Reporter.Report("prune", "Compacting tables", 0.5, "")

	compact := func(kind gltfutil.Kind, size int, used map[uint32]bool) []int {
		mapping := gltfutil.BuildIndexMap(size, used)
		gltfutil.Remap(doc, kind, mapping)
		return mapping
	}

	doc.Nodes = gltfutil.CompactTable(doc.Nodes, compact(gltfutil.KindNode, len(doc.Nodes), marks.nodes))
	doc.Meshes = gltfutil.CompactTable(doc.Meshes, compact(gltfutil.KindMesh, len(doc.Meshes), marks.meshes))
	doc.Materials = gltfutil.CompactTable(doc.Materials, compact(gltfutil.KindMaterial, len(doc.Materials), marks.materials))
	doc.Accessors = gltfutil.CompactTable(doc.Accessors, compact(gltfutil.KindAccessor, len(doc.Accessors), marks.accessors))
	doc.Textures = gltfutil.CompactTable(doc.Textures, compact(gltfutil.KindTexture, len(doc.Textures), marks.textures))
	doc.Images = gltfutil.CompactTable(doc.Images, compact(gltfutil.KindImage, len(doc.Images), marks.images))
	doc.Samplers = gltfutil.CompactTable(doc.Samplers, compact(gltfutil.KindSampler, len(doc.Samplers), marks.samplers))
	doc.BufferViews = gltfutil.CompactTable(doc.BufferViews, compact(gltfutil.KindBufferView, len(doc.BufferViews), marks.bufferViews))
	doc.Buffers = gltfutil.CompactTable(doc.Buffers, compact(gltfutil.KindBuffer, len(doc.Buffers), marks.buffers))
	doc.Skins = gltfutil.CompactTable(doc.Skins, compact(gltfutil.KindSkin, len(doc.Skins), marks.skins))
	doc.Cameras = gltfutil.CompactTable(doc.Cameras, compact(gltfutil.KindCamera, len(doc.Cameras), marks.cameras))

	opts.Reporter.Report("prune", "Prune complete", 1.0, fmt.Sprintf("removed %d entries", result.Total()))
	return result, nil
}

func mark(doc *gltf.Document) *markSet {
	m := newMarkSet()

	for _, scene := range doc.Scenes {
		for _, root := range scene.Nodes {
			markNode(doc, m, root)
		}
	}

	// Animations are always live.
	for _, anim := range doc.Animations {
		for _, channel := range anim.Channels {
			if channel.Target.Node != nil && int(*channel.Target.Node) < len(doc.Nodes) {
				m.nodes[*channel.Target.Node] = true
			}
		}
		for _, sampler := range anim.Samplers {
			markAccessor(doc, m, sampler.Input)
			markAccessor(doc, m, sampler.Output)
		}
	}

	return m
}

func markNode(doc *gltf.Document, m *markSet, idx uint32) {
	if int(idx) >= len(doc.Nodes) || m.nodes[idx] {
		return
	}
	m.nodes[idx] = true
	node := doc.Nodes[idx]

	if node.Mesh != nil && int(*node.Mesh) < len(doc.Meshes) {
		m.meshes[*node.Mesh] = true
		markMesh(doc, m, *node.Mesh)
	}
	if node.Skin != nil && int(*node.Skin) < len(doc.Skins) {
		m.skins[*node.Skin] = true
		markSkin(doc, m, *node.Skin)
	}
	if node.Camera != nil && int(*node.Camera) < len(doc.Cameras) {
		m.cameras[*node.Camera] = true
	}

	for _, child := range node.Children {
		markNode(doc, m, child)
	}
}

func markMesh(doc *gltf.Document, m *markSet, idx uint32) {
	mesh := doc.Meshes[idx]
	for _, prim := range mesh.Primitives {
		if prim.Material != nil && int(*prim.Material) < len(doc.Materials) {
			m.materials[*prim.Material] = true
			markMaterial(doc, m, *prim.Material)
		}
		markAccessor(doc, m, prim.Indices)
		for _, accIdx := range prim.Attributes {
			markAccessor(doc, m, gltf.Index(accIdx))
		}
		for _, target := range prim.Targets {
			for _, accIdx := range target {
				markAccessor(doc, m, gltf.Index(accIdx))
			}
		}
		if ext, ok := gltfutil.DracoOf(prim); ok {
			if int(ext.BufferView) < len(doc.BufferViews) {
				m.bufferViews[ext.BufferView] = true
				view := doc.BufferViews[ext.BufferView]
				if int(view.Buffer) < len(doc.Buffers) {
					m.buffers[view.Buffer] = true
				}
			}
		}
	}
}

func markMaterial(doc *gltf.Document, m *markSet, idx uint32) {
	mat := doc.Materials[idx]

	markTexture := func(texIdx uint32) {
		if int(texIdx) >= len(doc.Textures) {
			return
		}
		m.textures[texIdx] = true
		tex := doc.Textures[texIdx]
		if tex.Source != nil && int(*tex.Source) < len(doc.Images) {
			m.images[*tex.Source] = true
			img := doc.Images[*tex.Source]
			if img.BufferView != nil && int(*img.BufferView) < len(doc.BufferViews) {
				m.bufferViews[*img.BufferView] = true
				view := doc.BufferViews[*img.BufferView]
				if int(view.Buffer) < len(doc.Buffers) {
					m.buffers[view.Buffer] = true
				}
			}
		}
		if tex.Sampler != nil && int(*tex.Sampler) < len(doc.Samplers) {
			m.samplers[*tex.Sampler] = true
		}
	}

	if pbr := mat.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorTexture != nil {
			markTexture(pbr.BaseColorTexture.Index)
		}
		if pbr.MetallicRoughnessTexture != nil {
			markTexture(pbr.MetallicRoughnessTexture.Index)
		}
	}
	if mat.NormalTexture != nil && mat.NormalTexture.Index != nil {
		markTexture(*mat.NormalTexture.Index)
	}
	if mat.OcclusionTexture != nil && mat.OcclusionTexture.Index != nil {
		markTexture(*mat.OcclusionTexture.Index)
	}
	if mat.EmissiveTexture != nil {
		markTexture(mat.EmissiveTexture.Index)
	}
}

func markSkin(doc *gltf.Document, m *markSet, idx uint32) {
	skin := doc.Skins[idx]
	markAccessor(doc, m, skin.InverseBindMatrices)
	if skin.Skeleton != nil && int(*skin.Skeleton) < len(doc.Nodes) {
		markNode(doc, m, *skin.Skeleton)
	}
	for _, joint := range skin.Joints {
		markNode(doc, m, joint)
	}
}

func markAccessor(doc *gltf.Document, m *markSet, ref *uint32) {
	if ref == nil || int(*ref) >= len(doc.Accessors) {
		return
	}
	m.accessors[*ref] = true
	acc := doc.Accessors[*ref]
	if acc.BufferView == nil || int(*acc.BufferView) >= len(doc.BufferViews) {
		return
	}
	m.bufferViews[*acc.BufferView] = true
	view := doc.BufferViews[*acc.BufferView]
	if int(view.Buffer) < len(doc.Buffers) {
		m.buffers[view.Buffer] = true
	}
}

// pruneEmptyLeafNodes iteratively detaches nodes that render nothing:
// no children, no mesh, no skin, no camera. With keepExtras set, nodes
// carrying custom extras survive.
func pruneEmptyLeafNodes(doc *gltf.Document, keepExtras bool) {
	removable := func(idx uint32) bool {
		if int(idx) >= len(doc.Nodes) {
			return true
		}
		node := doc.Nodes[idx]
		empty := node.Mesh == nil && node.Skin == nil && node.Camera == nil && len(node.Children) == 0
		if !empty {
			return false
		}
		if keepExtras && node.Extras != nil {
			return false
		}
		return true
	}

	for changed := true; changed; {
		changed = false

		for _, node := range doc.Nodes {
			kept := node.Children[:0]
			for _, child := range node.Children {
				if removable(child) {
					changed = true
					continue
				}
				kept = append(kept, child)
			}
			node.Children = kept
		}

		for _, scene := range doc.Scenes {
			kept := scene.Nodes[:0]
			for _, root := range scene.Nodes {
				if removable(root) {
					changed = true
					continue
				}
				kept = append(kept, root)
			}
			scene.Nodes = kept
		}
	}
}

// pruneUnusedAttributes drops vertex attribute semantics the primitive's
// material cannot sample.
func pruneUnusedAttributes(doc *gltf.Document) {
	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			var mat *gltf.Material
			if prim.Material != nil && int(*prim.Material) < len(doc.Materials) {
				mat = doc.Materials[*prim.Material]
			}
			for semantic := range prim.Attributes {
				if !semanticRequired(semantic, mat) {
					delete(prim.Attributes, semantic)
				}
			}
		}
	}
}

func semanticRequired(semantic string, mat *gltf.Material) bool {
	switch {
	case semantic == "POSITION":
		return true

	case semantic == "NORMAL":
		if mat == nil {
			return true
		}
		_, unlit := mat.Extensions["KHR_materials_unlit"]
		return !unlit

	case semantic == "TANGENT":
		return mat != nil && mat.NormalTexture != nil && mat.NormalTexture.Index != nil

	case strings.HasPrefix(semantic, "TEXCOORD_"):
		if mat == nil {
			return false
		}
		channel, err := strconv.Atoi(semantic[len("TEXCOORD_"):])
		if err != nil {
			return false
		}
		return materialUsesTexCoord(mat, uint32(channel))

	case semantic == "COLOR_0":
		return true
	case strings.HasPrefix(semantic, "COLOR_"):
		return false

	case strings.HasPrefix(semantic, "JOINTS_"), strings.HasPrefix(semantic, "WEIGHTS_"):
		return true

	default:
		return true
	}
}

func materialUsesTexCoord(mat *gltf.Material, channel uint32) bool {
	if pbr := mat.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorTexture != nil && pbr.BaseColorTexture.TexCoord == channel {
			return true
		}
		if pbr.MetallicRoughnessTexture != nil && pbr.MetallicRoughnessTexture.TexCoord == channel {
			return true
		}
	}
	if mat.NormalTexture != nil && mat.NormalTexture.Index != nil && mat.NormalTexture.TexCoord == channel {
		return true
	}
	if mat.OcclusionTexture != nil && mat.OcclusionTexture.Index != nil && mat.OcclusionTexture.TexCoord == channel {
		return true
	}
	if mat.EmissiveTexture != nil && mat.EmissiveTexture.TexCoord == channel {
		return true
	}
	return false
}
