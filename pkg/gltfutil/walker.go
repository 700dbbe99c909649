package gltfutil

import (
	"github.com/qmuntal/gltf"
)

// Kind identifies one of the document's index-coupled tables.
type Kind int

const (
	KindNode Kind = iota
	KindMesh
	KindMaterial
	KindAccessor
	KindTexture
	KindImage
	KindSampler
	KindBufferView
	KindBuffer
	KindSkin
	KindCamera
)

// BuildIndexMap produces a dense old->new mapping for a table of the
// given size where only the indices in used survive. Dropped entries
// map to -1.
func BuildIndexMap(size int, used map[uint32]bool) []int {
	mapping := make([]int, size)
	next := 0
	for i := 0; i < size; i++ {
		if used[uint32(i)] {
			mapping[i] = next
			next++
		} else {
			mapping[i] = -1
		}
	}
	return mapping
}

// IdentityMap returns a mapping that keeps every index in place.
func IdentityMap(size int) []int {
	mapping := make([]int, size)
	for i := range mapping {
		mapping[i] = i
	}
	return mapping
}

func mapRef(mapping []int, ref *uint32) *uint32 {
	if ref == nil {
		return nil
	}
	if int(*ref) >= len(mapping) || mapping[*ref] < 0 {
		return nil
	}
	return gltf.Index(uint32(mapping[*ref]))
}

func mapList(mapping []int, list []uint32) []uint32 {
	out := list[:0]
	for _, idx := range list {
		if int(idx) < len(mapping) && mapping[idx] >= 0 {
			out = append(out, uint32(mapping[idx]))
		}
	}
	return out
}

func mapAttributes(mapping []int, attrs map[string]uint32) {
	for name, idx := range attrs {
		if int(idx) < len(mapping) && mapping[idx] >= 0 {
			attrs[name] = uint32(mapping[idx])
		} else {
			delete(attrs, name)
		}
	}
}

// Remap rewrites every reference in the document that points into the
// given table, according to mapping (old index -> new index, -1 for
// dropped). References whose target was dropped become absent; list
// entries (children, joints, scene roots) are removed. A view's buffer
// and a Draco extension's bufferView have no absent form and keep their
// old value when their target is dropped. Callers that
// drop entries still required by their context must remove the
// containing element themselves before compacting.
func Remap(doc *gltf.Document, kind Kind, mapping []int) {
	switch kind {
	case KindNode:
		remapNodes(doc, mapping)
	case KindMesh:
		for _, node := range doc.Nodes {
			node.Mesh = mapRef(mapping, node.Mesh)
		}
	case KindMaterial:
		for _, mesh := range doc.Meshes {
			for _, prim := range mesh.Primitives {
				prim.Material = mapRef(mapping, prim.Material)
			}
		}
	case KindAccessor:
		remapAccessorRefs(doc, mapping)
	case KindTexture:
		remapTextureRefs(doc, mapping)
	case KindImage:
		for _, tex := range doc.Textures {
			tex.Source = mapRef(mapping, tex.Source)
		}
	case KindSampler:
		for _, tex := range doc.Textures {
			tex.Sampler = mapRef(mapping, tex.Sampler)
		}
	case KindBufferView:
		remapBufferViewRefs(doc, mapping)
	case KindBuffer:
		for _, view := range doc.BufferViews {
			if int(view.Buffer) < len(mapping) && mapping[view.Buffer] >= 0 {
				view.Buffer = uint32(mapping[view.Buffer])
			}
		}
	case KindSkin:
		for _, node := range doc.Nodes {
			node.Skin = mapRef(mapping, node.Skin)
		}
	case KindCamera:
		for _, node := range doc.Nodes {
			node.Camera = mapRef(mapping, node.Camera)
		}
	}
}

func remapNodes(doc *gltf.Document, mapping []int) {
	for _, scene := range doc.Scenes {
		scene.Nodes = mapList(mapping, scene.Nodes)
	}
	for _, node := range doc.Nodes {
		node.Children = mapList(mapping, node.Children)
	}
	for _, skin := range doc.Skins {
		skin.Joints = mapList(mapping, skin.Joints)
		skin.Skeleton = mapRef(mapping, skin.Skeleton)
	}
	for _, anim := range doc.Animations {
		for _, channel := range anim.Channels {
			channel.Target.Node = mapRef(mapping, channel.Target.Node)
		}
	}
}

func remapAccessorRefs(doc *gltf.Document, mapping []int) {
	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			prim.Indices = mapRef(mapping, prim.Indices)
			mapAttributes(mapping, prim.Attributes)
			for _, target := range prim.Targets {
				mapAttributes(mapping, target)
			}
		}
	}
	for _, anim := range doc.Animations {
		for _, sampler := range anim.Samplers {
			sampler.Input = mapRef(mapping, sampler.Input)
			sampler.Output = mapRef(mapping, sampler.Output)
		}
	}
	for _, skin := range doc.Skins {
		skin.InverseBindMatrices = mapRef(mapping, skin.InverseBindMatrices)
	}
}

func remapTextureRefs(doc *gltf.Document, mapping []int) {
	mapInfo := func(info *gltf.TextureInfo) *gltf.TextureInfo {
		if info == nil {
			return nil
		}
		if int(info.Index) >= len(mapping) || mapping[info.Index] < 0 {
			return nil
		}
		info.Index = uint32(mapping[info.Index])
		return info
	}

	for _, mat := range doc.Materials {
		if mat.PBRMetallicRoughness != nil {
			pbr := mat.PBRMetallicRoughness
			pbr.BaseColorTexture = mapInfo(pbr.BaseColorTexture)
			pbr.MetallicRoughnessTexture = mapInfo(pbr.MetallicRoughnessTexture)
		}
		if mat.NormalTexture != nil {
			mat.NormalTexture.Index = mapRef(mapping, mat.NormalTexture.Index)
			if mat.NormalTexture.Index == nil {
				mat.NormalTexture = nil
			}
		}
		if mat.OcclusionTexture != nil {
			mat.OcclusionTexture.Index = mapRef(mapping, mat.OcclusionTexture.Index)
			if mat.OcclusionTexture.Index == nil {
				mat.OcclusionTexture = nil
			}
		}
		mat.EmissiveTexture = mapInfo(mat.EmissiveTexture)
	}
}

func remapBufferViewRefs(doc *gltf.Document, mapping []int) {
	for _, acc := range doc.Accessors {
		acc.BufferView = mapRef(mapping, acc.BufferView)
	}
	for _, img := range doc.Images {
		img.BufferView = mapRef(mapping, img.BufferView)
	}
	// The view index buried inside primitive Draco extensions moves with
	// the table too; forgetting it has historically been a bug source.
	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			if ext, ok := DracoOf(prim); ok {
				if int(ext.BufferView) < len(mapping) && mapping[ext.BufferView] >= 0 {
					ext.BufferView = uint32(mapping[ext.BufferView])
				}
			}
		}
	}
}

// CompactTable returns a fresh table holding only the entries that
// survive mapping, in ascending old-index order.
func CompactTable[T any](items []T, mapping []int) []T {
	out := make([]T, 0, len(items))
	for i, item := range items {
		if i < len(mapping) && mapping[i] >= 0 {
			out = append(out, item)
		}
	}
	return out
}
