package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// JoinOptions controls the join pass.
type JoinOptions struct {
	// KeepNamed includes the mesh name in the group key. Grouping is
	// already per mesh, so this does not change which primitives join.
	KeepNamed bool
	Reporter  *progress.Reporter
}

// JoinResult summarizes a join run.
type JoinResult struct {
	MeshesModified    int
	GroupsMerged      int
	PrimitivesRemoved int
}

// Join concatenates compatible primitives within each mesh: same
// material, mode, indexedness, attribute layout and morph-target count.
// Primitives with morph targets are never joined. Incompatibilities
// found mid-group roll the group back and the pass continues.
func Join(doc *gltf.Document, opts JoinOptions) (JoinResult, error) {
	var result JoinResult

	for _, mesh := range doc.Meshes {
		if len(mesh.Primitives) < 2 {
			continue
		}

		buckets := make(map[string][]int)
		var keys []string
		for primIdx, prim := range mesh.Primitives {
			if len(prim.Targets) > 0 {
				continue
			}
			key := primitiveKey(doc, prim)
			if opts.KeepNamed && mesh.Name != "" {
				key += "|mesh:" + mesh.Name
			}
			if _, seen := buckets[key]; !seen {
				keys = append(keys, key)
			}
			buckets[key] = append(buckets[key], primIdx)
		}
		// Deterministic group order.
		sort.Strings(keys)

		var removal []int
		for _, key := range keys {
			group := buckets[key]
			if len(group) < 2 {
				continue
			}

			accessorStart := len(doc.Accessors)
			viewStart := len(doc.BufferViews)
			bufferStart := len(doc.Buffers)
			primitiveStart := len(mesh.Primitives)

			if err := joinGroup(doc, mesh, group); err != nil {
				doc.Accessors = doc.Accessors[:accessorStart]
				doc.BufferViews = doc.BufferViews[:viewStart]
				doc.Buffers = doc.Buffers[:bufferStart]
				mesh.Primitives = mesh.Primitives[:primitiveStart]
				opts.Reporter.Report("join", "Skipping incompatible group", -1, err.Error())
				continue
			}

			removal = append(removal, group...)
			result.GroupsMerged++
			result.PrimitivesRemoved += len(group)
		}

		if len(removal) > 0 {
			sort.Sort(sort.Reverse(sort.IntSlice(removal)))
			for _, idx := range removal {
				mesh.Primitives = append(mesh.Primitives[:idx], mesh.Primitives[idx+1:]...)
			}
			result.MeshesModified++
		}
	}

	opts.Reporter.Report("join", "Join complete", 1.0,
		fmt.Sprintf("%d groups merged, %d primitives removed", result.GroupsMerged, result.PrimitivesRemoved))
	return result, nil
}

// primitiveKey serializes the compatibility tuple: material, mode,
// indexedness, attribute semantics with their element layout, and
// morph-target count.
func primitiveKey(doc *gltf.Document, prim *gltf.Primitive) string {
	var b strings.Builder

	if prim.Material != nil {
		fmt.Fprintf(&b, "mat:%d|", *prim.Material)
	} else {
		b.WriteString("mat:-|")
	}
	fmt.Fprintf(&b, "mode:%v|", prim.Mode)
	fmt.Fprintf(&b, "idx:%t|", prim.Indices != nil)

	semantics := make([]string, 0, len(prim.Attributes))
	for name := range prim.Attributes {
		semantics = append(semantics, name)
	}
	sort.Strings(semantics)

	b.WriteString("attrs:")
	for _, semantic := range semantics {
		accIdx := prim.Attributes[semantic]
		if int(accIdx) >= len(doc.Accessors) {
			continue
		}
		acc := doc.Accessors[accIdx]
		fmt.Fprintf(&b, "%s:%v:%v+", semantic, acc.Type, acc.ComponentType)
	}

	fmt.Fprintf(&b, "targets:%d", len(prim.Targets))
	return b.String()
}

type joinInfo struct {
	prim       *gltf.Primitive
	vertexBase uint32
	vertexCnt  uint32
	indexBase  uint32
	indexCnt   uint32
}

func joinGroup(doc *gltf.Document, mesh *gltf.Mesh, group []int) error {
	template := mesh.Primitives[group[0]]
	templateHasIndices := template.Indices != nil

	infos := make([]joinInfo, 0, len(group))
	totalVertices := uint32(0)
	totalIndices := uint32(0)

	for _, primIdx := range group {
		prim := mesh.Primitives[primIdx]

		posIdx, ok := prim.Attributes["POSITION"]
		if !ok {
			return errMissingPosition
		}
		posSpan, ok := gltfutil.ResolveSpan(doc, posIdx)
		if !ok {
			return fmt.Errorf("transform: invalid POSITION accessor %d", posIdx)
		}

		info := joinInfo{
			prim:       prim,
			vertexBase: totalVertices,
			vertexCnt:  posSpan.Count,
		}
		totalVertices += info.vertexCnt

		if templateHasIndices {
			if prim.Indices == nil {
				return fmt.Errorf("transform: primitive missing indices")
			}
			indexSpan, ok := gltfutil.ResolveSpan(doc, *prim.Indices)
			if !ok {
				return fmt.Errorf("transform: invalid index accessor %d", *prim.Indices)
			}
			info.indexBase = totalIndices
			info.indexCnt = indexSpan.Count
		} else {
			info.indexBase = totalIndices
			info.indexCnt = info.vertexCnt
		}
		totalIndices += info.indexCnt

		infos = append(infos, info)
	}

	if totalVertices == 0 {
		return fmt.Errorf("transform: empty join group")
	}

	// Attribute layouts must agree across the group.
	for semantic, templateAccIdx := range template.Attributes {
		if int(templateAccIdx) >= len(doc.Accessors) {
			return fmt.Errorf("transform: invalid attribute accessor %d", templateAccIdx)
		}
		templateAcc := doc.Accessors[templateAccIdx]
		for _, info := range infos {
			srcIdx, ok := info.prim.Attributes[semantic]
			if !ok {
				return fmt.Errorf("transform: attribute %s missing across group", semantic)
			}
			if int(srcIdx) >= len(doc.Accessors) {
				return fmt.Errorf("transform: invalid attribute accessor %d", srcIdx)
			}
			srcAcc := doc.Accessors[srcIdx]
			if srcAcc.Type != templateAcc.Type || srcAcc.ComponentType != templateAcc.ComponentType {
				return fmt.Errorf("transform: attribute %s type mismatch", semantic)
			}
			if _, ok := gltfutil.ResolveSpan(doc, srcIdx); !ok {
				return fmt.Errorf("transform: unreadable attribute %s", semantic)
			}
		}
	}

	joined := &gltf.Primitive{
		Mode:       template.Mode,
		Material:   template.Material,
		Attributes: map[string]uint32{},
	}

	type attrTarget struct {
		semantic string
		span     gltfutil.Span
	}

	semantics := make([]string, 0, len(template.Attributes))
	for name := range template.Attributes {
		semantics = append(semantics, name)
	}
	sort.Strings(semantics)

	targets := make([]attrTarget, 0, len(semantics))
	for _, semantic := range semantics {
		templateAcc := doc.Accessors[template.Attributes[semantic]]
		accIdx := gltfutil.AllocateAccessor(doc, totalVertices,
			templateAcc.Type, templateAcc.ComponentType, gltf.TargetArrayBuffer)
		span, ok := gltfutil.ResolveSpan(doc, accIdx)
		if !ok {
			return fmt.Errorf("transform: failed to allocate attribute buffer")
		}
		joined.Attributes[semantic] = accIdx
		targets = append(targets, attrTarget{semantic: semantic, span: span})
	}

	var indexSpan gltfutil.Span
	indexType := gltf.ComponentUshort
	if templateHasIndices {
		indexType = gltfutil.IndexTypeForMax(totalVertices - 1)
		indexAccessor := gltfutil.AllocateAccessor(doc, totalIndices,
			gltf.AccessorScalar, indexType, gltf.TargetElementArrayBuffer)
		span, ok := gltfutil.ResolveSpan(doc, indexAccessor)
		if !ok {
			return fmt.Errorf("transform: failed to allocate index buffer")
		}
		indexSpan = span
		joined.Indices = gltf.Index(indexAccessor)
	}

	// Copy vertex data at each primitive's running vertex base.
	for _, info := range infos {
		for _, target := range targets {
			srcSpan, ok := gltfutil.ResolveSpan(doc, info.prim.Attributes[target.semantic])
			if !ok {
				return fmt.Errorf("transform: unreadable attribute %s", target.semantic)
			}
			for i := uint32(0); i < info.vertexCnt; i++ {
				copy(target.span.At(info.vertexBase+i), srcSpan.At(i))
			}
		}
	}

	if templateHasIndices {
		for _, info := range infos {
			indices, err := gltfutil.ReadIndexStream(doc, *info.prim.Indices)
			if err != nil {
				return err
			}
			for i, value := range indices {
				gltfutil.PutIndex(indexSpan, info.indexBase+uint32(i), value+info.vertexBase, indexType)
			}
		}
	}

	mesh.Primitives = append(mesh.Primitives, joined)
	return nil
}
