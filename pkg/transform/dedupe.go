package transform

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// DedupeOptions toggles the four dedupe sub-passes.
type DedupeOptions struct {
	Accessors bool
	Meshes    bool
	Materials bool
	Textures  bool

	// KeepUniqueNames treats differently named entries as distinct.
	KeepUniqueNames bool
	Reporter        *progress.Reporter
}

// Dedupe removes structurally equal accessors, textures/images,
// materials and meshes. The first occurrence wins; later duplicates are
// remapped to it and the tables compacted.
func Dedupe(doc *gltf.Document, opts DedupeOptions) error {
	if opts.Accessors {
		dedupeAccessors(doc, opts)
	}
	if opts.Textures {
		dedupeImagesAndTextures(doc, opts)
	}
	if opts.Materials {
		dedupeMaterials(doc, opts)
	}
	if opts.Meshes {
		dedupeMeshes(doc, opts)
	}
	return nil
}

// applyDuplicates folds a duplicate->original mapping into a dense
// remap plus a survivors-only compaction map.
func applyDuplicates(doc *gltf.Document, kind gltfutil.Kind, size int, duplicates map[uint32]uint32) []int {
	if len(duplicates) == 0 {
		return nil
	}

	keep := make([]int, size)
	next := 0
	for i := 0; i < size; i++ {
		if _, dup := duplicates[uint32(i)]; dup {
			keep[i] = -1
		} else {
			keep[i] = next
			next++
		}
	}

	remap := make([]int, size)
	for i := 0; i < size; i++ {
		if target, dup := duplicates[uint32(i)]; dup {
			remap[i] = keep[target]
		} else {
			remap[i] = keep[i]
		}
	}

	gltfutil.Remap(doc, kind, remap)
	return keep
}

func accessorMetaKey(acc *gltf.Accessor) string {
	sparse := 0
	if acc.Sparse != nil {
		sparse = 1
	}
	return fmt.Sprintf("%d:%v:%v:%t:%d", acc.Count, acc.Type, acc.ComponentType, acc.Normalized, sparse)
}

// contentHash hashes the accessor's strided data. Tight ranges are
// hashed in one shot, strided ranges element by element.
func contentHash(span gltfutil.Span) uint64 {
	if span.Tight() {
		return xxhash.Sum64(span.Data[:uint64(span.Count)*uint64(span.Stride)])
	}
	d := xxhash.New()
	for i := uint32(0); i < span.Count; i++ {
		d.Write(span.At(i))
	}
	return d.Sum64()
}

func spansEqual(a, b gltfutil.Span) bool {
	if a.Count != b.Count || a.ElemSize != b.ElemSize {
		return false
	}
	for i := uint32(0); i < a.Count; i++ {
		if !bytes.Equal(a.At(i), b.At(i)) {
			return false
		}
	}
	return true
}

func dedupeAccessors(doc *gltf.Document, opts DedupeOptions) {
	total := len(doc.Accessors)
	opts.Reporter.Report("dedupe-accessors", "Deduplicating accessors", 0.0, fmt.Sprintf("%d total", total))

	type entry struct {
		idx  uint32
		hash uint64
		span gltfutil.Span
		ok   bool
	}

	buckets := make(map[string][]entry)
	for i, acc := range doc.Accessors {
		e := entry{idx: uint32(i)}
		if span, ok := gltfutil.ResolveSpan(doc, uint32(i)); ok {
			e.span = span
			e.hash = contentHash(span)
			e.ok = true
		}
		key := accessorMetaKey(acc)
		buckets[key] = append(buckets[key], e)
	}

	opts.Reporter.Report("dedupe-accessors", "Finding duplicates", 0.5, fmt.Sprintf("%d buckets", len(buckets)))

	duplicates := make(map[uint32]uint32)
	for _, entries := range buckets {
		if len(entries) < 2 {
			continue
		}
		byHash := make(map[uint64][]entry)
		for _, e := range entries {
			if !e.ok {
				continue
			}
			candidates := byHash[e.hash]
			matched := false
			for _, first := range candidates {
				if spansEqual(first.span, e.span) {
					duplicates[e.idx] = first.idx
					matched = true
					break
				}
			}
			if !matched {
				byHash[e.hash] = append(candidates, e)
			}
		}
	}

	if mapping := applyDuplicates(doc, gltfutil.KindAccessor, total, duplicates); mapping != nil {
		doc.Accessors = gltfutil.CompactTable(doc.Accessors, mapping)
	}

	opts.Reporter.Report("dedupe-accessors", "Accessors deduplicated", 1.0,
		fmt.Sprintf("merged %d of %d", len(duplicates), total))
}

func materialKey(mat *gltf.Material, keepName bool) string {
	var b strings.Builder

	if keepName && mat.Name != "" {
		fmt.Fprintf(&b, "name:%s;", mat.Name)
	}

	writeInfo := func(tag string, info *gltf.TextureInfo) {
		if info == nil {
			fmt.Fprintf(&b, "%s:-;", tag)
			return
		}
		fmt.Fprintf(&b, "%s:%d/%d;", tag, info.Index, info.TexCoord)
	}

	if pbr := mat.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			fmt.Fprintf(&b, "bcf:%v;", *pbr.BaseColorFactor)
		}
		writeInfo("bct", pbr.BaseColorTexture)
		if pbr.MetallicFactor != nil {
			fmt.Fprintf(&b, "mf:%v;", *pbr.MetallicFactor)
		}
		if pbr.RoughnessFactor != nil {
			fmt.Fprintf(&b, "rf:%v;", *pbr.RoughnessFactor)
		}
		writeInfo("mrt", pbr.MetallicRoughnessTexture)
	}

	if nt := mat.NormalTexture; nt != nil && nt.Index != nil {
		scale := float32(1)
		if nt.Scale != nil {
			scale = *nt.Scale
		}
		fmt.Fprintf(&b, "nt:%d/%d/%v;", *nt.Index, nt.TexCoord, scale)
	} else {
		b.WriteString("nt:-;")
	}

	if ot := mat.OcclusionTexture; ot != nil && ot.Index != nil {
		strength := float32(1)
		if ot.Strength != nil {
			strength = *ot.Strength
		}
		fmt.Fprintf(&b, "ot:%d/%d/%v;", *ot.Index, ot.TexCoord, strength)
	} else {
		b.WriteString("ot:-;")
	}

	writeInfo("et", mat.EmissiveTexture)
	fmt.Fprintf(&b, "ef:%v;", mat.EmissiveFactor)
	fmt.Fprintf(&b, "am:%v;", mat.AlphaMode)
	if mat.AlphaCutoff != nil {
		fmt.Fprintf(&b, "ac:%v;", *mat.AlphaCutoff)
	}
	fmt.Fprintf(&b, "ds:%t;", mat.DoubleSided)

	if len(mat.Extensions) > 0 {
		names := make([]string, 0, len(mat.Extensions))
		for name := range mat.Extensions {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "ext:%s;", strings.Join(names, ","))
	}
	fmt.Fprintf(&b, "extras:%t;", mat.Extras != nil)

	return b.String()
}

func dedupeMaterials(doc *gltf.Document, opts DedupeOptions) {
	total := len(doc.Materials)
	opts.Reporter.Report("dedupe-materials", "Deduplicating materials", 0.0, fmt.Sprintf("%d total", total))

	unique := make(map[string]uint32)
	duplicates := make(map[uint32]uint32)
	for i, mat := range doc.Materials {
		key := materialKey(mat, opts.KeepUniqueNames)
		if first, ok := unique[key]; ok {
			duplicates[uint32(i)] = first
		} else {
			unique[key] = uint32(i)
		}
	}

	if mapping := applyDuplicates(doc, gltfutil.KindMaterial, total, duplicates); mapping != nil {
		doc.Materials = gltfutil.CompactTable(doc.Materials, mapping)
	}

	opts.Reporter.Report("dedupe-materials", "Materials deduplicated", 1.0,
		fmt.Sprintf("merged %d of %d", len(duplicates), total))
}

func meshKey(mesh *gltf.Mesh, keepName bool) string {
	var b strings.Builder

	if keepName && mesh.Name != "" {
		fmt.Fprintf(&b, "name:%s;", mesh.Name)
	}

	writeAttrs := func(attrs map[string]uint32) {
		names := make([]string, 0, len(attrs))
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "%s:%d;", name, attrs[name])
		}
	}

	for _, prim := range mesh.Primitives {
		fmt.Fprintf(&b, "mode:%v;", prim.Mode)
		if prim.Material != nil {
			fmt.Fprintf(&b, "material:%d;", *prim.Material)
		} else {
			b.WriteString("material:-;")
		}
		if prim.Indices != nil {
			fmt.Fprintf(&b, "indices:%d;", *prim.Indices)
		} else {
			b.WriteString("indices:-;")
		}
		writeAttrs(prim.Attributes)
		for _, target := range prim.Targets {
			b.WriteString("target:[")
			writeAttrs(target)
			b.WriteString("]")
		}
		b.WriteString("|")
	}

	return b.String()
}

func dedupeMeshes(doc *gltf.Document, opts DedupeOptions) {
	total := len(doc.Meshes)
	opts.Reporter.Report("dedupe-meshes", "Deduplicating meshes", 0.0, fmt.Sprintf("%d total", total))

	unique := make(map[string]uint32)
	duplicates := make(map[uint32]uint32)
	for i, mesh := range doc.Meshes {
		key := meshKey(mesh, opts.KeepUniqueNames)
		if first, ok := unique[key]; ok {
			duplicates[uint32(i)] = first
		} else {
			unique[key] = uint32(i)
		}
	}

	if mapping := applyDuplicates(doc, gltfutil.KindMesh, total, duplicates); mapping != nil {
		doc.Meshes = gltfutil.CompactTable(doc.Meshes, mapping)
	}

	opts.Reporter.Report("dedupe-meshes", "Meshes deduplicated", 1.0,
		fmt.Sprintf("merged %d of %d", len(duplicates), total))
}

func dedupeImagesAndTextures(doc *gltf.Document, opts DedupeOptions) {
	imageTotal := len(doc.Images)
	opts.Reporter.Report("dedupe-textures", "Deduplicating images", 0.0, fmt.Sprintf("%d total", imageTotal))

	type imageEntry struct {
		idx  uint32
		data []byte
	}

	buckets := make(map[string][]imageEntry)
	imageDuplicates := make(map[uint32]uint32)
	for i, img := range doc.Images {
		data := imageData(doc, img)
		key := imageKey(img, data, opts.KeepUniqueNames)

		matched := false
		for _, first := range buckets[key] {
			if bytes.Equal(first.data, data) {
				imageDuplicates[uint32(i)] = first.idx
				matched = true
				break
			}
		}
		if !matched {
			buckets[key] = append(buckets[key], imageEntry{idx: uint32(i), data: data})
		}
	}

	if mapping := applyDuplicates(doc, gltfutil.KindImage, imageTotal, imageDuplicates); mapping != nil {
		doc.Images = gltfutil.CompactTable(doc.Images, mapping)
	}

	// Textures collapse once their sources agree.
	textureTotal := len(doc.Textures)
	unique := make(map[string]uint32)
	textureDuplicates := make(map[uint32]uint32)
	for i, tex := range doc.Textures {
		var b strings.Builder
		if opts.KeepUniqueNames && tex.Name != "" {
			fmt.Fprintf(&b, "name:%s;", tex.Name)
		}
		if tex.Source != nil {
			fmt.Fprintf(&b, "src:%d;", *tex.Source)
		} else {
			b.WriteString("src:-;")
		}
		if tex.Sampler != nil {
			fmt.Fprintf(&b, "smp:%d;", *tex.Sampler)
		} else {
			b.WriteString("smp:-;")
		}

		key := b.String()
		if first, ok := unique[key]; ok {
			textureDuplicates[uint32(i)] = first
		} else {
			unique[key] = uint32(i)
		}
	}

	if mapping := applyDuplicates(doc, gltfutil.KindTexture, textureTotal, textureDuplicates); mapping != nil {
		doc.Textures = gltfutil.CompactTable(doc.Textures, mapping)
	}

	opts.Reporter.Report("dedupe-textures", "Textures deduplicated", 1.0,
		fmt.Sprintf("merged %d images, %d textures", len(imageDuplicates), len(textureDuplicates)))
}
