package gltfutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qmuntal/gltf"
)

// Stats summarizes a document: table sizes, geometry totals and memory
// usage, as shown by the info subcommand.
type Stats struct {
	Filename  string
	Generator string
	Version   string
	Copyright string

	SceneCount   int
	DefaultScene int
	NodeCount    int

	MeshCount      int
	PrimitiveCount int
	TriangleCount  int
	VertexCount    int

	MaterialCount int
	TextureCount  int
	ImageCount    int
	SamplerCount  int

	AnimationCount int
	SkinCount      int
	CameraCount    int

	AccessorCount   int
	BufferViewCount int
	BufferCount     int

	BufferBytes uint64

	ExtensionsUsed     []string
	ExtensionsRequired []string
}

// Collect gathers statistics from a document.
func Collect(doc *gltf.Document, filename string) Stats {
	stats := Stats{
		Filename:  filename,
		Generator: doc.Asset.Generator,
		Version:   doc.Asset.Version,
		Copyright: doc.Asset.Copyright,

		SceneCount:   len(doc.Scenes),
		DefaultScene: -1,
		NodeCount:    len(doc.Nodes),

		MeshCount:     len(doc.Meshes),
		MaterialCount: len(doc.Materials),
		TextureCount:  len(doc.Textures),
		ImageCount:    len(doc.Images),
		SamplerCount:  len(doc.Samplers),

		AnimationCount: len(doc.Animations),
		SkinCount:      len(doc.Skins),
		CameraCount:    len(doc.Cameras),

		AccessorCount:   len(doc.Accessors),
		BufferViewCount: len(doc.BufferViews),
		BufferCount:     len(doc.Buffers),

		ExtensionsUsed:     append([]string(nil), doc.ExtensionsUsed...),
		ExtensionsRequired: append([]string(nil), doc.ExtensionsRequired...),
	}

	if doc.Scene != nil {
		stats.DefaultScene = int(*doc.Scene)
	}

	for _, mesh := range doc.Meshes {
		stats.PrimitiveCount += len(mesh.Primitives)
		for _, prim := range mesh.Primitives {
			if pos, ok := prim.Attributes["POSITION"]; ok && int(pos) < len(doc.Accessors) {
				stats.VertexCount += int(doc.Accessors[pos].Count)
			}
			if prim.Mode != gltf.PrimitiveTriangles {
				continue
			}
			if prim.Indices != nil && int(*prim.Indices) < len(doc.Accessors) {
				stats.TriangleCount += int(doc.Accessors[*prim.Indices].Count) / 3
			} else if pos, ok := prim.Attributes["POSITION"]; ok && int(pos) < len(doc.Accessors) {
				stats.TriangleCount += int(doc.Accessors[pos].Count) / 3
			}
		}
	}

	for _, buffer := range doc.Buffers {
		stats.BufferBytes += uint64(len(buffer.Data))
	}

	return stats
}

// Format renders the statistics as a human-readable report.
func (s Stats) Format(verbose bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "File:       %s\n", s.Filename)
	if s.Generator != "" {
		fmt.Fprintf(&b, "Generator:  %s\n", s.Generator)
	}
	if s.Version != "" {
		fmt.Fprintf(&b, "Version:    %s\n", s.Version)
	}
	if s.Copyright != "" {
		fmt.Fprintf(&b, "Copyright:  %s\n", s.Copyright)
	}

	fmt.Fprintf(&b, "\nScenes:     %d (default %d)\n", s.SceneCount, s.DefaultScene)
	fmt.Fprintf(&b, "Nodes:      %d\n", s.NodeCount)
	fmt.Fprintf(&b, "Meshes:     %d (%d primitives)\n", s.MeshCount, s.PrimitiveCount)
	fmt.Fprintf(&b, "Triangles:  %d\n", s.TriangleCount)
	fmt.Fprintf(&b, "Vertices:   %d\n", s.VertexCount)
	fmt.Fprintf(&b, "Materials:  %d\n", s.MaterialCount)
	fmt.Fprintf(&b, "Textures:   %d (%d images, %d samplers)\n", s.TextureCount, s.ImageCount, s.SamplerCount)
	fmt.Fprintf(&b, "Animations: %d\n", s.AnimationCount)
	fmt.Fprintf(&b, "Skins:      %d\n", s.SkinCount)

	if verbose {
		fmt.Fprintf(&b, "\nAccessors:    %d\n", s.AccessorCount)
		fmt.Fprintf(&b, "Buffer views: %d\n", s.BufferViewCount)
		fmt.Fprintf(&b, "Buffers:      %d (%s)\n", s.BufferCount, formatBytes(s.BufferBytes))
		if s.CameraCount > 0 {
			fmt.Fprintf(&b, "Cameras:      %d\n", s.CameraCount)
		}
		if len(s.ExtensionsUsed) > 0 {
			used := append([]string(nil), s.ExtensionsUsed...)
			sort.Strings(used)
			fmt.Fprintf(&b, "Extensions:   %s\n", strings.Join(used, ", "))
		}
		if len(s.ExtensionsRequired) > 0 {
			required := append([]string(nil), s.ExtensionsRequired...)
			sort.Strings(required)
			fmt.Fprintf(&b, "Required:     %s\n", strings.Join(required, ", "))
		}
	}

	return b.String()
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
