package gltfutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// SaveOptions controls how a document is written.
type SaveOptions struct {
	EmbedImages  bool
	EmbedBuffers bool
	Pretty       bool
	Binary       bool
}

// Load reads a .gltf or .glb document from disk.
func Load(path string) (*gltf.Document, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return doc, nil
}

// IsGlbPath reports whether the path selects the binary container.
func IsGlbPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".glb")
}

// Save writes a document. Binary output is selected by opts.Binary or a
// .glb extension (case-insensitive); binary output clears every buffer
// URI so the bytes land in the binary chunk. A buffer carries either
// inline bytes or a URI, never both.
func Save(doc *gltf.Document, path string, opts SaveOptions) error {
	if opts.EmbedImages {
		if err := embedImages(doc, filepath.Dir(path)); err != nil {
			return err
		}
	}

	if opts.Binary || IsGlbPath(path) {
		for _, buffer := range doc.Buffers {
			buffer.URI = ""
		}
		if err := gltf.SaveBinary(doc, path); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	}

	// ASCII output: inline buffers travel as data URIs. --embed-buffers
	// additionally re-inlines buffers that still point at external files.
	for _, buffer := range doc.Buffers {
		if opts.EmbedBuffers && len(buffer.Data) > 0 {
			buffer.URI = ""
		}
		if buffer.URI == "" && len(buffer.Data) > 0 {
			buffer.EmbeddedResource()
		}
	}

	if opts.Pretty {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		data = append(data, '\n')
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	}

	if err := gltf.Save(doc, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// embedImages moves external image files into buffer views.
func embedImages(doc *gltf.Document, baseDir string) error {
	for _, img := range doc.Images {
		if img.BufferView != nil || img.URI == "" || strings.HasPrefix(img.URI, "data:") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(baseDir, img.URI))
		if err != nil {
			return fmt.Errorf("embedding image %s: %w", img.URI, err)
		}

		if img.MimeType == "" {
			img.MimeType = mimeTypeForPath(img.URI)
		}
		img.BufferView = gltf.Index(modeler.WriteBufferView(doc, gltf.TargetNone, data))
		img.URI = ""
	}
	return nil
}

func mimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
