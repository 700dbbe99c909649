package transform

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	// Dimension probing for the image dedupe key.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/cespare/xxhash/v2"
	"github.com/qmuntal/gltf"
)

// imageData returns the raw pixel bytes of an image: the buffer view
// slice for embedded images, decoded base64 for data URIs, nil for
// external files (those can only dedupe by URI).
func imageData(doc *gltf.Document, img *gltf.Image) []byte {
	if img.BufferView != nil && int(*img.BufferView) < len(doc.BufferViews) {
		view := doc.BufferViews[*img.BufferView]
		if int(view.Buffer) >= len(doc.Buffers) {
			return nil
		}
		buffer := doc.Buffers[view.Buffer]
		end := uint64(view.ByteOffset) + uint64(view.ByteLength)
		if end > uint64(len(buffer.Data)) {
			return nil
		}
		return buffer.Data[view.ByteOffset:end]
	}

	if strings.HasPrefix(img.URI, "data:") {
		comma := strings.IndexByte(img.URI, ',')
		if comma < 0 {
			return nil
		}
		data, err := base64.StdEncoding.DecodeString(img.URI[comma+1:])
		if err != nil {
			return nil
		}
		return data
	}

	return nil
}

// imageKey buckets images by mime type, decoded dimensions, byte length
// and a content hash. Byte-exact comparison decides within a bucket.
func imageKey(img *gltf.Image, data []byte, keepName bool) string {
	var b strings.Builder

	if keepName && img.Name != "" {
		fmt.Fprintf(&b, "name:%s;", img.Name)
	}
	fmt.Fprintf(&b, "mime:%s;", img.MimeType)

	if data == nil {
		// External reference: identity is the URI.
		fmt.Fprintf(&b, "uri:%s;", img.URI)
		return b.String()
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		fmt.Fprintf(&b, "dim:%dx%d;", cfg.Width, cfg.Height)
	}
	fmt.Fprintf(&b, "len:%d;hash:%x;", len(data), xxhash.Sum64(data))

	return b.String()
}
