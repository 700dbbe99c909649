package gltfutil

import (
	"encoding/json"

	"github.com/qmuntal/gltf"
)

// ExtDracoMeshCompression is the extension key for Draco-compressed
// primitives.
const ExtDracoMeshCompression = "KHR_draco_mesh_compression"

// DracoExtension is the payload stored under ExtDracoMeshCompression on
// a primitive: the view holding the compressed bytes and the mapping
// from attribute semantic to encoder-assigned attribute id.
type DracoExtension struct {
	BufferView uint32         `json:"bufferView"`
	Attributes map[string]int `json:"attributes"`
}

// DracoOf returns the primitive's Draco extension, normalizing whatever
// representation the decoder left in the extension map (typed value, raw
// JSON, or a generic object) to *DracoExtension. The returned pointer is
// stored back into the primitive, so mutations persist.
func DracoOf(p *gltf.Primitive) (*DracoExtension, bool) {
	if p.Extensions == nil {
		return nil, false
	}
	raw, ok := p.Extensions[ExtDracoMeshCompression]
	if !ok {
		return nil, false
	}

	switch v := raw.(type) {
	case *DracoExtension:
		return v, true
	case json.RawMessage:
		ext := &DracoExtension{}
		if err := json.Unmarshal(v, ext); err != nil {
			return nil, false
		}
		p.Extensions[ExtDracoMeshCompression] = ext
		return ext, true
	case map[string]interface{}:
		ext := &DracoExtension{Attributes: map[string]int{}}
		bv, ok := toUint32(v["bufferView"])
		if !ok {
			return nil, false
		}
		ext.BufferView = bv
		if attrs, ok := v["attributes"].(map[string]interface{}); ok {
			for name, id := range attrs {
				if n, ok := toUint32(id); ok {
					ext.Attributes[name] = int(n)
				}
			}
		}
		p.Extensions[ExtDracoMeshCompression] = ext
		return ext, true
	default:
		return nil, false
	}
}

// SetDraco attaches a Draco extension to the primitive.
func SetDraco(p *gltf.Primitive, ext *DracoExtension) {
	if p.Extensions == nil {
		p.Extensions = gltf.Extensions{}
	}
	p.Extensions[ExtDracoMeshCompression] = ext
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case uint32:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return uint32(i), true
	default:
		return 0, false
	}
}

// HasExtension reports whether name is present in the list.
func HasExtension(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

// AddExtension appends name to the list if not already present.
func AddExtension(list []string, name string) []string {
	if HasExtension(list, name) {
		return list
	}
	return append(list, name)
}
