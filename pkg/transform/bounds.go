// Package transform implements the model-level rewrite passes: merge,
// dedupe, flatten, join, weld, simplify, compress, prune and bounds.
// Every pass takes exclusive mutable access to one document and runs to
// completion; a failed pass leaves the document for the caller to
// discard.
package transform

import (
	"encoding/binary"
	"math"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// ComputeBounds recomputes min/max for every POSITION accessor of
// vec3/float32 layout and returns the number of accessors updated.
// Running it again yields the same result.
func ComputeBounds(doc *gltf.Document) int {
	updated := 0
	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			posIdx, ok := prim.Attributes["POSITION"]
			if !ok {
				continue
			}
			if computeAccessorBounds(doc, posIdx) {
				updated++
			}
		}
	}
	return updated
}

func computeAccessorBounds(doc *gltf.Document, accessorIdx uint32) bool {
	if int(accessorIdx) >= len(doc.Accessors) {
		return false
	}
	acc := doc.Accessors[accessorIdx]
	if acc.Type != gltf.AccessorVec3 || acc.ComponentType != gltf.ComponentFloat {
		return false
	}

	span, ok := gltfutil.ResolveSpan(doc, accessorIdx)
	if !ok || span.Count == 0 {
		return false
	}

	minVals := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxVals := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}

	for i := uint32(0); i < span.Count; i++ {
		elem := span.At(i)
		for c := 0; c < 3; c++ {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(elem[c*4:])))
			minVals[c] = math.Min(minVals[c], v)
			maxVals[c] = math.Max(maxVals[c], v)
		}
	}

	acc.Min = []float32{float32(minVals[0]), float32(minVals[1]), float32(minVals[2])}
	acc.Max = []float32{float32(maxVals[0]), float32(maxVals[1]), float32(maxVals[2])}
	return true
}
