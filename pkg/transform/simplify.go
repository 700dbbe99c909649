package transform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// Simplifier reduces an indexed triangle list. It returns a new index
// list (indices into the original vertex buffer) whose length is a
// multiple of three, and the observed geometric error. The quadric-error
// reducer in internal/meshopt is the default implementation; the pass
// itself treats it as an opaque service.
type Simplifier interface {
	Simplify(indices []uint32, positions [][3]float32, targetIndexCount int, targetError float64, lockBorder bool) ([]uint32, float64, error)
}

// SimplifyOptions controls the simplify pass.
type SimplifyOptions struct {
	// Ratio is the target index count as a fraction of the original.
	Ratio float64
	// Error is the simplifier's error threshold.
	Error float64
	// LockBorder keeps border vertices in place.
	LockBorder bool

	Simplifier Simplifier
	Reporter   *progress.Reporter
}

// SimplifyResult summarizes a simplify run.
type SimplifyResult struct {
	Total      int
	Simplified int
	Skipped    int
}

// ErrNoSimplifier reports that the pass was invoked without a reducer.
var ErrNoSimplifier = errors.New("transform: no simplifier configured")

// Simplify reduces every triangle primitive with the configured
// Simplifier. Strip and fan primitives are relabelled as triangle lists;
// their index sequences are not expanded. Primitives the reducer cannot shrink are skipped and counted.
func Simplify(doc *gltf.Document, opts SimplifyOptions) (SimplifyResult, error) {
	if opts.Simplifier == nil {
		return SimplifyResult{}, ErrNoSimplifier
	}

	var result SimplifyResult

	for meshIdx, mesh := range doc.Meshes {
		for primIdx, prim := range mesh.Primitives {
			result.Total++

			switch prim.Mode {
			case gltf.PrimitiveTriangles:
			case gltf.PrimitiveTriangleStrip, gltf.PrimitiveTriangleFan:
				// Only the mode changes; the existing index sequence is
				// read as a triangle list as it stands.
				prim.Mode = gltf.PrimitiveTriangles
			default:
				result.Skipped++
				continue
			}

			tag := fmt.Sprintf("mesh %d primitive %d", meshIdx, primIdx)
			if simplifyPrimitive(doc, prim, opts, tag) {
				result.Simplified++
			} else {
				result.Skipped++
			}
		}
	}

	opts.Reporter.Report("simplify", "Simplify complete", 1.0,
		fmt.Sprintf("%d/%d primitives simplified (%d skipped)", result.Simplified, result.Total, result.Skipped))
	return result, nil
}

func simplifyPrimitive(doc *gltf.Document, prim *gltf.Primitive, opts SimplifyOptions, tag string) bool {
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "missing POSITION attribute")
		return false
	}

	posSpan, ok := gltfutil.ResolveSpan(doc, posIdx)
	if !ok || posSpan.Count == 0 {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "unreadable POSITION accessor")
		return false
	}
	posAcc := doc.Accessors[posIdx]
	if posAcc.Type != gltf.AccessorVec3 || posAcc.ComponentType != gltf.ComponentFloat {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "POSITION is not vec3 float")
		return false
	}

	if prim.Indices == nil {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "missing indices")
		return false
	}
	indices, err := gltfutil.ReadIndexStream(doc, *prim.Indices)
	if err != nil || len(indices) == 0 || len(indices)%3 != 0 {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "unusable index accessor")
		return false
	}

	positions := make([][3]float32, posSpan.Count)
	for i := uint32(0); i < posSpan.Count; i++ {
		elem := posSpan.At(i)
		positions[i] = [3]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[8:])),
		}
	}

	targetIndexCount := int(float64(len(indices))*opts.Ratio) / 3 * 3
	if targetIndexCount < 3 {
		targetIndexCount = 3
	}
	if len(indices) <= targetIndexCount {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "already at target size")
		return false
	}

	simplified, observedError, err := opts.Simplifier.Simplify(indices, positions, targetIndexCount, opts.Error, opts.LockBorder)
	if err != nil {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, err.Error())
		return false
	}
	if len(simplified) == 0 || len(simplified) >= len(indices) {
		opts.Reporter.Report("simplify", "Skipping "+tag, -1, "no reduction achieved")
		return false
	}

	minIndex, maxIndex := simplified[0], simplified[0]
	for _, v := range simplified {
		if v < minIndex {
			minIndex = v
		}
		if v > maxIndex {
			maxIndex = v
		}
	}

	indexType := gltfutil.IndexTypeForMax(maxIndex)
	accIdx := gltfutil.AllocateAccessor(doc, uint32(len(simplified)),
		gltf.AccessorScalar, indexType, gltf.TargetElementArrayBuffer)
	span, _ := gltfutil.ResolveSpan(doc, accIdx)
	for i, v := range simplified {
		gltfutil.PutIndex(span, uint32(i), v, indexType)
	}
	doc.Accessors[accIdx].Min = []float32{float32(minIndex)}
	doc.Accessors[accIdx].Max = []float32{float32(maxIndex)}

	prim.Indices = gltf.Index(accIdx)

	opts.Reporter.Report("simplify", "Simplified "+tag, -1,
		fmt.Sprintf("%d -> %d triangles, error %.6f", len(indices)/3, len(simplified)/3, observedError))
	return true
}
