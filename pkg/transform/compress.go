package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// AttributeKind is the encoder's canonical attribute classification.
type AttributeKind int

const (
	AttrPosition AttributeKind = iota
	AttrNormal
	AttrTexCoord
	AttrColor
	AttrGeneric
)

// EncoderAttribute is one vertex stream handed to the encoder, tightly
// packed.
type EncoderAttribute struct {
	Semantic      string
	Kind          AttributeKind
	ComponentType gltf.ComponentType
	Components    uint32
	Normalized    bool
	Data          []byte
}

// EncoderMesh is the encoder's input: faces as index triples plus one
// stream per attribute.
type EncoderMesh struct {
	VertexCount uint32
	Faces       []uint32
	Attributes  []EncoderAttribute
}

// EncodeParams carries quantization and method settings to the encoder.
type EncodeParams struct {
	PositionBits int
	NormalBits   int
	TexCoordBits int
	ColorBits    int
	GenericBits  int

	EncodingSpeed int
	DecodingSpeed int

	// Sequential selects the sequential connectivity encoding instead
	// of edgebreaker.
	Sequential bool
}

// EncodedPrimitive is the encoder's output: the compressed bytes and
// the attribute ids it assigned per input stream.
type EncodedPrimitive struct {
	Data         []byte
	AttributeIDs map[string]int
}

// DracoEncoder compresses one mesh. The encoder itself is an external
// service; the pass only splices its output into the document.
type DracoEncoder interface {
	Encode(mesh *EncoderMesh, params EncodeParams) (*EncodedPrimitive, error)
}

// CompressOptions controls the compress pass.
type CompressOptions struct {
	PositionBits int
	NormalBits   int
	TexCoordBits int
	ColorBits    int
	GenericBits  int

	EncodingSpeed int
	DecodingSpeed int

	// UseEdgebreaker selects edgebreaker connectivity encoding where
	// possible; primitives with morph targets always fall back to
	// sequential.
	UseEdgebreaker bool

	Encoder  DracoEncoder
	Reporter *progress.Reporter
}

// CompressResult summarizes a compress run.
type CompressResult struct {
	Compressed      int
	Skipped         int
	OriginalBytes   uint64
	CompressedBytes uint64
}

// ErrNoEncoder reports that no Draco encoder is wired in.
var ErrNoEncoder = errors.New("transform: Draco compression is not enabled, no encoder configured")

type compressRecord struct {
	mesh   int
	prim   int
	offset uint32
	length uint32
	ids    map[string]int
}

// Compress encodes every triangle primitive with indices and a POSITION
// attribute, splices the encoded bytes into one new buffer with a view
// per primitive, attaches the KHR_draco_mesh_compression extension and
// detaches the now-redundant accessor buffer views. Decoders recover
// the streams from the extension; the accessors keep count, layout and
// POSITION min/max.
func Compress(doc *gltf.Document, opts CompressOptions) (CompressResult, error) {
	if opts.Encoder == nil {
		return CompressResult{}, ErrNoEncoder
	}

	var result CompressResult
	var compressed []byte
	var records []compressRecord

	for meshIdx, mesh := range doc.Meshes {
		for primIdx, prim := range mesh.Primitives {
			encMesh, originalBytes, ok := buildEncoderMesh(doc, prim)
			if !ok {
				result.Skipped++
				continue
			}

			params := EncodeParams{
				PositionBits:  opts.PositionBits,
				NormalBits:    opts.NormalBits,
				TexCoordBits:  opts.TexCoordBits,
				ColorBits:     opts.ColorBits,
				GenericBits:   opts.GenericBits,
				EncodingSpeed: opts.EncodingSpeed,
				DecodingSpeed: opts.DecodingSpeed,
				Sequential:    !opts.UseEdgebreaker || len(prim.Targets) > 0,
			}

			encoded, err := opts.Encoder.Encode(encMesh, params)
			if err != nil {
				opts.Reporter.Report("compress", fmt.Sprintf("Skipping mesh %d primitive %d", meshIdx, primIdx), -1, err.Error())
				result.Skipped++
				continue
			}

			offset := uint32(len(compressed))
			compressed = append(compressed, encoded.Data...)
			records = append(records, compressRecord{
				mesh:   meshIdx,
				prim:   primIdx,
				offset: offset,
				length: uint32(len(encoded.Data)),
				ids:    encoded.AttributeIDs,
			})

			result.Compressed++
			result.OriginalBytes += originalBytes
			result.CompressedBytes += uint64(len(encoded.Data))
		}
	}

	if len(records) == 0 {
		opts.Reporter.Report("compress", "Nothing compressed", 1.0,
			fmt.Sprintf("%d primitives skipped", result.Skipped))
		return result, nil
	}

	doc.Buffers = append(doc.Buffers, &gltf.Buffer{
		ByteLength: uint32(len(compressed)),
		Data:       compressed,
	})
	bufferIdx := uint32(len(doc.Buffers) - 1)

	for _, record := range records {
		doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
			Buffer:     bufferIdx,
			ByteOffset: record.offset,
			ByteLength: record.length,
		})
		viewIdx := uint32(len(doc.BufferViews) - 1)

		prim := doc.Meshes[record.mesh].Primitives[record.prim]
		gltfutil.SetDraco(prim, &gltfutil.DracoExtension{
			BufferView: viewIdx,
			Attributes: record.ids,
		})

		// The POSITION accessor keeps serving min/max after its view is
		// cleared, so the bounds must exist.
		if posIdx, ok := prim.Attributes["POSITION"]; ok && int(posIdx) < len(doc.Accessors) {
			if len(doc.Accessors[posIdx].Min) == 0 {
				computeAccessorBounds(doc, posIdx)
			}
		}

		for _, accIdx := range prim.Attributes {
			if int(accIdx) < len(doc.Accessors) {
				doc.Accessors[accIdx].BufferView = nil
				doc.Accessors[accIdx].ByteOffset = 0
			}
		}
		if prim.Indices != nil && int(*prim.Indices) < len(doc.Accessors) {
			doc.Accessors[*prim.Indices].BufferView = nil
			doc.Accessors[*prim.Indices].ByteOffset = 0
		}
	}

	doc.ExtensionsUsed = gltfutil.AddExtension(doc.ExtensionsUsed, gltfutil.ExtDracoMeshCompression)
	doc.ExtensionsRequired = gltfutil.AddExtension(doc.ExtensionsRequired, gltfutil.ExtDracoMeshCompression)

	opts.Reporter.Report("compress", "Compression complete", 1.0,
		fmt.Sprintf("%d primitives, %d -> %d bytes", result.Compressed, result.OriginalBytes, result.CompressedBytes))
	return result, nil
}

// buildEncoderMesh streams a primitive's faces and attributes into the
// encoder input form. Only indexed triangle primitives with POSITION
// qualify.
func buildEncoderMesh(doc *gltf.Document, prim *gltf.Primitive) (*EncoderMesh, uint64, bool) {
	if prim.Mode != gltf.PrimitiveTriangles {
		return nil, 0, false
	}
	if prim.Indices == nil {
		return nil, 0, false
	}
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, 0, false
	}
	posSpan, ok := gltfutil.ResolveSpan(doc, posIdx)
	if !ok || posSpan.Count == 0 {
		return nil, 0, false
	}

	faces, err := gltfutil.ReadIndexStream(doc, *prim.Indices)
	if err != nil || len(faces)%3 != 0 {
		return nil, 0, false
	}

	mesh := &EncoderMesh{
		VertexCount: posSpan.Count,
		Faces:       faces,
	}
	var originalBytes uint64
	originalBytes += uint64(len(faces)) * uint64(gltfutil.ComponentSize(doc.Accessors[*prim.Indices].ComponentType))

	for semantic, accIdx := range prim.Attributes {
		span, ok := gltfutil.ResolveSpan(doc, accIdx)
		if !ok {
			continue
		}
		acc := doc.Accessors[accIdx]

		packed := make([]byte, uint64(span.Count)*uint64(span.ElemSize))
		for i := uint32(0); i < span.Count; i++ {
			copy(packed[uint64(i)*uint64(span.ElemSize):], span.At(i))
		}
		originalBytes += uint64(len(packed))

		mesh.Attributes = append(mesh.Attributes, EncoderAttribute{
			Semantic:      semantic,
			Kind:          attributeKind(semantic),
			ComponentType: acc.ComponentType,
			Components:    gltfutil.ComponentCount(acc.Type),
			Normalized:    acc.Normalized,
			Data:          packed,
		})
	}

	return mesh, originalBytes, true
}

func attributeKind(semantic string) AttributeKind {
	switch {
	case semantic == "POSITION":
		return AttrPosition
	case semantic == "NORMAL":
		return AttrNormal
	case strings.HasPrefix(semantic, "TEXCOORD_"):
		return AttrTexCoord
	case strings.HasPrefix(semantic, "COLOR_"):
		return AttrColor
	default:
		return AttrGeneric
	}
}
