// Package meshopt implements quadric-error-metric mesh simplification:
// greedy edge collapse onto existing vertices, so the reduced index
// list keeps addressing the original vertex buffers.
package meshopt

import (
	"container/heap"
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Simplifier reduces indexed triangle lists. It satisfies the transform
// package's Simplifier interface.
type Simplifier struct{}

// New returns a Simplifier.
func New() *Simplifier {
	return &Simplifier{}
}

// ErrNotTriangles reports an index list whose length is not a multiple
// of three.
var ErrNotTriangles = errors.New("meshopt: index count is not a multiple of three")

// quadric is a symmetric 4x4 error quadric stored as its ten upper
// coefficients: a2 ab ac ad b2 bc bd c2 cd d2.
type quadric [10]float64

func (q *quadric) addPlane(n r3.Vec, d float64) {
	q[0] += n.X * n.X
	q[1] += n.X * n.Y
	q[2] += n.X * n.Z
	q[3] += n.X * d
	q[4] += n.Y * n.Y
	q[5] += n.Y * n.Z
	q[6] += n.Y * d
	q[7] += n.Z * n.Z
	q[8] += n.Z * d
	q[9] += d * d
}

func (q *quadric) add(o *quadric) {
	for i := range q {
		q[i] += o[i]
	}
}

// eval returns v^T Q v, the squared plane-distance error of placing the
// merged vertex at v.
func (q *quadric) eval(v r3.Vec) float64 {
	return q[0]*v.X*v.X + 2*q[1]*v.X*v.Y + 2*q[2]*v.X*v.Z + 2*q[3]*v.X +
		q[4]*v.Y*v.Y + 2*q[5]*v.Y*v.Z + 2*q[6]*v.Y +
		q[7]*v.Z*v.Z + 2*q[8]*v.Z +
		q[9]
}

type collapse struct {
	src, dst uint32
	cost     float64
	srcVer   uint32
	dstVer   uint32
}

type collapseHeap []collapse

func (h collapseHeap) Len() int            { return len(h) }
func (h collapseHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h collapseHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *collapseHeap) Push(x interface{}) { *h = append(*h, x.(collapse)) }
func (h *collapseHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type face struct {
	v    [3]uint32
	dead bool
}

// Simplify collapses edges in ascending error order until the triangle
// count reaches targetIndexCount/3, the error budget is exhausted, or
// no collapsible edge remains. targetError is relative to the bounding
// box diagonal. With lockBorder, vertices on open edges never move.
func (s *Simplifier) Simplify(indices []uint32, positions [][3]float32, targetIndexCount int, targetError float64, lockBorder bool) ([]uint32, float64, error) {
	if len(indices)%3 != 0 {
		return nil, 0, ErrNotTriangles
	}

	pos := make([]r3.Vec, len(positions))
	for i, p := range positions {
		pos[i] = r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
	}

	faces := make([]face, 0, len(indices)/3)
	for i := 0; i+2 < len(indices); i += 3 {
		f := face{v: [3]uint32{indices[i], indices[i+1], indices[i+2]}}
		if f.v[0] == f.v[1] || f.v[1] == f.v[2] || f.v[0] == f.v[2] {
			continue
		}
		faces = append(faces, f)
	}
	activeFaces := len(faces)
	targetFaces := targetIndexCount / 3

	diag := boundsDiagonal(pos)
	maxError2 := targetError * diag
	maxError2 *= maxError2

	// Per-vertex quadrics from face planes.
	quadrics := make([]quadric, len(pos))
	for fi := range faces {
		f := &faces[fi]
		a, b, c := pos[f.v[0]], pos[f.v[1]], pos[f.v[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		norm := r3.Norm(n)
		if norm == 0 {
			continue
		}
		n = r3.Scale(1/norm, n)
		d := -r3.Dot(n, a)
		for _, v := range f.v {
			quadrics[v].addPlane(n, d)
		}
	}

	border := findBorderVertices(faces, len(pos))

	vertexFaces := make([][]int, len(pos))
	for fi := range faces {
		for _, v := range faces[fi].v {
			vertexFaces[v] = append(vertexFaces[v], fi)
		}
	}

	parent := make([]uint32, len(pos))
	for i := range parent {
		parent[i] = uint32(i)
	}
	var find func(v uint32) uint32
	find = func(v uint32) uint32 {
		if parent[v] != v {
			parent[v] = find(parent[v])
		}
		return parent[v]
	}

	version := make([]uint32, len(pos))

	h := &collapseHeap{}
	pushEdge := func(u, v uint32) {
		if u == v {
			return
		}
		var q quadric
		q.add(&quadrics[u])
		q.add(&quadrics[v])

		// Subset placement: the merged vertex must be one of the
		// originals so the output still indexes the input buffers.
		costAtU := q.eval(pos[u])
		costAtV := q.eval(pos[v])

		// Prefer collapsing the cheaper direction; a locked border
		// vertex can absorb its neighbor but never moves itself.
		trySrcDst := func(src, dst uint32, cost float64) bool {
			if lockBorder && border[src] {
				return false
			}
			heap.Push(h, collapse{src: src, dst: dst, cost: cost, srcVer: version[src], dstVer: version[dst]})
			return true
		}

		if costAtV <= costAtU {
			if !trySrcDst(u, v, costAtV) {
				trySrcDst(v, u, costAtU)
			}
		} else {
			if !trySrcDst(v, u, costAtU) {
				trySrcDst(u, v, costAtV)
			}
		}
	}

	for fi := range faces {
		f := &faces[fi]
		pushEdge(f.v[0], f.v[1])
		pushEdge(f.v[1], f.v[2])
		pushEdge(f.v[2], f.v[0])
	}

	worstError := 0.0

	for activeFaces > targetFaces && h.Len() > 0 {
		c := heap.Pop(h).(collapse)

		src, dst := c.src, c.dst
		if find(src) != src || find(dst) != dst || src == dst {
			continue
		}
		if c.srcVer != version[src] || c.dstVer != version[dst] {
			continue
		}
		if c.cost > maxError2 {
			break
		}

		// Merge src into dst.
		parent[src] = dst
		qd := &quadrics[dst]
		qd.add(&quadrics[src])
		version[src]++
		version[dst]++

		for _, fi := range vertexFaces[src] {
			f := &faces[fi]
			if f.dead {
				continue
			}
			for k := range f.v {
				if f.v[k] == src {
					f.v[k] = dst
				}
			}
			if f.v[0] == f.v[1] || f.v[1] == f.v[2] || f.v[0] == f.v[2] {
				f.dead = true
				activeFaces--
				continue
			}
			vertexFaces[dst] = append(vertexFaces[dst], fi)
		}
		vertexFaces[src] = nil

		if c.cost > worstError {
			worstError = c.cost
		}

		for _, fi := range vertexFaces[dst] {
			f := &faces[fi]
			if f.dead {
				continue
			}
			for k := range f.v {
				if f.v[k] != dst {
					pushEdge(dst, f.v[k])
				}
			}
		}
	}

	out := make([]uint32, 0, activeFaces*3)
	for fi := range faces {
		f := &faces[fi]
		if f.dead {
			continue
		}
		a, b, c := find(f.v[0]), find(f.v[1]), find(f.v[2])
		if a == b || b == c || a == c {
			continue
		}
		out = append(out, a, b, c)
	}

	resultError := 0.0
	if diag > 0 {
		resultError = math.Sqrt(worstError) / diag
	}
	return out, resultError, nil
}

func boundsDiagonal(pos []r3.Vec) float64 {
	if len(pos) == 0 {
		return 0
	}
	lo, hi := pos[0], pos[0]
	for _, p := range pos[1:] {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		lo.Z = math.Min(lo.Z, p.Z)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
		hi.Z = math.Max(hi.Z, p.Z)
	}
	return r3.Norm(r3.Sub(hi, lo))
}

// findBorderVertices marks the endpoints of edges used by exactly one
// face.
func findBorderVertices(faces []face, vertexCount int) []bool {
	type edge struct{ a, b uint32 }
	counts := make(map[edge]int)

	addEdge := func(a, b uint32) {
		if a > b {
			a, b = b, a
		}
		counts[edge{a, b}]++
	}

	for fi := range faces {
		f := &faces[fi]
		addEdge(f.v[0], f.v[1])
		addEdge(f.v[1], f.v[2])
		addEdge(f.v[2], f.v[0])
	}

	border := make([]bool, vertexCount)
	for e, n := range counts {
		if n == 1 {
			border[e.a] = true
			border[e.b] = true
		}
	}
	return border
}
