package transform

import (
	"errors"
	"os"
	"sort"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/Faultbox/gltfu/internal/logger"
	gmath "github.com/Faultbox/gltfu/pkg/math"
)

// ErrNodeCycle reports a cycle in node.children, which a valid document
// never contains.
var ErrNodeCycle = errors.New("transform: cycle in node hierarchy")

// Flatten bakes parent transforms into descendants: every unconstrained
// non-root node gets its world matrix as its local transform and is
// re-parented to the scene roots. Skin joints, TRS-animated nodes and
// their descendants are never touched, because decomposing a baked world
// transform loses the authored rotation and scale axes the animation
// curves target. The node table is not compacted; a later prune removes
// whatever became unreachable. Returns the number of nodes flattened.
func Flatten(doc *gltf.Document) (int, error) {
	total := len(doc.Nodes)
	if total == 0 {
		return 0, nil
	}

	debug := os.Getenv("GLTFU_DEBUG_FLATTEN") != "" && logger.Log != nil

	parent := make([]int, total)
	for i := range parent {
		parent[i] = -1
	}
	for p, node := range doc.Nodes {
		for _, child := range node.Children {
			if int(child) < total {
				parent[child] = p
			}
		}
	}

	offLimits := collectOffLimits(doc)

	scenesForRoot := make([][]int, total)
	for sceneIdx, scene := range doc.Scenes {
		for _, root := range scene.Nodes {
			if int(root) < total {
				scenesForRoot[root] = append(scenesForRoot[root], sceneIdx)
			}
		}
	}

	world := make([]gmath.Mat4, total)
	depth := make([]int, total)
	rootOf := make([]int, total)
	state := make([]uint8, total) // 0 unvisited, 1 in progress, 2 done

	var computeWorld func(idx int) error
	computeWorld = func(idx int) error {
		switch state[idx] {
		case 2:
			return nil
		case 1:
			return ErrNodeCycle
		}
		state[idx] = 1

		local := localMatrix(doc.Nodes[idx])
		if p := parent[idx]; p >= 0 {
			if err := computeWorld(p); err != nil {
				return err
			}
			world[idx] = world[p].Mul(local)
			depth[idx] = depth[p] + 1
			rootOf[idx] = rootOf[p]
		} else {
			world[idx] = local
			depth[idx] = 0
			rootOf[idx] = idx
		}

		state[idx] = 2
		return nil
	}

	for idx := 0; idx < total; idx++ {
		if err := computeWorld(idx); err != nil {
			return 0, err
		}
	}

	var candidates []int
	for idx := 0; idx < total; idx++ {
		if parent[idx] >= 0 && !offLimits[idx] {
			candidates = append(candidates, idx)
		}
	}

	// Deeper first, so a parent is never re-parented before its
	// children have been moved.
	sort.Slice(candidates, func(i, j int) bool {
		return depth[candidates[i]] > depth[candidates[j]]
	})

	flattened := 0
	for _, idx := range candidates {
		parentIdx := parent[idx]
		if parentIdx < 0 {
			continue
		}

		if debug {
			logger.Debug("flattening node",
				zap.Int("node", idx),
				zap.Int("parent", parentIdx),
				zap.Int("depth", depth[idx]))
		}

		setWorldMatrix(doc.Nodes[idx], world[idx])

		siblings := doc.Nodes[parentIdx].Children
		kept := siblings[:0]
		for _, child := range siblings {
			if int(child) != idx {
				kept = append(kept, child)
			}
		}
		doc.Nodes[parentIdx].Children = kept

		for _, sceneIdx := range scenesForRoot[rootOf[idx]] {
			scene := doc.Scenes[sceneIdx]
			present := false
			for _, n := range scene.Nodes {
				if int(n) == idx {
					present = true
					break
				}
			}
			if !present {
				scene.Nodes = append(scene.Nodes, uint32(idx))
			}
		}

		parent[idx] = -1
		flattened++
	}

	return flattened, nil
}

// collectOffLimits marks skin joints and TRS-animated nodes, closed
// over descendants.
func collectOffLimits(doc *gltf.Document) []bool {
	total := len(doc.Nodes)
	skip := make([]bool, total)
	var queue []uint32

	enqueue := func(idx uint32) {
		if int(idx) < total && !skip[idx] {
			skip[idx] = true
			queue = append(queue, idx)
		}
	}

	for _, skin := range doc.Skins {
		for _, joint := range skin.Joints {
			enqueue(joint)
		}
	}

	for _, anim := range doc.Animations {
		for _, channel := range anim.Channels {
			if channel.Target.Node == nil {
				continue
			}
			switch channel.Target.Path {
			case gltf.TRSTranslation, gltf.TRSRotation, gltf.TRSScale:
				enqueue(*channel.Target.Node)
			}
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range doc.Nodes[current].Children {
			enqueue(child)
		}
	}

	return skip
}

var identityMatrix = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// localMatrix returns the node's local transform: the stored matrix when
// one is present, otherwise the composed TRS triple. Zero-value fields
// of hand-built nodes read as their glTF defaults.
func localMatrix(node *gltf.Node) gmath.Mat4 {
	if node.Matrix != identityMatrix && node.Matrix != ([16]float32{}) {
		var m gmath.Mat4
		for i, v := range node.Matrix {
			m[i] = float64(v)
		}
		return m
	}

	t := [3]float64{
		float64(node.Translation[0]),
		float64(node.Translation[1]),
		float64(node.Translation[2]),
	}

	r := gmath.QuatIdentity()
	if node.Rotation != ([4]float32{}) {
		r = gmath.Quat{
			X: float64(node.Rotation[0]),
			Y: float64(node.Rotation[1]),
			Z: float64(node.Rotation[2]),
			W: float64(node.Rotation[3]),
		}
	}

	s := [3]float64{1, 1, 1}
	if node.Scale != ([3]float32{}) {
		s = [3]float64{
			float64(node.Scale[0]),
			float64(node.Scale[1]),
			float64(node.Scale[2]),
		}
	}

	return gmath.Compose(t, r, s)
}

// setWorldMatrix stores the world transform as a flat matrix and clears
// the TRS triple back to defaults.
func setWorldMatrix(node *gltf.Node, world gmath.Mat4) {
	for i, v := range world {
		node.Matrix[i] = float32(v)
	}
	node.Translation = [3]float32{}
	node.Rotation = [4]float32{0, 0, 0, 1}
	node.Scale = [3]float32{1, 1, 1}
}
