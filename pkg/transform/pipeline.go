package transform

import (
	"fmt"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
)

// PipelineOptions configures the full optimization pipeline:
// merge -> dedupe -> flatten -> join -> weld -> [simplify] ->
// [compress] -> prune -> bounds -> write. Each step is opt-out; the
// pipeline aborts on the first pass error.
type PipelineOptions struct {
	SkipDedupe  bool
	SkipFlatten bool
	SkipJoin    bool
	SkipWeld    bool
	SkipPrune   bool

	Simplify        bool
	SimplifyOptions SimplifyOptions

	Compress        bool
	CompressOptions CompressOptions

	Save gltfutil.SaveOptions

	Reporter *progress.Reporter
}

// RunPipeline loads and merges the inputs, applies the configured
// passes and writes the result to output.
func RunPipeline(inputs []string, output string, opts PipelineOptions) error {
	reporter := opts.Reporter
	reporter.Report("optim", "Starting optimization pipeline", 0.0, "")

	var doc *gltf.Document
	if len(inputs) > 1 {
		reporter.Report("optim", fmt.Sprintf("Step 1: Merging %d files", len(inputs)), 0.05, "")
		merger := NewMerger()
		for i, input := range inputs {
			fraction := 0.05 + 0.05*float64(i)/float64(len(inputs))
			reporter.Report("optim", fmt.Sprintf("Merging file %d/%d", i+1, len(inputs)), fraction, input)
			if err := merger.LoadAndMerge(input, MergeOptions{}); err != nil {
				return err
			}
		}
		doc = merger.Document()
	} else {
		reporter.Report("optim", "Loading input file", 0.05, inputs[0])
		loaded, err := gltfutil.Load(inputs[0])
		if err != nil {
			return err
		}
		doc = loaded
	}

	if !opts.SkipDedupe {
		reporter.Report("optim", "Step 2: Deduplicating resources", 0.15, "")
		err := Dedupe(doc, DedupeOptions{
			Accessors: true,
			Meshes:    true,
			Materials: true,
			Textures:  true,
			Reporter:  reporter,
		})
		if err != nil {
			return fmt.Errorf("dedupe: %w", err)
		}
	}

	if !opts.SkipFlatten {
		reporter.Report("optim", "Step 3: Flattening scene graph", 0.30, "")
		flattened, err := Flatten(doc)
		if err != nil {
			return fmt.Errorf("flatten: %w", err)
		}
		reporter.Report("optim", "Flatten complete", -1, fmt.Sprintf("%d nodes", flattened))
	}

	if !opts.SkipJoin {
		reporter.Report("optim", "Step 4: Joining compatible primitives", 0.45, "")
		joinOpts := JoinOptions{Reporter: reporter}
		if _, err := Join(doc, joinOpts); err != nil {
			return fmt.Errorf("join: %w", err)
		}
	}

	if !opts.SkipWeld {
		reporter.Report("optim", "Step 5: Welding identical vertices", 0.60, "")
		weldOpts := WeldOptions{Overwrite: true, Reporter: reporter}
		if _, err := Weld(doc, weldOpts); err != nil {
			return fmt.Errorf("weld: %w", err)
		}
	}

	if opts.Simplify {
		reporter.Report("optim", "Step 6: Simplifying meshes", 0.75, "")
		simplifyOpts := opts.SimplifyOptions
		simplifyOpts.Reporter = reporter
		if _, err := Simplify(doc, simplifyOpts); err != nil {
			return fmt.Errorf("simplify: %w", err)
		}
	}

	if opts.Compress {
		reporter.Report("optim", "Step 7: Compressing meshes", 0.84, "")
		compressOpts := opts.CompressOptions
		compressOpts.Reporter = reporter
		if _, err := Compress(doc, compressOpts); err != nil {
			return fmt.Errorf("compress: %w", err)
		}
	}

	if !opts.SkipPrune {
		reporter.Report("optim", "Step 8: Pruning unused resources", 0.87, "")
		pruneOpts := PruneOptions{Reporter: reporter}
		if _, err := Prune(doc, pruneOpts); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}

	reporter.Report("optim", "Computing accessor bounds", 0.93, "")
	updated := ComputeBounds(doc)
	reporter.Report("optim", "Bounds computed", -1, fmt.Sprintf("%d accessors", updated))

	reporter.Report("optim", "Writing optimized output", 0.95, output)
	if err := gltfutil.Save(doc, output, opts.Save); err != nil {
		return err
	}

	reporter.Success("optim", "Optimization complete: "+output)
	return nil
}
