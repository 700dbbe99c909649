// gltfu is a CLI pipeline for rewriting glTF assets: merge, dedupe,
// flatten, join, weld, simplify, compress, prune and bounds passes over
// .gltf/.glb documents.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/gltfu/internal/config"
	"github.com/Faultbox/gltfu/internal/logger"
	"github.com/Faultbox/gltfu/internal/meshopt"
	"github.com/Faultbox/gltfu/internal/progress"
	"github.com/Faultbox/gltfu/pkg/gltfutil"
	"github.com/Faultbox/gltfu/pkg/transform"
)

func main() {
	args, jsonProgress := extractGlobalFlags(os.Args[1:])

	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("GLTFU_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	format := progress.Text
	if jsonProgress {
		format = progress.JSON
	}
	reporter := progress.New(format)

	command := args[0]
	rest := args[1:]

	var ok bool
	switch command {
	case "merge":
		ok = cmdMerge(rest, cfg, reporter)
	case "dedupe":
		ok = cmdDedupe(rest, cfg, reporter)
	case "flatten":
		ok = cmdFlatten(rest, cfg, reporter)
	case "join":
		ok = cmdJoin(rest, cfg, reporter)
	case "weld":
		ok = cmdWeld(rest, cfg, reporter)
	case "prune":
		ok = cmdPrune(rest, cfg, reporter)
	case "simplify":
		ok = cmdSimplify(rest, cfg, reporter)
	case "info":
		ok = cmdInfo(rest, reporter)
	case "optim":
		ok = cmdOptim(rest, cfg, reporter)
	case "help", "-h", "--help":
		printUsage()
		ok = true
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}

	if !ok {
		os.Exit(1)
	}
}

// extractGlobalFlags strips flags that apply before the subcommand.
func extractGlobalFlags(args []string) ([]string, bool) {
	jsonProgress := false
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--json-progress" {
			jsonProgress = true
			continue
		}
		out = append(out, arg)
	}
	return out, jsonProgress
}

func printUsage() {
	fmt.Println(`gltfu - glTF optimization pipeline

Usage:
  gltfu [--json-progress] <command> [options]

Commands:
  merge <inputs...> -o OUT     Concatenate several glTF files into one
  dedupe <in> -o OUT           Remove duplicate accessors/meshes/materials/textures
  flatten <in> -o OUT          Bake parent transforms into the node hierarchy
  join <in> -o OUT             Join compatible primitives within each mesh
  weld <in> -o OUT             Merge bitwise-identical vertices
  prune <in> -o OUT            Remove unreferenced resources
  simplify <in> -o OUT         Reduce triangle count (quadric error metric)
  info <in>                    Print document statistics
  optim <inputs...> -o OUT     Full pipeline: merge, dedupe, flatten, join,
                               weld, [simplify], [compress], prune, bounds

Global options:
  --json-progress              Emit one JSON object per progress line

Examples:
  gltfu merge a.gltf b.gltf -o merged.glb
  gltfu optim scene.gltf -o scene.min.glb --simplify --simplify-ratio 0.5
  gltfu info scene.glb -v`)
}

// outputFlags registers the shared output options on a flag set.
type outputFlags struct {
	output       string
	embedImages  bool
	embedBuffers bool
	noPretty     bool
	binary       bool
}

func (o *outputFlags) register(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&o.output, "o", "", "Output glTF file")
	fs.StringVar(&o.output, "output", "", "Output glTF file")
	fs.BoolVar(&o.embedImages, "embed-images", cfg.Output.EmbedImages, "Embed images in output file")
	fs.BoolVar(&o.embedBuffers, "embed-buffers", cfg.Output.EmbedBuffers, "Embed buffers in output file")
	fs.BoolVar(&o.noPretty, "no-pretty-print", !cfg.Output.PrettyPrint, "Disable pretty-printing of JSON")
	fs.BoolVar(&o.binary, "b", cfg.Output.Binary, "Write binary glTF (.glb)")
	fs.BoolVar(&o.binary, "binary", cfg.Output.Binary, "Write binary glTF (.glb)")
}

func (o *outputFlags) saveOptions() gltfutil.SaveOptions {
	return gltfutil.SaveOptions{
		EmbedImages:  o.embedImages,
		EmbedBuffers: o.embedBuffers,
		Pretty:       !o.noPretty,
		Binary:       o.binary,
	}
}

func requireOutput(o *outputFlags, operation string, reporter *progress.Reporter) bool {
	if o.output == "" {
		reporter.Error(operation, "missing required -o/--output")
		return false
	}
	return true
}

func loadDocument(path, operation string, reporter *progress.Reporter) (*gltf.Document, bool) {
	doc, err := gltfutil.Load(path)
	if err != nil {
		reporter.Error(operation, err.Error())
		return nil, false
	}
	return doc, true
}

func saveDocument(doc *gltf.Document, o *outputFlags, operation string, reporter *progress.Reporter) bool {
	if err := gltfutil.Save(doc, o.output, o.saveOptions()); err != nil {
		reporter.Error(operation, err.Error())
		return false
	}
	return true
}

func cmdMerge(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	keepScenes := fs.Bool("keep-scenes", false, "Keep source scenes independent")
	defaultOnly := fs.Bool("default-scene-only", false, "Merge only each file's default scene")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("merge", "no input files")
		return false
	}
	if !requireOutput(&out, "merge", reporter) {
		return false
	}

	merger := transform.NewMerger()
	opts := transform.MergeOptions{KeepScenes: *keepScenes, DefaultSceneOnly: *defaultOnly}
	for i, input := range fs.Args() {
		reporter.Report("merge", fmt.Sprintf("Merging file %d/%d", i+1, fs.NArg()),
			float64(i)/float64(fs.NArg()), input)
		if err := merger.LoadAndMerge(input, opts); err != nil {
			reporter.Error("merge", err.Error())
			return false
		}
	}

	if !saveDocument(merger.Document(), &out, "merge", reporter) {
		return false
	}
	reporter.Success("merge", fmt.Sprintf("Merged %d files into %s", fs.NArg(), out.output))
	return true
}

func cmdDedupe(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	accessors := fs.Bool("accessors", true, "Deduplicate accessors")
	meshes := fs.Bool("meshes", true, "Deduplicate meshes")
	materials := fs.Bool("materials", true, "Deduplicate materials")
	textures := fs.Bool("textures", true, "Deduplicate textures and images")
	keepUniqueNames := fs.Bool("keep-unique-names", false, "Treat differently named entries as distinct")
	fs.Bool("v", false, "Print detailed statistics")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("dedupe", "no input file")
		return false
	}
	if !requireOutput(&out, "dedupe", reporter) {
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "dedupe", reporter)
	if !ok {
		return false
	}

	err := transform.Dedupe(doc, transform.DedupeOptions{
		Accessors:       *accessors,
		Meshes:          *meshes,
		Materials:       *materials,
		Textures:        *textures,
		KeepUniqueNames: *keepUniqueNames,
		Reporter:        reporter,
	})
	if err != nil {
		reporter.Error("dedupe", err.Error())
		return false
	}

	if !saveDocument(doc, &out, "dedupe", reporter) {
		return false
	}
	reporter.Success("dedupe", "Deduplicated "+out.output)
	return true
}

func cmdFlatten(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("flatten", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	noCleanup := fs.Bool("no-cleanup", false, "Skip the prune pass after flattening")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("flatten", "no input file")
		return false
	}
	if !requireOutput(&out, "flatten", reporter) {
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "flatten", reporter)
	if !ok {
		return false
	}

	flattened, err := transform.Flatten(doc)
	if err != nil {
		reporter.Error("flatten", err.Error())
		return false
	}
	reporter.Report("flatten", "Flatten complete", -1, fmt.Sprintf("%d nodes", flattened))

	if !*noCleanup {
		if _, err := transform.Prune(doc, transform.PruneOptions{Reporter: reporter}); err != nil {
			reporter.Error("flatten", err.Error())
			return false
		}
	}

	if !saveDocument(doc, &out, "flatten", reporter) {
		return false
	}
	reporter.Success("flatten", fmt.Sprintf("Flattened %d nodes into %s", flattened, out.output))
	return true
}

func cmdJoin(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	fs.Bool("keep-meshes", false, "Never join primitives across mesh boundaries (joining is per-mesh)")
	keepNamed := fs.Bool("keep-named", false, "Include the mesh name in the compatibility key")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("join", "no input file")
		return false
	}
	if !requireOutput(&out, "join", reporter) {
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "join", reporter)
	if !ok {
		return false
	}

	result, err := transform.Join(doc, transform.JoinOptions{
		KeepNamed: *keepNamed,
		Reporter:  reporter,
	})
	if err != nil {
		reporter.Error("join", err.Error())
		return false
	}

	if !saveDocument(doc, &out, "join", reporter) {
		return false
	}
	reporter.Success("join", fmt.Sprintf("Joined %d groups into %s", result.GroupsMerged, out.output))
	return true
}

func cmdWeld(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("weld", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	overwrite := fs.Bool("overwrite", false, "Re-weld primitives that already have indices")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("weld", "no input file")
		return false
	}
	if !requireOutput(&out, "weld", reporter) {
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "weld", reporter)
	if !ok {
		return false
	}

	result, err := transform.Weld(doc, transform.WeldOptions{
		Overwrite: *overwrite,
		Reporter:  reporter,
	})
	if err != nil {
		reporter.Error("weld", err.Error())
		return false
	}

	if !saveDocument(doc, &out, "weld", reporter) {
		return false
	}
	reporter.Success("weld", fmt.Sprintf("Welded %d primitives into %s", result.Primitives, out.output))
	return true
}

func cmdPrune(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	keepLeaves := fs.Bool("keep-leaves", false, "Keep empty leaf nodes")
	keepAttributes := fs.Bool("keep-attributes", false, "Keep vertex attributes the material does not use")
	keepExtras := fs.Bool("keep-extras", false, "Protect leaf nodes carrying custom extras")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("prune", "no input file")
		return false
	}
	if !requireOutput(&out, "prune", reporter) {
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "prune", reporter)
	if !ok {
		return false
	}

	result, err := transform.Prune(doc, transform.PruneOptions{
		KeepLeaves:     *keepLeaves,
		KeepAttributes: *keepAttributes,
		KeepExtras:     *keepExtras,
		Reporter:       reporter,
	})
	if err != nil {
		reporter.Error("prune", err.Error())
		return false
	}

	if !saveDocument(doc, &out, "prune", reporter) {
		return false
	}
	reporter.Success("prune", fmt.Sprintf("Removed %d entries, wrote %s", result.Total(), out.output))
	return true
}

func cmdSimplify(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("simplify", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)
	ratio := fs.Float64("r", cfg.Optim.SimplifyRatio, "Target index count ratio in [0,1]")
	fs.Float64Var(ratio, "ratio", cfg.Optim.SimplifyRatio, "Target index count ratio in [0,1]")
	errorLimit := fs.Float64("e", cfg.Optim.SimplifyError, "Error threshold (> 0)")
	fs.Float64Var(errorLimit, "error", cfg.Optim.SimplifyError, "Error threshold (> 0)")
	lockBorder := fs.Bool("l", false, "Lock border vertices")
	fs.BoolVar(lockBorder, "lock-border", false, "Lock border vertices")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("simplify", "no input file")
		return false
	}
	if !requireOutput(&out, "simplify", reporter) {
		return false
	}
	if *ratio < 0 || *ratio > 1 {
		reporter.Error("simplify", "ratio must be in [0,1]")
		return false
	}
	if *errorLimit <= 0 {
		reporter.Error("simplify", "error threshold must be positive")
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "simplify", reporter)
	if !ok {
		return false
	}

	result, err := transform.Simplify(doc, transform.SimplifyOptions{
		Ratio:      *ratio,
		Error:      *errorLimit,
		LockBorder: *lockBorder,
		Simplifier: meshopt.New(),
		Reporter:   reporter,
	})
	if err != nil {
		reporter.Error("simplify", err.Error())
		return false
	}

	if !saveDocument(doc, &out, "simplify", reporter) {
		return false
	}
	reporter.Success("simplify", fmt.Sprintf("Simplified %d/%d primitives into %s",
		result.Simplified, result.Total, out.output))
	return true
}

func cmdInfo(args []string, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Include detailed information")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("info", "no input file")
		return false
	}

	doc, ok := loadDocument(fs.Arg(0), "info", reporter)
	if !ok {
		return false
	}

	stats := gltfutil.Collect(doc, fs.Arg(0))
	fmt.Print(stats.Format(*verbose))
	return true
}

func cmdOptim(args []string, cfg *config.Config, reporter *progress.Reporter) bool {
	fs := flag.NewFlagSet("optim", flag.ExitOnError)
	var out outputFlags
	out.register(fs, cfg)

	simplify := fs.Bool("simplify", cfg.Optim.Simplify, "Apply mesh simplification")
	simplifyRatio := fs.Float64("simplify-ratio", cfg.Optim.SimplifyRatio, "Target ratio for simplification")
	simplifyError := fs.Float64("simplify-error", cfg.Optim.SimplifyError, "Error threshold for simplification")
	lockBorder := fs.Bool("simplify-lock-border", cfg.Optim.SimplifyLockBorder, "Lock border vertices during simplification")

	compress := fs.Bool("compress", cfg.Optim.Compress, "Apply Draco mesh compression")
	positionBits := fs.Int("compress-position-bits", cfg.Optim.PositionBits, "Quantization bits for positions")
	normalBits := fs.Int("compress-normal-bits", cfg.Optim.NormalBits, "Quantization bits for normals")
	texcoordBits := fs.Int("compress-texcoord-bits", cfg.Optim.TexcoordBits, "Quantization bits for texture coordinates")
	colorBits := fs.Int("compress-color-bits", cfg.Optim.ColorBits, "Quantization bits for colors")

	skipDedupe := fs.Bool("skip-dedupe", cfg.Optim.SkipDedupe, "Skip deduplication pass")
	skipFlatten := fs.Bool("skip-flatten", cfg.Optim.SkipFlatten, "Skip scene flattening pass")
	skipJoin := fs.Bool("skip-join", cfg.Optim.SkipJoin, "Skip primitive joining pass")
	skipWeld := fs.Bool("skip-weld", cfg.Optim.SkipWeld, "Skip vertex welding pass")
	skipPrune := fs.Bool("skip-prune", cfg.Optim.SkipPrune, "Skip unused resource pruning pass")
	fs.Bool("v", false, "Show detailed optimization statistics")
	fs.Parse(args)

	if fs.NArg() < 1 {
		reporter.Error("optim", "no input files")
		return false
	}
	if !requireOutput(&out, "optim", reporter) {
		return false
	}

	opts := transform.PipelineOptions{
		SkipDedupe:  *skipDedupe,
		SkipFlatten: *skipFlatten,
		SkipJoin:    *skipJoin,
		SkipWeld:    *skipWeld,
		SkipPrune:   *skipPrune,
		Simplify:    *simplify,
		SimplifyOptions: transform.SimplifyOptions{
			Ratio:      *simplifyRatio,
			Error:      *simplifyError,
			LockBorder: *lockBorder,
			Simplifier: meshopt.New(),
		},
		Compress: *compress,
		CompressOptions: transform.CompressOptions{
			PositionBits:   *positionBits,
			NormalBits:     *normalBits,
			TexCoordBits:   *texcoordBits,
			ColorBits:      *colorBits,
			GenericBits:    *colorBits,
			UseEdgebreaker: true,
		},
		Save:     out.saveOptions(),
		Reporter: reporter,
	}

	if err := transform.RunPipeline(fs.Args(), out.output, opts); err != nil {
		reporter.Error("optim", err.Error())
		return false
	}
	return true
}
