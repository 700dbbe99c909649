// Package config handles tool configuration loading and management.
package config

// Config holds all gltfu settings. Values act as defaults for the CLI;
// command-line flags always win.
type Config struct {
	Output  OutputConfig  `yaml:"output"`
	Optim   OptimConfig   `yaml:"optim"`
	Logging LoggingConfig `yaml:"logging"`
}

// OutputConfig holds default document writing settings.
type OutputConfig struct {
	EmbedImages  bool `yaml:"embed_images"`
	EmbedBuffers bool `yaml:"embed_buffers"`
	PrettyPrint  bool `yaml:"pretty_print"`
	Binary       bool `yaml:"binary"`
}

// OptimConfig holds defaults for the optimization pipeline.
type OptimConfig struct {
	Simplify           bool    `yaml:"simplify"`
	SimplifyRatio      float64 `yaml:"simplify_ratio"`
	SimplifyError      float64 `yaml:"simplify_error"`
	SimplifyLockBorder bool    `yaml:"simplify_lock_border"`

	Compress     bool `yaml:"compress"`
	PositionBits int  `yaml:"compress_position_bits"`
	NormalBits   int  `yaml:"compress_normal_bits"`
	TexcoordBits int  `yaml:"compress_texcoord_bits"`
	ColorBits    int  `yaml:"compress_color_bits"`

	SkipDedupe  bool `yaml:"skip_dedupe"`
	SkipFlatten bool `yaml:"skip_flatten"`
	SkipJoin    bool `yaml:"skip_join"`
	SkipWeld    bool `yaml:"skip_weld"`
	SkipPrune   bool `yaml:"skip_prune"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			EmbedImages:  false,
			EmbedBuffers: false,
			PrettyPrint:  true,
			Binary:       false,
		},
		Optim: OptimConfig{
			Simplify:           false,
			SimplifyRatio:      0.75,
			SimplifyError:      0.01,
			SimplifyLockBorder: false,
			Compress:           false,
			PositionBits:       14,
			NormalBits:         10,
			TexcoordBits:       12,
			ColorBits:          8,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
