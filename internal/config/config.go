package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/batch"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/MeKo-Tech/dpmscan/internal/preprocess"
)

// Config represents the complete configuration for dpmscan.
// It includes settings for all commands (decode, serve, history) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Machine selects the default profile; Machines is the profile table.
	Machine  string                   `mapstructure:"machine" yaml:"machine" json:"machine"`
	Machines map[string]MachineConfig `mapstructure:"machines" yaml:"machines" json:"machines"`

	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing" json:"processing"`
	Decoder    DecoderConfig    `mapstructure:"decoder" yaml:"decoder" json:"decoder"`
	Batch      BatchConfig      `mapstructure:"batch" yaml:"batch" json:"batch"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	Display    DisplayConfig    `mapstructure:"display" yaml:"display" json:"display"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
}

// MachineConfig is one entry of the machine table.
type MachineConfig struct {
	Top     int  `mapstructure:"top" yaml:"top" json:"top"`
	Bottom  int  `mapstructure:"bottom" yaml:"bottom" json:"bottom"`
	Left    int  `mapstructure:"left" yaml:"left" json:"left"`
	Right   int  `mapstructure:"right" yaml:"right" json:"right"`
	Display bool `mapstructure:"display" yaml:"display" json:"display"`

	// Processing overrides the global processing settings field by field.
	Processing *ProcessingOverride `mapstructure:"processing" yaml:"processing,omitempty" json:"processing,omitempty"`
}

// ProcessingConfig contains the transform chain settings.
type ProcessingConfig struct {
	MorphKernel   string  `mapstructure:"morph_kernel" yaml:"morph_kernel" json:"morph_kernel"`
	BlurKernel    string  `mapstructure:"blur_kernel" yaml:"blur_kernel" json:"blur_kernel"`
	BlurSigma     float64 `mapstructure:"blur_sigma" yaml:"blur_sigma" json:"blur_sigma"`
	ThresholdBase int     `mapstructure:"threshold_base" yaml:"threshold_base" json:"threshold_base"`
	ThresholdMax  int     `mapstructure:"threshold_max" yaml:"threshold_max" json:"threshold_max"`
	AutoThreshold bool    `mapstructure:"auto_threshold" yaml:"auto_threshold" json:"auto_threshold"`
}

// ProcessingOverride holds per-machine processing settings; nil fields inherit.
type ProcessingOverride struct {
	MorphKernel   *string  `mapstructure:"morph_kernel" yaml:"morph_kernel,omitempty" json:"morph_kernel,omitempty"`
	BlurKernel    *string  `mapstructure:"blur_kernel" yaml:"blur_kernel,omitempty" json:"blur_kernel,omitempty"`
	BlurSigma     *float64 `mapstructure:"blur_sigma" yaml:"blur_sigma,omitempty" json:"blur_sigma,omitempty"`
	ThresholdBase *int     `mapstructure:"threshold_base" yaml:"threshold_base,omitempty" json:"threshold_base,omitempty"`
	ThresholdMax  *int     `mapstructure:"threshold_max" yaml:"threshold_max,omitempty" json:"threshold_max,omitempty"`
	AutoThreshold *bool    `mapstructure:"auto_threshold" yaml:"auto_threshold,omitempty" json:"auto_threshold,omitempty"`
}

// DecoderConfig contains symbol decoder settings.
type DecoderConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	TryHarder   bool   `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	PureBarcode bool   `mapstructure:"pure_barcode" yaml:"pure_barcode" json:"pure_barcode"`
	Charset     string `mapstructure:"charset" yaml:"charset" json:"charset"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers   int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Exclude   []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
}

// OutputConfig contains report settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// DisplayConfig contains diagnostic stage display settings.
type DisplayConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Wait    string `mapstructure:"wait" yaml:"wait" json:"wait"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting per client address
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// HistoryConfig contains run history settings. An empty path disables history.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	machines := make(map[string]MachineConfig)
	for name, spec := range machine.DefaultSpecs() {
		machines[name] = MachineConfig{
			Top:     spec.Crop.Top,
			Bottom:  spec.Crop.Bottom,
			Left:    spec.Crop.Left,
			Right:   spec.Crop.Right,
			Display: spec.Display,
		}
	}

	p := preprocess.DefaultParams()
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Verbose:   false,
		Machine:   machine.Machine1,
		Machines:  machines,
		Processing: ProcessingConfig{
			MorphKernel:   p.MorphKernel.String(),
			BlurKernel:    p.BlurKernel.String(),
			BlurSigma:     p.BlurSigma,
			ThresholdBase: p.ThresholdBase,
			ThresholdMax:  p.ThresholdMax,
			AutoThreshold: p.AutoThreshold,
		},
		Decoder: DecoderConfig{
			Backend: barcode.BackendZXing,
		},
		Batch: BatchConfig{
			Workers: 1,
		},
		Output: OutputConfig{
			Format: string(batch.FormatText),
		},
		Display: DisplayConfig{
			Wait: p.DisplayWait.String(),
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        30,
			ShutdownTimeout:   10,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     100 * 1024 * 1024,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"text", "json"}
	if c.LogFormat != "" && !slices.Contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}

	if _, err := batch.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("invalid output format: %w", err)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if _, err := c.DisplayWait(); err != nil {
		return err
	}

	reg, err := c.Registry()
	if err != nil {
		return err
	}
	for _, name := range reg.Names() {
		if _, err := c.Params(name); err != nil {
			return err
		}
	}

	if c.Decoder.Backend != "" && !slices.Contains(barcode.BackendNames(), strings.ToLower(c.Decoder.Backend)) {
		return fmt.Errorf("invalid decoder backend: %s (must be one of: %s)",
			c.Decoder.Backend, strings.Join(barcode.BackendNames(), ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	return nil
}

// Registry builds the machine registry from the machine table.
func (c *Config) Registry() (*machine.Registry, error) {
	specs := make(map[string]machine.Spec, len(c.Machines))
	for name, m := range c.Machines {
		specs[name] = machine.Spec{
			Crop:    machine.Rect{Top: m.Top, Bottom: m.Bottom, Left: m.Left, Right: m.Right},
			Display: m.Display,
		}
	}
	return machine.NewRegistry(specs)
}

// DisplayWait parses the configured stage display wait.
func (c *Config) DisplayWait() (time.Duration, error) {
	if c.Display.Wait == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Display.Wait)
	if err != nil {
		return 0, fmt.Errorf("invalid display wait %q: %w", c.Display.Wait, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid display wait %q: must not be negative", c.Display.Wait)
	}
	return d, nil
}

// Params returns the processing parameters for machineName: the global
// settings with the machine's overrides applied.
func (c *Config) Params(machineName string) (preprocess.Params, error) {
	pc := c.Processing
	if m, ok := c.lookupMachine(machineName); ok && m.Processing != nil {
		pc = m.Processing.apply(pc)
	}

	morph, err := preprocess.ParseSize(pc.MorphKernel)
	if err != nil {
		return preprocess.Params{}, fmt.Errorf("invalid morph kernel: %w", err)
	}
	blur, err := preprocess.ParseSize(pc.BlurKernel)
	if err != nil {
		return preprocess.Params{}, fmt.Errorf("invalid blur kernel: %w", err)
	}
	wait, err := c.DisplayWait()
	if err != nil {
		return preprocess.Params{}, err
	}

	p := preprocess.Params{
		MorphKernel:   morph,
		BlurKernel:    blur,
		BlurSigma:     pc.BlurSigma,
		ThresholdBase: pc.ThresholdBase,
		ThresholdMax:  pc.ThresholdMax,
		AutoThreshold: pc.AutoThreshold,
		Display:       c.Display.Enabled,
		DisplayWait:   wait,
	}
	if err := p.Validate(); err != nil {
		return preprocess.Params{}, fmt.Errorf("machine %s: %w", machineName, err)
	}
	return p, nil
}

// DecoderOptions converts the decoder section to backend options.
func (c *Config) DecoderOptions() barcode.Options {
	return barcode.Options{
		TryHarder:    c.Decoder.TryHarder,
		PureBarcode:  c.Decoder.PureBarcode,
		CharacterSet: c.Decoder.Charset,
	}
}

func (c *Config) lookupMachine(name string) (MachineConfig, bool) {
	key := machine.Normalize(name)
	for n, m := range c.Machines {
		if machine.Normalize(n) == key {
			return m, true
		}
	}
	return MachineConfig{}, false
}

func (o *ProcessingOverride) apply(pc ProcessingConfig) ProcessingConfig {
	if o.MorphKernel != nil {
		pc.MorphKernel = *o.MorphKernel
	}
	if o.BlurKernel != nil {
		pc.BlurKernel = *o.BlurKernel
	}
	if o.BlurSigma != nil {
		pc.BlurSigma = *o.BlurSigma
	}
	if o.ThresholdBase != nil {
		pc.ThresholdBase = *o.ThresholdBase
	}
	if o.ThresholdMax != nil {
		pc.ThresholdMax = *o.ThresholdMax
	}
	if o.AutoThreshold != nil {
		pc.AutoThreshold = *o.AutoThreshold
	}
	return pc
}
