package cmd

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/batch"
	"github.com/MeKo-Tech/dpmscan/internal/config"
	"github.com/MeKo-Tech/dpmscan/internal/history"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/MeKo-Tech/dpmscan/internal/preprocess"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// defaultStageDir receives contact sheets when --display is on and no
// directory is configured.
const defaultStageDir = "dpmscan-stages"

func (a *app) newDecodeCmd() *cobra.Command {
	decodeCmd := &cobra.Command{
		Use:   "decode <dir>",
		Short: "Decode the DataMatrix symbol of every image in a directory",
		Long: `Decode the DataMatrix symbol of every PNG or JPEG image in a directory.

Every image is resized to the 1224x1024 camera frame, cropped to the region
of the selected machine, blurred, thresholded and closed before decoding.
One report row is printed per image; images without a readable symbol are
reported as "DataMatrix out of focus or not found".

Examples:
  dpmscan decode ./photos
  dpmscan decode ./photos --machine machine_3 --format csv --output report.csv
  dpmscan decode ./photos --workers 4 --recursive --exclude "*_old.png"
  dpmscan decode ./photos --display --display-dir ./stages --display-wait 0s`,
		Args: cobra.ExactArgs(1),
		RunE: a.runDecode,
	}

	f := decodeCmd.Flags()
	f.StringP("format", "f", "text", "report format (text, json, csv)")
	f.StringP("output", "o", "", "write the report to a file instead of stdout")
	f.IntP("workers", "w", 1, "number of images decoded in parallel")
	f.BoolP("recursive", "r", false, "descend into subdirectories")
	f.StringSlice("exclude", nil, "glob patterns of files to skip")

	f.Bool("display", false, "write a contact sheet of the processing stages per image")
	f.String("display-dir", "", "directory for stage contact sheets (default "+defaultStageDir+")")
	f.String("display-wait", "1s", "pause after each contact sheet")

	f.String("morph-kernel", "3x3", "closing kernel size (WxH)")
	f.String("blur-kernel", "7x7", "Gaussian blur kernel size (WxH, odd)")
	f.Float64("blur-sigma", 5, "Gaussian blur sigma")
	f.Int("threshold-base", 0, "fixed threshold used when --auto-threshold=false")
	f.Int("threshold-max", 255, "value assigned to foreground pixels")
	f.Bool("auto-threshold", true, "pick the threshold with Otsu's method")

	f.String("backend", barcode.BackendZXing, "decoder backend")
	f.Bool("try-harder", false, "spend more time looking for the symbol")
	f.Bool("pure-barcode", false, "treat the region as a pure symbol without border")
	f.String("charset", "", "payload character set (default UTF-8 / ISO-8859-1 detection)")

	f.String("history-db", "", "record the run in this SQLite database")
	return decodeCmd
}

func (a *app) runDecode(cmd *cobra.Command, args []string) error {
	dir := args[0]
	cfg := a.config()
	if err := applyDecodeFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	// The machine is resolved before the directory is touched.
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	profile, err := registry.Resolve(cfg.Machine)
	if err != nil {
		return err
	}

	format, err := batch.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	params, err := cfg.Params(profile.Name())
	if err != nil {
		return err
	}
	if params, err = applyProcessingFlags(cmd.Flags(), params); err != nil {
		return err
	}

	runner, err := a.newRunner(cfg, profile, params)
	if err != nil {
		return err
	}

	res, err := runner.Run(cmd.Context(), dir)
	if errors.Is(err, batch.ErrNoImages) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := res.SaveReport(format, cfg.Output.File, cmd.OutOrStdout()); err != nil {
		return err
	}
	if cfg.Output.File != "" {
		a.log().Info("report written", "file", cfg.Output.File, "format", format)
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cmd.Context(), cfg.History.Path, a.log())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if err := store.SaveRun(cmd.Context(), res); err != nil {
			return err
		}
		a.log().Info("run recorded", "run_id", res.RunID, "db", cfg.History.Path)
	}
	return nil
}

// newRunner wires preprocessor, decoder and runner for one machine profile.
func (a *app) newRunner(cfg *config.Config, profile machine.Profile, params preprocess.Params) (*batch.Runner, error) {
	opts := []preprocess.Option{preprocess.WithLogger(a.log())}
	if params.Display || profile.Display() {
		dir := cfg.Display.Dir
		if dir == "" {
			dir = defaultStageDir
		}
		opts = append(opts, preprocess.WithViewer(preprocess.NewDirViewer(dir)))
	}
	pre, err := preprocess.New(profile, params, opts...)
	if err != nil {
		return nil, err
	}

	backend, err := barcode.NewBackend(cfg.Decoder.Backend)
	if err != nil {
		return nil, err
	}
	dec, err := barcode.NewDecoder(backend,
		barcode.WithLogger(a.log()),
		barcode.WithCharset(cfg.Decoder.Charset),
		barcode.WithOptions(cfg.DecoderOptions()))
	if err != nil {
		return nil, err
	}

	return batch.NewRunner(batch.Config{
		Machine:   profile.Name(),
		Workers:   cfg.Batch.Workers,
		Recursive: cfg.Batch.Recursive,
		Exclude:   cfg.Batch.Exclude,
	}, pre, dec, batch.WithLogger(a.log()))
}

// applyDecodeFlags copies explicitly set flags over the loaded configuration.
func applyDecodeFlags(f *pflag.FlagSet, cfg *config.Config) error {
	if f.Changed("format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if f.Changed("output") {
		cfg.Output.File, _ = f.GetString("output")
	}
	if f.Changed("workers") {
		cfg.Batch.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("recursive") {
		cfg.Batch.Recursive, _ = f.GetBool("recursive")
	}
	if f.Changed("exclude") {
		cfg.Batch.Exclude, _ = f.GetStringSlice("exclude")
	}
	if f.Changed("display") {
		cfg.Display.Enabled, _ = f.GetBool("display")
	}
	if f.Changed("display-dir") {
		cfg.Display.Dir, _ = f.GetString("display-dir")
	}
	if f.Changed("display-wait") {
		cfg.Display.Wait, _ = f.GetString("display-wait")
	}
	if f.Changed("backend") {
		cfg.Decoder.Backend, _ = f.GetString("backend")
	}
	if f.Changed("try-harder") {
		cfg.Decoder.TryHarder, _ = f.GetBool("try-harder")
	}
	if f.Changed("pure-barcode") {
		cfg.Decoder.PureBarcode, _ = f.GetBool("pure-barcode")
	}
	if f.Changed("charset") {
		cfg.Decoder.Charset, _ = f.GetString("charset")
	}
	if f.Changed("history-db") {
		cfg.History.Path, _ = f.GetString("history-db")
	}

	if cfg.Batch.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d (must be at least 1)", cfg.Batch.Workers)
	}
	if _, err := cfg.DisplayWait(); err != nil {
		return err
	}
	return nil
}

// applyProcessingFlags overrides params with explicitly set processing flags.
// Flags win over both the global and the per-machine configuration.
func applyProcessingFlags(f *pflag.FlagSet, params preprocess.Params) (preprocess.Params, error) {
	var err error
	if f.Changed("morph-kernel") {
		s, _ := f.GetString("morph-kernel")
		if params.MorphKernel, err = preprocess.ParseSize(s); err != nil {
			return params, fmt.Errorf("invalid morph kernel: %w", err)
		}
	}
	if f.Changed("blur-kernel") {
		s, _ := f.GetString("blur-kernel")
		if params.BlurKernel, err = preprocess.ParseSize(s); err != nil {
			return params, fmt.Errorf("invalid blur kernel: %w", err)
		}
	}
	if f.Changed("blur-sigma") {
		params.BlurSigma, _ = f.GetFloat64("blur-sigma")
	}
	if f.Changed("threshold-base") {
		params.ThresholdBase, _ = f.GetInt("threshold-base")
	}
	if f.Changed("threshold-max") {
		params.ThresholdMax, _ = f.GetInt("threshold-max")
	}
	if f.Changed("auto-threshold") {
		params.AutoThreshold, _ = f.GetBool("auto-threshold")
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}
