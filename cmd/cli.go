// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"specgate/internal/config"
	"specgate/internal/gate"
	"specgate/pkg/build"
)

// Command selects what main does after parsing.
type Command int

const (
	// Run starts the capture pipeline.
	Run Command = iota
	// List prints the audio devices and exits.
	List
	// Done means help or version text was already printed.
	Done
)

// Options is the outcome of parsing the command line.
type Options struct {
	Command Command
	Config  *config.Config
}

// flagValues holds raw flag values; they override the loaded configuration
// only when set on the command line.
type flagValues struct {
	configPath   string
	inputDevice  int
	outputDevice int
	channels     int
	sampleRate   float64
	frames       int
	lowLatency   bool

	mode      string
	threshold float64
	radix     int
	normalize bool

	tui       bool
	websocket string
	udp       string
	record    bool
	output    string
	playback  bool
	gain      float64
	metrics   string

	verbose  bool
	logLevel string
	logFile  string
}

// ParseArgs parses args (without the program name). Configuration is layered
// as defaults, then the YAML file, then ENV_* variables, then flags, and
// validated once at the end. Help and version text go to out.
func ParseArgs(args []string, out io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{Command: Run}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(fv.configPath)
			if err != nil {
				return err
			}
			fv.apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			options.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = Run
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = List
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		// Version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = Done
			fmt.Fprintln(cmd.OutOrStdout(), buildInfo.String())
		},
	})

	def := config.Default()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&fv.configPath, "config", "",
		"YAML configuration file (default ./"+config.DefaultPath+" if present)")

	// Audio Device Configuration
	flags.IntVarP(&fv.inputDevice, "device", "d", def.Audio.InputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVar(&fv.outputDevice, "output-device", def.Audio.OutputDevice,
		"Output device ID for --playback")
	flags.IntVarP(&fv.channels, "channels", "c", def.Audio.InputChannels,
		"Number of interleaved channels per frame (1=mono, 2=stereo)")
	flags.Float64VarP(&fv.sampleRate, "sample-rate", "s", def.Audio.SampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&fv.frames, "frames-per-buffer", "b", def.Audio.FramesPerBuffer,
		"The number of frames per buffer (frame size is frames x channels)")
	flags.BoolVarP(&fv.lowLatency, "low-latency", "l", def.Audio.LowLatency,
		"Use low latency mode for real-time processing")

	// Pipeline Configuration
	flags.StringVarP(&fv.mode, "mode", "m", def.Pipeline.Mode,
		"Pipeline output: reconstruct (gated audio) or spectrum (bin magnitudes)")
	flags.Float64VarP(&fv.threshold, "threshold", "t", float64(def.Pipeline.Threshold),
		"Gate threshold: bins with a smaller magnitude are zeroed")
	flags.IntVar(&fv.radix, "radix", def.Pipeline.Radix,
		"Transform radix; the frame size must be a power of it (2 or 4)")
	flags.BoolVar(&fv.normalize, "normalize", def.Pipeline.NormalizeInverse,
		"Scale the inverse transform by 1/N")

	// Sink Configuration
	flags.BoolVar(&fv.tui, "tui", def.Sinks.TUI, "Render the live spectrum in the terminal")
	flags.StringVar(&fv.websocket, "websocket", def.Sinks.WebSocketAddr,
		"Serve frames to WebSocket clients on this address")
	flags.StringVar(&fv.udp, "udp", def.Sinks.UDPTarget, "Send frames as UDP datagrams to host:port")
	flags.BoolVarP(&fv.record, "record", "r", false,
		"Record reconstructed audio to a WAV file")
	flags.StringVarP(&fv.output, "output", "o", def.Sinks.WAVPath,
		"WAV file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")
	flags.BoolVar(&fv.playback, "playback", def.Sinks.Playback, "Play reconstructed audio on the output device")
	flags.Float64Var(&fv.gain, "gain", def.Sinks.OutputGain,
		"Gain for playback and recording (0 undoes the transform's round-trip gain)")
	flags.StringVar(&fv.metrics, "metrics", "", "Serve Prometheus metrics on this address")

	// Debug Configuration
	flags.BoolVarP(&fv.verbose, "verbose", "v", false, "Show verbose output")
	flags.StringVar(&fv.logLevel, "log-level", def.Log.Level, "DEBUG, INFO, WARN, ERROR or FATAL")
	flags.StringVar(&fv.logFile, "log-file", def.Log.File, "Also write logs to this rotating file")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if options.Config == nil {
		// --help and --version return before any hook runs.
		options.Command = Done
	}
	return options, nil
}

func (fv *flagValues) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := flags.Changed

	if set("device") {
		cfg.Audio.InputDevice = fv.inputDevice
	}
	if set("output-device") {
		cfg.Audio.OutputDevice = fv.outputDevice
	}
	if set("channels") {
		cfg.Audio.InputChannels = fv.channels
	}
	if set("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if set("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.frames
	}
	if set("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}

	if set("mode") {
		cfg.Pipeline.Mode = fv.mode
	}
	if set("threshold") {
		cfg.Pipeline.Threshold = gate.Threshold(fv.threshold)
	}
	if set("radix") {
		cfg.Pipeline.Radix = fv.radix
	}
	if set("normalize") {
		cfg.Pipeline.NormalizeInverse = fv.normalize
	}

	if set("tui") {
		cfg.Sinks.TUI = fv.tui
	}
	if set("websocket") {
		cfg.Sinks.WebSocketAddr = fv.websocket
	}
	if set("udp") {
		cfg.Sinks.UDPTarget = fv.udp
	}
	if set("output") {
		cfg.Sinks.WAVPath = fv.output
	}
	if fv.record && cfg.Sinks.WAVPath == "" {
		cfg.Sinks.WAVPath = defaultRecordingName(time.Now())
	}
	if set("playback") {
		cfg.Sinks.Playback = fv.playback
	}
	if set("gain") {
		cfg.Sinks.OutputGain = fv.gain
	}
	if set("metrics") {
		cfg.Metrics.Enabled = fv.metrics != ""
		cfg.Metrics.Addr = fv.metrics
	}

	if set("log-level") {
		cfg.Log.Level = fv.logLevel
	}
	if fv.verbose {
		cfg.Log.Level = "DEBUG"
	}
	if set("log-file") {
		cfg.Log.File = fv.logFile
	}
}

func defaultRecordingName(now time.Time) string {
	return "recording-" + now.UTC().Format("02-01-2006-150405") + ".wav"
}
