// ABOUTME: Entry point for the pcmdeck command line tool
// ABOUTME: Wires config, logging, metrics and the deck controller into cobra commands
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/internal/config"
	"github.com/Resonate-Protocol/pcmdeck/internal/metrics"
	"github.com/Resonate-Protocol/pcmdeck/internal/ui"
	"github.com/Resonate-Protocol/pcmdeck/internal/version"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/device"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/wavcodec"
	"github.com/Resonate-Protocol/pcmdeck/pkg/deck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	logFile     string
	metricsAddr string
	backend     string
	writePolicy string
	duration    time.Duration
	static      bool
)

var rootCmd = &cobra.Command{
	Use:           "pcmdeck",
	Short:         "Record, convert and play raw PCM audio",
	Long:          `pcmdeck - capture microphone audio to raw PCM, wrap it in a WAV container and play either back`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var recordCmd = &cobra.Command{
	Use:   "record [file.pcm]",
	Short: "Record raw PCM until Ctrl-C or --duration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(args)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert [file.pcm] [file.wav]",
	Short: "Wrap a raw PCM recording in a WAV container",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(args)
	},
}

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Stream a PCM or WAV file, or load a WAV file with --static",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlay(args)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [file.wav]",
	Short: "Print the format and levels of a WAV file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args)
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive record / play / convert screen",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s (%s)\n", version.Product, version.Version, version.Manufacturer)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in settings)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "pcmdeck.log", "Log file path")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Audio backend: malgo, oto or portaudio")

	recordCmd.Flags().DurationVar(&duration, "duration", 0, "Stop recording after this long (default: until Ctrl-C)")
	recordCmd.Flags().StringVar(&writePolicy, "write-policy", "", "Chunk write policy: full or read")
	playCmd.Flags().BoolVar(&static, "static", false, "Load the whole WAV file before playing")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session holds what every command needs
type session struct {
	cfg     *config.Config
	ctrl    *deck.Controller
	ended   chan deck.SessionReport
	logFile *os.File
	server  *http.Server
}

// loadConfig applies command line overrides to the config file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if backend != "" {
		cfg.Device.Backend = backend
	}
	if writePolicy != "" {
		cfg.Capture.WritePolicy = writePolicy
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// setupLogging sends logs to the log file, and to stdout unless the TUI owns the terminal
func setupLogging(useTUI bool) (*os.File, error) {
	f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	return f, nil
}

// start loads settings, opens the backend and builds the controller.
// hooks may be nil; the TUI passes its program to receive callbacks.
func start(useTUI bool, hooks *ui.Program) (*session, error) {
	f, err := setupLogging(useTUI)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig()
	if err != nil {
		f.Close()
		return nil, err
	}

	dev, err := device.New(cfg.Device.Backend, cfg.Device.Latency())
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		ended:   make(chan deck.SessionReport, 4),
		logFile: f,
	}

	dc := deck.Config{
		Device:      dev,
		Format:      cfg.Audio.Format(),
		WritePolicy: cfg.Capture.Policy(),
		OnError: func(err error) {
			log.Printf("Deck error: %v", err)
		},
		OnSessionEnd: func(r deck.SessionReport) {
			select {
			case s.ended <- r:
			default:
			}
		},
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		dc.Metrics = metrics.New(reg)
		s.server = serveMetrics(cfg.Metrics.Address, reg)
	}

	if hooks != nil {
		dc.OnStateChange = hooks.OnStateChange
		dc.OnError = hooks.OnError
		dc.OnSessionEnd = hooks.OnSessionEnd
	}

	ctrl, err := deck.New(dc)
	if err != nil {
		dev.Close()
		s.close()
		return nil, err
	}
	s.ctrl = ctrl

	log.Printf("%s v%s: %s backend, %s, write policy %s",
		version.Product, version.Version, dev.Name(), cfg.Audio.Format(), cfg.Capture.Policy())
	return s, nil
}

func (s *session) close() {
	if s.ctrl != nil {
		if err := s.ctrl.Close(); err != nil {
			log.Printf("Error closing deck: %v", err)
		}
	}
	if s.server != nil {
		s.server.Close()
	}
	s.logFile.Close()
}

// serveMetrics exposes reg on addr in the background
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("Metrics listening on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return server
}

// signals returns a channel that fires on Ctrl-C or SIGTERM
func signals() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func arg(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

func runRecord(args []string) error {
	s, err := start(false, nil)
	if err != nil {
		return err
	}
	defer s.close()

	path := arg(args, 0, s.cfg.Files.PCMPath())
	if err := s.ctrl.StartRecord(path); err != nil {
		return err
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
		log.Printf("Recording for %v", duration)
	} else {
		fmt.Println("Recording, press Ctrl-C to stop")
	}

	select {
	case <-signals():
		log.Printf("Shutdown signal received")
	case <-timeout:
	}

	if err := s.ctrl.StopRecord(); err != nil {
		return err
	}

	r := <-s.ended
	fmt.Printf("Recorded %d bytes (%v of %s) to %s\n",
		r.Bytes, r.Format.Duration(r.Bytes).Round(time.Millisecond), r.Format, r.Path)
	return nil
}

func runConvert(args []string) error {
	s, err := start(false, nil)
	if err != nil {
		return err
	}
	defer s.close()

	pcmPath := arg(args, 0, s.cfg.Files.PCMPath())
	wavPath := arg(args, 1, s.cfg.Files.WAVPath())

	n, err := s.ctrl.ConvertPcmToWav(pcmPath, wavPath)
	if err != nil {
		return err
	}
	fmt.Printf("PCM converted to WAV: %s (%d bytes)\n", wavPath, n)
	return nil
}

func runPlay(args []string) error {
	s, err := start(false, nil)
	if err != nil {
		return err
	}
	defer s.close()

	if static {
		path := arg(args, 0, s.cfg.Files.WAVPath())
		err = s.ctrl.StartStaticPlay(path)
	} else {
		path := arg(args, 0, s.cfg.Files.PCMPath())
		err = s.ctrl.StartStreamPlay(path)
	}
	if err != nil {
		return err
	}

	select {
	case r := <-s.ended:
		fmt.Printf("Finished %s (%d bytes)\n", r.Path, r.Bytes)
		return r.Err
	case <-signals():
		log.Printf("Shutdown signal received")
		return s.ctrl.StopPlay()
	}
}

func runInfo(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := arg(args, 0, cfg.Files.WAVPath())
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := wavcodec.Inspect(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind %s: %w", path, err)
	}
	levels, err := wavcodec.MeasureLevels(f)
	if err != nil {
		return err
	}

	fmt.Printf("File:     %s\n", path)
	fmt.Printf("Format:   %s\n", info.Format)
	fmt.Printf("Data:     %d bytes\n", info.DataSize)
	fmt.Printf("Duration: %v\n", info.Duration.Round(time.Millisecond))
	fmt.Printf("Peak:     %.1f dBFS\n", levels.PeakDBFS())
	fmt.Printf("RMS:      %.1f dBFS\n", levels.RMSDBFS())
	return nil
}

func runTUI() error {
	// The controller needs the hooks before the program exists
	hooks := &ui.Program{}

	s, err := start(true, hooks)
	if err != nil {
		return err
	}
	defer s.close()

	paths := ui.Paths{PCM: s.cfg.Files.PCMPath(), WAV: s.cfg.Files.WAVPath()}
	prog := ui.Run(s.ctrl, paths, s.cfg.Audio.Format())
	hooks.Program = prog.Program

	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	log.Printf("TUI closed")
	return nil
}
