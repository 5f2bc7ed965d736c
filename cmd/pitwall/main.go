package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "0.4.0"

func printVersion() {
	fmt.Printf("pitwall v%s\n", version)
	fmt.Println("Operator console daemon for a remote-controlled vehicle")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  pitwall [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Owns the console state (modes, speed, steering, autopilot) and drives")
	fmt.Println("  the vehicle over a command link. Operator input comes from Linux input")
	fmt.Println("  devices (wheel, pedals, keyboard) and the IPC socket; telemetry is served")
	fmt.Println("  over a websocket and optionally recorded to a Redis stream.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (flags below override it)")
	fmt.Println()
	fmt.Println("  -link string")
	fmt.Println("        Vehicle link kind: ws, can or none (default \"none\")")
	fmt.Println()
	fmt.Println("  -link-addr string")
	fmt.Println("        Vehicle link address (ws://host:port/path or can://can0)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/pitwall.sock\")")
	fmt.Println()
	fmt.Println("  -telemetry-port int")
	fmt.Println("        Telemetry/metrics HTTP port, 0 disables (default 3002)")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device (replaces input.devices)")
	fmt.Println()
	fmt.Println("  -tuning-file string")
	fmt.Println("        YAML autopilot tuning file, rewritten after each edit")
	fmt.Println()
	fmt.Println("  -redis-url string")
	fmt.Println("        Redis URL for the telemetry recorder (e.g. redis://localhost:6379/0)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Bench run: simulated sensors, no vehicle")
	fmt.Println("  pitwall -input-device /dev/input/event4")
	fmt.Println()
	fmt.Println("  # Drive over websocket and record telemetry")
	fmt.Println("  pitwall -link ws -link-addr ws://rover.local:8765/control -redis-url redis://localhost:6379/0")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println("  - The link is connected from the console (pitwall-ctl connect) unless")
	fmt.Println("    link.connect_on_start is set")
	fmt.Println()
}

func main() {
	// Check for version/help early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath    = flag.String("config", "", "YAML config file")
		linkKind      = flag.String("link", LinkKindNone, "Vehicle link kind: ws, can or none")
		linkAddr      = flag.String("link-addr", "", "Vehicle link address")
		ipcSocketPath = flag.String("ipc-socket", "/tmp/pitwall.sock", "Unix domain socket path for IPC")
		telemetryPort = flag.Int("telemetry-port", 3002, "Telemetry/metrics HTTP port (0 disables)")
		inputDevice   = flag.String("input-device", "", "Linux input event device")
		tuningFile    = flag.String("tuning-file", "", "YAML autopilot tuning file")
		redisURL      = flag.String("redis-url", "", "Redis URL for the telemetry recorder")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_             = flag.Bool("version", false, "Print version and exit")
		_             = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given explicitly override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "link":
			o.LinkKind = linkKind
		case "link-addr":
			o.LinkAddr = linkAddr
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "telemetry-port":
			o.TelemetryPort = telemetryPort
		case "input-device":
			o.InputDevice = inputDevice
		case "tuning-file":
			o.TuningFile = tuningFile
		case "redis-url":
			o.RedisURL = redisURL
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("pitwall stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	tuning, err := LoadTuningFile(cfg.Tuning.File)
	if err != nil {
		return err
	}

	dial, err := newLinkDialer(cfg.Link.Kind, logger.With("component", "link"))
	if err != nil {
		return err
	}

	// Open input devices before anything starts so a permissions problem
	// fails fast.
	var inputs []*os.File
	for _, dev := range cfg.Input.Devices {
		f, err := os.Open(dev)
		if err != nil {
			for _, opened := range inputs {
				opened.Close()
			}
			return fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", dev, err)
		}
		inputs = append(inputs, f)
	}
	defer func() {
		for _, f := range inputs {
			f.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder *Recorder
	if cfg.Recorder.RedisURL != "" {
		stream, err := newRedisStream(ctx, cfg.Recorder.RedisURL)
		if err != nil {
			return fmt.Errorf("telemetry recorder: %w", err)
		}
		recorder = NewRecorder(logger.With("component", "recorder"), stream, RecorderConfig{
			Stream: cfg.Recorder.Stream,
			MaxLen: cfg.Recorder.MaxLen,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	// Central event bus: operator actions, link results, snapshot requests.
	events := make(chan Event, defaultEventQueue)
	ticks := make(chan Event, defaultEventQueue)

	post := func(ev Event) {
		select {
		case events <- ev:
		case <-gctx.Done():
		}
	}

	dispatcher := NewDispatcher(logger.With("component", "dispatcher"), DispatcherConfig{
		QueueSize: cfg.Link.QueueSize,
		OnLinkLost: func(cmd LinkCommand, err error) {
			post(CommandFailed{Command: CmdSend{Link: cmd}, Err: err, At: time.Now()})
		},
	})

	fx := &Effects{
		Scheduler:  newTickerScheduler(gctx, ticks),
		Dispatcher: dispatcher,
		Dial:       dial,
		Sensors:    newSimulatedFeed(cfg.Sensors.Seed),
		Vitals:     newSimulatedVitals(cfg.Sensors.Seed + 1),
		TuningFile: cfg.Tuning.File,
		Post:       post,
	}

	// Broadcast fan-out: websocket telemetry, and the recorder if enabled.
	telemetryCh := make(chan StateBroadcast, defaultTelemetryBroadcastBuffer)
	outputs := []chan<- StateBroadcast{telemetryCh}
	var recorderCh chan StateBroadcast
	if recorder != nil {
		recorderCh = make(chan StateBroadcast, defaultTelemetryBroadcastBuffer)
		outputs = append(outputs, recorderCh)
	}

	state := NewConsoleState(tuning)
	consoleCfg := cfg.ToConsoleConfig()

	g.Go(func() error {
		runDaemon(gctx, events, ticks, fx, state, consoleCfg, outputs, logger.With("component", "daemon"))
		return nil
	})

	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})

	ts := NewTelemetryServer(logger.With("component", "telemetry"), events, HubConfig{})
	g.Go(func() error {
		ts.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		window := time.Duration(cfg.Telemetry.CoalesceMS) * time.Millisecond
		RunBroadcaster(gctx, ts.Hub(), telemetryCh, window, logger.With("component", "broadcaster"))
		return nil
	})
	if cfg.Telemetry.Port > 0 {
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.Telemetry.Port, newTelemetryMux(ts), logger.With("component", "http"))
		})
	}

	if recorder != nil {
		g.Go(func() error {
			recorder.Run(gctx, recorderCh)
			return nil
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger.With("component", "ipc"))
	})

	if len(inputs) > 0 {
		g.Go(func() error {
			return runInput(gctx, inputs, newInputMapper(cfg.ToInputMapping()), post)
		})
	}

	if cfg.Link.ConnectOnStart {
		post(ConnectLink{Addr: cfg.Link.Addr})
	}

	logger.Info("listening",
		"link", cfg.Link.Kind,
		"link_addr", cfg.Link.Addr,
		"ipc", cfg.IPC.SocketPath,
		"telemetry_port", cfg.Telemetry.Port,
		"input_devices", cfg.Input.Devices,
		"recorder", recorder != nil)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// runInput translates raw device events into operator actions until ctx is
// canceled or a device fails.
func runInput(ctx context.Context, files []*os.File, mapper *inputMapper, post func(Event)) error {
	raw := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(ctx, files, raw, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)
		case ev := <-raw:
			for _, a := range mapper.translate(ev) {
				post(a)
			}
		}
	}
}
