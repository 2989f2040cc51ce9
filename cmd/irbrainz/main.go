package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("irbrainz v%s\n", version)
	fmt.Println("Keypad to IR/network remote control dispatcher")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  irbrainz [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads key presses from one or more Linux input devices and drives the")
	fmt.Println("  living room equipment through lircd (IR) and Home Assistant: momentary")
	fmt.Println("  keys hold a button while pressed, other keys run timed command sequences.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; built-in defaults otherwise)")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Input device path; repeat for several devices (overrides input.devices)")
	fmt.Println()
	fmt.Println("  -lirc-socket string")
	fmt.Printf("        lircd socket path (default %q)\n", defaultLircSocket)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
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
	fmt.Println("  irbrainz -config /etc/irbrainz.yaml")
	fmt.Println("  irbrainz -device /dev/input/event3 -device /dev/input/event5 -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input devices (root or the 'input' group)")
	fmt.Println("  - Missing or unplugged devices are retried every input.retry_interval_ms")
	fmt.Println("  - Exit status is non-zero only for unrecoverable failures")
	fmt.Println()
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		lircSocket = flag.String("lirc-socket", "", "lircd socket path")
		ipcSocket  = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		logLevel   = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVer    = flag.Bool("version", false, "Print version and exit")
		showHelp   = flag.Bool("help", false, "Print help message")
		devices    stringList
	)
	flag.Var(&devices, "device", "Input device path (repeatable)")
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVer {
		printVersion()
		return 0
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	// Only flags that were actually set override the file.
	var ov FlagOverrides
	ov.Devices = devices
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lirc-socket":
			ov.LircSocket = lircSocket
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "log-level":
			ov.LogLevel = logLevel
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		return 1
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger, logCloser := setupLogger(level, cfg.Logging)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer d.close()

	logger.Info("irbrainz starting", "version", version, "devices", cfg.Input.Devices, "lirc", cfg.Lirc.Socket, "ipc", cfg.IPC.SocketPath)

	err = d.run(ctx, stop)

	var fatal *FatalError
	if errors.As(err, &fatal) {
		logger.Error("exiting after fatal error", "error", fatal.Err)
		return 1
	}
	if err != nil {
		logger.Error("exiting", "error", err)
		return 1
	}
	logger.Info("shut down cleanly")
	return 0
}

// daemon holds the wired components.
type daemon struct {
	cfg    Config
	logger *slog.Logger

	bus        *StatusBus
	events     chan Event
	actions    map[Trigger]Action
	modes      *DeviceModes
	dispatcher *Dispatcher
	supervisor *Supervisor
	scheduler  *Scheduler

	closers []func() error
}

func newDaemon(ctx context.Context, cfg Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:    cfg,
		logger: logger,
		bus:    NewStatusBus(),
		events: make(chan Event, 64),
	}

	// Device mode mirror
	var store ModeStore
	if cfg.Modes.DBPath != "" {
		s, err := OpenModeStore(ExpandPath(cfg.Modes.DBPath))
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, s.Close)
		store = s
	}
	d.modes = NewDeviceModes(DefaultModes(), store, d.bus, logger)
	if err := d.modes.Load(ctx); err != nil {
		logger.Warn("could not restore device modes; using defaults", "error", err)
	}

	// Actions and keymap
	actions := DefaultActions()
	if cfg.Scripts.Dir != "" {
		scripted, err := LoadScriptActions(ExpandPath(cfg.Scripts.Dir), logger)
		if err != nil {
			d.close()
			return nil, err
		}
		actions = mergeActions(actions, scripted)
	}

	keymap := DefaultKeymap()
	if len(cfg.Keymap) > 0 {
		km, err := KeymapFromConfig(cfg.Keymap)
		if err != nil {
			d.close()
			return nil, err
		}
		keymap = km
	}
	if err := checkBindings(keymap, actions); err != nil {
		d.close()
		return nil, err
	}
	d.actions = actions

	// Command channels
	lircCh := NewLircChannel(cfg.Lirc.Socket, time.Duration(cfg.Lirc.TimeoutMS)*time.Millisecond, logger)
	d.closers = append(d.closers, lircCh.Close)
	router := NewRouter(NewPacedChannel(lircCh, cfg.Lirc.SendRatePerSec, cfg.Lirc.SendBurst))

	if cfg.Hass.Enabled {
		token, err := readSecretFile(cfg.Hass.TokenFile)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("hass: %w", err)
		}
		hassCh, err := NewHassChannel(cfg.Hass.WsURL, token, logger, time.Duration(cfg.Hass.TimeoutMS)*time.Millisecond)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("hass: %w", err)
		}
		d.closers = append(d.closers, hassCh.Close)
		router.Route(remoteHass, hassCh)
	}

	d.dispatcher = NewDispatcher(DispatcherConfig{
		Actions:   actions,
		Channel:   router,
		Sequencer: NewSequencer(router, cfg.StepDelay(), logger),
		Modes:     d.modes,
		Bus:       d.bus,
		Logger:    logger,
	})

	d.supervisor = NewSupervisor(SupervisorConfig{
		Sources:       cfg.Input.Devices,
		Open:          evdevOpener(cfg.Input.Grab),
		Classifier:    keymap,
		Events:        d.events,
		RetryInterval: cfg.RetryInterval(),
		Bus:           d.bus,
		Logger:        logger,
	})

	if len(cfg.Schedules) > 0 {
		s, err := NewScheduler(cfg.Schedules, actions, d.events, logger)
		if err != nil {
			d.close()
			return nil, err
		}
		d.scheduler = s
	}

	return d, nil
}

// run starts every service and blocks until the supervisor returns.
// cancel stops the remaining services afterwards.
func (d *daemon) run(ctx context.Context, cancel context.CancelFunc) error {
	var wg sync.WaitGroup
	goService := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				d.logger.Error(name+" error", "error", err)
			}
		}()
	}

	goService("dispatcher", func() error {
		d.dispatcher.Run(ctx, d.events)
		return nil
	})

	ipc := NewIPCServer(d.cfg.IPC.SocketPath, d.events, d.dispatcher.Snapshot, d.logger)
	goService("IPC server", func() error { return ipc.Run(ctx) })

	if d.cfg.Status.Port > 0 {
		status := NewStatusServer(d.logger, d.dispatcher.Snapshot, HubConfig{})
		var api *ControlAPI
		if d.cfg.Status.Control {
			api = NewControlAPI(d.events, d.actions, d.logger)
		}
		handler := NewHTTPHandler(status, api, d.logger)

		statusEvents := d.bus.Subscribe(128)
		goService("ws hub", func() error {
			status.Hub().Run(ctx)
			return nil
		})
		goService("ws broadcaster", func() error {
			RunBroadcaster(ctx, status.Hub(), statusEvents, d.logger)
			return nil
		})
		goService("status server", func() error {
			return runHTTPServer(ctx, d.cfg.Status.Port, handler, d.logger)
		})
	}

	if d.cfg.MQTT.Enabled {
		var password string
		if d.cfg.MQTT.PasswordFile != "" {
			p, err := readSecretFile(d.cfg.MQTT.PasswordFile)
			if err != nil {
				d.logger.Warn("mqtt disabled: cannot read password", "error", err)
			} else {
				password = p
			}
		}
		if d.cfg.MQTT.PasswordFile == "" || password != "" {
			pub := NewMQTTPublisher(d.cfg.MQTT, password, d.modes, d.logger)
			if err := pub.Connect(); err != nil {
				d.logger.Warn("mqtt unavailable", "error", err)
			}
			mqttEvents := d.bus.Subscribe(128)
			goService("mqtt publisher", func() error {
				pub.Run(ctx, mqttEvents)
				return nil
			})
		}
	}

	if d.cfg.Influx.Enabled {
		if h := d.connectHistory(ctx); h != nil {
			defer h.Close()
			historyEvents := d.bus.Subscribe(256)
			goService("action history", func() error {
				h.Run(ctx, historyEvents)
				return nil
			})
		}
	}

	if d.scheduler != nil {
		d.scheduler.Start()
		defer d.scheduler.Stop()
	}

	err := d.supervisor.Run(ctx)

	// Stop everything else; the dispatcher releases holds and waits for the
	// running action before returning.
	cancel()
	wg.Wait()
	return err
}

// connectHistory returns nil when InfluxDB is unreachable; history is
// best-effort and never blocks startup.
func (d *daemon) connectHistory(ctx context.Context) *HistoryRecorder {
	token, err := readSecretFile(d.cfg.Influx.TokenFile)
	if err != nil {
		d.logger.Warn("action history disabled: cannot read token", "error", err)
		return nil
	}
	h, err := ConnectHistory(ctx, d.cfg.Influx, token, d.logger)
	if err != nil {
		d.logger.Warn("action history unavailable", "error", err)
		return nil
	}
	return h
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", "error", err)
		}
	}
	d.closers = nil
}
