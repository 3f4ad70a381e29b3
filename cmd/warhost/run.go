package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/api"
	"github.com/warhost-project/warhost/internal/cli"
	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/connector"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/health"
	"github.com/warhost-project/warhost/internal/lan"
	"github.com/warhost-project/warhost/internal/realm"
	"github.com/warhost-project/warhost/internal/scheduler"
	"github.com/warhost-project/warhost/internal/server"
	"github.com/warhost-project/warhost/internal/telemetry"
	"github.com/warhost-project/warhost/internal/util"
)

const banner = `
                   _               _
 __      ____ _ _ __| |__   ___  ___| |_
 \ \ /\ / / _' | '__| '_ \ / _ \/ __| __|
  \ V  V / (_| | |  | | | | (_) \__ \ |_
   \_/\_/ \__,_|_|  |_| |_|\___/|___/\__|  %s
 Warcraft III game host
`

const shutdownTimeout = 30 * time.Second

var errInvalidConfig = errors.New("configuration validation failed, fix the errors above")

type runOptions struct {
	configDir string
	autohost  string
	noConsole bool
}

func newRunCommand() *ffcli.Command {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	opts := runOptions{}
	fs.StringVar(&opts.configDir, "config", config.DefaultConfigDir, "Configuration directory")
	fs.StringVar(&opts.autohost, "autohost", "", "Host a lobby with this name on the default map at startup")
	fs.BoolVar(&opts.noConsole, "no-console", false, "Do not read console commands from stdin")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "warhost run [flags]",
		ShortHelp:  "Run the game host",
		LongHelp: `Run the game host with every configured service.

Flags can also be set from the environment, e.g. WARHOST_CONFIG=/etc/warhost.`,
		FlagSet: fs,
		Options: []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			return runExec(ctx, opts)
		},
	}
}

func runExec(ctx context.Context, opts runOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	info := getBuildInfo()
	fmt.Printf(banner, info)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return err
	}
	if err := util.InitLogger(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errInvalidConfig
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", info.String()).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting warhost")

	store, err := db.NewStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		log.Info().Str("source", e.Source).Msg("shutdown requested")
		cancel()
		return nil
	})

	hostCfg := cfg.GetHost()
	deps := server.Deps{
		Hub:        realm.NewHub(cfg, store, eventBus),
		Store:      store,
		Bus:        eventBus,
		ExternalIP: externalIP(hostCfg.ExternalIP),
		Version:    info.String(),
	}
	if hostCfg.LANBroadcast {
		b, err := lan.NewBroadcaster(ctx, hostCfg.LANPort)
		if err != nil {
			log.Warn().Err(err).Msg("LAN broadcasts disabled")
		} else {
			defer b.Close()
			deps.LAN = b
		}
	}

	host := server.NewHost(cfg, deps)
	if err := host.Listen(ctx); err != nil {
		return err
	}

	lagMonitor := server.NewLagMonitor(eventBus)
	healthMgr := health.NewManager(cfg, eventBus, host, lagMonitor)
	sched := scheduler.NewScheduler(cfg, store, eventBus)
	if wn := connector.NewWebhookNotifier(cfg, eventBus); wn != nil {
		log.Info().Msg("webhook notifications enabled")
	}

	mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus, info.String())
	if err != nil {
		if !errors.Is(err, telemetry.ErrDisabled) {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
		mqttHandler = nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Debug().Str("task", name).Msg("starting")
			fn()
		}()
	}

	spawn("host", func() {
		if err := host.Run(ctx); err != nil {
			errCh <- fmt.Errorf("host: %w", err)
		}
	})

	minor, _ := config.ParseVersion(hostCfg.War3Version)
	if responder, err := lan.ListenResponder(ctx, hostCfg.BindAddress, hostCfg.LANPort, lan.Version(hostCfg.TFT, minor), host.State().Lobbies); err != nil {
		log.Warn().Err(err).Msg("LAN search responder disabled")
	} else {
		spawn("lan", func() {
			if err := responder.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("LAN search responder stopped")
			}
		})
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, api.Deps{
			Games:   host,
			Control: host,
			Store:   store,
			Lag:     lagMonitor,
			Version: info.String(),
		})
		spawn("api", func() {
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		})
	}

	if mqttHandler != nil {
		spawn("mqtt", func() {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		})
	}

	spawn("health", func() { healthMgr.Start(ctx) })
	spawn("scheduler", func() { sched.Start(ctx) })

	if !opts.noConsole {
		console := cli.NewCLI(cfg, eventBus, host, store, os.Stdout)
		spawn("console", func() { console.Start(ctx, os.Stdin) })
	}

	if opts.autohost != "" {
		hc, err := host.CreateGame(ctx, server.CreateRequest{Name: opts.autohost, Creator: "autohost"})
		if err != nil {
			log.Error().Err(err).Str("game", opts.autohost).Msg("autohost failed")
		} else {
			log.Info().Str("game", opts.autohost).Uint32("host_counter", hc).Msg("autohost lobby created")
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("warhost stopped")
	return nil
}

// externalIP returns the configured address, or the address used for
// outbound traffic.
func externalIP(configured string) net.IP {
	if configured != "" {
		if ip := net.ParseIP(configured).To4(); ip != nil {
			return ip
		}
		log.Warn().Str("external_ip", configured).Msg("external_ip is not an IPv4 address, detecting")
	}
	ip, err := util.GetOutboundIP()
	if err != nil {
		log.Debug().Err(err).Msg("outbound address detection failed, using first interface")
		ip = util.GetLocalIP()
	}
	log.Info().Str("external_ip", ip.String()).Msg("using detected address")
	return ip
}

// startWithRetry retries startFn while binding fails, e.g. right after a
// restart when the previous process still holds the port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
