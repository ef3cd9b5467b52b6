package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	go2tvadapters "github.com/wluberti/denonAVR-vTuner/internal/adapters/go2tv"
	"github.com/wluberti/denonAVR-vTuner/internal/avtransport"
	"github.com/wluberti/denonAVR-vTuner/internal/bridge"
	"github.com/wluberti/denonAVR-vTuner/internal/buildinfo"
	"github.com/wluberti/denonAVR-vTuner/internal/config"
	"github.com/wluberti/denonAVR-vTuner/internal/diagnostics"
	"github.com/wluberti/denonAVR-vTuner/internal/discovery"
	"github.com/wluberti/denonAVR-vTuner/internal/favorites"
	"github.com/wluberti/denonAVR-vTuner/internal/httpapi"
	"github.com/wluberti/denonAVR-vTuner/internal/icy"
	"github.com/wluberti/denonAVR-vTuner/internal/lifecycle"
	"github.com/wluberti/denonAVR-vTuner/internal/metrics"
	"github.com/wluberti/denonAVR-vTuner/internal/nowplaying"
	"github.com/wluberti/denonAVR-vTuner/internal/player"
	"github.com/wluberti/denonAVR-vTuner/internal/radiobrowser"
	"github.com/wluberti/denonAVR-vTuner/internal/ssdp"
	"github.com/wluberti/denonAVR-vTuner/internal/upnp"
)

func main() {
	flags := pflag.NewFlagSet("denon-vtuner", pflag.ExitOnError)
	envFile := flags.String("env-file", ".env", "dotenv file to load before reading the environment")
	listen := flags.String("listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	selfTest := flags.Bool("self-test", false, "print configuration and wiring diagnostics as JSON then exit")
	showVersion := flags.Bool("version", false, "print version and exit")
	listRenderers := flags.Bool("list-renderers", false, "list DLNA renderers on the LAN as JSON then exit")
	rendererTimeout := flags.Duration("renderer-timeout", 3*time.Second, "how long --list-renderers waits for answers")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, warnings, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	for _, w := range warnings {
		logger.Warn("config_warning", slog.String("detail", w))
	}

	bundle := go2tvadapters.NewBundle()
	describer := upnp.NewDescriber(logger)
	resolver := discovery.NewResolver(discovery.ResolverOptions{
		Locator:        ssdp.NewProber(logger),
		Describer:      describer,
		Prober:         upnp.NewScanner(describer, logger),
		SSDPTimeout:    cfg.SSDPTimeout,
		DescriptionURL: cfg.DescriptionURL,
		Logger:         logger,
	})
	renderers := discovery.NewService(bundle.Discovery)

	if *selfTest {
		report := diagnostics.SelfTest(cfg, diagnostics.Wiring{
			Strategies:     resolver.Strategies(),
			DiscoveryWired: bundle.Discovery != nil,
			InspectorWired: bundle.Inspector != nil,
		}, logger)
		exitOnErr(printJSON(report))
		return
	}

	runCtx, stopSignals := lifecycle.WithTermination(context.Background())
	defer stopSignals()

	if *listRenderers {
		found, err := renderers.ListRenderers(runCtx, int(rendererTimeout.Milliseconds()), true)
		exitOnErr(err)
		exitOnErr(printJSON(found))
		return
	}

	if err := cfg.RequireReceiver(); err != nil {
		logger.Warn("receiver_not_configured", slog.String("detail", "play requests will fail until DENON_IP is set"))
	}

	m := metrics.New()
	reader := icy.NewReader(logger)
	router := httpapi.NewRouter(httpapi.Deps{
		Player: player.NewManager(player.Options{
			Config:    cfg,
			Resolver:  resolver,
			Transport: avtransport.NewController(logger),
			Inspector: bundle.Inspector,
			Metrics:   m,
			Logger:    logger,
		}),
		Metadata:   reader,
		Stations:   radiobrowser.NewClient(cfg.RadioBrowserURL, logger),
		Favorites:  favorites.NewStore(cfg.FavoritesFile, logger),
		Renderers:  renderers,
		Proxy:      bridge.New(m, logger),
		NowPlaying: nowplaying.NewWatcher(reader, 0, logger),
		Metrics:    m.Handler(),
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Relays follow the process context so shutdown is not held up by
		// streams that never end on their own.
		BaseContext: func(net.Listener) context.Context { return runCtx },
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("http_server_start",
			slog.String("version", buildinfo.Version),
			slog.String("listen", cfg.ListenAddr),
			slog.String("receiver", cfg.ReceiverAddress),
			slog.String("log_level", cfg.LogLevel.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("http_server_stopping")
		shutdownCtx, cancel := lifecycle.ShutdownContext()
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http_server_forced_close", slog.String("reason", err.Error()))
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("http_server_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
