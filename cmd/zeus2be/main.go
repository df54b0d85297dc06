// Command zeus2be is the ZEUS-2 spectrometer backend. It answers the
// observatory's APECS control protocol, drives the instrument hardware and
// streams reduced data to the telescope data system.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zeus2/zeus2be/internal/apecs"
	"github.com/zeus2/zeus2be/internal/config"
	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/hardware"
	"github.com/zeus2/zeus2be/internal/monitoring"
	"github.com/zeus2/zeus2be/internal/runstore"
	"github.com/zeus2/zeus2be/internal/stream"
	"github.com/zeus2/zeus2be/internal/version"
)

var (
	configPath = flag.String("config", "", "Configuration file (.json, .yaml or .yml); defaults apply when empty")
	simulate   = flag.Bool("simulate", false, "Run against simulated devices")
	listen     = flag.String("listen", "", "APECS listen address, overriding the configuration")
	showVer    = flag.Bool("version", false, "Print the build version and exit")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *listen != "" {
		cfg.APECS.Listen = *listen
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logFile := monitoring.RedirectStdLog(monitoring.LogFileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logFile.Close()
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var in *instrument
	if *simulate {
		in, err = simulatedInstrument(ctx, cfg.Hardware)
	} else {
		in, err = openInstrument(ctx, cfg.Hardware)
	}
	if err != nil {
		log.Fatalf("failed to initialize instrument: %v", err)
	}
	defer in.Close()
	log.Printf("instrument ready, grating at %d", in.session.GratingIndex())

	store, err := runstore.Open(cfg.DB.Path)
	if err != nil {
		log.Fatalf("failed to open run ledger: %v", err)
	}
	defer store.Close()

	orch := hardware.New(in.session, hardware.Options{
		DataDir:        cfg.Hardware.DataDir,
		Commands:       commands(cfg.Hardware.Commands),
		PollInterval:   cfg.Hardware.GetPollInterval(),
		SyncMode:       cfg.Hardware.SyncMode,
		CommandTimeout: cfg.Hardware.GetCommandTimeout(),
		Runner:         in.runner,
		Recorder:       store,
	})

	apecsSock, err := apecs.ListenUDP(cfg.APECS.Listen)
	if err != nil {
		log.Fatalf("failed to listen for APECS commands: %v", err)
	}
	defer apecsSock.Close()

	obsEngine, err := net.ResolveUDPAddr("udp", cfg.APECS.ObsEngine)
	if err != nil {
		log.Fatalf("failed to resolve observing engine %s: %v", cfg.APECS.ObsEngine, err)
	}
	scanSock, err := apecs.ListenUDP(":0")
	if err != nil {
		log.Fatalf("failed to open scan number socket: %v", err)
	}
	defer scanSock.Close()
	scans := apecs.NewScanNumberClient(scanSock, obsEngine, cfg.APECS.GetScanTimeout())

	dispatcher := apecs.NewDispatcher(apecsSock, orch, in.session, scans,
		hardware.NewNameAllocator(fsutil.OSFileSystem{}, cfg.Hardware.DataDir),
		apecs.Options{Backend: cfg.APECS.Backend, Prefixes: cfg.APECS.Prefixes})

	streamer := stream.New(fsutil.OSFileSystem{},
		stream.ExecReducer{Runner: in.runner, Command: cfg.Stream.Reducer, Timeout: cfg.Stream.GetReducerTimeout()},
		stream.DispatcherIntegrationTime(cfg.Stream.Dispatcher, cfg.Stream.GetQueryTimeout()),
		nil, cfg.Stream.Options(cfg.Hardware.DataDir))
	dataServer := stream.NewServer(streamer)

	admin, err := adminHandler(orch, store)
	if err != nil {
		log.Fatalf("failed to set up admin routes: %v", err)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s failed: %v", name, err)
				stop()
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	run("orchestrator", orch.Run)
	run("scan number client", scans.Run)
	run("apecs dispatcher", dispatcher.Serve)
	run("data server", func(ctx context.Context) error {
		return dataServer.ListenAndServe(ctx, cfg.Stream.Listen)
	})
	run("admin server", func(ctx context.Context) error {
		return serveHTTP(ctx, cfg.Admin.Listen, admin)
	})

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// adminHandler serves metrics and the /debug/ pages.
func adminHandler(orch *hardware.Orchestrator, store *runstore.Store) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.MetricsHandler())
	orch.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

// serveHTTP runs an HTTP server on addr until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
