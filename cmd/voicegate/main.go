package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecomatrix/voicegate/pkg/dialer"
	"github.com/ecomatrix/voicegate/pkg/gateway"
	"github.com/ecomatrix/voicegate/pkg/logging"
	"github.com/ecomatrix/voicegate/pkg/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	dialTo := flag.String("dial_to", "", "destination number for an outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for an outbound call")
	dialURL := flag.String("dial_url", "", "override voice URL for an outbound call")
	flag.Parse()

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := gateway.NewEngine(ctx, cfg, gateway.DefaultRegistry(), slog.Default())
	if err != nil {
		slog.Error("engine build failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hooks := runner.Hooks{
		OnStart: func() {
			if err := engine.Start(ctx); err != nil {
				slog.Error("engine start failed", slog.String("error", err.Error()))
				cancel()
			}
		},
		OnStop: func() {
			slog.Info("shutdown complete", slog.Int("active_sessions", engine.Registry().Count()))
		},
	}
	life := runner.NewLifecycleRunner(engine, hooks, 20*time.Second)

	if *dialTo != "" && *dialFrom != "" {
		go func() {
			d := dialer.New(cfg.Dialer, slog.Default())
			callID, err := d.Dial(ctx, *dialTo, *dialFrom, *dialURL)
			if err != nil {
				slog.Error("outbound dial failed", slog.String("error", err.Error()))
				return
			}
			slog.Info("outbound dial started", slog.String("call_id", callID))
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := life.Run(ctx); err != nil {
		slog.Error("runner exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
