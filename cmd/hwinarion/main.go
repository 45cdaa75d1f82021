// hwinarion listens to a microphone, recognizes speech and hands transcripts
// to registered actions, exposing live results over HTTP and websocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lipschultz/hwinarion/internal/audio"
	"github.com/lipschultz/hwinarion/internal/config"
	"github.com/lipschultz/hwinarion/internal/dispatch"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/pipeline"
	"github.com/lipschultz/hwinarion/internal/resilience"
	"github.com/lipschultz/hwinarion/internal/server"
	"github.com/lipschultz/hwinarion/internal/stt/engines"
	"github.com/lipschultz/hwinarion/internal/telemetry"
	"github.com/lipschultz/hwinarion/internal/transcript"
	"github.com/lipschultz/hwinarion/internal/vad"
)

// main only translates run's outcome into a process exit code, so the defers
// inside run release the engine model and the device handle on every path.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	wavPath := flag.String("wav", "", "recognize a WAV file instead of the microphone")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if *listDevices {
		devices, err := audio.ListDevices()
		if err != nil {
			slog.Error("device enumeration failed", "error", err)
			return 1
		}
		for i, d := range devices {
			logger.Info("capture device", "index", i, "name", d)
		}
		return 0
	}

	metrics, metricsHandler, metricsShutdown, err := telemetry.Setup("hwinarion", logger)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		return 1
	}

	rec, err := engines.Open(cfg.Engine.Name, engines.Settings{
		ModelPath:  cfg.Engine.ModelPath,
		Command:    cfg.Engine.Command,
		SampleRate: cfg.Engine.SampleRate,
		Language:   cfg.Engine.Language,
		Vocabulary: cfg.Engine.Vocabulary,
	})
	if err != nil {
		slog.Error("engine startup failed", "engine", cfg.Engine.Name, "error", err)
		return 1
	}
	defer func() { _ = rec.Close() }()

	src, err := openSource(cfg, *wavPath)
	if err != nil {
		slog.Error("audio source unavailable", "error", err)
		return 1
	}
	defer func() { _ = src.Close() }()

	detector, err := buildDetector(cfg)
	if err != nil {
		slog.Error("vad setup failed", "error", err)
		return 1
	}

	store := transcript.NewStore(cfg.Transcript.MaxEntries, cfg.Transcript.EventBuffer)
	dispatcher := dispatch.New(logger)

	pipe := pipeline.New(src, rec, dispatcher, store, pipeline.Config{
		Detector: detector,
		VAD: vad.Config{
			MinSpeech:       cfg.MinSpeech(),
			TrailingSilence: cfg.TrailingSilence(),
			MaxUtterance:    cfg.MaxUtterance(),
		},
		QueueCapacity:   cfg.Audio.QueueCapacity,
		FinalizeTimeout: cfg.FinalizeTimeout(),
		Logger:          logger,
		Metrics:         metrics,
	})

	srv := server.New(pipe, store, metricsHandler, cfg.Engine.Name, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeDone := make(chan error, 1)
	go func() { pipeDone <- pipe.Run(ctx) }()

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("hwinarion starting", "http", cfg.HTTPAddr, "engine", cfg.Engine.Name)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		slog.Info("shutting down...")
		cancel()
		<-pipeDone
	case err := <-pipeDone:
		// Finite WAV input ends cleanly; a device failure does not.
		if err != nil && ctx.Err() == nil {
			slog.Error("pipeline stopped", "code", string(apperr.CodeOf(err)), "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := metricsShutdown(shutdownCtx); err != nil {
		slog.Error("metrics shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return exitCode
}

func openSource(cfg *config.Config, wavPath string) (audio.Source, error) {
	if wavPath != "" {
		return audio.OpenFile(wavPath, cfg.Audio.FramesPerBuffer)
	}
	format := audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   16,
	}
	// Microphones can be slow to enumerate right after boot or replug.
	var src audio.Source
	err := resilience.Retry(context.Background(), resilience.StartupRetryConfig(), func() error {
		var err error
		src, err = audio.OpenMicrophone(cfg.Audio.Device, format, cfg.Audio.FramesPerBuffer)
		return err
	})
	return src, err
}

func buildDetector(cfg *config.Config) (vad.Detector, error) {
	switch cfg.VAD.Detector {
	case "webrtc":
		return vad.NewWebRTCDetector(cfg.Audio.SampleRate, cfg.VAD.WebRTCMode)
	default:
		return vad.NewEnergyDetector(cfg.VAD.EnergyThreshold), nil
	}
}
