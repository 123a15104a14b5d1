// Command tranlaterd runs the streaming recognition/translation engine as a
// daemon: raw PCM on stdin, synchronized caption events on stdout or NATS,
// Prometheus metrics on a local listener.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/qfzcxdl/tranlater/internal/audio"
	"github.com/qfzcxdl/tranlater/internal/bootstrap"
	"github.com/qfzcxdl/tranlater/internal/config"
	"github.com/qfzcxdl/tranlater/internal/domain"
	"github.com/qfzcxdl/tranlater/internal/ports"
	"github.com/qfzcxdl/tranlater/internal/sinks/natsink"
	"github.com/qfzcxdl/tranlater/internal/usecase"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("tranlaterd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink ports.EventSink
	if cfg.Bus.Enabled {
		busSink, err := natsink.Connect(cfg.Bus, logger)
		if err != nil {
			return err
		}
		defer busSink.Close()
		sink = busSink
	} else {
		sink = newStdoutSink(os.Stdout)
	}

	services, err := bootstrap.Build(cfg, sink, logger)
	if err != nil {
		return err
	}
	controller := services.Controller
	defer controller.Stop()

	if err := controller.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveMetrics(ctx, cfg.Metrics.Bind, services, logger)
	})
	g.Go(func() error {
		return pumpAudio(ctx, controller, cfg, logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpAudio feeds the engine from the configured source: stdin by default,
// or a local ffmpeg capture when the daemon owns the microphone.
func pumpAudio(ctx context.Context, controller *usecase.RecognitionController, cfg config.Config, logger *slog.Logger) error {
	if cfg.Audio.Source == "ffmpeg" {
		capture := audio.NewFFmpegCapture(cfg.Audio.FFmpegCommand)
		session, err := capture.Start(ctx, ports.CaptureConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Stop(); err != nil {
				logger.Warn("audio capture stop", slog.Any("error", err))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = session.Stop()
		}()
		logger.Info("capturing audio via ffmpeg",
			slog.String("format", cfg.Audio.InputFormat), slog.String("device", cfg.Audio.InputDevice))
		return pumpReader(ctx, controller, session, cfg.Audio.ChunkSize)
	}
	return pumpReader(ctx, controller, os.Stdin, cfg.Audio.ChunkSize)
}

func pumpReader(ctx context.Context, controller *usecase.RecognitionController, r io.Reader, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := r.Read(buf)
		if n > 0 {
			controller.WriteAudio(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				<-ctx.Done()
				return ctx.Err()
			}
			return err
		}
	}
}

func serveMetrics(ctx context.Context, bind string, services bootstrap.Services, logger *slog.Logger) error {
	if bind == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(services.Controller.Status())
	})

	server := &http.Server{Addr: bind, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", slog.String("bind", bind))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func logLevel() slog.Level {
	switch os.Getenv("TRANLATER_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// stdoutSink writes engine events as JSON lines, one object per event.
type stdoutSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStdoutSink(w io.Writer) *stdoutSink {
	return &stdoutSink{enc: json.NewEncoder(w)}
}

type eventLine struct {
	Event  string                     `json:"event"`
	Result *domain.SynchronizedResult `json:"result,omitempty"`
	State  domain.SessionState        `json:"state,omitempty"`
	Reason domain.SessionStateReason  `json:"reason,omitempty"`
	Error  *domain.EngineError        `json:"error,omitempty"`
}

func (s *stdoutSink) Result(result domain.SynchronizedResult) {
	s.write(eventLine{Event: string(result.Kind), Result: &result})
}

func (s *stdoutSink) StateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.write(eventLine{Event: "state", State: state, Reason: reason})
}

func (s *stdoutSink) EngineError(err domain.EngineError) {
	s.write(eventLine{Event: "error", Error: &err})
}

func (s *stdoutSink) write(line eventLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(line)
}
