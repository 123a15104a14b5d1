package bootstrap

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qfzcxdl/tranlater/internal/config"
	"github.com/qfzcxdl/tranlater/internal/metrics"
	"github.com/qfzcxdl/tranlater/internal/ports"
	"github.com/qfzcxdl/tranlater/internal/providers/speechws"
	"github.com/qfzcxdl/tranlater/internal/rules"
	"github.com/qfzcxdl/tranlater/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.RecognitionController
	Registry   *prometheus.Registry
	Config     config.Config
}

// Build wires the engine for the given configuration and event sink. Caption
// correction rules, when configured, decorate the sink before it reaches the
// controller.
func Build(cfg config.Config, sink ports.EventSink, log *slog.Logger) (Services, error) {
	if log == nil {
		log = slog.Default()
	}

	corrections, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.LoopLimit)
	if err != nil {
		return Services{}, err
	}
	sink = rules.WrapSink(sink, corrections)

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.New(registry)

	provider := speechws.NewProvider(speechws.Config{
		APIKey:      cfg.Provider.APIKey,
		APIBaseURL:  cfg.Provider.APIBaseURL,
		Model:       cfg.Provider.Model,
		SmartFormat: cfg.Provider.SmartFormat,
	})

	controller := usecase.NewRecognitionController(
		provider,
		sink,
		log,
		engineMetrics,
		usecase.Config{
			Streaming: ports.StreamConfig{
				SourceLanguage: cfg.Languages.Source,
				TargetLanguage: cfg.Languages.Target,
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       cfg.Audio.Encoding,
				InterimResults: true,
			},
			MaxSessionDuration: cfg.Session.MaxDuration,
			RestartGuard:       cfg.Session.RestartGuard,
			MinRestartInterval: cfg.Session.MinRestartInterval,
			BackoffBase:        cfg.Session.BackoffBase,
			BackoffCap:         cfg.Session.BackoffCap,
			MaxRetries:         cfg.Session.MaxRetries,
			FlushWindow:        cfg.Sync.FlushWindow,
			DedupWindow:        cfg.Sync.DedupWindow,
			OverlapRatio:       cfg.Sync.OverlapRatio,
			MinOverlapLen:      cfg.Sync.MinOverlapLen,
			MaxBufferedChunks:  cfg.Sync.MaxBufferedChunks,
		},
	)

	return Services{Controller: controller, Registry: registry, Config: cfg}, nil
}
