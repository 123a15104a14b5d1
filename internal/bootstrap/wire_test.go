package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qfzcxdl/tranlater/internal/config"
	"github.com/qfzcxdl/tranlater/internal/domain"
)

type noopSink struct{}

func (noopSink) Result(domain.SynchronizedResult)                            {}
func (noopSink) StateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopSink) EngineError(domain.EngineError)                              {}

func TestBuildAssemblesServices(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	services, err := Build(cfg, noopSink{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Controller == nil {
		t.Fatalf("expected controller")
	}
	if services.Registry == nil {
		t.Fatalf("expected metrics registry")
	}
	if status := services.Controller.Status(); status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle engine, got %+v", status)
	}

	families, err := services.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "tranlater_sessions_started_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected engine metrics to be registered")
	}
}

func TestBuildRejectsMalformedRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.rules")
	if err := os.WriteFile(path, []byte("not-a-rule\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Rules.Path = path

	if _, err := Build(cfg, noopSink{}, nil); err == nil {
		t.Fatalf("expected rules parse error")
	}
}
