package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qfzcxdl/tranlater/internal/domain"
)

func writeRules(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corrections.rules")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func TestEngineLiteralAndRegexRules(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
# literal
pull request => PR
# regex, global, case-insensitive by default
s/\bweb\s*socket\b/WebSocket/g
`)

	engine, err := NewEngine(path, 30)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if got := engine.Apply("web socket pull request"); got != "WebSocket PR" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestEngineIteratesUntilStable(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "a => b\nb => c\n")
	engine, err := NewEngine(path, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if got := engine.Apply("a"); got != "c" {
		t.Fatalf("expected c, got %q", got)
	}
}

func TestEngineLiteralRuleStartingWithS(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "solid complaint => SOLID-compliant\n")
	engine, err := NewEngine(path, 30)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if got := engine.Apply("solid complaint plan"); got != "SOLID-compliant plan" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestEngineMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(filepath.Join(t.TempDir(), "absent.rules"), 30)
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if !engine.Empty() {
		t.Fatalf("expected empty engine")
	}
	if got := engine.Apply("untouched"); got != "untouched" {
		t.Fatalf("empty engine must be identity, got %q", got)
	}
}

func TestEngineMalformedFile(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "not-a-rule\n")
	if _, err := NewEngine(path, 30); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRegexRuleWithoutGlobalReplacesFirstMatchOnly(t *testing.T) {
	t.Parallel()

	rule, err := parseRegexRule(`s/foo/bar/`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	output, changed := rule.apply("foo foo")
	if !changed {
		t.Fatalf("expected changed=true")
	}
	if output != "bar foo" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestParseRegexRuleUnsupportedFlag(t *testing.T) {
	t.Parallel()

	if _, err := parseRegexRule(`s/foo/bar/x`); err == nil {
		t.Fatalf("expected unsupported flag error")
	}
}

type captureSink struct {
	results []domain.SynchronizedResult
}

func (c *captureSink) Result(result domain.SynchronizedResult) {
	c.results = append(c.results, result)
}

func (c *captureSink) StateChanged(domain.SessionState, domain.SessionStateReason) {}

func (c *captureSink) EngineError(domain.EngineError) {}

func TestSinkCorrectsFinalsOnly(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "jeep ut => GPT\n")
	engine, err := NewEngine(path, 30)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	next := &captureSink{}
	sink := WrapSink(next, engine)

	sink.Result(domain.SynchronizedResult{Original: "ask jeep ut", Kind: domain.ResultKindInterim})
	sink.Result(domain.SynchronizedResult{
		Original:   "ask jeep ut",
		Translated: "pregunta a jeep ut",
		Kind:       domain.ResultKindFinal,
		IsFinal:    true,
	})

	if next.results[0].Original != "ask jeep ut" {
		t.Fatalf("interim must pass through untouched, got %q", next.results[0].Original)
	}
	if next.results[1].Original != "ask GPT" || next.results[1].Translated != "pregunta a GPT" {
		t.Fatalf("final must be corrected, got %+v", next.results[1])
	}
}

func TestWrapSinkWithEmptyEngineReturnsNext(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine("", 30)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	next := &captureSink{}
	if got := WrapSink(next, engine); got != next {
		t.Fatalf("expected the undecorated sink back")
	}
	if got := WrapSink(next, nil); got != next {
		t.Fatalf("expected the undecorated sink back for nil engine")
	}
}
