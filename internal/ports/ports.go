package ports

import (
	"context"
	"errors"
	"io"

	"github.com/qfzcxdl/tranlater/internal/domain"
)

// ErrNotConfigured marks provider errors that no amount of retrying can fix,
// such as missing credentials. The engine surfaces them as fatal.
var ErrNotConfigured = errors.New("provider is not configured")

// StreamConfig describes provider-agnostic streaming settings for one stream.
// A translation stream is requested by setting TargetLanguage; the provider
// then returns text already rendered in the target language.
type StreamConfig struct {
	SourceLanguage string
	TargetLanguage string
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// RecognitionStream is an active provider duplex stream.
type RecognitionStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.StreamEvent
	Wait() error
	Close() error
}

// RecognitionProvider opens streaming recognition or translation streams.
type RecognitionProvider interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (RecognitionStream, error)
}

// EventSink receives everything the engine emits. Consumers subscribe once
// at construction; there is no dynamic listener registration.
type EventSink interface {
	Result(result domain.SynchronizedResult)
	StateChanged(state domain.SessionState, reason domain.SessionStateReason)
	EngineError(err domain.EngineError)
}

// CaptureConfig describes a local audio capture source.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// CaptureSession is a running capture. Read delivers raw PCM; Stop terminates
// the underlying process and is safe to call more than once.
type CaptureSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture starts local capture sessions for deployments that do not feed
// audio over stdin.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}
