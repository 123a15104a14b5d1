// Package speechws implements the recognition provider port over the
// provider's websocket streaming API. A translation stream is the same listen
// endpoint with a translate parameter; the service then returns text already
// rendered in the target language.
package speechws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/qfzcxdl/tranlater/internal/domain"
	"github.com/qfzcxdl/tranlater/internal/ports"
)

// Config controls provider websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

// Provider implements ports.RecognitionProvider.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.speech.example.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "general"
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) OpenStream(ctx context.Context, cfg ports.StreamConfig) (ports.RecognitionStream, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing API key: %w", ports.ErrNotConfigured)
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to provider websocket: %w", err)
	}

	stream := &recognitionStream{
		conn:   conn,
		events: make(chan domain.StreamEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	stream.wg.Add(2)
	go stream.readLoop()
	go stream.writeLoop()
	go func() {
		stream.wg.Wait()
		close(stream.events)
		close(stream.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = stream.Close()
	}()

	return stream, nil
}

type recognitionStream struct {
	conn *websocket.Conn

	events chan domain.StreamEvent
	audio  chan []byte
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *recognitionStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	closed := s.sendClosed
	s.sendMu.RUnlock()
	if closed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("stream closed")
	}
}

func (s *recognitionStream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *recognitionStream) Events() <-chan domain.StreamEvent {
	return s.events
}

func (s *recognitionStream) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *recognitionStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *recognitionStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *recognitionStream) setErr(err error) {
	if err == nil {
		return
	}
	// readLoop wraps read errors with %w, so unwrap before matching the
	// close codes; IsCloseError alone only matches a bare *CloseError.
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && websocket.IsCloseError(closeErr,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *recognitionStream) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
			}
			return
		}
	}

	// ErrCloseSent means the peer already closed; nothing left to announce.
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *recognitionStream) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "provider returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		if strings.EqualFold(response.Type, "UtteranceEnd") || response.SpeechFinal {
			s.emit(domain.StreamEvent{Kind: domain.StreamEventSpeechEnd})
			if strings.EqualFold(response.Type, "UtteranceEnd") {
				continue
			}
		}

		transcript, confidence := extractTranscript(response)
		if transcript == "" {
			continue
		}

		s.emit(domain.StreamEvent{
			Kind: domain.StreamEventFragment,
			Fragment: domain.TranscriptFragment{
				Text:       transcript,
				IsFinal:    response.IsFinal || response.SpeechFinal,
				Confidence: confidence,
			},
		})
	}
}

func (s *recognitionStream) emit(event domain.StreamEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

type listenAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []listenAlternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []listenAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response listenResponse) (string, float64) {
	if len(response.Channel.Alternatives) > 0 {
		alt := response.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			return text, alt.Confidence
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		alt := response.Results.Channels[0].Alternatives[0]
		return strings.TrimSpace(alt.Transcript), alt.Confidence
	}
	return "", 0
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid provider API base URL: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if streamCfg.SourceLanguage != "" {
		query.Set("language", streamCfg.SourceLanguage)
	}
	if streamCfg.TargetLanguage != "" {
		query.Set("translate", streamCfg.TargetLanguage)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
