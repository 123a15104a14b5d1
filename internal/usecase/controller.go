package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qfzcxdl/tranlater/internal/domain"
	"github.com/qfzcxdl/tranlater/internal/metrics"
	"github.com/qfzcxdl/tranlater/internal/ports"
)

// Config controls session lifecycle and result synchronization behavior.
// Zero values are replaced with the engine defaults.
type Config struct {
	Streaming ports.StreamConfig

	// Session lifecycle
	MaxSessionDuration time.Duration // provider-enforced ceiling, default 300s
	RestartGuard       time.Duration // restart this long before the ceiling, default 30s
	MinRestartInterval time.Duration // floor between session start and reconnect, default 1s
	BackoffBase        time.Duration // default 500ms
	BackoffCap         time.Duration // default 10s
	MaxRetries         int           // default 5

	// Result synchronization
	FlushWindow   time.Duration // default 80ms
	DedupWindow   time.Duration // default 8s
	OverlapRatio  float64       // default 0.70
	MinOverlapLen int           // default 10

	// Audio ingest
	MaxBufferedChunks int // default 100
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxSessionDuration <= 0 {
		cfg.MaxSessionDuration = 300 * time.Second
	}
	if cfg.RestartGuard <= 0 || cfg.RestartGuard >= cfg.MaxSessionDuration {
		cfg.RestartGuard = 30 * time.Second
		if cfg.RestartGuard >= cfg.MaxSessionDuration {
			cfg.RestartGuard = cfg.MaxSessionDuration / 10
		}
	}
	if cfg.MinRestartInterval <= 0 {
		cfg.MinRestartInterval = time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.FlushWindow <= 0 {
		cfg.FlushWindow = 80 * time.Millisecond
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 8 * time.Second
	}
	if cfg.OverlapRatio <= 0 {
		cfg.OverlapRatio = 0.70
	}
	if cfg.MinOverlapLen <= 0 {
		cfg.MinOverlapLen = 10
	}
	if cfg.MaxBufferedChunks <= 0 {
		cfg.MaxBufferedChunks = 100
	}
	return cfg
}

// RecognitionController owns the session lifecycle: creation, proactive
// restart before the provider's duration ceiling, error-triggered restart
// with backoff, and clean shutdown. It is the sole owner of the current
// session reference.
type RecognitionController struct {
	provider ports.RecognitionProvider
	events   ports.EventSink
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	cfg          Config
	running      bool
	state        domain.SessionState
	current      *recognitionSession
	retryCount   int
	runCtx       context.Context
	runCancel    context.CancelFunc
	restartTimer *time.Timer
	retryTimer   *time.Timer

	buffer  *audioIngestBuffer
	dedup   *finalDeduplicator
	results *resultSynchronizer
}

func NewRecognitionController(
	provider ports.RecognitionProvider,
	events ports.EventSink,
	log *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
) *RecognitionController {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	cfg = normalizeConfig(cfg)

	c := &RecognitionController{
		provider: provider,
		events:   events,
		log:      log,
		metrics:  m,
		cfg:      cfg,
		state:    domain.SessionStateIdle,
		buffer:   newAudioIngestBuffer(cfg.MaxBufferedChunks),
	}
	c.rebuildPipelineLocked(cfg)
	return c
}

// Start begins session creation asynchronously. It is idempotent while the
// engine is already running.
func (c *RecognitionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.runCtx = runCtx
	c.runCancel = cancel
	c.retryCount = 0
	c.state = domain.SessionStateStarting
	c.mu.Unlock()

	c.events.StateChanged(domain.SessionStateStarting, domain.SessionReasonStarted)
	go c.openSession(domain.SessionReasonActive)
	return nil
}

// Stop cancels every pending timer, destroys open stream handles exactly
// once, clears buffered audio and dedup state. Safe from any state.
func (c *RecognitionController) Stop() {
	c.mu.Lock()
	wasActive := c.running || c.state == domain.SessionStateFailed
	c.running = false
	session := c.current
	c.current = nil
	cancel := c.runCancel
	c.runCancel = nil
	c.stopTimersLocked()
	c.state = domain.SessionStateClosed
	c.retryCount = 0
	results := c.results
	dedup := c.dedup
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.teardown()
		session.waitConsumers()
	}
	c.buffer.Clear()
	results.Reset()
	dedup.Reset()
	c.metrics.ActiveSessions.Set(0)
	c.metrics.BufferedChunks.Set(0)

	if wasActive {
		c.events.StateChanged(domain.SessionStateClosed, domain.SessionReasonStopped)
	}
}

// UpdateConfig stores the new configuration and, when running, restarts the
// session with it in place.
func (c *RecognitionController) UpdateConfig(cfg Config) {
	cfg = normalizeConfig(cfg)

	c.mu.Lock()
	c.cfg = cfg
	running := c.running
	session := c.current
	c.current = nil
	c.stopTimersLocked()
	c.rebuildPipelineLocked(cfg)
	if running {
		c.state = domain.SessionStateRestarting
	}
	c.mu.Unlock()

	if session != nil {
		session.teardown()
		session.waitConsumers()
	}
	if running {
		c.events.StateChanged(domain.SessionStateRestarting, domain.SessionReasonConfigUpdated)
		go c.openSession(domain.SessionReasonConfigUpdated)
	}
}

// SetLanguages switches the source and target languages, restarting the
// session when one is live. An empty target disables translation.
func (c *RecognitionController) SetLanguages(source, target string) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	cfg.Streaming.SourceLanguage = source
	cfg.Streaming.TargetLanguage = target
	c.UpdateConfig(cfg)
}

// WriteAudio forwards audio to the live primary stream, or enqueues it when
// no stream is writable. It never raises an error to the caller: failed
// writes are redirected to the ingest buffer and replayed on reconnect.
func (c *RecognitionController) WriteAudio(data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	session := c.current
	c.mu.Unlock()

	if session == nil {
		c.bufferChunk(data)
		return
	}
	if err := session.primary.SendAudio(data); err != nil {
		c.bufferChunk(data)
	}
}

// OnSpeechActivityEnd force-finalizes pending unfinalized fragments instead
// of waiting for the provider's own final event.
func (c *RecognitionController) OnSpeechActivityEnd() {
	c.synchronizer().ForceFinalize()
}

// Status returns the current engine status.
func (c *RecognitionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{State: c.state, Active: c.state == domain.SessionStateActive}
}

func (c *RecognitionController) openSession(reason domain.SessionStateReason) {
	c.mu.Lock()
	if !c.running || c.current != nil {
		c.mu.Unlock()
		return
	}
	runCtx := c.runCtx
	cfg := c.cfg
	c.mu.Unlock()

	if runCtx == nil || runCtx.Err() != nil {
		return
	}

	sessionCtx, sessionCancel := context.WithCancel(runCtx)

	primaryCfg := cfg.Streaming
	primaryCfg.TargetLanguage = ""
	primary, err := c.provider.OpenStream(sessionCtx, primaryCfg)
	if err != nil {
		sessionCancel()
		c.handleOpenFailure(err)
		return
	}

	var secondary ports.RecognitionStream
	if cfg.Streaming.TargetLanguage != "" {
		secondary, err = c.provider.OpenStream(sessionCtx, cfg.Streaming)
		if err != nil {
			// Translation is best effort: continue on the primary channel alone.
			c.log.Warn("translation stream unavailable, continuing degraded",
				slog.String("target", cfg.Streaming.TargetLanguage), slog.Any("error", err))
			c.events.EngineError(domain.EngineError{
				Code:        domain.ErrorCodeTranslation,
				Message:     err.Error(),
				Recoverable: true,
			})
			secondary = nil
		}
	}

	session := newRecognitionSession(sessionCancel, primary, secondary)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		session.teardown()
		return
	}
	c.current = session
	c.state = domain.SessionStateActive
	// Buffered audio replays before any newly arriving live audio; WriteAudio
	// keeps buffering until the lock is released, preserving strict ordering.
	if _, err := c.buffer.DrainInto(primary); err != nil {
		c.log.Warn("audio replay interrupted", slog.Any("error", err))
	}
	c.restartTimer = time.AfterFunc(cfg.MaxSessionDuration-cfg.RestartGuard, func() {
		c.proactiveRestart(session)
	})
	c.mu.Unlock()

	c.metrics.SessionsStarted.Inc()
	c.metrics.ActiveSessions.Set(1)
	c.metrics.BufferedChunks.Set(float64(c.buffer.Len()))
	c.log.Info("recognition session active",
		slog.String("session", session.id),
		slog.String("source", cfg.Streaming.SourceLanguage),
		slog.String("target", cfg.Streaming.TargetLanguage),
		slog.Bool("translation", secondary != nil))
	c.events.StateChanged(domain.SessionStateActive, reason)

	go c.consumeStream(session, primary, domain.ChannelPrimary, session.primaryDone)
	if secondary != nil {
		go c.consumeStream(session, secondary, domain.ChannelSecondary, session.secondaryDone)
	}
}

func (c *RecognitionController) consumeStream(
	session *recognitionSession,
	stream ports.RecognitionStream,
	channel domain.Channel,
	done chan struct{},
) {
	for event := range stream.Events() {
		if !c.isCurrent(session) {
			// Stale handle after a restart boundary; never corrupt the new session.
			continue
		}
		switch event.Kind {
		case domain.StreamEventSpeechEnd:
			if channel == domain.ChannelPrimary {
				c.synchronizer().ForceFinalize()
			}
		case domain.StreamEventFragment:
			fragment := event.Fragment
			fragment.Channel = channel
			c.metrics.FragmentsReceived.WithLabelValues(string(channel)).Inc()
			c.noteProgress(session)
			c.synchronizer().OnFragment(fragment)
		}
	}

	err := stream.Wait()
	close(done)

	if channel == domain.ChannelSecondary {
		c.handleSecondaryEnd(session, err)
		return
	}
	c.handlePrimaryEnd(session, err)
}

// handleSecondaryEnd absorbs translation stream failures: the engine keeps
// captioning on the primary channel and never spends retry budget on them.
func (c *RecognitionController) handleSecondaryEnd(session *recognitionSession, err error) {
	if err == nil || !c.isCurrent(session) {
		return
	}
	c.log.Warn("translation stream ended, continuing degraded",
		slog.String("session", session.id), slog.Any("error", err))
	if secondary := session.dropSecondary(); secondary != nil {
		_ = secondary.Close()
	}
	c.events.EngineError(domain.EngineError{
		Code:        domain.ErrorCodeTranslation,
		Message:     err.Error(),
		Recoverable: true,
	})
}

func (c *RecognitionController) handlePrimaryEnd(session *recognitionSession, err error) {
	c.mu.Lock()
	if !c.running || c.current != session {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.stopTimersLocked()
	elapsed := time.Since(session.startedAt)
	c.mu.Unlock()

	c.metrics.ActiveSessions.Set(0)
	session.teardown()
	c.scheduleReconnect(elapsed, err)
}

func (c *RecognitionController) handleOpenFailure(err error) {
	if errors.Is(err, ports.ErrNotConfigured) {
		c.fail(domain.ErrorCodeConfiguration, err)
		return
	}
	c.scheduleReconnect(0, err)
}

// scheduleReconnect applies exponential backoff to stream errors and the
// minimum-restart-interval floor to plain stream ends, then arms the retry
// timer. Exhausting the retry budget is terminal until an explicit Start.
func (c *RecognitionController) scheduleReconnect(elapsed time.Duration, streamErr error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}

	var delay time.Duration
	reason := domain.SessionReasonStreamEnded
	attempt := 0
	if streamErr != nil {
		c.retryCount++
		attempt = c.retryCount
		if attempt > c.cfg.MaxRetries {
			c.mu.Unlock()
			c.fail(domain.ErrorCodeRetryBudget, streamErr)
			return
		}
		delay = backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffCap, attempt)
		reason = domain.SessionReasonRetryScheduled
	} else if elapsed < c.cfg.MinRestartInterval {
		// Prevents restart storms on sessions that fail near-instantly.
		delay = c.cfg.MinRestartInterval - elapsed
	}

	c.state = domain.SessionStateRestarting
	c.retryTimer = time.AfterFunc(delay, func() { c.openSession(reason) })
	c.mu.Unlock()

	c.metrics.RestartsScheduled.Inc()
	if streamErr != nil {
		c.log.Warn("stream failed, reconnect scheduled",
			slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", streamErr))
	}
	c.events.StateChanged(domain.SessionStateRestarting, reason)
}

// fail transitions to the terminal Failed state and surfaces a fatal error.
func (c *RecognitionController) fail(code domain.ErrorCode, err error) {
	c.mu.Lock()
	c.running = false
	c.state = domain.SessionStateFailed
	session := c.current
	c.current = nil
	cancel := c.runCancel
	c.stopTimersLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.teardown()
	}
	c.metrics.FatalErrors.Inc()
	c.metrics.ActiveSessions.Set(0)
	c.log.Error("recognition engine failed", slog.String("code", string(code)), slog.Any("error", err))
	c.events.EngineError(domain.EngineError{Code: code, Message: err.Error(), Recoverable: false})
	c.events.StateChanged(domain.SessionStateFailed, domain.SessionReasonRetriesExhausted)
}

// proactiveRestart recycles the session before the provider's duration
// ceiling so the restart happens on the controller's terms, never mid-flight.
// Dedup state and buffered audio survive.
func (c *RecognitionController) proactiveRestart(session *recognitionSession) {
	c.mu.Lock()
	if !c.running || c.current != session {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.restartTimer = nil
	c.state = domain.SessionStateRestarting
	c.mu.Unlock()

	c.metrics.ProactiveRestarts.Inc()
	c.metrics.ActiveSessions.Set(0)
	c.log.Info("proactive session restart", slog.String("session", session.id))
	c.events.StateChanged(domain.SessionStateRestarting, domain.SessionReasonProactiveRestart)

	session.teardown()
	session.waitConsumers()
	c.openSession(domain.SessionReasonProactiveRestart)
}

func (c *RecognitionController) bufferChunk(data []byte) {
	if dropped := c.buffer.Push(data); dropped > 0 {
		c.metrics.BufferDroppedChunks.Add(float64(dropped))
	}
	c.metrics.BufferedChunks.Set(float64(c.buffer.Len()))
}

// noteProgress resets the retry budget once a session proves itself by
// delivering a result.
func (c *RecognitionController) noteProgress(session *recognitionSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == session {
		c.retryCount = 0
	}
}

func (c *RecognitionController) isCurrent(session *recognitionSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == session
}

func (c *RecognitionController) synchronizer() *resultSynchronizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

func (c *RecognitionController) stopTimersLocked() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *RecognitionController) rebuildPipelineLocked(cfg Config) {
	c.dedup = newFinalDeduplicator(cfg.DedupWindow, cfg.OverlapRatio, cfg.MinOverlapLen)
	c.results = newResultSynchronizer(
		cfg.FlushWindow,
		cfg.Streaming.SourceLanguage,
		cfg.Streaming.TargetLanguage,
		c.dedup,
		c.emitResult,
		c.metrics.DedupDropped.Inc,
	)
}

func (c *RecognitionController) emitResult(result domain.SynchronizedResult) {
	c.metrics.ResultsEmitted.WithLabelValues(string(result.Kind)).Inc()
	c.events.Result(result)
}

func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << (attempt - 1)
	if delay <= 0 || delay > limit {
		return limit
	}
	return delay
}
