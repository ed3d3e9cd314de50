// Package session orchestrates one transcription session end to end: audio
// fan-out, utterance collection, alignment, arbitration, annotation, and
// ordered emission of consolidated events.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stt-consolidation-service/internal/engine"
	"stt-consolidation-service/internal/llm"
	"stt-consolidation-service/internal/models"
	"stt-consolidation-service/internal/observability/logging"
	"stt-consolidation-service/internal/observability/metrics"
	"stt-consolidation-service/internal/service/align"
	"stt-consolidation-service/internal/service/annotate"
	"stt-consolidation-service/internal/service/arbitrate"
	"stt-consolidation-service/internal/service/distribute"
	"stt-consolidation-service/internal/speaker"
)

// ErrSessionClosed is returned by PushAudio after the session ended.
var ErrSessionClosed = errors.New("session closed")

// ErrOutOfOrderAudio is returned when a chunk's client timestamp does not
// advance. The feed is broken at that point; the session is terminated.
var ErrOutOfOrderAudio = errors.New("audio chunk out of order")

// Config tunes one session.
type Config struct {
	ContextWindow int
	IdleTimeout   time.Duration
	Margin        float64
	Distribute    distribute.Config
}

// Session owns one live transcription. Audio goes in through PushAudio;
// consolidated utterance, raw transcript, and error events come out through
// the sink, utterance events strictly in sequence order.
type Session struct {
	ID      string
	cfg     Config
	pool    *engine.Pool
	dist    *distribute.Distributor
	arb     *arbitrate.Arbiter
	sctx    *Context
	det     speaker.Detector
	sink    Sink
	logger  zerolog.Logger
	m       *metrics.Metrics
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	lastClientTS atomic.Int64
	lastAudio    atomic.Int64
	fatal        atomic.Bool

	order    *reorder
	judging  sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	rawCh chan engine.Result
}

// New assembles a session over an already-started engine pool. A nil model
// disables the judgment path for this session.
func New(id string, cfg Config, pool *engine.Pool, model llm.Client, det speaker.Detector, sink Sink, m *metrics.Metrics) *Session {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if det == nil {
		det = speaker.Noop{}
	}
	logger := logging.WithSession(id)
	s := &Session{
		ID:      id,
		cfg:     cfg,
		pool:    pool,
		arb:     arbitrate.New(arbitrate.Config{Margin: cfg.Margin}, model, logger),
		sctx:    NewContext(cfg.ContextWindow),
		det:     det,
		sink:    sink,
		logger:  logger,
		m:       m,
		started: time.Now(),
		order:   newReorder(),
		done:    make(chan struct{}),
		rawCh:   make(chan engine.Result, 64),
	}
	s.lastClientTS.Store(-1)
	s.dist = distribute.New(pool, cfg.Distribute, s.forwardRaw, logger, m)
	return s
}

// Start opens the engine streams and launches the consolidation loop.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastAudio.Store(time.Now().UnixNano())
	if err := s.dist.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}
	go s.run()
	go s.rawLoop()
	return nil
}

// Done is closed when the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// PushAudio feeds one PCM chunk into the session. clientTS is the client's
// capture timestamp and must strictly increase; a regression is a broken
// feed and terminates the session with a fatal error event.
func (s *Session) PushAudio(chunk []byte, clientTS int64) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	prev := s.lastClientTS.Load()
	if prev >= 0 && clientTS <= prev {
		s.failFatal("ingest", ErrOutOfOrderAudio.Error())
		return ErrOutOfOrderAudio
	}
	s.lastClientTS.Store(clientTS)
	s.lastAudio.Store(time.Now().UnixNano())
	if s.m != nil {
		s.m.RecordAudioReceived(len(chunk))
	}
	if err := s.dist.SendChunk(s.ctx, chunk); err != nil {
		if errors.Is(err, distribute.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// EndUtterance signals an explicit utterance boundary from the client.
func (s *Session) EndUtterance() {
	s.dist.EndUtterance()
}

// Context exposes the session's rolling context, mainly for inspection.
func (s *Session) Context() *Context {
	return s.sctx
}

// Stop cancels all in-flight work and releases the engines. Utterances that
// were mid-arbitration are discarded without emission.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.dist.Close()
		s.order.discard()
		s.judging.Wait()
		s.pool.Close()
		if s.m != nil {
			s.m.RecordSessionEnd(!s.fatal.Load(), time.Since(s.started).Seconds())
		}
		s.logger.Info().Msg("session stopped")
		close(s.done)
	})
}

// run is the per-session consolidation loop. Rule-based stages execute here
// sequentially; only judgment round trips leave the loop, and those are
// serialized in sequence order so every judgment reads a context window that
// includes all preceding utterances.
func (s *Session) run() {
	var idle <-chan time.Time
	var ticker *time.Ticker
	if s.cfg.IdleTimeout > 0 {
		ticker = time.NewTicker(s.cfg.IdleTimeout / 4)
		idle = ticker.C
		defer ticker.Stop()
	}
	for {
		select {
		case <-s.ctx.Done():
			go s.Stop()
			return
		case <-s.dist.Done():
			return
		case set := <-s.dist.Utterances():
			s.consolidate(set)
		case <-idle:
			last := time.Unix(0, s.lastAudio.Load())
			if time.Since(last) >= s.cfg.IdleTimeout {
				s.logger.Info().Msg("idle timeout, ending session")
				go s.Stop()
				return
			}
		}
	}
}

// forwardRaw queues an interim or final engine result for emission. Raw
// events are advisory: when the sink cannot keep up the oldest queued event
// is dropped rather than stalling the engine read loops. Consolidated
// utterance and error events never take this path and are never dropped.
func (s *Session) forwardRaw(res engine.Result) {
	select {
	case s.rawCh <- res:
		return
	default:
	}
	select {
	case <-s.rawCh:
	default:
	}
	select {
	case s.rawCh <- res:
	default:
	}
}

func (s *Session) rawLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case res := <-s.rawCh:
			s.emitRaw(res)
		}
	}
}

func (s *Session) emitRaw(res engine.Result) {
	if s.m != nil {
		if res.Final {
			s.m.RecordFinal(res.EngineID)
		} else {
			s.m.RecordInterim(res.EngineID)
		}
	}
	ev := models.EngineTranscriptEvent{
		EventType:  models.EventTypeRaw,
		SessionID:  s.ID,
		EngineID:   res.EngineID,
		Text:       res.Text,
		Confidence: res.Confidence,
		Final:      res.Final,
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := s.sink.Raw(s.ctx, ev); err != nil {
		s.logger.Warn().Err(err).Msg("raw transcript emission failed")
	}
}

// consolidate turns one closed utterance into an ordered consolidated event.
func (s *Session) consolidate(set distribute.FinalSet) {
	started := time.Now()

	for id, err := range set.Failed {
		if err == nil {
			continue
		}
		s.emitError(models.ErrorEvent{
			EventType: models.EventTypeError,
			SessionID: s.ID,
			Stage:     "engine",
			EngineID:  id,
			Code:      models.CodeEngineError,
			Message:   err.Error(),
			Timestamp: time.Now().UnixMilli(),
		})
	}

	switch len(set.Results) {
	case 0:
		s.order.submit(set.Sequence, func() {
			if s.m != nil {
				s.m.RecordUtteranceFailed()
			}
			s.emitError(models.ErrorEvent{
				EventType: models.EventTypeError,
				SessionID: s.ID,
				Stage:     "consolidation",
				Code:      models.CodeAllEnginesFailed,
				Message:   "no engine produced a final result for this utterance",
				Timestamp: time.Now().UnixMilli(),
			})
		})
		return
	case 1:
		res := set.Results[0]
		s.finish(set.Sequence, singleOutcome(res), res.Text, true, started)
		return
	}

	aligned := align.Align(s.pool.Primary(), set.Results)
	for _, id := range aligned.Dropped {
		s.emitError(models.ErrorEvent{
			EventType: models.EventTypeError,
			SessionID: s.ID,
			Stage:     "alignment",
			EngineID:  id,
			Code:      models.CodeEngineError,
			Message:   "engine produced no alignable words for this utterance",
			Timestamp: time.Now().UnixMilli(),
		})
	}
	switch len(aligned.Engines) {
	case 0:
		// every result tokenized to nothing; treat as total failure
		s.consolidate(distribute.FinalSet{Sequence: set.Sequence, Failed: set.Failed})
		return
	case 1:
		for _, res := range set.Results {
			if res.EngineID == aligned.Engines[0] {
				s.finish(set.Sequence, singleOutcome(res), res.Text, true, started)
				return
			}
		}
	}

	texts := make(map[string]string, len(set.Results))
	for _, res := range set.Results {
		texts[res.EngineID] = res.Text
	}

	out, pending := s.arb.Rules(aligned)
	if pending == nil {
		s.finish(set.Sequence, out, "", false, started)
		return
	}

	s.judging.Add(1)
	go func() {
		defer s.judging.Done()
		// judgments run one at a time in sequence order: the window must
		// already contain every preceding utterance when it is read
		s.order.wait(set.Sequence)
		window := s.sctx.Window()
		t0 := time.Now()
		out := s.arb.Judge(s.ctx, pending, texts, window)
		if s.m != nil {
			outcome := "ok"
			if out.LLMErr != nil {
				outcome = "fallback"
			}
			s.m.RecordLLMCall(outcome, time.Since(t0).Seconds())
		}
		s.finish(set.Sequence, out, "", false, started)
	}()
}

// finish annotates, attributes a speaker, and hands the utterance to the
// reorder buffer. rawText overrides the joined word text on the
// single-source bypass so the event reproduces the engine's output exactly.
func (s *Session) finish(seq uint64, out arbitrate.Outcome, rawText string, singleSource bool, started time.Time) {
	if s.ctx.Err() != nil {
		return
	}

	text := rawText
	if text == "" {
		text = arbitrate.Text(out.Words)
	}

	var sp *string
	if name, ok := s.det.Detect(text); ok {
		s.sctx.NoteSpeaker(name)
		sp = &name
	}

	words := make([]models.WordDetail, len(out.Words))
	var confSum float64
	for i, w := range out.Words {
		srcs := make(map[string]models.EngineWord, len(w.Sources))
		for id, src := range w.Sources {
			srcs[id] = models.EngineWord{Text: src.Text, Confidence: src.Confidence}
		}
		words[i] = models.WordDetail{
			Text:            w.Text,
			ConfidenceClass: w.Class.String(),
			Sources:         srcs,
			Reason:          w.Reason,
		}
		confSum += w.Confidence
		if s.m != nil && !w.Agree && w.Reason != "" {
			label := reasonLabel(w.Reason)
			s.m.RecordDisagreement(label)
			if label != "llm" {
				s.m.RecordLLMFallback(label)
			}
		}
	}
	var confidence float64
	if len(out.Words) > 0 {
		confidence = confSum / float64(len(out.Words))
	}

	ev := models.UtteranceEvent{
		EventType:     models.EventTypeUtterance,
		SessionID:     s.ID,
		Sequence:      seq,
		Text:          text,
		Words:         words,
		Speaker:       sp,
		Confidence:    confidence,
		Disagreements: out.Disagreements,
		SingleSource:  singleSource,
		Timestamp:     time.Now().UnixMilli(),
	}

	s.order.submit(seq, func() {
		if s.ctx.Err() != nil {
			return
		}
		if out.LLMErr != nil {
			s.emitError(models.ErrorEvent{
				EventType: models.EventTypeError,
				SessionID: s.ID,
				Stage:     "llm",
				Code:      models.CodeLLMError,
				Message:   out.LLMErr.Error(),
				Timestamp: time.Now().UnixMilli(),
			})
		}
		if err := s.sink.Utterance(s.ctx, ev); err != nil {
			s.logger.Error().Err(err).Uint64("sequence", seq).Msg("utterance emission failed")
		}
		s.sctx.Append(text)
		if s.m != nil {
			s.m.RecordUtterance(singleSource, time.Since(started).Seconds())
		}
	})
}

func (s *Session) emitError(ev models.ErrorEvent) {
	if err := s.sink.Error(s.ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("code", ev.Code).Msg("error event emission failed")
	}
}

// failFatal emits a terminal error event and tears the session down.
func (s *Session) failFatal(stage, msg string) {
	if !s.fatal.CompareAndSwap(false, true) {
		return
	}
	s.logger.Error().Str("stage", stage).Msg(msg)
	s.emitError(models.ErrorEvent{
		EventType: models.EventTypeError,
		SessionID: s.ID,
		Stage:     stage,
		Code:      models.CodeSessionFatal,
		Message:   msg,
		Fatal:     true,
		Timestamp: time.Now().UnixMilli(),
	})
	go s.Stop()
}

// singleOutcome wraps one engine's final result as an already-arbitrated
// utterance with the single-source penalty applied per word.
func singleOutcome(res engine.Result) arbitrate.Outcome {
	var out arbitrate.Outcome
	mk := func(text string, conf float64) arbitrate.Resolved {
		return arbitrate.Resolved{
			Text:         text,
			Confidence:   conf,
			SingleSource: true,
			Class:        annotate.Classify(false, conf),
			Sources: map[string]arbitrate.Source{
				res.EngineID: {Text: text, Confidence: conf},
			},
		}
	}
	if len(res.Words) > 0 {
		for _, w := range res.Words {
			out.Words = append(out.Words, mk(w.Text, w.Confidence))
		}
		return out
	}
	for _, t := range strings.Fields(res.Text) {
		out.Words = append(out.Words, mk(t, res.Confidence))
	}
	return out
}

// reasonLabel collapses model-chosen reasons into one metric label.
func reasonLabel(reason string) string {
	if strings.HasPrefix(reason, "llm: ") {
		return "llm"
	}
	return reason
}
