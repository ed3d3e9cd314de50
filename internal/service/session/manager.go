package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"stt-consolidation-service/internal/engine"
	"stt-consolidation-service/internal/llm"
	"stt-consolidation-service/internal/observability/logging"
	"stt-consolidation-service/internal/observability/metrics"
	"stt-consolidation-service/internal/speaker"
)

// Options select per-session behavior at open time. The engine set and
// consolidation mode are snapshotted here; reconfiguring the service never
// affects sessions already running.
type Options struct {
	// Consolidate turns multi-engine consolidation on. When false the
	// session runs only the primary engine and every utterance takes the
	// single-source path.
	Consolidate bool
	// Language overrides the configured engine language when non-empty.
	Language string
	// Sink, when set, receives the session's events in addition to the
	// manager's base sink. Typically the client connection.
	Sink Sink
}

// Manager opens, tracks, and drains sessions.
type Manager struct {
	cfg     Config
	specs   []engine.Spec
	primary string
	factory engine.Factory
	model   llm.Client
	det     speaker.Detector
	sink    Sink
	m       *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
}

// NewManager creates a session manager over the configured engine set.
func NewManager(cfg Config, specs []engine.Spec, primary string, factory engine.Factory, model llm.Client, det speaker.Detector, sink Sink, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		specs:    specs,
		primary:  primary,
		factory:  factory,
		model:    model,
		det:      det,
		sink:     sink,
		m:        m,
		logger:   logging.WithComponent("session-manager"),
		sessions: map[string]*Session{},
	}
}

// Open creates and starts a new session with a fresh engine pool.
func (mgr *Manager) Open(ctx context.Context, opts Options) (*Session, error) {
	mgr.mu.Lock()
	if mgr.draining {
		mgr.mu.Unlock()
		return nil, fmt.Errorf("service is draining")
	}
	mgr.mu.Unlock()

	specs := mgr.sessionSpecs(opts)
	if len(specs) == 0 {
		return nil, fmt.Errorf("no engines configured")
	}

	id := ulid.Make().String()
	pool, err := engine.NewPool(ctx, specs, mgr.primary, mgr.factory)
	if err != nil {
		return nil, fmt.Errorf("building engine pool: %w", err)
	}

	sink := mgr.sink
	if opts.Sink != nil {
		sink = MultiSink{mgr.sink, opts.Sink}
	}
	s := New(id, mgr.cfg, pool, mgr.model, mgr.det, sink, mgr.m)
	if err := s.Start(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("starting session: %w", err)
	}

	mgr.mu.Lock()
	mgr.sessions[id] = s
	mgr.mu.Unlock()

	if mgr.m != nil {
		mgr.m.RecordSessionStart()
	}
	mgr.logger.Info().Str("sessionId", id).Int("engines", len(specs)).
		Bool("consolidate", opts.Consolidate).Msg("session opened")

	// unregister once the session winds down, however it ends
	go func() {
		<-s.Done()
		mgr.mu.Lock()
		delete(mgr.sessions, id)
		mgr.mu.Unlock()
	}()
	return s, nil
}

// Get returns a live session by id.
func (mgr *Manager) Get(id string) (*Session, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	s, ok := mgr.sessions[id]
	return s, ok
}

// Active returns the number of live sessions.
func (mgr *Manager) Active() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.sessions)
}

// Draining reports whether the manager has stopped accepting sessions.
func (mgr *Manager) Draining() bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.draining
}

// Shutdown stops every live session and refuses new ones.
func (mgr *Manager) Shutdown(ctx context.Context) {
	mgr.mu.Lock()
	mgr.draining = true
	open := make([]*Session, 0, len(mgr.sessions))
	for _, s := range mgr.sessions {
		open = append(open, s)
	}
	mgr.mu.Unlock()

	mgr.logger.Info().Int("sessions", len(open)).Msg("draining sessions")
	for _, s := range open {
		s.Stop()
		select {
		case <-s.Done():
		case <-ctx.Done():
			return
		}
	}
}

// sessionSpecs snapshots the engine set for a new session.
func (mgr *Manager) sessionSpecs(opts Options) []engine.Spec {
	primary := mgr.primary
	if primary == "" && len(mgr.specs) > 0 {
		primary = mgr.specs[0].ID
	}
	var out []engine.Spec
	for _, spec := range mgr.specs {
		if !opts.Consolidate && spec.ID != primary {
			continue
		}
		if opts.Language != "" {
			spec.Options.Language = opts.Language
		}
		out = append(out, spec)
	}
	return out
}
