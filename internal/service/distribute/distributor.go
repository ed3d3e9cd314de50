// Package distribute fans incoming audio out to every engine of a session in
// parallel and collects per-engine results into utterance-sized batches for
// consolidation.
package distribute

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stt-consolidation-service/internal/engine"
	"stt-consolidation-service/internal/observability/metrics"
)

// ErrClosed is returned by SendChunk after Close.
var ErrClosed = errors.New("distributor closed")

// RawSink receives every interim and final engine result immediately and
// independently of consolidation, at most once per received partial.
type RawSink func(res engine.Result)

// FinalSet is the set of final results closing one utterance. Sequence is
// the utterance order within the session, assigned when the utterance
// closes. Results holds the finals in configured engine order; Failed
// records engines that produced no final for this utterance and why
// (nil error = silent timeout).
type FinalSet struct {
	Sequence uint64
	Results  []engine.Result
	Failed   map[string]error
}

// Config tunes the distributor.
type Config struct {
	// DispatchTimeout bounds a single chunk dispatch to one engine.
	DispatchTimeout time.Duration
	// FinalWait is the grace period for the remaining engines' finals once
	// the first final of an utterance has arrived.
	FinalWait time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DispatchTimeout: 3 * time.Second,
		FinalWait:       2 * time.Second,
	}
}

// Distributor owns the fan-out for one session. SendChunk dispatches to all
// engines concurrently and waits for every dispatch to settle before
// returning: a join barrier, not a race, since consolidation needs all
// available opinions.
type Distributor struct {
	pool   *engine.Pool
	cfg    Config
	raw    RawSink
	logger zerolog.Logger
	m      *metrics.Metrics

	mu      sync.Mutex
	seq     uint64
	pending map[string][]engine.Result // queued finals per engine
	failed  map[string]error           // engines failed for the open utterance
	timer   *time.Timer
	closed  bool

	done       chan struct{}
	utterances chan FinalSet
}

// New creates a distributor over the session's engine pool.
func New(pool *engine.Pool, cfg Config, raw RawSink, logger zerolog.Logger, m *metrics.Metrics) *Distributor {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultConfig().DispatchTimeout
	}
	if cfg.FinalWait <= 0 {
		cfg.FinalWait = DefaultConfig().FinalWait
	}
	return &Distributor{
		pool:       pool,
		cfg:        cfg,
		raw:        raw,
		logger:     logger,
		m:          m,
		pending:    map[string][]engine.Result{},
		failed:     map[string]error{},
		done:       make(chan struct{}),
		utterances: make(chan FinalSet, 8),
	}
}

// Start opens the streaming session on every adapter.
func (d *Distributor) Start(ctx context.Context) error {
	for _, m := range d.pool.Members() {
		cb := &binder{d: d, id: m.ID}
		if err := m.Adapter.Start(ctx, cb); err != nil {
			return err
		}
	}
	return nil
}

// Utterances delivers one FinalSet per closed utterance. Delivery order is
// not guaranteed under backpressure; Sequence is authoritative. Readers
// should also watch Done, which is closed when the distributor shuts down.
func (d *Distributor) Utterances() <-chan FinalSet {
	return d.utterances
}

// Done is closed by Close.
func (d *Distributor) Done() <-chan struct{} {
	return d.done
}

// SendChunk dispatches audio to every engine concurrently with a
// per-dispatch timeout and waits for all dispatches to settle. Engines whose
// dispatch fails are marked failed for the open utterance; the next
// utterance tries them fresh.
func (d *Distributor) SendChunk(ctx context.Context, audio []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range d.pool.Members() {
		wg.Add(1)
		go func(m engine.Member) {
			defer wg.Done()
			start := time.Now()
			dctx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout)
			defer cancel()
			err := m.Adapter.SendAudio(dctx, audio)
			if d.m != nil {
				d.m.RecordDispatch(m.ID, time.Since(start).Seconds())
			}
			if err != nil {
				if dctx.Err() != nil && ctx.Err() == nil {
					err = engine.NewError(m.ID, engine.KindTimeout, err)
				}
				d.markFailed(m.ID, err)
			}
		}(m)
	}
	wg.Wait()
	return nil
}

// EndUtterance force-closes the open utterance after the final grace period,
// collecting whatever finals arrived. Used when the caller signals an
// utterance boundary explicitly.
func (d *Distributor) EndUtterance() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.armTimerLocked()
}

// Close stops the distributor and closes the utterance channel. In-flight
// finals are discarded.
func (d *Distributor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	close(d.done)
}

func (d *Distributor) markFailed(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.logger.Warn().Str("engine", id).Err(err).Msg("engine failed for current utterance")
	d.failed[id] = err
	if d.m != nil {
		d.m.RecordEngineError(id, engine.KindOf(err).String())
	}
	// all engines down with nothing recognized: close the utterance now so
	// the session can report AllEnginesFailed and move on
	if len(d.failed) == d.pool.Size() && d.pendingCountLocked() == 0 {
		d.closeUtteranceLocked()
	}
}

func (d *Distributor) onFinal(res engine.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending[res.EngineID] = append(d.pending[res.EngineID], res)
	delete(d.failed, res.EngineID)

	ready := 0
	for _, m := range d.pool.Members() {
		if len(d.pending[m.ID]) > 0 || d.failed[m.ID] != nil {
			ready++
		}
	}
	if ready == d.pool.Size() {
		d.closeUtteranceLocked()
		return
	}
	d.armTimerLocked()
}

// armTimerLocked starts the final grace timer if not already running.
func (d *Distributor) armTimerLocked() {
	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.cfg.FinalWait, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return
		}
		d.timer = nil
		d.closeUtteranceLocked()
	})
}

func (d *Distributor) pendingCountLocked() int {
	n := 0
	for _, q := range d.pending {
		n += len(q)
	}
	return n
}

// closeUtteranceLocked pops one final per engine that has one and hands the
// set to the consolidation side. Engines without a final are reported in
// Failed; their error is nil when they simply missed the grace period.
func (d *Distributor) closeUtteranceLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	set := FinalSet{Sequence: d.seq, Failed: map[string]error{}}
	d.seq++
	for _, m := range d.pool.Members() {
		if q := d.pending[m.ID]; len(q) > 0 {
			set.Results = append(set.Results, q[0])
			if len(q) == 1 {
				delete(d.pending, m.ID)
			} else {
				d.pending[m.ID] = q[1:]
			}
			continue
		}
		set.Failed[m.ID] = d.failed[m.ID]
	}
	d.failed = map[string]error{}

	select {
	case d.utterances <- set:
	default:
		// consolidation is far behind; block outside the fast path rather
		// than dropping a closed utterance. Overflow sends may interleave,
		// so channel delivery order is not guaranteed. Sequence is the
		// authoritative order and consumers reorder on it.
		go func() {
			select {
			case d.utterances <- set:
			case <-d.done:
			}
		}()
	}

	// engines that ran ahead already opened the next utterance
	if d.pendingCountLocked() > 0 {
		d.armTimerLocked()
	}
}

// binder adapts one engine's callbacks onto the distributor.
type binder struct {
	d  *Distributor
	id string
}

func (b *binder) OnInterim(res engine.Result) {
	if b.d.raw != nil {
		b.d.raw(res)
	}
}

func (b *binder) OnFinal(res engine.Result) {
	if b.d.raw != nil {
		b.d.raw(res)
	}
	b.d.onFinal(res)
}

func (b *binder) OnError(err error) {
	b.d.markFailed(b.id, err)
}
