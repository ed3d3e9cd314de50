// Package kaldi provides an engine adapter for a kaldi gstreamer style
// websocket recognizer. Audio is streamed as binary frames; the backend
// answers with JSON results carrying per-word alignment and confidence.
package kaldi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"stt-consolidation-service/internal/engine"
)

// wordAlignment is one word of a final hypothesis.
type wordAlignment struct {
	Start      float64 `json:"start"`
	Length     float64 `json:"length"`
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

type hypothesis struct {
	Transcript    string          `json:"transcript"`
	Likelihood    float64         `json:"likelihood"`
	WordAlignment []wordAlignment `json:"word-alignment,omitempty"`
}

type result struct {
	Hypotheses []hypothesis `json:"hypotheses"`
	Final      bool         `json:"final"`
}

type backendMsg struct {
	Status       int     `json:"status"`
	SegmentStart float64 `json:"segment-start"`
	Result       result  `json:"result,omitempty"`
	Segment      int     `json:"segment"`
}

// Adapter implements engine.Adapter over a websocket recognizer backend.
type Adapter struct {
	id         string
	backendURL string

	mu   sync.Mutex
	opts engine.Options
	conn *websocket.Conn
	cb   engine.Callback
}

// New creates an adapter for the given backend URL (ws:// or wss://).
func New(id, backendURL string) (*Adapter, error) {
	if _, err := url.Parse(backendURL); err != nil {
		return nil, fmt.Errorf("bad backend url: %w", err)
	}
	return &Adapter{id: id, backendURL: backendURL}, nil
}

// Configure records options passed to the backend on connect.
func (a *Adapter) Configure(opts engine.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts = opts
	return nil
}

// Start dials the backend and spawns the read loop.
func (a *Adapter) Start(ctx context.Context, cb engine.Callback) error {
	a.mu.Lock()
	opts := a.opts
	a.mu.Unlock()

	u := a.backendURL
	q := url.Values{}
	if opts.SampleRateHz > 0 {
		q.Set("content-type", fmt.Sprintf("audio/x-raw,+layout=(string)interleaved,+rate=(int)%d,+format=(string)S16LE,+channels=(int)1", opts.SampleRateHz))
	}
	if len(q) > 0 {
		u = fmt.Sprintf("%s?%s", u, q.Encode())
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return engine.NewError(a.id, engine.KindUnavailable, err)
	}
	a.mu.Lock()
	a.conn = c
	a.cb = cb
	a.mu.Unlock()

	go a.readLoop(ctx, c, cb)
	return nil
}

// SendAudio forwards raw PCM bytes as a binary frame.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return engine.NewError(a.id, engine.KindUnavailable, nil)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return engine.NewError(a.id, engine.KindUnavailable, err)
	}
	return nil
}

// Close sends EOS and closes the backend connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte("EOS"))
	return conn.Close()
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, cb engine.Callback) {
	for {
		mType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) ||
				errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			cb.OnError(engine.NewError(a.id, engine.KindUnavailable, err))
			return
		}
		if mType != websocket.TextMessage {
			continue
		}
		var msg backendMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			cb.OnError(engine.NewError(a.id, engine.KindUnavailable, fmt.Errorf("decode backend message: %w", err)))
			continue
		}
		res, ok := a.convert(&msg)
		if !ok {
			continue
		}
		if res.Final {
			cb.OnFinal(res)
		} else {
			cb.OnInterim(res)
		}
	}
}

func (a *Adapter) convert(msg *backendMsg) (engine.Result, bool) {
	if len(msg.Result.Hypotheses) == 0 {
		return engine.Result{}, false
	}
	hyp := msg.Result.Hypotheses[0]
	res := engine.Result{
		EngineID: a.id,
		Text:     strings.TrimSpace(hyp.Transcript),
		Final:    msg.Result.Final,
	}
	if res.Text == "" {
		return engine.Result{}, false
	}
	var confSum float64
	for _, wa := range hyp.WordAlignment {
		startMs := int64((msg.SegmentStart + wa.Start) * 1000)
		res.Words = append(res.Words, engine.WordResult{
			Text:       wa.Word,
			Confidence: wa.Confidence,
			StartMs:    startMs,
			EndMs:      startMs + int64(wa.Length*1000),
		})
		confSum += wa.Confidence
	}
	if len(res.Words) > 0 {
		res.Confidence = confSum / float64(len(res.Words))
	} else {
		res.Confidence = hyp.Likelihood
		for _, w := range strings.Fields(res.Text) {
			res.Words = append(res.Words, engine.WordResult{Text: w, Confidence: hyp.Likelihood})
		}
	}
	return res, true
}
