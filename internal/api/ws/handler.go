package ws

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stt-consolidation-service/internal/models"
	"stt-consolidation-service/internal/observability/logging"
	"stt-consolidation-service/internal/service/session"
)

// Control events accepted from and sent to the client.
const (
	eventStartSession   = "START_SESSION"
	eventEndUtterance   = "END_UTTERANCE"
	eventStopSession    = "STOP_SESSION"
	eventSessionStarted = "SESSION_STARTED"
	eventSessionStopped = "SESSION_STOPPED"
)

// tsHeaderLen is the length of the client timestamp prefix on binary
// frames: a big-endian millisecond capture time followed by PCM16 payload.
const tsHeaderLen = 8

type controlMessage struct {
	Event       string `json:"event"`
	Consolidate *bool  `json:"consolidate,omitempty"`
	Language    string `json:"language,omitempty"`
}

type controlReply struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SpeechHandler runs one transcription session per WebSocket connection.
type SpeechHandler struct {
	manager *session.Manager
	logger  zerolog.Logger
}

// NewSpeechHandler creates the handler over a session manager.
func NewSpeechHandler(manager *session.Manager) *SpeechHandler {
	return &SpeechHandler{
		manager: manager,
		logger:  logging.WithComponent("ws-speech"),
	}
}

// HandleConnection drives the connection protocol: the client opens with
// START_SESSION, streams timestamped binary PCM frames, and may signal
// END_UTTERANCE or STOP_SESSION. Session events are pushed back as JSON
// text frames.
func (h *SpeechHandler) HandleConnection(ctx context.Context, ws *websocket.Conn) error {
	sink := &connSink{ws: ws}
	var sess *session.Session
	defer func() {
		if sess != nil {
			sess.Stop()
		}
	}()

	for {
		mType, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) ||
				errors.Is(err, net.ErrClosed) {
				h.logger.Info().Msg("connection closed")
				return nil
			}
			h.logger.Error().Err(err).Send()
			return nil
		}

		switch mType {
		case websocket.TextMessage:
			var cm controlMessage
			if err := json.Unmarshal(msg, &cm); err != nil {
				h.logger.Warn().Err(err).Msg("bad control message")
				continue
			}
			switch cm.Event {
			case eventStartSession:
				if sess != nil {
					sink.send(controlReply{Event: eventSessionStarted, SessionID: sess.ID, Message: "session already started"})
					continue
				}
				sess, err = h.open(ctx, cm, sink, ws)
				if err != nil {
					h.logger.Error().Err(err).Msg("can't open session")
					sink.send(controlReply{Event: eventSessionStopped, Message: err.Error()})
					return err
				}
				sink.send(controlReply{Event: eventSessionStarted, SessionID: sess.ID})
			case eventEndUtterance:
				if sess != nil {
					sess.EndUtterance()
				}
			case eventStopSession:
				if sess != nil {
					sess.Stop()
					sess = nil
				}
				sink.send(controlReply{Event: eventSessionStopped})
				return nil
			default:
				h.logger.Warn().Str("event", cm.Event).Msg("unknown control event")
			}
		case websocket.BinaryMessage:
			if sess == nil {
				h.logger.Warn().Msg("audio before session start, dropping")
				continue
			}
			if len(msg) < tsHeaderLen {
				h.logger.Warn().Int("len", len(msg)).Msg("short audio frame, dropping")
				continue
			}
			ts := int64(binary.BigEndian.Uint64(msg[:tsHeaderLen]))
			if err := sess.PushAudio(msg[tsHeaderLen:], ts); err != nil {
				if errors.Is(err, session.ErrSessionClosed) || errors.Is(err, session.ErrOutOfOrderAudio) {
					sink.send(controlReply{Event: eventSessionStopped, Message: err.Error()})
					return nil
				}
				h.logger.Warn().Err(err).Msg("audio push failed")
			}
		}
	}
}

func (h *SpeechHandler) open(ctx context.Context, cm controlMessage, sink *connSink, ws *websocket.Conn) (*session.Session, error) {
	opts := session.Options{Consolidate: true, Language: cm.Language, Sink: sink}
	if cm.Consolidate != nil {
		opts.Consolidate = *cm.Consolidate
	}
	sess, err := h.manager.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	// unblock the read loop when the session dies on its own
	go func() {
		<-sess.Done()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			closeDeadline())
	}()
	return sess, nil
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// connSink pushes session events to the client as JSON text frames. The
// mutex serializes writers; gorilla connections allow only one at a time.
type connSink struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *connSink) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *connSink) Utterance(ctx context.Context, ev models.UtteranceEvent) error {
	return c.send(ev)
}

func (c *connSink) Raw(ctx context.Context, ev models.EngineTranscriptEvent) error {
	return c.send(ev)
}

func (c *connSink) Error(ctx context.Context, ev models.ErrorEvent) error {
	return c.send(ev)
}
