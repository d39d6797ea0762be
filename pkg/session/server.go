// Package session implements the Session / Connection Handler (spec
// component C8): one session per accepted websocket connection, each
// owning its own feature pipeline and streaming decoder, translating wire
// messages to and from the decoder per spec.md §4.8/§6.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wenet-go/wenet-go/pkg/contextgraph"
	"github.com/wenet-go/wenet-go/pkg/frontend"
	"github.com/wenet-go/wenet-go/pkg/metrics"
	"github.com/wenet-go/wenet-go/pkg/model"
	"github.com/wenet-go/wenet-go/pkg/streaming"
	"github.com/wenet-go/wenet-go/pkg/wenetserrors"
)

// Rescorer matches streaming.Rescorer's shape so Server doesn't need to
// import pkg/rescorer directly; CTC-only serving passes nil.
type Rescorer = streaming.Rescorer

// ServerConfig configures Server.
type ServerConfig struct {
	NBest                 int
	Timestamp             bool
	ContinuousDecoding    bool
	ChunkSize             int
	TrailingSilenceFrames int
	MaxSilenceDuration    time.Duration
	ReverseWeight         float64
	BeamSize              int
	FirstBeamSize         int
	BlankID               int
	BlankSkipThreshold    float64
}

// Server upgrades incoming HTTP connections to websockets and spawns one
// Session per connection. The model executor, symbol table, and context
// graph are shared read-only across every session it creates (spec.md §5:
// "the model executor and context graph are read-shared").
type Server struct {
	cfg       ServerConfig
	exec      model.Executor
	extractor frontend.FeatureExtractor
	symbols   *SymbolTable
	graph     *contextgraph.Graph
	rescorer  Rescorer
	metrics   *metrics.Server
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates a Server. graph and rescorer may be nil.
func NewServer(cfg ServerConfig, exec model.Executor, extractor frontend.FeatureExtractor, symbols *SymbolTable, graph *contextgraph.Graph, rescorer Rescorer, m *metrics.Server, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		exec:      exec,
		extractor: extractor,
		symbols:   symbols,
		graph:     graph,
		rescorer:  rescorer,
		metrics:   m,
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// ServeHTTP upgrades the connection and runs the session to completion.
// The HTTP handler returns once the session ends; gorilla/websocket has
// already taken over the underlying connection by then.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := s.newSession(conn)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(1)
		defer s.metrics.ActiveSessions.Add(-1)
	}

	if err := sess.run(r.Context()); err != nil {
		sess.logger.Info("session ended", slog.String("reason", err.Error()))
	}
}

func (s *Server) newSession(conn *websocket.Conn) *Session {
	id := uuid.NewString()
	pipeline := frontend.NewPipeline(frontend.Config{
		FeatureDim: s.exec.Metadata().FeatureDim,
		Extractor:  s.extractor,
	})
	return &Session{
		id:       id,
		conn:     conn,
		pipeline: pipeline,
		server:   s,
		logger:   s.logger.With(slog.String("session_id", id)),
		nbest:    s.cfg.NBest,
	}
}

// Session is one client connection's state: the flags got_start, got_end,
// continuous, nbest and timestamp_enabled, plus the C1 pipeline it
// exclusively owns. stop_recognition is not a field: it is the
// cancellation of the context run() creates.
type Session struct {
	id       string
	conn     *websocket.Conn
	pipeline *frontend.Pipeline
	server   *Server
	logger   *slog.Logger

	writeMu sync.Mutex

	gotStart         bool
	gotEnd           bool
	continuous       bool
	nbest            int
	timestampEnabled bool
}

// run drives the session: one goroutine reads inbound frames (text
// signals and binary PCM) and feeds them to the decoder's pipeline or
// control flow; this goroutine itself forwards decoder events back to the
// client as they arrive. readLoop also writes, but only the failed status
// for a rejected signal; writeMu serializes the two writers. events is closed exactly once, by the decoder's own forwarding
// goroutine in startDecoding, once the decoder itself has terminated; that
// is the only signal that the session is genuinely done (the final result
// already sent, for non-continuous decoding, or stop_recognition observed).
func (s *Session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Closing the connection unblocks readLoop's ReadMessage once this
	// session is otherwise done, e.g. after a non-continuous utterance's
	// final result has been sent but the client hasn't disconnected yet.
	defer s.conn.Close()

	events := make(chan streaming.Event, 16)
	errCh := make(chan error, 1)

	go s.readLoop(ctx, events, errCh)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.sendEvent(ev); err != nil {
				return err
			}
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop reads inbound websocket frames, translates text signals into
// control actions (onSignal) and binary frames into PCM (onAudio), and on
// "start" spawns the decoder goroutine that publishes onto events. It never
// closes events; that channel outlives a client disconnect until the
// decoder itself unwinds.
func (s *Session) readLoop(ctx context.Context, events chan streaming.Event, errCh chan<- error) {
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if s.gotEnd {
				errCh <- nil
			} else {
				if s.server.metrics != nil {
					s.server.metrics.TransportErrors.Add(1)
				}
				errCh <- fmt.Errorf("%w: %v", wenetserrors.ErrTransportClosed, err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := s.onSignal(ctx, payload, events); err != nil {
				s.writeFailed(err)
				errCh <- err
				return
			}
			if s.gotEnd {
				return
			}
		case websocket.BinaryMessage:
			s.onAudio(payload)
		}
	}
}

// onSignal handles one text frame: start, end, or an unrecognized signal.
func (s *Session) onSignal(ctx context.Context, payload []byte, events chan streaming.Event) error {
	var sig inboundSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("%w: invalid signal json: %v", wenetserrors.ErrConfigInvalid, err)
	}

	switch sig.Signal {
	case "start":
		if s.gotStart {
			return fmt.Errorf("%w: duplicate start signal", wenetserrors.ErrConfigInvalid)
		}
		s.gotStart = true
		s.continuous = sig.ContinuousDecoding
		s.nbest = sig.NBest
		if s.nbest <= 0 {
			s.nbest = s.server.cfg.NBest
		}
		s.timestampEnabled = s.server.cfg.Timestamp
		s.startDecoding(ctx, events)
		return nil

	case "end":
		if !s.gotStart {
			return fmt.Errorf("%w: end signal before start", wenetserrors.ErrConfigInvalid)
		}
		s.gotEnd = true
		s.pipeline.SetInputFinished()
		return nil

	default:
		return fmt.Errorf("%w: unknown signal %q", wenetserrors.ErrConfigInvalid, sig.Signal)
	}
}

// onAudio forwards one binary frame's PCM16LE samples into the pipeline.
// Frames arriving before "start" or after "end" are dropped, matching
// ConnectionHandler::OnSpeechData's guard.
func (s *Session) onAudio(payload []byte) {
	if !s.gotStart || s.gotEnd {
		return
	}
	s.pipeline.AcceptWaveform(frontend.DecodePCM16LE(payload))
}

// startDecoding spawns the decoder goroutine that drives streaming.Decoder
// and forwards its events onto the session-wide events channel.
func (s *Session) startDecoding(ctx context.Context, events chan streaming.Event) {
	// decodeCtx is the session's own ctx, which run() cancels on
	// disconnect or any write failure; the decoder observes that as
	// stop_recognition at its next chunk-boundary wait wake-up (spec.md's
	// cancellation contract), without a separate flag to track here.
	decodeCtx := ctx

	cfg := streaming.Config{
		ChunkSize:             s.server.cfg.ChunkSize,
		ContinuousDecoding:    s.continuous,
		NBest:                 s.nbest,
		TrailingSilenceFrames: s.server.cfg.TrailingSilenceFrames,
		MaxSilenceDuration:    s.server.cfg.MaxSilenceDuration,
		ReverseWeight:         s.server.cfg.ReverseWeight,
		BeamSize:              s.server.cfg.BeamSize,
		FirstBeamSize:         s.server.cfg.FirstBeamSize,
		BlankID:               s.server.cfg.BlankID,
		BlankSkipThreshold:    s.server.cfg.BlankSkipThreshold,
		ContextGraph:          s.server.graph,
	}
	decoder := streaming.New(cfg, s.pipeline, s.server.exec, s.server.rescorer)

	go func() {
		defer close(events)
		for ev := range decoder.Events() {
			if s.server.metrics != nil {
				switch ev.Type {
				case streaming.EventPartial:
					s.server.metrics.PartialsEmitted.Add(1)
				case streaming.EventFinal:
					s.server.metrics.UtterancesFinal.Add(1)
				}
			}
			select {
			case events <- ev:
			case <-decodeCtx.Done():
				return
			}
		}
	}()

	go func() {
		if err := decoder.Run(decodeCtx); err != nil && decodeCtx.Err() == nil {
			s.logger.Warn("decoder run failed", slog.String("error", err.Error()))
			if s.server.metrics != nil {
				s.server.metrics.DecodeErrors.Add(1)
			}
		}
	}()
}

// sendEvent serializes one decoder Event into the spec.md §6 wire shape
// and writes it as a text frame.
func (s *Session) sendEvent(ev streaming.Event) error {
	meta := s.server.exec.Metadata()
	msg := outboundMessage{Status: "ok"}

	switch ev.Type {
	case streaming.EventPartial:
		msg.Type = "partial_result"
	case streaming.EventFinal:
		msg.Type = "final_result"
	}
	msg.NBest = toNBest(ev.Hypotheses, s.server.symbols, frameShiftMillisDefault, meta.SubsamplingRate, s.timestampEnabled)

	return s.writeJSON(msg)
}

func (s *Session) writeFailed(err error) {
	_ = s.writeJSON(outboundMessage{Status: "failed", Message: err.Error()})
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// frameShiftMillisDefault is the acoustic frame shift assumed before
// subsampling, matching streaming.Config's own default.
const frameShiftMillisDefault = 10
