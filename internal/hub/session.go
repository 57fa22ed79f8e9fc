package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/pkg/models"
)

// clientSession is one connected WebSocket client: a chat agent it may be
// streaming from, a bounded outbound queue, and the heartbeat state used to
// detect a stale peer (spec §4.13).
type clientSession struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	ctx    context.Context
	cancel context.CancelFunc

	outbound *outboundQueue
	seq      int64

	missedPings atomic.Int32

	mu        sync.Mutex
	runCancel context.CancelFunc // cancels the in-flight agent run, if any
	closed    bool
}

func newClientSession(hub *Hub, conn *websocket.Conn) *clientSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &clientSession{
		hub:      hub,
		conn:     conn,
		id:       uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		outbound: newOutboundQueue(hub.cfg.OutboundQueue),
	}
}

// run drives the session until the connection closes or the hub shuts it
// down: a write pump draining the outbound queue, a heartbeat ticker, and
// the inbound read loop, mirroring the teacher's writeLoop/readLoop split.
func (s *clientSession) run() {
	defer s.close()

	s.pushEvent("connected", connectedPayload{
		Protocol:        protocolVersion,
		HeartbeatPeriod: s.hub.cfg.HeartbeatPeriod.Milliseconds(),
	})

	go s.writePump()
	go s.heartbeatPump()
	s.readPump()
}

func (s *clientSession) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	runCancel := s.runCancel
	s.mu.Unlock()

	if runCancel != nil {
		runCancel()
	}
	s.cancel()
	s.outbound.Close()
	_ = s.conn.Close()
	s.hub.unregister(s)
}

func (s *clientSession) writePump() {
	for {
		data, ok := s.outbound.Pop(s.ctx)
		if !ok {
			return
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.cancel()
			return
		}
	}
}

// heartbeatPump pings the peer every HeartbeatPeriod; if MaxMissedPings
// consecutive pings go unanswered the session is treated as stale and torn
// down (spec §4.13).
func (s *clientSession) heartbeatPump() {
	period := s.hub.cfg.HeartbeatPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.conn.SetPongHandler(func(string) error {
		s.missedPings.Store(0)
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.missedPings.Add(1) > int32(s.hub.cfg.MaxMissedPings) {
				s.hub.logger.Warn("session stale, closing", "session_id", s.id)
				s.cancel()
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (s *clientSession) readPump() {
	s.conn.SetReadLimit(wsReadLimit)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.pushError("", agenterr.ProtocolShape, "malformed frame: "+err.Error())
			continue
		}
		s.dispatch(frame)
	}
}

func (s *clientSession) dispatch(frame clientFrame) {
	switch frame.Method {
	case "chat.send":
		var params chatSendParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			s.pushError(frame.ID, agenterr.ProtocolShape, "invalid chat.send params: "+err.Error())
			return
		}
		s.startChat(params)
	case "chat.cancel":
		var params chatCancelParams
		_ = json.Unmarshal(frame.Params, &params)
		s.cancelChat()
	case "ping":
		s.pushEvent("pong", nil)
	default:
		s.pushError(frame.ID, agenterr.ProtocolShape, "unknown method "+frame.Method)
	}
}

// startChat begins streaming an agent run; only one run may be in flight
// per session at a time, matching the single-conversation nature of a
// Session Hub connection.
func (s *clientSession) startChat(params chatSendParams) {
	s.mu.Lock()
	if s.runCancel != nil {
		s.mu.Unlock()
		s.pushError("", agenterr.ConfigInvalid, "a run is already in progress on this session")
		return
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	s.runCancel = cancel
	s.mu.Unlock()

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = s.id
	}

	steps, err := s.hub.registry.RunStream(runCtx, params.AgentName, params.Prompt, sessionID)
	if err != nil {
		s.finishRun()
		s.pushError("", agenterr.KindOrDefault(err, agenterr.ToolExecutionError), err.Error())
		return
	}

	go s.drain(steps)
}

func (s *clientSession) cancelChat() {
	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *clientSession) finishRun() {
	s.mu.Lock()
	s.runCancel = nil
	s.mu.Unlock()
}

// drain forwards reasoning steps from the adapter to the outbound queue,
// applying the priority/backpressure rules of spec §4.13.
func (s *clientSession) drain(steps <-chan models.ReasoningStep) {
	defer s.finishRun()
	for step := range steps {
		s.pushStep(step)
	}
}

func (s *clientSession) pushStep(step models.ReasoningStep) {
	var p priority
	isFinal := false
	switch step.Kind {
	case models.StepThought:
		p = priorityThought
	case models.StepToolResult:
		p = priorityToolResult
	case models.StepFinalAnswer:
		p, isFinal = priorityPreserved, true
	default:
		p = priorityPreserved
	}

	event := string(step.Kind)
	if step.Kind == models.StepError {
		event = "error"
	}

	data := s.encode(serverFrame{
		Type:    "event",
		Event:   event,
		Payload: step,
		Seq:     s.nextSeq(),
	})

	if fatal := s.outbound.Push(p, data, isFinal); fatal {
		s.pushErrorDirect(agenterr.Backpressure, "outbound queue saturated, dropping connection")
		s.cancel()
	}
}

func (s *clientSession) pushEvent(event string, payload any) {
	data := s.encode(serverFrame{Type: "event", Event: event, Payload: payload, Seq: s.nextSeq()})
	s.outbound.Push(priorityPreserved, data, false)
}

func (s *clientSession) pushError(replyTo string, kind agenterr.Kind, message string) {
	data := s.encode(serverFrame{
		Type:  "event",
		Event: "error",
		Error: &serverFrameErr{Kind: string(kind), Message: message},
		ID:    replyTo,
		Seq:   s.nextSeq(),
	})
	s.outbound.Push(priorityPreserved, data, false)
}

// pushErrorDirect bypasses the outbound queue (which is already saturated)
// and writes the fatal error frame straight to the connection.
func (s *clientSession) pushErrorDirect(kind agenterr.Kind, message string) {
	data := s.encode(serverFrame{
		Type:  "event",
		Event: "error",
		Error: &serverFrameErr{Kind: string(kind), Message: message},
		Seq:   s.nextSeq(),
	})
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *clientSession) nextSeq() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

func (s *clientSession) encode(frame serverFrame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		s.hub.logger.Error("encode server frame", "error", err)
		return []byte(`{"type":"event","event":"error"}`)
	}
	return data
}
