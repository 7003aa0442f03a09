package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/sahayak/internal/assistant"
	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/events"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/protocol"
	"github.com/ent0n29/sahayak/internal/session"
	"github.com/ent0n29/sahayak/internal/transcript"
	"github.com/ent0n29/sahayak/internal/voice"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsQueueSize    = 256
)

var (
	errConnClosed      = errors.New("connection closed")
	errUnknownLanguage = errors.New("unknown language")
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	panelID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if panelID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.gw == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant gateway not configured")
		return
	}
	panel, err := s.sessions.Get(panelID)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if panel.Status != session.StatusActive {
		respondSessionError(w, session.ErrEnded)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	c := newWSConn(s, conn, *panel)
	c.run(r.Context())
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// wsConn bridges one websocket client to an assistant session. The client's
// microphone and speaker are the session's devices. Writes go through a
// single writer goroutine; session operations run on a command goroutine so
// the read loop stays free to deliver microphone grants while an operation
// waits for one.
type wsConn struct {
	srv   *Server
	conn  *websocket.Conn
	panel session.Panel

	ctx      context.Context
	cancel   context.CancelFunc
	outbound chan any
	commands chan func()

	devices   *voice.RemoteDevices
	assistant *assistant.Session

	// Touched only from hooks, which the session calls one at a time.
	lastState       assistant.State
	lang            language.Code
	connectingSince time.Time

	mu              sync.Mutex
	connectedAt     time.Time
	awaitFirstAudio bool
}

func newWSConn(srv *Server, conn *websocket.Conn, panel session.Panel) *wsConn {
	return &wsConn{
		srv:      srv,
		conn:     conn,
		panel:    panel,
		outbound: make(chan any, wsQueueSize),
		commands: make(chan func(), wsQueueSize),
		lang:     panel.Language,
	}
}

func (c *wsConn) run(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)
	defer c.cancel()

	cfg := c.srv.cfg
	c.devices = voice.NewRemoteDevices(c.panel.ID, c.send, cfg.RemoteMicGrantTimeout)
	c.assistant = assistant.New(assistant.Config{
		Gateway:        c.srv.gw,
		Capture:        audio.NewCapture(c.devices),
		Speaker:        c.devices,
		Language:       c.panel.Language,
		OneShotTimeout: cfg.GatewayOneShotTimeout,
		Location:       c.srv.loc,
		Hooks:          c.hooks(),
	})

	if err := c.srv.sessions.Attach(c.panel.ID, c.assistant); err != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = c.conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.panel.ID,
			Code:      "session_unavailable",
			Source:    "session",
			Detail:    err.Error(),
		})
		return
	}

	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)
	// Unblocks the read loop when the writer fails or the request ends.
	go func() {
		<-c.ctx.Done()
		_ = c.conn.Close()
	}()

	unsubscribe := c.subscribe()
	workerDone := make(chan struct{})
	go c.commandLoop(workerDone)
	c.enqueue(c.assistant.Open)

	c.readLoop()

	unsubscribe()
	c.cancel()
	c.devices.Detach()
	<-workerDone
	c.srv.sessions.Detach(c.panel.ID, c.assistant)
	c.assistant.Close()
	<-writerDone
}

func (c *wsConn) subscribe() func() {
	hub := c.srv.hub
	unsubOpen := hub.OnOpenRequested(func() {
		c.enqueue(c.assistant.Open)
	})
	unsubGuidance := hub.OnGuidanceRequested(func(req events.GuidanceRequest) bool {
		if req.PanelID != "" && req.PanelID != c.panel.ID {
			return false
		}
		return c.enqueue(func() {
			c.reportErr(c.assistant.ExternalGuidanceTrigger(req.Title, req.Procedure))
		})
	})
	unsubNotify := hub.OnNotification(func(n events.Notification) {
		c.trySend(protocol.Notification{
			Type:    protocol.TypeNotification,
			ID:      n.ID,
			Title:   n.Title,
			Message: n.Message,
			Kind:    string(n.Type),
			TSMs:    n.Timestamp.UnixMilli(),
		})
	})
	return func() {
		unsubOpen()
		unsubGuidance()
		unsubNotify()
	}
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(2 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.trySend(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: c.panel.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}

		if id := clientSessionID(parsed); id != c.panel.ID {
			c.trySend(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: c.panel.ID,
				Code:      "session_mismatch",
				Source:    "gateway",
				Detail:    fmt.Sprintf("message for session %q on connection for %q", id, c.panel.ID),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			c.srv.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				continue
			}
			c.devices.Feed(pcm, msg.SampleRate)
		case protocol.ClientControl:
			c.srv.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()
			_ = c.srv.sessions.Touch(c.panel.ID)
			switch msg.Action {
			case protocol.ActionMicrophoneGranted, protocol.ActionMicrophoneDenied, protocol.ActionMicrophoneUnavailable:
				c.devices.Answer(msg.Action)
			default:
				c.enqueue(func() { c.control(msg) })
			}
		}
	}
}

func (c *wsConn) control(msg protocol.ClientControl) {
	a := c.assistant
	var err error
	switch msg.Action {
	case protocol.ActionSendText:
		err = a.SendText(msg.Text)
	case protocol.ActionStartRecording:
		err = a.StartTextRecording()
	case protocol.ActionStopRecording:
		err = a.StopTextRecording()
	case protocol.ActionCancelRecording:
		err = a.CancelTextRecording()
	case protocol.ActionSwitchVoice:
		err = a.SwitchToVoice()
	case protocol.ActionSwitchText:
		err = a.SwitchToText()
	case protocol.ActionDismissGuidance:
		a.DismissGuidance()
	case protocol.ActionUpdateLanguage:
		lang, ok := language.Parse(msg.Language)
		if !ok {
			err = fmt.Errorf("%w: %q", errUnknownLanguage, msg.Language)
			break
		}
		a.UpdateLanguage(lang)
		_ = c.srv.sessions.SetLanguage(c.panel.ID, lang)
	case protocol.ActionGuidance:
		err = a.ExternalGuidanceTrigger(msg.Title, msg.Procedure)
	case protocol.ActionClose:
		a.Close()
	}
	c.reportErr(err)
}

func (c *wsConn) reportErr(err error) {
	if err == nil {
		return
	}
	c.trySend(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.panel.ID,
		Code:      errorCode(err),
		Source:    "assistant",
		Detail:    err.Error(),
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, assistant.ErrClosed):
		return "session_closed"
	case errors.Is(err, assistant.ErrWrongMode):
		return "wrong_mode"
	case errors.Is(err, assistant.ErrNotRecording):
		return "not_recording"
	case errors.Is(err, assistant.ErrGuidanceTitleRequired):
		return "guidance_title_required"
	case errors.Is(err, errUnknownLanguage):
		return "unknown_language"
	case errors.Is(err, audio.ErrPermissionDenied):
		return "microphone_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "microphone_unavailable"
	case errors.Is(err, audio.ErrMicrophoneBusy):
		return "microphone_busy"
	default:
		return "operation_failed"
	}
}

func (c *wsConn) hooks() assistant.Hooks {
	m := c.srv.metrics
	return assistant.Hooks{
		OnState: func(snap assistant.Snapshot) {
			c.observeState(snap)
			_ = c.send(protocol.SessionState{
				Type:             protocol.TypeSessionState,
				SessionID:        c.panel.ID,
				State:            string(snap.State),
				Mode:             string(snap.Mode),
				ConnectionStatus: string(snap.Connection),
				Language:         string(snap.Language),
				LanguageLabel:    snap.LanguageLabel,
				GuidanceContext:  snap.GuidanceContext,
				RecordingSeconds: snap.RecordingSeconds,
				PendingReplies:   snap.PendingReplies,
			})
		},
		OnEntry: func(e transcript.Entry) {
			m.TranscriptEntries.WithLabelValues(string(e.Speaker)).Inc()
			_ = c.srv.sessions.Touch(c.panel.ID)
			if c.srv.recorder != nil && !c.srv.recorder.Entry(c.panel.CitizenID, c.panel.ID, string(c.lang), e) {
				m.ArchiveFailures.Inc()
			}
			_ = c.send(protocol.TranscriptEntry{
				Type:      protocol.TypeTranscriptEntry,
				SessionID: c.panel.ID,
				Seq:       e.Seq,
				Speaker:   string(e.Speaker),
				Text:      e.Content(),
				Audio:     e.Audio,
				TSMs:      e.CreatedAt.UnixMilli(),
			})
		},
		OnNotice: func(n assistant.Notice) {
			_ = c.send(protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: c.panel.ID,
				Code:      string(n.Kind),
				Detail:    n.Message,
			})
		},
		OnInterrupted: func(stopped int) {
			m.PlaybackInterrupts.Inc()
			m.ObserveIndicator("playback_interrupt")
			_ = c.srv.sessions.RecordInterruption(c.panel.ID)
			_ = c.send(protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: c.panel.ID,
				Code:      "playback_interrupted",
				Detail:    fmt.Sprintf("%d chunks stopped", stopped),
			})
		},
		OnGatewayReply: func(op string, latency time.Duration, err error) {
			m.ObserveOneShot(op, latency, gateway.KindLabel(err))
		},
	}
}

func (c *wsConn) observeState(snap assistant.Snapshot) {
	c.lang = snap.Language
	if snap.State == c.lastState {
		return
	}
	prev := c.lastState
	c.lastState = snap.State
	c.srv.metrics.StateTransitions.WithLabelValues(string(snap.State)).Inc()

	switch snap.State {
	case assistant.StateVoiceConnecting:
		c.connectingSince = time.Now()
	case assistant.StateVoiceConnected:
		now := time.Now()
		if prev == assistant.StateVoiceConnecting && !c.connectingSince.IsZero() {
			c.srv.metrics.ObserveLiveConnect(now.Sub(c.connectingSince))
		}
		c.mu.Lock()
		c.connectedAt = now
		c.awaitFirstAudio = true
		c.mu.Unlock()
	}
}

// enqueue schedules fn on the command goroutine. It reports false once the
// connection is shutting down or the queue is full.
func (c *wsConn) enqueue(fn func()) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.commands <- fn:
		return true
	default:
		log.Printf("httpapi: session %s command queue full, dropping command", c.panel.ID)
		return false
	}
}

func (c *wsConn) commandLoop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.commands:
			fn()
		}
	}
}

// send queues msg for the writer, waiting while the queue is full.
func (c *wsConn) send(msg any) error {
	if chunk, ok := msg.(protocol.AssistantAudioChunk); ok {
		c.observeAudio(chunk)
	}
	select {
	case <-c.ctx.Done():
		return errConnClosed
	case c.outbound <- msg:
		return nil
	}
}

// trySend queues msg unless the writer is saturated.
func (c *wsConn) trySend(msg any) {
	select {
	case c.outbound <- msg:
	default:
		log.Printf("httpapi: session %s outbound queue full, dropping %T", c.panel.ID, msg)
	}
}

func (c *wsConn) observeAudio(protocol.AssistantAudioChunk) {
	c.mu.Lock()
	if !c.awaitFirstAudio {
		c.mu.Unlock()
		return
	}
	c.awaitFirstAudio = false
	since := time.Since(c.connectedAt)
	c.mu.Unlock()
	c.srv.metrics.ObserveStage("live_first_audio", since)
}

func (c *wsConn) writeLoop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("httpapi: session %s write failed: %v", c.panel.ID, err)
				c.cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				c.srv.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}
}

func clientSessionID(v any) string {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.SessionID
	case protocol.ClientControl:
		return m.SessionID
	default:
		return ""
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SessionState:
		return m.Type, true
	case protocol.TranscriptEntry:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.PlaybackStop:
		return m.Type, true
	case protocol.MicrophoneRequested:
		return m.Type, true
	case protocol.MicrophoneReleased:
		return m.Type, true
	case protocol.Notification:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
