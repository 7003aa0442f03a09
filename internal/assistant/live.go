package assistant

import (
	"context"
	"log"
	"sync"

	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/transcript"
)

// liveConn is one attempt at a live voice connection. Resources are attached
// as they are acquired; anything attached after shutdown is released on the
// spot, so a late open acknowledgment cannot leak a device or a session.
type liveConn struct {
	s      *Session
	cfg    gateway.LiveConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	down     bool
	opened   bool
	stream   *audio.Stream
	player   *audio.Scheduler
	session  gateway.LiveSession
	pumpDone chan struct{}

	shutdownOnce sync.Once
}

func newLiveConn(s *Session, parent context.Context, cfg gateway.LiveConfig) *liveConn {
	ctx, cancel := context.WithCancel(parent)
	return &liveConn{s: s, cfg: cfg, ctx: ctx, cancel: cancel}
}

// connect acquires microphone, speaker and gateway session in that order.
func (lc *liveConn) connect() {
	s := lc.s
	stream, err := s.capture.StartContinuous(lc.ctx)
	if err != nil {
		s.liveFailed(lc, noticeForCaptureError(err))
		return
	}
	if !lc.attachStream(stream) {
		return
	}

	if s.speaker == nil {
		s.liveFailed(lc, Notice{Kind: NoticeSpeakerUnavailable, Message: "No speaker is available."})
		return
	}
	out, err := s.speaker.OpenOutput(audio.PlaybackFormat)
	if err != nil {
		s.liveFailed(lc, Notice{Kind: NoticeSpeakerUnavailable, Message: "The speaker could not be opened.", Err: err})
		return
	}
	if !lc.attachPlayer(audio.NewScheduler(out)) {
		return
	}

	if s.gw == nil {
		s.liveFailed(lc, Notice{Kind: NoticeConnectionError, Message: "No assistant service is configured."})
		return
	}
	sess, err := s.gw.OpenLive(lc.ctx, lc.cfg, gateway.LiveCallbacks{
		OnOpen:          lc.onOpen,
		OnAudioChunk:    lc.onAudio,
		OnTranscription: lc.onTranscription,
		OnInterrupted:   lc.onInterrupted,
		OnError:         lc.onError,
		OnClose:         lc.onClose,
	})
	if err != nil {
		s.liveFailed(lc, noticeForCaptureError(err))
		return
	}
	lc.attachSession(sess)
}

func (lc *liveConn) attachStream(st *audio.Stream) bool {
	lc.mu.Lock()
	if lc.down {
		lc.mu.Unlock()
		_ = st.Stop()
		return false
	}
	lc.stream = st
	lc.pumpDone = make(chan struct{})
	go lc.pump(st, lc.pumpDone)
	lc.mu.Unlock()
	return true
}

func (lc *liveConn) attachPlayer(p *audio.Scheduler) bool {
	lc.mu.Lock()
	if lc.down {
		lc.mu.Unlock()
		_ = p.Close()
		return false
	}
	lc.player = p
	lc.mu.Unlock()
	return true
}

func (lc *liveConn) attachSession(sess gateway.LiveSession) {
	lc.mu.Lock()
	if lc.down {
		lc.mu.Unlock()
		_ = sess.Close()
		return
	}
	lc.session = sess
	lc.mu.Unlock()
}

// pump drains the microphone for the whole attempt. Frames captured before
// the session is attached and acknowledged open are dropped, so streaming
// starts with live audio instead of a backlog.
func (lc *liveConn) pump(stream *audio.Stream, done chan struct{}) {
	defer close(done)
	failed := false
	for frame := range stream.Frames() {
		sess := lc.streamingSession()
		if sess == nil {
			continue
		}
		if err := sess.SendAudioFrame(frame); err != nil && !failed {
			failed = true
			log.Printf("assistant: live audio send failed: %v", err)
		}
	}
	if err := stream.Err(); err != nil && !lc.isDown() {
		go lc.s.captureLost(lc, err)
	}
}

func (lc *liveConn) streamingSession() gateway.LiveSession {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.down || !lc.opened {
		return nil
	}
	return lc.session
}

func (lc *liveConn) isDown() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.down
}

// shutdown releases everything the attempt holds. Safe to call repeatedly
// and from gateway callbacks.
func (lc *liveConn) shutdown() {
	lc.shutdownOnce.Do(func() {
		lc.mu.Lock()
		lc.down = true
		sess, stream, player, pumpDone := lc.session, lc.stream, lc.player, lc.pumpDone
		lc.mu.Unlock()

		lc.cancel()
		if sess != nil {
			_ = sess.Close()
		}
		if stream != nil {
			_ = stream.Stop()
		}
		if pumpDone != nil {
			<-pumpDone
		}
		if player != nil {
			_ = player.Close()
		}
	})
}

func (lc *liveConn) onOpen() {
	if !lc.s.liveOpened(lc) {
		return
	}
	lc.mu.Lock()
	lc.opened = true
	lc.mu.Unlock()
}

func (lc *liveConn) onAudio(pcm []byte) {
	lc.mu.Lock()
	player := lc.player
	down := lc.down
	lc.mu.Unlock()
	if down || player == nil {
		return
	}
	if _, err := player.Enqueue(pcm); err != nil {
		log.Printf("assistant: playback enqueue failed: %v", err)
	}
}

func (lc *liveConn) onInterrupted() {
	lc.mu.Lock()
	player := lc.player
	down := lc.down
	lc.mu.Unlock()
	if down || player == nil {
		return
	}
	n := player.Interrupt()
	lc.s.liveInterrupted(lc, n)
}

func (lc *liveConn) onTranscription(text string) { lc.s.liveTranscription(lc, text) }

func (lc *liveConn) onError(err error) {
	lc.s.liveFailed(lc, Notice{Kind: NoticeConnectionError, Message: "The voice connection failed.", Err: err})
}

func (lc *liveConn) onClose() { lc.s.liveClosed(lc) }

func (s *Session) liveOpened(lc *liveConn) bool {
	s.mu.Lock()
	if s.live != lc {
		s.mu.Unlock()
		return false
	}
	s.conn = ConnectionConnected
	s.pushStateLocked()
	s.mu.Unlock()
	s.flush()
	return true
}

func (s *Session) liveTranscription(lc *liveConn, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.live != lc {
		s.mu.Unlock()
		return
	}
	s.appendLocked(transcript.SpeakerAssistant, text, false)
	s.pushStateLocked()
	s.mu.Unlock()
	s.flush()
}

func (s *Session) liveInterrupted(lc *liveConn, stopped int) {
	s.mu.Lock()
	if s.live != lc {
		s.mu.Unlock()
		return
	}
	s.outbox = append(s.outbox, event{kind: eventInterrupted, stopped: stopped})
	s.mu.Unlock()
	s.flush()
}

// liveFailed leaves the session in voice mode with connectionStatus ERROR.
// Returning to text is up to the caller.
func (s *Session) liveFailed(lc *liveConn, n Notice) {
	s.mu.Lock()
	if s.live != lc {
		s.mu.Unlock()
		lc.shutdown()
		return
	}
	s.live = nil
	s.conn = ConnectionError
	s.pushStateLocked()
	s.pushNoticeLocked(n)
	s.mu.Unlock()
	if n.Err != nil {
		log.Printf("assistant: live connection failed: %v", n.Err)
	}
	lc.shutdown()
	s.flush()
}

func (s *Session) liveClosed(lc *liveConn) {
	s.mu.Lock()
	if s.live != lc {
		s.mu.Unlock()
		return
	}
	s.live = nil
	s.conn = ConnectionIdle
	s.pushStateLocked()
	s.pushNoticeLocked(Notice{Kind: NoticeConnectionClosed, Message: "The voice connection was closed."})
	s.mu.Unlock()
	lc.shutdown()
	s.flush()
}

// captureLost forces the session back to text when the microphone dies
// during a live connection.
func (s *Session) captureLost(lc *liveConn, err error) {
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	if s.live != lc {
		s.mu.Unlock()
		return
	}
	s.live = nil
	s.mu.Unlock()
	lc.shutdown()

	s.mu.Lock()
	s.mode = ModeText
	s.conn = ConnectionIdle
	s.pushStateLocked()
	s.pushNoticeLocked(Notice{Kind: NoticeCaptureLost, Message: "Voice mode ended: the microphone is no longer available.", Err: err})
	s.mu.Unlock()
}
