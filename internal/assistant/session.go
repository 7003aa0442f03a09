package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/transcript"
)

const DefaultOneShotTimeout = 30 * time.Second

var ErrGuidanceTitleRequired = errors.New("guidance title is required")

// Config wires a session to its collaborators.
type Config struct {
	Gateway        gateway.Gateway
	Capture        *audio.Capture
	Speaker        audio.OutputDevice
	Language       language.Code
	OneShotTimeout time.Duration
	Location       *time.Location
	Hooks          Hooks
}

type guidance struct {
	title     string
	procedure string
}

// Session is the conversational state machine behind one assistant panel.
// Public operations are serialized; gateway and device callbacks run on
// their own goroutines and are ignored once the work they belong to has been
// torn down.
type Session struct {
	gw      gateway.Gateway
	capture *audio.Capture
	speaker audio.OutputDevice
	timeout time.Duration
	loc     *time.Location
	hooks   Hooks

	ops sync.Mutex

	mu       sync.Mutex
	open     bool
	gen      uint64
	lifeCtx  context.Context
	lifeStop context.CancelFunc
	mode     Mode
	conn     ConnectionStatus
	lang     language.Code
	guide    *guidance
	log      *transcript.Log
	clip     *audio.Clip
	pending  int
	live     *liveConn

	emitMu sync.Mutex
	outbox []event
}

func New(cfg Config) *Session {
	timeout := cfg.OneShotTimeout
	if timeout <= 0 {
		timeout = DefaultOneShotTimeout
	}
	capture := cfg.Capture
	if capture == nil {
		capture = audio.NewCapture(nil)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	lang := cfg.Language
	if lang == "" {
		lang = language.English
	}
	return &Session{
		gw:      cfg.Gateway,
		capture: capture,
		speaker: cfg.Speaker,
		timeout: timeout,
		loc:     loc,
		hooks:   cfg.Hooks,
		mode:    ModeText,
		conn:    ConnectionIdle,
		lang:    lang,
		log:     transcript.NewLog(),
	}
}

// Open moves a closed session to TEXT_IDLE with an empty transcript.
func (s *Session) Open() {
	s.ops.Lock()
	defer s.unlockOps()
	s.mu.Lock()
	if !s.open {
		s.openLocked()
	}
	s.mu.Unlock()
}

func (s *Session) openLocked() {
	s.open = true
	s.gen++
	s.lifeCtx, s.lifeStop = context.WithCancel(context.Background())
	s.mode = ModeText
	s.conn = ConnectionIdle
	s.guide = nil
	s.pending = 0
	s.log = transcript.NewLog()
	s.pushStateLocked()
}

// Close releases the microphone, the speaker and any live connection, then
// moves to CLOSED. It returns after every resource has been released.
func (s *Session) Close() {
	// Unblock an operation waiting on a device grant before queueing behind it.
	s.mu.Lock()
	stop := s.lifeStop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	s.ops.Lock()
	defer s.unlockOps()
	s.teardown()
}

// teardown is the single exit path. Work is detached first so late callbacks
// find nothing to act on, then released, then the state commits.
func (s *Session) teardown() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	clip := s.clip
	s.clip = nil
	lc := s.live
	s.live = nil
	s.gen++
	stop := s.lifeStop
	s.mu.Unlock()

	if clip != nil {
		clip.Cancel()
	}
	if lc != nil {
		lc.shutdown()
	}
	if stop != nil {
		stop()
	}

	s.mu.Lock()
	s.open = false
	s.mode = ModeText
	s.conn = ConnectionIdle
	s.guide = nil
	s.pending = 0
	s.pushStateLocked()
	s.mu.Unlock()
}

// StartTextRecording opens the microphone for a voice message. Permission and
// device failures leave the state unchanged and are returned to the caller.
func (s *Session) StartTextRecording() error {
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	switch {
	case !s.open:
		s.mu.Unlock()
		return ErrClosed
	case s.mode != ModeText:
		s.mu.Unlock()
		return ErrWrongMode
	case s.clip != nil:
		s.mu.Unlock()
		return nil
	}
	ctx := s.lifeCtx
	s.mu.Unlock()

	clip, err := s.capture.StartClip(ctx, s.recordingTick)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.clip = clip
	s.pushStateLocked()
	s.mu.Unlock()
	go s.watchClip(clip)
	return nil
}

func (s *Session) recordingTick(int) {
	s.mu.Lock()
	if s.clip == nil {
		s.mu.Unlock()
		return
	}
	s.pushStateLocked()
	s.mu.Unlock()
	s.flush()
}

// watchClip treats a clip that dies underneath us like a cancelled recording.
func (s *Session) watchClip(clip *audio.Clip) {
	<-clip.Done()
	err := clip.Err()
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.clip != clip {
		s.mu.Unlock()
		return
	}
	s.clip = nil
	s.pushStateLocked()
	s.pushNoticeLocked(Notice{Kind: NoticeCaptureLost, Message: "Recording stopped: the microphone is no longer available.", Err: err})
	s.mu.Unlock()
	s.flush()
}

// StopTextRecording finishes the recording, appends the citizen's voice
// message and asks the gateway for a reply.
func (s *Session) StopTextRecording() error {
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrClosed
	}
	clip := s.clip
	s.clip = nil
	s.mu.Unlock()
	if clip == nil {
		return ErrNotRecording
	}

	enc, err := clip.Stop()
	if err != nil {
		s.mu.Lock()
		s.pushStateLocked()
		s.pushNoticeLocked(Notice{Kind: NoticeCaptureLost, Message: "Recording could not be completed.", Err: err})
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.appendLocked(transcript.SpeakerCitizen, "", true)
	req := gateway.OneShotRequest{
		Audio:    &gateway.Blob{Data: enc.Data, MIMEType: enc.MIMEType},
		Language: s.lang,
	}
	ctx, gen := s.beginReplyLocked()
	s.mu.Unlock()

	go s.reply(ctx, gen, "audio", req)
	return nil
}

// CancelTextRecording discards the recording without a transcript entry or
// gateway call.
func (s *Session) CancelTextRecording() error {
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	clip := s.clip
	s.clip = nil
	s.mu.Unlock()
	if clip == nil {
		return ErrNotRecording
	}
	clip.Cancel()

	s.mu.Lock()
	s.pushStateLocked()
	s.mu.Unlock()
	return nil
}

// SendText appends the citizen's message and asks the gateway for a reply.
// Blank messages are ignored.
func (s *Session) SendText(message string) error {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return nil
	}
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	switch {
	case !s.open:
		s.mu.Unlock()
		return ErrClosed
	case s.mode != ModeText:
		s.mu.Unlock()
		return ErrWrongMode
	}
	s.appendLocked(transcript.SpeakerCitizen, msg, false)
	req := gateway.OneShotRequest{Prompt: msg, Language: s.lang}
	ctx, gen := s.beginReplyLocked()
	s.mu.Unlock()

	go s.reply(ctx, gen, "text", req)
	return nil
}

func (s *Session) beginReplyLocked() (context.Context, uint64) {
	s.pending++
	s.pushStateLocked()
	return s.lifeCtx, s.gen
}

// reply runs one gateway call. The result is appended in completion order
// unless the session was torn down meanwhile.
func (s *Session) reply(ctx context.Context, gen uint64, op string, req gateway.OneShotRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	var (
		text string
		err  error
	)
	if s.gw == nil {
		err = &gateway.Error{Op: op, Kind: gateway.ErrService, Err: errors.New("no gateway configured")}
	} else {
		text, err = s.gw.SendOneShot(ctx, req)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = &gateway.Error{Op: op, Kind: gateway.ErrService, Err: errors.New("empty reply")}
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, gateway.ErrTimeout) {
		err = &gateway.Error{Op: op, Kind: gateway.ErrTimeout, Err: err}
	}
	latency := time.Since(started)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.pending--
	s.outbox = append(s.outbox, event{kind: eventReply, op: op, latency: latency, err: err})
	if err != nil {
		log.Printf("assistant: %s reply failed (%s): %v", op, gateway.KindLabel(err), err)
		text = language.Apology(s.lang)
		s.pushNoticeLocked(Notice{Kind: NoticeGatewayError, Message: "The assistant could not answer right now.", Err: err})
	}
	s.appendLocked(transcript.SpeakerAssistant, text, false)
	s.pushStateLocked()
	s.mu.Unlock()
	s.flush()
}

// SwitchToVoice starts a live connection. It is a no-op while one is already
// connecting or connected; after an error or a remote close it reconnects.
func (s *Session) SwitchToVoice() error {
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.mode == ModeVoice && s.live != nil {
		s.mu.Unlock()
		return nil
	}
	clip := s.clip
	s.clip = nil
	s.mu.Unlock()
	if clip != nil {
		clip.Cancel()
	}

	s.mu.Lock()
	s.startLiveLocked()
	s.mu.Unlock()
	return nil
}

// SwitchToText tears down the live connection, then returns to TEXT_IDLE.
func (s *Session) SwitchToText() error {
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.mode == ModeText {
		s.mu.Unlock()
		return nil
	}
	lc := s.live
	s.live = nil
	s.mu.Unlock()

	if lc != nil {
		lc.shutdown()
	}

	s.mu.Lock()
	s.mode = ModeText
	s.conn = ConnectionIdle
	s.pushStateLocked()
	s.mu.Unlock()
	return nil
}

// ExternalGuidanceTrigger opens the session if needed, announces the guidance
// call and (re)connects voice with a brief built from title and procedure.
func (s *Session) ExternalGuidanceTrigger(title, procedure string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrGuidanceTitleRequired
	}
	s.ops.Lock()
	defer s.unlockOps()

	s.mu.Lock()
	if !s.open {
		s.openLocked()
	}
	clip := s.clip
	s.clip = nil
	lc := s.live
	s.live = nil
	s.guide = &guidance{title: title, procedure: strings.TrimSpace(procedure)}
	s.appendLocked(transcript.SpeakerAssistant, guidanceAnnouncement(title), false)
	s.mu.Unlock()

	if clip != nil {
		clip.Cancel()
	}
	if lc != nil {
		lc.shutdown()
	}

	s.mu.Lock()
	s.startLiveLocked()
	s.mu.Unlock()
	return nil
}

// DismissGuidance clears the guidance context. An open connection keeps the
// brief it was started with.
func (s *Session) DismissGuidance() {
	s.mu.Lock()
	if s.guide == nil {
		s.mu.Unlock()
		return
	}
	s.guide = nil
	s.pushStateLocked()
	s.mu.Unlock()
	s.flush()
}

// UpdateLanguage changes the language used by subsequent gateway calls and
// connections.
func (s *Session) UpdateLanguage(lang language.Code) {
	s.mu.Lock()
	if s.lang == lang {
		s.mu.Unlock()
		return
	}
	s.lang = lang
	s.pushStateLocked()
	s.mu.Unlock()
	s.flush()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Transcript returns the entries of the current (or last) panel lifetime.
func (s *Session) Transcript() []transcript.Entry {
	s.mu.Lock()
	l := s.log
	s.mu.Unlock()
	return l.Entries()
}

// Export renders the transcript as the downloadable chat log.
func (s *Session) Export(now time.Time) string {
	s.mu.Lock()
	l, lang := s.log, s.lang
	s.mu.Unlock()
	return transcript.Export(l.Entries(), transcript.ExportOptions{
		LanguageLabel: lang.Label(),
		Location:      s.loc,
		GeneratedAt:   now,
	})
}

func (s *Session) stateLocked() State {
	switch {
	case !s.open:
		return StateClosed
	case s.mode == ModeVoice && s.conn == ConnectionConnected:
		return StateVoiceConnected
	case s.mode == ModeVoice:
		return StateVoiceConnecting
	case s.clip != nil:
		return StateTextRecording
	case s.pending > 0:
		return StateTextAwaiting
	default:
		return StateTextIdle
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          s.stateLocked(),
		Mode:           s.mode,
		Connection:     s.conn,
		Language:       s.lang,
		LanguageLabel:  s.lang.Label(),
		PendingReplies: s.pending,
		Entries:        s.log.Len(),
	}
	if s.guide != nil {
		snap.GuidanceContext = s.guide.title
	}
	if s.clip != nil {
		snap.RecordingSeconds = s.clip.Elapsed()
	}
	return snap
}

func (s *Session) liveInstructionLocked() string {
	if s.guide != nil {
		return guidanceInstruction(s.guide.title, s.guide.procedure, s.lang)
	}
	return defaultLiveInstruction(s.lang)
}

func (s *Session) startLiveLocked() {
	lc := newLiveConn(s, s.lifeCtx, gateway.LiveConfig{
		Instruction: s.liveInstructionLocked(),
		Language:    s.lang,
	})
	s.live = lc
	s.mode = ModeVoice
	s.conn = ConnectionConnecting
	s.pushStateLocked()
	go lc.connect()
}

func (s *Session) appendLocked(speaker transcript.Speaker, text string, audioPlaceholder bool) {
	var e transcript.Entry
	if audioPlaceholder {
		e = s.log.AppendAudio(speaker)
	} else {
		e = s.log.AppendText(speaker, text)
	}
	s.outbox = append(s.outbox, event{kind: eventEntry, entry: e})
}

func (s *Session) pushStateLocked() {
	s.outbox = append(s.outbox, event{kind: eventState, snap: s.snapshotLocked()})
}

func (s *Session) pushNoticeLocked(n Notice) {
	s.outbox = append(s.outbox, event{kind: eventNotice, notice: n})
}

func noticeForCaptureError(err error) Notice {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return Notice{Kind: NoticeMicrophoneDenied, Message: "Microphone permission was denied.", Err: err}
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return Notice{Kind: NoticeMicrophoneUnavailable, Message: "No microphone is available.", Err: err}
	case errors.Is(err, audio.ErrMicrophoneBusy):
		return Notice{Kind: NoticeMicrophoneBusy, Message: "The microphone is already in use.", Err: err}
	default:
		return Notice{Kind: NoticeConnectionError, Message: fmt.Sprintf("Voice connection failed (%s).", gateway.KindLabel(err)), Err: err}
	}
}
