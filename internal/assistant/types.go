package assistant

import (
	"errors"
	"time"

	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/transcript"
)

type State string

const (
	StateClosed          State = "CLOSED"
	StateTextIdle        State = "TEXT_IDLE"
	StateTextRecording   State = "TEXT_RECORDING"
	StateTextAwaiting    State = "TEXT_AWAITING_RESPONSE"
	StateVoiceConnecting State = "VOICE_CONNECTING"
	StateVoiceConnected  State = "VOICE_CONNECTED"
)

type Mode string

const (
	ModeText  Mode = "TEXT"
	ModeVoice Mode = "VOICE"
)

// ConnectionStatus applies to voice mode only.
type ConnectionStatus string

const (
	ConnectionIdle       ConnectionStatus = "IDLE"
	ConnectionConnecting ConnectionStatus = "CONNECTING"
	ConnectionConnected  ConnectionStatus = "CONNECTED"
	ConnectionError      ConnectionStatus = "ERROR"
)

var (
	ErrClosed       = errors.New("assistant session closed")
	ErrWrongMode    = errors.New("operation not available in current mode")
	ErrNotRecording = errors.New("no recording in progress")
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State            State            `json:"state"`
	Mode             Mode             `json:"mode"`
	Connection       ConnectionStatus `json:"connection_status"`
	Language         language.Code    `json:"language"`
	LanguageLabel    string           `json:"language_label"`
	GuidanceContext  string           `json:"guidance_context,omitempty"`
	RecordingSeconds int              `json:"recording_seconds"`
	PendingReplies   int              `json:"pending_replies"`
	Entries          int              `json:"entries"`
}

type NoticeKind string

const (
	NoticeMicrophoneDenied      NoticeKind = "microphone_denied"
	NoticeMicrophoneUnavailable NoticeKind = "microphone_unavailable"
	NoticeMicrophoneBusy        NoticeKind = "microphone_busy"
	NoticeCaptureLost           NoticeKind = "capture_lost"
	NoticeGatewayError          NoticeKind = "gateway_error"
	NoticeConnectionError       NoticeKind = "connection_error"
	NoticeConnectionClosed      NoticeKind = "connection_closed"
	NoticeSpeakerUnavailable    NoticeKind = "speaker_unavailable"
)

// Notice reports a recovered failure that a presentation layer may show.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

// Hooks observe a session. Every hook is called outside the session locks, in
// the order the underlying events happened, and may call back into the
// session. Nil hooks are skipped.
type Hooks struct {
	OnState        func(Snapshot)
	OnEntry        func(transcript.Entry)
	OnNotice       func(Notice)
	OnInterrupted  func(stopped int)
	OnGatewayReply func(op string, latency time.Duration, err error)
}
