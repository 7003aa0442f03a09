package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"

	TypeSessionState        MessageType = "session_state"
	TypeTranscriptEntry     MessageType = "transcript_entry"
	TypeAssistantAudio      MessageType = "assistant_audio_chunk"
	TypePlaybackStop        MessageType = "playback_stop"
	TypeMicrophoneRequested MessageType = "microphone_requested"
	TypeMicrophoneReleased  MessageType = "microphone_released"
	TypeNotification        MessageType = "notification"
	TypeSystemEvent         MessageType = "system_event"
	TypeErrorEvent          MessageType = "error_event"
)

// Client control actions.
const (
	ActionSendText              = "send_text"
	ActionStartRecording        = "start_recording"
	ActionStopRecording         = "stop_recording"
	ActionCancelRecording       = "cancel_recording"
	ActionSwitchVoice           = "switch_voice"
	ActionSwitchText            = "switch_text"
	ActionDismissGuidance       = "dismiss_guidance"
	ActionUpdateLanguage        = "update_language"
	ActionGuidance              = "guidance"
	ActionClose                 = "close"
	ActionMicrophoneGranted     = "microphone_granted"
	ActionMicrophoneDenied      = "microphone_denied"
	ActionMicrophoneUnavailable = "microphone_unavailable"
)

// PlaybackFormat labels assistant audio chunks.
const PlaybackFormat = "pcm_s16le_24000_mono"

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Text      string      `json:"text,omitempty"`
	Language  string      `json:"language,omitempty"`
	Title     string      `json:"title,omitempty"`
	Procedure string      `json:"procedure,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type SessionState struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	State            string      `json:"state"`
	Mode             string      `json:"mode"`
	ConnectionStatus string      `json:"connection_status"`
	Language         string      `json:"language"`
	LanguageLabel    string      `json:"language_label"`
	GuidanceContext  string      `json:"guidance_context,omitempty"`
	RecordingSeconds int         `json:"recording_seconds"`
	PendingReplies   int         `json:"pending_replies"`
}

type TranscriptEntry struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Seq       int         `json:"seq"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	Audio     bool        `json:"audio"`
	TSMs      int64       `json:"ts_ms"`
}

// AssistantAudioChunk carries one scheduled playback chunk. StartMS is the
// offset on the session playback clock at which the client must start it.
type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	StartMS     int64       `json:"start_ms"`
	DurationMS  int64       `json:"duration_ms"`
}

// PlaybackStop cancels a previously sent chunk, playing or not yet started.
type PlaybackStop struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Seq       int         `json:"seq"`
}

type MicrophoneRequested struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	SampleRate int         `json:"sample_rate"`
}

type MicrophoneReleased struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Notification struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Kind    string      `json:"kind"`
	TSMs    int64       `json:"ts_ms"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if err := validateControl(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validateControl(msg ClientControl) error {
	switch msg.Action {
	case ActionSendText:
		// Blank text is accepted; the session ignores it.
		return nil
	case ActionUpdateLanguage:
		if strings.TrimSpace(msg.Language) == "" {
			return errors.New("update_language requires language")
		}
	case ActionGuidance:
		if strings.TrimSpace(msg.Title) == "" {
			return errors.New("guidance requires title")
		}
	case ActionStartRecording, ActionStopRecording, ActionCancelRecording,
		ActionSwitchVoice, ActionSwitchText, ActionDismissGuidance, ActionClose,
		ActionMicrophoneGranted, ActionMicrophoneDenied, ActionMicrophoneUnavailable:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
	}
	return nil
}
