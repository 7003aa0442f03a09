package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageSendText(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"send_text","text":"What is PM-KISAN?","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionSendText || control.Text != "What is PM-KISAN?" {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if control.TSMs != 456 {
		t.Fatalf("TSMs = %d, want %d", control.TSMs, 456)
	}
}

func TestParseClientMessageGuidance(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"guidance","title":"Police Emergency","procedure":"Dial 100..."}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control := msg.(ClientControl)
	if control.Title != "Police Emergency" || control.Procedure != "Dial 100..." {
		t.Fatalf("unexpected guidance control: %+v", control)
	}
}

func TestParseClientMessageValidatesActions(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown action", `{"type":"client_control","session_id":"s1","action":"approve_task_step"}`},
		{"language missing", `{"type":"client_control","session_id":"s1","action":"update_language"}`},
		{"guidance title missing", `{"type":"client_control","session_id":"s1","action":"guidance","procedure":"x"}`},
		{"session missing", `{"type":"client_control","action":"close"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	_, err := ParseClientMessage([]byte(cases[0].raw))
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
}

func TestParseClientMessageRejectsInvalidAudioChunk(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","session_id":"","pcm16_base64":"","sample_rate":0}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":7,"pcm16_base64":"AQIDBAUGBwgJCgsMDQ4P","sample_rate":16000,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientAudioChunk); !ok {
			b.Fatalf("message type = %T, want ClientAudioChunk", msg)
		}
	}
}
