package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/language"
)

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Op: "eligibility", Kind: ErrMalformedResponse, Err: errors.New("bad json")})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("errors.Is(ErrMalformedResponse) = false")
	}
	if !errors.Is(err, ErrService) {
		t.Fatalf("malformed response should also be a service error")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("errors.Is(ErrTimeout) = true, want false")
	}
	if got := KindLabel(err); got != "malformed_response" {
		t.Fatalf("KindLabel() = %q", got)
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()

	cases := []struct {
		name      string
		ctx       context.Context
		err       error
		kind      error
		retryable bool
	}{
		{"deadline", expired, context.DeadlineExceeded, ErrTimeout, false},
		{"rate limited", ctx, genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, ErrService, true},
		{"bad request", ctx, genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, ErrService, false},
		{"forbidden", ctx, genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}, ErrPermissionDenied, false},
		{"gateway timeout", ctx, genai.APIError{Code: 504}, ErrTimeout, true},
		{"opaque", ctx, errors.New("boom"), ErrService, false},
	}
	for _, tc := range cases {
		got := classify(tc.ctx, "one_shot", tc.err)
		var ge *Error
		if !errors.As(got, &ge) {
			t.Fatalf("%s: classify() = %T, want *Error", tc.name, got)
		}
		if !errors.Is(got, tc.kind) {
			t.Fatalf("%s: kind = %v, want %v", tc.name, ge.Kind, tc.kind)
		}
		if ge.Retryable() != tc.retryable {
			t.Fatalf("%s: Retryable() = %v, want %v", tc.name, ge.Retryable(), tc.retryable)
		}
	}
}

func TestDecodeStructured(t *testing.T) {
	var v EligibilityVerdict
	body := "```json\n{\"isEligible\":true,\"confidenceScore\":87,\"detectedDocumentType\":\"Income Certificate\",\"observation\":\"ok\",\"missingInformation\":[\"Date\"]}\n```"
	if err := decodeStructured("eligibility", body, &v); err != nil {
		t.Fatalf("decodeStructured() error = %v", err)
	}
	if !v.Eligible || v.Confidence != 87 || v.DocumentType != "Income Certificate" || len(v.MissingFields) != 1 {
		t.Fatalf("verdict = %+v", v)
	}
	if err := decodeStructured("eligibility", "not json", &v); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("decodeStructured(garbage) error = %v, want ErrMalformedResponse", err)
	}
}

func TestFilterKnownIDs(t *testing.T) {
	cands := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := filterKnownIDs([]string{"c", "x", "a", "c"}, cands)
	if strings.Join(got, ",") != "c,a" {
		t.Fatalf("filterKnownIDs() = %v, want [c a]", got)
	}
}

func TestPromptsCarryLanguage(t *testing.T) {
	got := oneShotInstruction(language.Hindi, nil)
	if !strings.Contains(got, "selected language: हिन्दी (Hindi)") {
		t.Fatalf("instruction missing language rule:\n%s", got)
	}
	if got := oneShotUserText(OneShotRequest{Audio: &Blob{}}); got != "User Input: "+voiceMessagePrompt {
		t.Fatalf("oneShotUserText(audio) = %q", got)
	}
}

func TestMockOneShot(t *testing.T) {
	m := NewMock()
	got, err := m.SendOneShot(context.Background(), OneShotRequest{Prompt: "What is PM-KISAN?", Language: language.English})
	if err != nil {
		t.Fatalf("SendOneShot() error = %v", err)
	}
	if !strings.Contains(got, "What is PM-KISAN?") {
		t.Fatalf("SendOneShot() = %q", got)
	}

	wav, _ := audio.EncodeWAVPCM16LE(make([]byte, audio.CaptureSampleRate*2), audio.CaptureSampleRate)
	got, err = m.SendOneShot(context.Background(), OneShotRequest{Audio: &Blob{Data: wav, MIMEType: audio.WAVMIMEType}})
	if err != nil {
		t.Fatalf("SendOneShot(audio) error = %v", err)
	}
	if !strings.Contains(got, "1.0s") {
		t.Fatalf("SendOneShot(audio) = %q", got)
	}
}

func TestMockHonorsDeadline(t *testing.T) {
	m := &Mock{Latency: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.SendOneShot(ctx, OneShotRequest{Prompt: "hi"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("SendOneShot() error = %v, want ErrTimeout", err)
	}
}

func TestMockSearch(t *testing.T) {
	m := NewMock()
	got, err := m.SemanticSearch(context.Background(), "health insurance", []Candidate{
		{ID: "pmjay", Name: "Ayushman Bharat", Description: "Health insurance cover"},
		{ID: "kisan", Name: "PM-KISAN", Description: "Farmer income support"},
	})
	if err != nil {
		t.Fatalf("SemanticSearch() error = %v", err)
	}
	if len(got) != 1 || got[0] != "pmjay" {
		t.Fatalf("SemanticSearch() = %v, want [pmjay]", got)
	}
	got, _ = m.SemanticSearch(context.Background(), "zzz", nil)
	if len(got) != 0 {
		t.Fatalf("SemanticSearch(no match) = %v, want empty", got)
	}
}

func TestMockLiveLifecycle(t *testing.T) {
	m := &Mock{FramesPerReply: 2}
	opened := make(chan struct{}, 1)
	said := make(chan string, 4)
	closed := make(chan struct{}, 1)
	live, err := m.OpenLive(context.Background(), LiveConfig{Language: language.English}, LiveCallbacks{
		OnOpen:          func() { opened <- struct{}{} },
		OnTranscription: func(text string) { said <- text },
		OnClose:         func() { closed <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("OpenLive() error = %v", err)
	}
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatalf("OnOpen not called")
	}
	_ = live.SendAudioFrame(nil)
	_ = live.SendAudioFrame(nil)
	select {
	case <-said:
	case <-time.After(time.Second):
		t.Fatalf("no transcription after two frames")
	}
	_ = live.Close()
	_ = live.Close()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("OnClose not called")
	}
	if err := live.SendAudioFrame(nil); !errors.Is(err, ErrNetwork) {
		t.Fatalf("SendAudioFrame() after Close error = %v, want ErrNetwork", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	gw, err := New(context.Background(), Config{Provider: "auto"})
	if err != nil {
		t.Fatalf("New(auto) error = %v", err)
	}
	if _, ok := gw.(*Mock); !ok {
		t.Fatalf("New(auto, no key) = %T, want *Mock", gw)
	}
	if _, err := New(context.Background(), Config{Provider: "gemini"}); err == nil {
		t.Fatalf("New(gemini, no key) error = nil")
	}
	if _, err := New(context.Background(), Config{Provider: "carrier-pigeon"}); err == nil {
		t.Fatalf("New(unknown) error = nil")
	}
}
