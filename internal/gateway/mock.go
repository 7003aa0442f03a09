package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/language"
)

// Mock provides deterministic local replies when no model API is configured.
type Mock struct {
	// Latency is added before every one-shot reply.
	Latency time.Duration
	// FramesPerReply is how many live audio frames trigger one spoken reply.
	FramesPerReply int
}

func NewMock() *Mock { return &Mock{FramesPerReply: 12} }

func (m *Mock) wait(ctx context.Context, op string) error {
	if m.Latency <= 0 {
		if err := ctx.Err(); err != nil {
			return classify(ctx, op, err)
		}
		return nil
	}
	t := time.NewTimer(m.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return classify(ctx, op, ctx.Err())
	case <-t.C:
		return nil
	}
}

func (m *Mock) SendOneShot(ctx context.Context, req OneShotRequest) (string, error) {
	if err := m.wait(ctx, "one_shot"); err != nil {
		return "", err
	}
	if req.Audio != nil {
		pcm, rate, err := audio.DecodeWAVPCM16(req.Audio.Data)
		if err != nil {
			return "Namaste! I received your voice message.", nil
		}
		return fmt.Sprintf("Namaste! I received your voice message (%.1fs).", audio.PCMDuration(pcm, rate).Seconds()), nil
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "Namaste!"
	}
	return fmt.Sprintf("Samriddhi Sahayak (%s): you asked %q.", req.Language.Label(), prompt), nil
}

func (m *Mock) CheckEligibility(ctx context.Context, req EligibilityRequest) (EligibilityVerdict, error) {
	if err := m.wait(ctx, "eligibility"); err != nil {
		return EligibilityVerdict{}, err
	}
	if len(req.Image.Data) == 0 {
		return EligibilityVerdict{}, &Error{Op: "eligibility", Kind: ErrService, Err: fmt.Errorf("empty image")}
	}
	return EligibilityVerdict{
		Eligible:      len(req.Criteria) > 0,
		Confidence:    50,
		DocumentType:  "Unknown Document",
		Observation:   fmt.Sprintf("Offline check for %s; verify the document at your nearest CSC.", req.SchemeName),
		MissingFields: []string{},
	}, nil
}

func (m *Mock) SemanticSearch(ctx context.Context, query string, candidates []Candidate) ([]string, error) {
	if err := m.wait(ctx, "search"); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	out := []string{}
	for _, c := range candidates {
		hay := strings.ToLower(c.Name + " " + c.Description)
		for _, t := range terms {
			if len(t) > 2 && strings.Contains(hay, t) {
				out = append(out, c.ID)
				break
			}
		}
	}
	return out, nil
}

func (m *Mock) Translate(ctx context.Context, text string, target language.Code) (string, error) {
	if err := m.wait(ctx, "translate"); err != nil {
		return "", err
	}
	if target == language.English || strings.TrimSpace(text) == "" {
		return text, nil
	}
	return fmt.Sprintf("[%s] %s", target.Label(), text), nil
}

func (m *Mock) SuggestSchemes(ctx context.Context, profile string) ([]SchemeSuggestion, error) {
	if err := m.wait(ctx, "suggest"); err != nil {
		return nil, err
	}
	p := strings.ToLower(profile)
	out := []SchemeSuggestion{}
	if strings.Contains(p, "farm") || strings.Contains(p, "kisan") {
		out = append(out, SchemeSuggestion{SchemeName: "PM-KISAN", Reason: "Income support for landholding farmer families.", NextSteps: "Register on the PM-KISAN portal with Aadhaar and land records."})
	}
	if strings.Contains(p, "student") || strings.Contains(p, "scholar") {
		out = append(out, SchemeSuggestion{SchemeName: "National Scholarship Portal", Reason: "Scholarships for students from eligible households.", NextSteps: "Apply on the National Scholarship Portal before the deadline."})
	}
	out = append(out, SchemeSuggestion{SchemeName: "Ayushman Bharat PM-JAY", Reason: "Health cover for eligible families.", NextSteps: "Check eligibility at the nearest empanelled hospital."})
	return out, nil
}

func (m *Mock) OpenLive(ctx context.Context, cfg LiveConfig, cb LiveCallbacks) (LiveSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, "live_connect", err)
	}
	every := m.FramesPerReply
	if every <= 0 {
		every = 12
	}
	l := &mockLive{cb: cb, every: every, lang: cfg.Language, frames: make(chan struct{}, 64), done: make(chan struct{})}
	go l.run()
	return l, nil
}

type mockLive struct {
	cb    LiveCallbacks
	every int
	lang  language.Code

	frames chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *mockLive) SendAudioFrame(pcm []byte) error {
	select {
	case <-l.done:
		return &Error{Op: "live_send", Kind: ErrNetwork, Err: fmt.Errorf("session closed")}
	default:
	}
	select {
	case l.frames <- struct{}{}:
	default:
	}
	return nil
}

func (l *mockLive) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *mockLive) run() {
	if l.cb.OnOpen != nil {
		l.cb.OnOpen()
	}
	n := 0
	for {
		select {
		case <-l.done:
			if l.cb.OnClose != nil {
				l.cb.OnClose()
			}
			return
		case <-l.frames:
			n++
			if n%l.every != 0 {
				continue
			}
			if l.cb.OnAudioChunk != nil {
				l.cb.OnAudioChunk(toneChunk(200 * time.Millisecond))
			}
			if l.cb.OnTranscription != nil {
				l.cb.OnTranscription(fmt.Sprintf("I am listening. (%s)", l.lang.Label()))
			}
		}
	}
}

// toneChunk is a soft 440 Hz PCM16LE tone at the playback rate.
func toneChunk(d time.Duration) []byte {
	n := int(d.Seconds() * audio.PlaybackSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.1 * math.Sin(2*math.Pi*440*float64(i)/audio.PlaybackSampleRate))
	}
	return audio.EncodePCM16LE(samples)
}
