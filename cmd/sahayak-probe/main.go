// Command sahayak-probe drives synthetic turns through a running server over
// the panel websocket and reports per-turn reply latency.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/protocol"
)

type options struct {
	baseURL        string
	citizenID      string
	language       string
	turns          int
	texts          []string
	wavPath        string
	chunkMS        int
	realtime       float64
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type createSessionRequest struct {
	CitizenID string `json:"citizen_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type voiceClip struct {
	PCM16LE    []byte
	SampleRate int
}

var defaultUtterances = []string{
	"How do I apply for PM-KISAN?",
	"What documents do I need for an income certificate?",
	"How can I track my grievance?",
	"Am I eligible for Ayushman Bharat?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sahayak-probe: %v\n", err)
		os.Exit(2)
	}
	latencies, err := run(context.Background(), cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sahayak-probe: %v\n", err)
		os.Exit(1)
	}
	s := summarize(latencies)
	fmt.Printf("sahayak-probe: turns=%d p50=%s p95=%s max=%s\n", s.count, s.p50, s.p95, s.max)
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("sahayak-probe", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "Sahayak base URL")
	fs.StringVar(&cfg.citizenID, "citizen-id", "probe", "citizen_id used for the synthetic panel")
	fs.StringVar(&cfg.language, "language", "en", "panel language code")
	fs.IntVar(&cfg.turns, "turns", 4, "number of turns to replay")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.StringVar(&cfg.wavPath, "wav", "", "16 kHz WAV file to send as a voice message each turn instead of text")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 40, "voice message chunk size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 4.0, "chunk pacing multiplier (1.0=realtime)")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 35000, "timeout waiting for the assistant reply per turn in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.texts = splitTexts(textsRaw)
	return cfg, nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultUtterances...)
	}
	return out
}

func run(ctx context.Context, cfg options, out io.Writer) ([]time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var clip *voiceClip
	if cfg.wavPath != "" {
		c, err := loadClip(cfg.wavPath)
		if err != nil {
			return nil, fmt.Errorf("load wav: %w", err)
		}
		clip = &c
	}

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	msgs := make(chan wsEnvelope, 256)
	readErr := make(chan error, 1)
	go readLoop(conn, msgs, readErr, cfg.verbose)

	if err := await(msgs, readErr, cfg.turnTimeout, func(m wsEnvelope) bool {
		return m.Type == string(protocol.TypeSessionState) && m.State == "TEXT_IDLE"
	}); err != nil {
		return nil, fmt.Errorf("await session open: %w", err)
	}
	if cfg.verbose {
		fmt.Fprintf(out, "sahayak-probe: session=%s turns=%d mode=%s\n", sessionID, cfg.turns, modeName(clip))
	}

	p := &prober{conn: conn, sessionID: sessionID, msgs: msgs, readErr: readErr, cfg: cfg}
	latencies := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		var (
			took time.Duration
			err  error
		)
		if clip != nil {
			took, err = p.voiceTurn(*clip)
		} else {
			took, err = p.textTurn(cfg.texts[i%len(cfg.texts)])
		}
		if err != nil {
			return latencies, fmt.Errorf("turn %d: %w", i+1, err)
		}
		latencies = append(latencies, took)
		if cfg.verbose {
			fmt.Fprintf(out, "sahayak-probe: turn %d/%d reply in %s\n", i+1, cfg.turns, took.Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return latencies, nil
}

func modeName(clip *voiceClip) string {
	if clip != nil {
		return "voice_message"
	}
	return "text"
}

type prober struct {
	conn      *websocket.Conn
	sessionID string
	msgs      <-chan wsEnvelope
	readErr   <-chan error
	cfg       options
	seq       int
}

func (p *prober) control(action string, text string) error {
	return p.conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: p.sessionID,
		Action:    action,
		Text:      text,
		TSMs:      time.Now().UnixMilli(),
	})
}

func (p *prober) awaitReply(start time.Time) (time.Duration, error) {
	err := await(p.msgs, p.readErr, p.cfg.turnTimeout, func(m wsEnvelope) bool {
		return m.Type == string(protocol.TypeTranscriptEntry) && m.Speaker == "ASSISTANT"
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (p *prober) textTurn(text string) (time.Duration, error) {
	start := time.Now()
	if err := p.control(protocol.ActionSendText, text); err != nil {
		return 0, err
	}
	return p.awaitReply(start)
}

func (p *prober) voiceTurn(clip voiceClip) (time.Duration, error) {
	if err := p.control(protocol.ActionStartRecording, ""); err != nil {
		return 0, err
	}
	if err := await(p.msgs, p.readErr, p.cfg.turnTimeout, func(m wsEnvelope) bool {
		return m.Type == string(protocol.TypeMicrophoneRequested)
	}); err != nil {
		return 0, fmt.Errorf("await microphone_requested: %w", err)
	}
	if err := p.control(protocol.ActionMicrophoneGranted, ""); err != nil {
		return 0, err
	}
	if err := await(p.msgs, p.readErr, p.cfg.turnTimeout, func(m wsEnvelope) bool {
		return m.Type == string(protocol.TypeSessionState) && m.State == "TEXT_RECORDING"
	}); err != nil {
		return 0, fmt.Errorf("await recording: %w", err)
	}
	if err := p.sendAudio(clip); err != nil {
		return 0, fmt.Errorf("send audio: %w", err)
	}
	start := time.Now()
	if err := p.control(protocol.ActionStopRecording, ""); err != nil {
		return 0, err
	}
	return p.awaitReply(start)
}

func (p *prober) sendAudio(clip voiceClip) error {
	bytesPerChunk := clip.SampleRate * 2 * p.cfg.chunkMS / 1000
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}
	pace := time.Duration(float64(time.Duration(p.cfg.chunkMS)*time.Millisecond) / p.cfg.realtime)
	for off := 0; off < len(clip.PCM16LE); off += bytesPerChunk {
		end := off + bytesPerChunk
		if end > len(clip.PCM16LE) {
			end = len(clip.PCM16LE) &^ 1
		}
		if end <= off {
			break
		}
		p.seq++
		err := p.conn.WriteJSON(protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   p.sessionID,
			Seq:         p.seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(clip.PCM16LE[off:end]),
			SampleRate:  clip.SampleRate,
			TSMs:        time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}
		time.Sleep(pace)
	}
	return nil
}

func loadClip(path string) (voiceClip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return voiceClip{}, err
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return voiceClip{}, err
	}
	if rate != audio.CaptureSampleRate {
		return voiceClip{}, fmt.Errorf("wav sample rate %d Hz, want %d Hz", rate, audio.CaptureSampleRate)
	}
	if len(pcm) == 0 {
		return voiceClip{}, errors.New("wav has no samples")
	}
	return voiceClip{PCM16LE: pcm, SampleRate: rate}, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{CitizenID: cfg.citizenID, Language: cfg.language})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/assistant/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/assistant/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/assistant/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, msgs chan<- wsEnvelope, readErr chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == string(protocol.TypeErrorEvent) && verbose {
			fmt.Fprintf(os.Stderr, "sahayak-probe: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
		select {
		case msgs <- env:
		default:
		}
	}
}

func await(msgs <-chan wsEnvelope, readErr <-chan error, timeout time.Duration, match func(wsEnvelope) bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case m := <-msgs:
			if match(m) {
				return nil
			}
		case err := <-readErr:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		}
	}
}

type summary struct {
	count int
	p50   time.Duration
	p95   time.Duration
	max   time.Duration
}

func summarize(latencies []time.Duration) summary {
	if len(latencies) == 0 {
		return summary{}
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	return summary{
		count: len(sorted),
		p50:   pick(0.50),
		p95:   pick(0.95),
		max:   sorted[len(sorted)-1],
	}
}
