package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/sahayak/internal/archive"
	"github.com/ent0n29/sahayak/internal/config"
	"github.com/ent0n29/sahayak/internal/events"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/observability"
	"github.com/ent0n29/sahayak/internal/protocol"
	"github.com/ent0n29/sahayak/internal/session"
	"github.com/ent0n29/sahayak/internal/transcript"
)

type testEnv struct {
	ts       *httptest.Server
	sessions *session.Manager
	hub      *events.Hub
	store    *archive.InMemoryStore
	recorder *archive.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		DefaultLanguage:          language.English,
		GatewayOneShotTimeout:    5 * time.Second,
		RemoteMicGrantTimeout:    2 * time.Second,
	}
	reg := prometheus.NewRegistry()
	env := &testEnv{
		sessions: session.NewManager(cfg.SessionInactivityTimeout),
		hub:      events.NewHub(0),
		store:    archive.NewInMemoryStore(),
	}
	env.recorder = archive.NewRecorder(env.store, 0, nil)
	srv := New(cfg, Dependencies{
		Sessions: env.sessions,
		Gateway:  gateway.NewMock(),
		Hub:      env.hub,
		Metrics:  observability.NewMetricsWith(reg, reg, "test_httpapi"),
		History:  env.store,
		Recorder: env.recorder,
	})
	env.ts = httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		env.ts.Close()
		env.sessions.CloseAll()
		env.recorder.Close()
	})
	return env
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (e *testEnv) createPanel(t *testing.T, citizenID string) string {
	t.Helper()
	res := e.postJSON(t, "/v1/assistant/session", map[string]string{"citizen_id": citizenID})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return id
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// dial connects to the panel and waits for the opening session_state, so
// hub subscriptions are in place once it returns.
func (e *testEnv) dial(t *testing.T, panelID string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/v1/assistant/session/ws?session_id=" + panelID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	c := &wsClient{t: t, conn: conn, id: panelID}
	c.waitFor(func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSessionState) && m["state"] == "TEXT_IDLE"
	})
	return c
}

func (c *wsClient) control(action string, fields map[string]any) {
	c.t.Helper()
	msg := map[string]any{"type": protocol.TypeClientControl, "session_id": c.id, "action": action}
	for k, v := range fields {
		msg[k] = v
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("WriteJSON(%s) error = %v", action, err)
	}
}

func (c *wsClient) waitFor(match func(map[string]any) bool) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = c.conn.SetReadDeadline(deadline)
	for {
		var m map[string]any
		if err := c.conn.ReadJSON(&m); err != nil {
			c.t.Fatalf("ReadJSON() error = %v", err)
		}
		if match(m) {
			return m
		}
	}
}

func isType(t protocol.MessageType) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == string(t) }
}

func TestCreateAndEndSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPanel(t, "citizen-1")

	endRes := env.postJSON(t, "/v1/assistant/session/"+id+"/end", nil)
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	var ended map[string]any
	if err := json.NewDecoder(endRes.Body).Decode(&ended); err != nil {
		t.Fatalf("decode end response: %v", err)
	}
	if ended["status"] != string(session.StatusEnded) {
		t.Fatalf("ended status = %v, want %q", ended["status"], session.StatusEnded)
	}

	unknown := env.postJSON(t, "/v1/assistant/session/nope/end", nil)
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown end status = %d, want %d", unknown.StatusCode, http.StatusNotFound)
	}
}

func TestCreateSessionLanguage(t *testing.T) {
	env := newTestEnv(t)

	res := env.postJSON(t, "/v1/assistant/session", map[string]string{"citizen_id": "c1", "language": "ta"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Language != language.Tamil || created.LanguageLabel != "Tamil" {
		t.Fatalf("created language = %q/%q, want ta/Tamil", created.Language, created.LanguageLabel)
	}
	if created.InactivityTTLMS != (2 * time.Minute).Milliseconds() {
		t.Fatalf("inactivity_ttl_ms = %d", created.InactivityTTLMS)
	}

	bad := env.postJSON(t, "/v1/assistant/session", map[string]string{"language": "klingon"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown language status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestWebsocketRejectsUnknownPanel(t *testing.T) {
	env := newTestEnv(t)
	res, err := http.Get(env.ts.URL + "/v1/assistant/session/ws?session_id=missing")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestWebsocketSendTextArchivesAndExports(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPanel(t, "citizen-7")

	res, err := http.Get(env.ts.URL + "/v1/assistant/session/" + id + "/transcript")
	if err != nil {
		t.Fatalf("GET transcript error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("transcript before connect status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	c := env.dial(t, id)
	res, err = http.Get(env.ts.URL + "/v1/assistant/session/" + id + "/transcript")
	if err != nil {
		t.Fatalf("GET transcript error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("empty transcript status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	c.control(protocol.ActionSendText, map[string]any{"text": "My email is ravi@example.com"})
	c.waitFor(func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeTranscriptEntry) && m["speaker"] == string(transcript.SpeakerAssistant)
	})

	res, err = http.Get(env.ts.URL + "/v1/assistant/session/" + id + "/transcript")
	if err != nil {
		t.Fatalf("GET transcript error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transcript status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	if !strings.Contains(buf.String(), "ravi@example.com") {
		t.Fatalf("export should contain the live transcript, got %q", buf.String())
	}

	env.recorder.Close()
	records, err := env.store.Recent(context.Background(), "citizen-7", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("archived %d records, want 2", len(records))
	}
	if strings.Contains(records[0].Content, "ravi@example.com") || !records[0].PIIRedacted {
		t.Fatalf("archived citizen entry should be redacted: %+v", records[0])
	}

	hist, err := http.Get(env.ts.URL + "/v1/assistant/history?citizen_id=citizen-7&limit=1")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	defer hist.Body.Close()
	var body struct {
		Entries []archive.Record `json:"entries"`
	}
	if err := json.NewDecoder(hist.Body).Decode(&body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Speaker != string(transcript.SpeakerAssistant) {
		t.Fatalf("history = %+v, want the latest assistant entry", body.Entries)
	}
}

func TestWebsocketMicrophoneDenied(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, env.createPanel(t, "c1"))

	c.control(protocol.ActionStartRecording, nil)
	req := c.waitFor(isType(protocol.TypeMicrophoneRequested))
	if rate, _ := req["sample_rate"].(float64); rate <= 0 {
		t.Fatalf("microphone_requested sample_rate = %v", req["sample_rate"])
	}
	c.control(protocol.ActionMicrophoneDenied, nil)

	ev := c.waitFor(isType(protocol.TypeErrorEvent))
	if ev["code"] != "microphone_denied" {
		t.Fatalf("error_event code = %v, want microphone_denied", ev["code"])
	}
}

func TestWebsocketRejectsBadMessages(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, env.createPanel(t, "c1"))

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	ev := c.waitFor(isType(protocol.TypeErrorEvent))
	if ev["code"] != "invalid_client_message" {
		t.Fatalf("error code = %v", ev["code"])
	}

	c.control(protocol.ActionSwitchVoice, nil)
	c.waitFor(isType(protocol.TypeMicrophoneRequested))
	c.control(protocol.ActionMicrophoneUnavailable, nil)
	c.waitFor(func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSessionState) && m["connection_status"] == "ERROR"
	})
	c.control(protocol.ActionSendText, map[string]any{"text": "hello"})
	ev = c.waitFor(isType(protocol.TypeErrorEvent))
	if ev["code"] != "wrong_mode" {
		t.Fatalf("error code = %v, want wrong_mode", ev["code"])
	}
}

func TestGuidanceRoute(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPanel(t, "c1")

	body := map[string]string{"title": "Police Emergency", "procedure": "Dial 100 and share your location."}
	res := env.postJSON(t, "/v1/assistant/session/"+id+"/guidance", body)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("guidance without connection status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	c := env.dial(t, id)
	res = env.postJSON(t, "/v1/assistant/session/"+id+"/guidance", body)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("guidance status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	entry := c.waitFor(isType(protocol.TypeTranscriptEntry))
	if text, _ := entry["text"].(string); !strings.Contains(text, "Police Emergency") {
		t.Fatalf("announcement = %q", text)
	}
	c.waitFor(func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSessionState) && m["guidance_context"] == "Police Emergency"
	})

	missing := env.postJSON(t, "/v1/assistant/session/"+id+"/guidance", map[string]string{"procedure": "x"})
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("guidance without title status = %d, want %d", missing.StatusCode, http.StatusBadRequest)
	}
}

func TestNotificationsFanOutToConnections(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, env.createPanel(t, "c1"))

	res := env.postJSON(t, "/v1/notifications", map[string]string{"title": "Application approved", "message": "Your PM-KISAN application was approved.", "type": "success"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("notify status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	n := c.waitFor(isType(protocol.TypeNotification))
	if n["title"] != "Application approved" || n["kind"] != "SUCCESS" {
		t.Fatalf("notification = %+v", n)
	}

	list, err := http.Get(env.ts.URL + "/v1/notifications")
	if err != nil {
		t.Fatalf("GET notifications error = %v", err)
	}
	defer list.Body.Close()
	var listed struct {
		Notifications []events.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	if err := json.NewDecoder(list.Body).Decode(&listed); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(listed.Notifications) != 1 || listed.Unread != 1 {
		t.Fatalf("listed = %+v", listed)
	}

	bad := env.postJSON(t, "/v1/notifications", map[string]string{"message": "no title"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("notify without title status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestOpenSignalReachesConnections(t *testing.T) {
	env := newTestEnv(t)
	res := env.postJSON(t, "/v1/assistant/open", nil)
	var out map[string]int
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode open response: %v", err)
	}
	if out["delivered"] != 0 {
		t.Fatalf("delivered = %d, want 0", out["delivered"])
	}

	c := env.dial(t, env.createPanel(t, "c1"))
	c.control(protocol.ActionClose, nil)
	c.waitFor(func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSessionState) && m["state"] == "CLOSED"
	})
	res = env.postJSON(t, "/v1/assistant/open", nil)
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode open response: %v", err)
	}
	if out["delivered"] != 1 {
		t.Fatalf("delivered = %d, want 1", out["delivered"])
	}
	c.waitFor(func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSessionState) && m["state"] == "TEXT_IDLE"
	})
}

func TestGatewayUtilityRoutes(t *testing.T) {
	env := newTestEnv(t)

	res := env.postJSON(t, "/v1/assistant/search", map[string]any{
		"query": "farmer income",
		"candidates": []gateway.Candidate{
			{ID: "pm-kisan", Name: "PM-KISAN", Description: "Income support for farmer families"},
			{ID: "nsp", Name: "National Scholarship Portal", Description: "Scholarships for students"},
		},
	})
	var search struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(res.Body).Decode(&search); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(search.IDs) != 1 || search.IDs[0] != "pm-kisan" {
		t.Fatalf("search ids = %v, want [pm-kisan]", search.IDs)
	}

	res = env.postJSON(t, "/v1/assistant/translate", map[string]string{"text": "Apply today", "target_language": "hi"})
	var tr map[string]string
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		t.Fatalf("decode translate: %v", err)
	}
	if tr["text"] != "[Hindi] Apply today" {
		t.Fatalf("translate = %+v", tr)
	}
	bad := env.postJSON(t, "/v1/assistant/translate", map[string]string{"text": "x", "target_language": "zz"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("translate bad language status = %d", bad.StatusCode)
	}

	res = env.postJSON(t, "/v1/assistant/suggest", map[string]string{"profile": "small farmer in Bihar"})
	var sug struct {
		Suggestions []gateway.SchemeSuggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sug); err != nil {
		t.Fatalf("decode suggest: %v", err)
	}
	if len(sug.Suggestions) == 0 || sug.Suggestions[0].SchemeName != "PM-KISAN" {
		t.Fatalf("suggestions = %+v", sug.Suggestions)
	}

	res = env.postJSON(t, "/v1/assistant/eligibility", map[string]any{
		"image_base64": base64.StdEncoding.EncodeToString([]byte("fake-jpeg")),
		"mime_type":    "image/jpeg",
		"scheme_name":  "PM-KISAN",
		"criteria":     []string{"Landholding farmer"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("eligibility status = %d", res.StatusCode)
	}
	noImage := env.postJSON(t, "/v1/assistant/eligibility", map[string]any{"scheme_name": "PM-KISAN"})
	if noImage.StatusCode != http.StatusBadRequest {
		t.Fatalf("eligibility without image status = %d", noImage.StatusCode)
	}
}

func TestHealthAndPerf(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}

	hist, err := http.Get(env.ts.URL + "/v1/assistant/history")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	hist.Body.Close()
	if hist.StatusCode != http.StatusBadRequest {
		t.Fatalf("history without citizen status = %d", hist.StatusCode)
	}
}
