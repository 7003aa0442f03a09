package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/sahayak/internal/assistant"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/language"
)

func newConsoleSession(t *testing.T, out *bytes.Buffer) *assistant.Session {
	t.Helper()
	sess := assistant.New(assistant.Config{
		Gateway:  gateway.NewMock(),
		Location: time.UTC,
		Hooks:    consoleHooks(out),
	})
	sess.Open()
	t.Cleanup(sess.Close)
	return sess
}

func TestHandleLineCommands(t *testing.T) {
	var out bytes.Buffer
	sess := newConsoleSession(t, &out)

	if quit, err := handleLine(sess, "/lang HI", &out, time.UTC); quit || err != nil {
		t.Fatalf("handleLine(/lang) = %v, %v", quit, err)
	}
	if got := sess.Snapshot().Language; got != language.Hindi {
		t.Fatalf("language = %q, want %q", got, language.Hindi)
	}
	if _, err := handleLine(sess, "/lang klingon", &out, time.UTC); err == nil {
		t.Fatalf("handleLine(/lang klingon) error = nil")
	}
	if _, err := handleLine(sess, "/guide Renew licence | Upload the form", &out, time.UTC); err != nil {
		t.Fatalf("handleLine(/guide) error = %v", err)
	}
	if sess.Snapshot().GuidanceContext == "" {
		t.Fatalf("guidance context not set")
	}
	if _, err := handleLine(sess, "/dismiss", &out, time.UTC); err != nil {
		t.Fatalf("handleLine(/dismiss) error = %v", err)
	}
	if sess.Snapshot().GuidanceContext != "" {
		t.Fatalf("guidance context not cleared")
	}
	if _, err := handleLine(sess, "/stop", &out, time.UTC); err == nil {
		t.Fatalf("handleLine(/stop) without recording error = nil")
	}
	if _, err := handleLine(sess, "/bogus", &out, time.UTC); err == nil {
		t.Fatalf("handleLine(/bogus) error = nil")
	}
	if quit, _ := handleLine(sess, "/quit", &out, time.UTC); !quit {
		t.Fatalf("handleLine(/quit) did not quit")
	}
}

func TestHandleLineSendsTextAndExports(t *testing.T) {
	var out bytes.Buffer
	sess := newConsoleSession(t, &out)

	if _, err := handleLine(sess, "how do I apply for a ration card?", &out, time.UTC); err != nil {
		t.Fatalf("handleLine(text) error = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(sess.Transcript()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no reply after 3s; transcript = %+v", sess.Transcript())
		}
		time.Sleep(10 * time.Millisecond)
	}

	dir := t.TempDir()
	path, err := exportTranscript(sess, dir, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("exportTranscript() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "ration card") {
		t.Fatalf("export missing user message:\n%s", data)
	}
}

func TestExportRefusesEmptyTranscript(t *testing.T) {
	var out bytes.Buffer
	sess := newConsoleSession(t, &out)
	if _, err := exportTranscript(sess, t.TempDir(), time.Now()); err == nil {
		t.Fatalf("exportTranscript() on empty transcript error = nil")
	}
}
