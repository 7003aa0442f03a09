package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/sahayak/internal/transcript"
)

func seed(t *testing.T, s Store) {
	t.Helper()
	base := time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		err := s.Save(context.Background(), Record{
			CitizenID: "c1",
			SessionID: "s1",
			Seq:       i + 1,
			Speaker:   "CITIZEN",
			Content:   content,
			Language:  "en",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Save(%q) error = %v", content, err)
		}
	}
}

func contents(records []Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, ",")
}

func TestInMemoryStoreRecentIsChronological(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)

	got, err := s.Recent(context.Background(), "c1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if contents(got) != "two,three" {
		t.Fatalf("Recent() = %q, want two,three", contents(got))
	}
	if got[0].ID == "" {
		t.Fatalf("record ID not assigned")
	}
	if other, _ := s.Recent(context.Background(), "c2", 10); len(other) != 0 {
		t.Fatalf("Recent(c2) returned %d records", len(other))
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	seed(t, s)

	got, err := s.Recent(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if contents(got) != "one,two,three" {
		t.Fatalf("Recent() = %q", contents(got))
	}
	want := time.Date(2026, 1, 26, 10, 0, 2, 0, time.UTC)
	if !got[2].CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v, want %v", got[2].CreatedAt, want)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore(\"\") error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}

	s, err = NewStore(context.Background(), "sqlite::memory:")
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("NewStore(sqlite) = %T, want *SQLiteStore", s)
	}
}

func TestRecorderRedactsBeforeSaving(t *testing.T) {
	store := NewInMemoryStore()
	r := NewRecorder(store, 0, nil)

	entries := []transcript.Entry{
		{Seq: 1, Speaker: transcript.SpeakerCitizen, Text: "my phone is +91 98765 43210"},
		{Seq: 2, Speaker: transcript.SpeakerCitizen, Audio: true},
	}
	for _, e := range entries {
		if !r.Entry("c1", "s1", "hi", e) {
			t.Fatalf("Entry(%d) dropped", e.Seq)
		}
	}
	r.Close()
	if r.Entry("c1", "s1", "hi", entries[0]) {
		t.Fatalf("Entry() after Close accepted")
	}

	got, _ := store.Recent(context.Background(), "c1", 10)
	if len(got) != 2 {
		t.Fatalf("archived %d records, want 2", len(got))
	}
	if !got[0].PIIRedacted || strings.Contains(got[0].Content, "98765") {
		t.Fatalf("record not redacted: %+v", got[0])
	}
	if got[1].Content != transcript.AudioLabel || !got[1].Audio {
		t.Fatalf("audio record = %+v", got[1])
	}
}

type failingStore struct{ *InMemoryStore }

func (*failingStore) Save(context.Context, Record) error { return errors.New("disk full") }

func TestRecorderReportsSaveErrors(t *testing.T) {
	var errs []error
	r := NewRecorder(&failingStore{InMemoryStore: NewInMemoryStore()}, 1, func(err error) { errs = append(errs, err) })
	r.Entry("c1", "s1", "en", transcript.Entry{Seq: 1, Text: "hello"})
	r.Close()
	if len(errs) != 1 {
		t.Fatalf("errors reported = %d, want 1", len(errs))
	}
}
