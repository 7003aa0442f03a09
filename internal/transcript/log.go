package transcript

import (
	"sync"
	"time"
)

type Speaker string

const (
	SpeakerCitizen   Speaker = "CITIZEN"
	SpeakerAssistant Speaker = "ASSISTANT"
)

// AudioLabel is rendered in place of content for audio placeholder entries.
const AudioLabel = "Voice Message"

// Entry is one exchanged message. Entries are values; the log never hands out
// a reference into its own storage.
type Entry struct {
	Seq       int       `json:"seq"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Audio     bool      `json:"audio"`
	CreatedAt time.Time `json:"created_at"`
}

// Content is the text shown for the entry.
func (e Entry) Content() string {
	if e.Audio {
		return AudioLabel
	}
	return e.Text
}

// Log is an append-only ordered record of entries, safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// AppendText records a text entry and returns its copy.
func (l *Log) AppendText(speaker Speaker, text string) Entry {
	return l.append(Entry{Speaker: speaker, Text: text})
}

// AppendAudio records an audio placeholder entry.
func (l *Log) AppendAudio(speaker Speaker) Entry {
	return l.append(Entry{Speaker: speaker, Audio: true})
}

func (l *Log) append(e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Seq = len(l.entries) + 1
	e.CreatedAt = l.now()
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a snapshot copy in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
