package archive

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/sahayak/internal/policy"
	"github.com/ent0n29/sahayak/internal/transcript"
)

const (
	saveTimeout          = 2 * time.Second
	defaultRecorderQueue = 256
)

// Recorder archives transcript entries best-effort. Entries are redacted and
// queued; a full queue drops the entry rather than blocking the session.
type Recorder struct {
	store   Store
	queue   chan Record
	onError func(error)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewRecorder(store Store, queueSize int, onError func(error)) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultRecorderQueue
	}
	r := &Recorder{
		store:   store,
		queue:   make(chan Record, queueSize),
		onError: onError,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Entry queues e for archiving. It reports false when the entry was dropped.
func (r *Recorder) Entry(citizenID, sessionID, lang string, e transcript.Entry) bool {
	content, changed := policy.RedactPII(e.Content())
	rec := Record{
		CitizenID:   citizenID,
		SessionID:   sessionID,
		Seq:         e.Seq,
		Speaker:     string(e.Speaker),
		Content:     content,
		Audio:       e.Audio,
		Language:    lang,
		PIIRedacted: changed,
		CreatedAt:   e.CreatedAt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- rec:
		return true
	default:
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := r.store.Save(ctx, rec)
		cancel()
		if err != nil && r.onError != nil {
			r.onError(err)
		}
	}
}

// Close drains queued entries and stops the worker. The store stays open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}
