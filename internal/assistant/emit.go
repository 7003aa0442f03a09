package assistant

import (
	"log"
	"time"

	"github.com/ent0n29/sahayak/internal/transcript"
)

type eventKind int

const (
	eventState eventKind = iota
	eventEntry
	eventNotice
	eventInterrupted
	eventReply
)

type event struct {
	kind    eventKind
	snap    Snapshot
	entry   transcript.Entry
	notice  Notice
	stopped int
	op      string
	latency time.Duration
	err     error
}

// flush delivers queued events to the hooks in queue order. Only one
// goroutine dispatches at a time; a caller that finds the dispatcher busy
// leaves its events to it. flush must not run under s.ops, or a hook that
// calls an operation would wait on itself.
func (s *Session) flush() {
	for {
		if !s.emitMu.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			batch := s.outbox
			s.outbox = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				s.dispatch(ev)
			}
		}
		s.emitMu.Unlock()

		s.mu.Lock()
		more := len(s.outbox) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

// unlockOps ends an operation: it releases s.ops, then delivers what the
// operation queued.
func (s *Session) unlockOps() {
	s.ops.Unlock()
	s.flush()
}

func (s *Session) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("assistant: hook panicked: %v", r)
		}
	}()
	h := s.hooks
	switch ev.kind {
	case eventState:
		if h.OnState != nil {
			h.OnState(ev.snap)
		}
	case eventEntry:
		if h.OnEntry != nil {
			h.OnEntry(ev.entry)
		}
	case eventNotice:
		if h.OnNotice != nil {
			h.OnNotice(ev.notice)
		}
	case eventInterrupted:
		if h.OnInterrupted != nil {
			h.OnInterrupted(ev.stopped)
		}
	case eventReply:
		if h.OnGatewayReply != nil {
			h.OnGatewayReply(ev.op, ev.latency, ev.err)
		}
	}
}
