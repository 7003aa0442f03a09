package events

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	TypeInfo    NotificationType = "INFO"
	TypeSuccess NotificationType = "SUCCESS"
	TypeAlert   NotificationType = "ALERT"
)

const defaultHistoryLimit = 50

var ErrNotificationTitleRequired = errors.New("notification title is required")

// ParseType maps raw input onto a notification type, defaulting to INFO.
func ParseType(raw string) NotificationType {
	switch NotificationType(strings.ToUpper(strings.TrimSpace(raw))) {
	case TypeSuccess:
		return TypeSuccess
	case TypeAlert:
		return TypeAlert
	default:
		return TypeInfo
	}
}

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Link      string           `json:"link,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"is_read"`
}

// GuidanceRequest asks a panel to start a guided voice call.
type GuidanceRequest struct {
	PanelID   string `json:"session_id,omitempty"`
	Title     string `json:"title"`
	Procedure string `json:"procedure"`
}

// Hub carries host-level signals between the portal surface and assistant
// panels. Subscribers run synchronously on the publisher's goroutine; a
// panicking subscriber is logged and skipped.
type Hub struct {
	mu         sync.Mutex
	nextSubID  int
	onOpen     map[int]func()
	onGuidance map[int]func(GuidanceRequest) bool
	onNotify   map[int]func(Notification)

	recent     []Notification
	historyMax int
	now        func() time.Time
}

func NewHub(historyMax int) *Hub {
	if historyMax <= 0 {
		historyMax = defaultHistoryLimit
	}
	return &Hub{
		onOpen:     make(map[int]func()),
		onGuidance: make(map[int]func(GuidanceRequest) bool),
		onNotify:   make(map[int]func(Notification)),
		historyMax: historyMax,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) OnOpenRequested(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	h.onOpen[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.onOpen, id)
	}
}

// OnGuidanceRequested registers fn for guidance triggers. fn reports whether
// it accepted the request; a panel ignores requests addressed to another.
func (h *Hub) OnGuidanceRequested(fn func(GuidanceRequest) bool) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	h.onGuidance[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.onGuidance, id)
	}
}

func (h *Hub) OnNotification(fn func(Notification)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	h.onNotify[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.onNotify, id)
	}
}

// RequestOpen asks every listening panel to open. It returns the number of
// subscribers reached.
func (h *Hub) RequestOpen() int {
	h.mu.Lock()
	subs := make([]func(), 0, len(h.onOpen))
	for _, fn := range h.onOpen {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		safely("open", fn)
	}
	return len(subs)
}

// RequestGuidance returns the number of subscribers that accepted req.
func (h *Hub) RequestGuidance(req GuidanceRequest) int {
	h.mu.Lock()
	subs := make([]func(GuidanceRequest) bool, 0, len(h.onGuidance))
	for _, fn := range h.onGuidance {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	accepted := 0
	for _, fn := range subs {
		safely("guidance", func() {
			if fn(req) {
				accepted++
			}
		})
	}
	return accepted
}

// Notify records a notification in the recent list and fans it out.
func (h *Hub) Notify(title, message string, typ NotificationType) (Notification, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Notification{}, ErrNotificationTitleRequired
	}
	if typ == "" {
		typ = TypeInfo
	}
	n := Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   strings.TrimSpace(message),
		Type:      typ,
		Timestamp: h.now(),
	}

	h.mu.Lock()
	h.recent = append([]Notification{n}, h.recent...)
	if len(h.recent) > h.historyMax {
		h.recent = append([]Notification(nil), h.recent[:h.historyMax]...)
	}
	subs := make([]func(Notification), 0, len(h.onNotify))
	for _, fn := range h.onNotify {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		safely("notification", func() { fn(n) })
	}
	return n, nil
}

// Recent returns notifications newest first.
func (h *Hub) Recent() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.recent))
	copy(out, h.recent)
	return out
}

func (h *Hub) UnreadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, item := range h.recent {
		if !item.Read {
			n++
		}
	}
	return n
}

func (h *Hub) MarkAllRead() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.recent {
		h.recent[i].Read = true
	}
}

func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = nil
}

func safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: %s subscriber panicked: %v", kind, r)
		}
	}()
	fn()
}
