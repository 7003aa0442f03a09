package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/sahayak/internal/assistant"
	"github.com/ent0n29/sahayak/internal/language"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrEnded       = errors.New("session ended")
	ErrNoAssistant = errors.New("session has no assistant attached")
)

// Panel is one opened assistant panel. The conversational state lives in the
// attached assistant.Session; the panel tracks ownership and activity.
type Panel struct {
	ID             string        `json:"session_id"`
	CitizenID      string        `json:"citizen_id"`
	Status         Status        `json:"status"`
	Language       language.Code `json:"language"`
	Interruptions  int           `json:"interruption_count"`
	StartedAt      time.Time     `json:"started_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}

type entry struct {
	panel     Panel
	assistant *assistant.Session
}

type Manager struct {
	mu                sync.RWMutex
	panels            map[string]*entry
	panelByCitizen    map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Panel)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		panels:            make(map[string]*entry),
		panelByCitizen:    make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Panel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new panel. A citizen has at most one active panel; the
// previous one is ended and its assistant closed.
func (m *Manager) Create(citizenID string, lang language.Code) *Panel {
	now := m.now()
	e := &entry{panel: Panel{
		ID:             uuid.NewString(),
		CitizenID:      citizenID,
		Status:         StatusActive,
		Language:       lang,
		StartedAt:      now,
		LastActivityAt: now,
	}}

	var previous *assistant.Session
	m.mu.Lock()
	if citizenID != "" {
		if prevID, ok := m.panelByCitizen[citizenID]; ok {
			if prev, ok := m.panels[prevID]; ok && prev.panel.Status == StatusActive {
				prev.panel.Status = StatusEnded
				prev.panel.LastActivityAt = now
				previous = prev.assistant
				prev.assistant = nil
			}
		}
		m.panelByCitizen[citizenID] = e.panel.ID
	}
	m.panels[e.panel.ID] = e
	out := e.panel
	m.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return &out
}

// Attach binds the assistant session driving the panel.
func (m *Manager) Attach(id string, a *assistant.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.panels[id]
	if !ok {
		return ErrNotFound
	}
	if e.panel.Status != StatusActive {
		return ErrEnded
	}
	e.assistant = a
	return nil
}

// Detach unbinds a if it is still the panel's session. The panel stays
// active so the client may reconnect.
func (m *Manager) Detach(id string, a *assistant.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.panels[id]; ok && e.assistant == a {
		e.assistant = nil
	}
}

// Assistant returns the attached session of an active panel.
func (m *Manager) Assistant(id string) (*assistant.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.panels[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.panel.Status != StatusActive {
		return nil, ErrEnded
	}
	if e.assistant == nil {
		return nil, ErrNoAssistant
	}
	return e.assistant, nil
}

func (m *Manager) Get(id string) (*Panel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.panels[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := e.panel
	return &out, nil
}

// ActiveForCitizen returns the citizen's active panel.
func (m *Manager) ActiveForCitizen(citizenID string) (*Panel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.panelByCitizen[citizenID]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := m.panels[id]
	if !ok || e.panel.Status != StatusActive {
		return nil, ErrNotFound
	}
	out := e.panel
	return &out, nil
}

func (m *Manager) Touch(id string) error {
	return m.update(id, func(p *Panel) {})
}

func (m *Manager) SetLanguage(id string, lang language.Code) error {
	return m.update(id, func(p *Panel) { p.Language = lang })
}

func (m *Manager) RecordInterruption(id string) error {
	return m.update(id, func(p *Panel) { p.Interruptions++ })
}

func (m *Manager) update(id string, fn func(*Panel)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.panels[id]
	if !ok {
		return ErrNotFound
	}
	fn(&e.panel)
	e.panel.LastActivityAt = m.now()
	return nil
}

// End marks the panel ended and closes its assistant session before
// returning.
func (m *Manager) End(id string) (*Panel, error) {
	m.mu.Lock()
	e, ok := m.panels[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	a := m.endLocked(e)
	out := e.panel
	m.mu.Unlock()

	if a != nil {
		a.Close()
	}
	return &out, nil
}

func (m *Manager) endLocked(e *entry) *assistant.Session {
	a := e.assistant
	e.assistant = nil
	if e.panel.Status == StatusEnded {
		return a
	}
	e.panel.Status = StatusEnded
	e.panel.LastActivityAt = m.now()
	if e.panel.CitizenID != "" && m.panelByCitizen[e.panel.CitizenID] == e.panel.ID {
		delete(m.panelByCitizen, e.panel.CitizenID)
	}
	return a
}

// CloseAll ends every active panel. Used on shutdown.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	var closing []*assistant.Session
	n := 0
	for _, e := range m.panels {
		if e.panel.Status != StatusActive {
			continue
		}
		n++
		if a := m.endLocked(e); a != nil {
			closing = append(closing, a)
		}
	}
	m.mu.Unlock()

	for _, a := range closing {
		a.Close()
	}
	return n
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.panels {
		if e.panel.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := m.now()
	var (
		expired []*Panel
		closing []*assistant.Session
	)

	m.mu.Lock()
	for _, e := range m.panels {
		if e.panel.Status != StatusActive {
			continue
		}
		if now.Sub(e.panel.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		if a := m.endLocked(e); a != nil {
			closing = append(closing, a)
		}
		out := e.panel
		expired = append(expired, &out)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, a := range closing {
		a.Close()
	}
	if hook != nil {
		for _, p := range expired {
			hook(p)
		}
	}
}
