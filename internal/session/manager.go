package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyActive = errors.New("session already active")
)

// Snapshot is a point-in-time view of one live call session.
type Snapshot struct {
	CallID        string    `json:"call_id"`
	Status        Status    `json:"status"`
	State         string    `json:"state"`
	StreamSID     string    `json:"stream_sid,omitempty"`
	BufferedBytes int       `json:"buffered_bytes"`
	InFlight      bool      `json:"in_flight"`
	Runs          int       `json:"runs"`
	TurnCount     int       `json:"turn_count"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
}

// Snapshotter is implemented by whatever drives a live session.
type Snapshotter interface {
	Snapshot() Snapshot
}

type entry struct {
	callID    string
	status    Status
	startedAt time.Time
	endedAt   time.Time
	source    Snapshotter
	final     Snapshot
}

// Manager is the registry of live call sessions. It guarantees at most one
// active session per call id and keeps ended sessions visible for a while.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	retention time.Duration
	onChange  func(active int)
}

func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Manager{
		sessions:  make(map[string]*entry),
		retention: retention,
	}
}

// SetActiveHook is called with the active count after every change.
func (m *Manager) SetActiveHook(hook func(active int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = hook
}

// Register claims callID for a new session.
func (m *Manager) Register(callID string, src Snapshotter) error {
	m.mu.Lock()
	if e, ok := m.sessions[callID]; ok && e.status == StatusActive {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.sessions[callID] = &entry{
		callID:    callID,
		status:    StatusActive,
		startedAt: time.Now().UTC(),
		source:    src,
	}
	active, hook := m.activeLocked(), m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(active)
	}
	return nil
}

// End marks the session ended and freezes its final snapshot.
func (m *Manager) End(callID string) (Snapshot, error) {
	m.mu.Lock()
	e, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	if e.status == StatusActive {
		e.status = StatusEnded
		e.endedAt = time.Now().UTC()
		e.final = e.snapshot()
		e.source = nil
	}
	snap := e.final
	active, hook := m.activeLocked(), m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(active)
	}
	return snap, nil
}

func (m *Manager) Get(callID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[callID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if e.status == StatusEnded {
		return e.final, nil
	}
	return e.snapshot(), nil
}

// List returns all known sessions, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, e := range m.sessions {
		if e.status == StatusEnded {
			out = append(out, e.final)
		} else {
			out = append(out, e.snapshot())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.purgeEnded(time.Now().UTC())
			}
		}
	}()
}

func (m *Manager) purgeEnded(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, e := range m.sessions {
		if e.status == StatusEnded && now.Sub(e.endedAt) >= m.retention {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, e := range m.sessions {
		if e.status == StatusActive {
			n++
		}
	}
	return n
}

func (e *entry) snapshot() Snapshot {
	var snap Snapshot
	if e.source != nil {
		snap = e.source.Snapshot()
	}
	snap.CallID = e.callID
	snap.Status = e.status
	snap.StartedAt = e.startedAt
	snap.EndedAt = e.endedAt
	return snap
}
