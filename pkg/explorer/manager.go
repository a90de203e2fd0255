package explorer

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/cigraph/pkg/graph"
	"github.com/sanonone/cigraph/pkg/metrics"
)

// ErrSessionNotFound is returned for an unknown or evicted session id.
var ErrSessionNotFound = errors.New("explorer session not found")

// ManagerOptions configures session bookkeeping.
type ManagerOptions struct {
	Session       Options       `yaml:"session"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxSessions   int           `yaml:"max_sessions"`
}

func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Session:       DefaultOptions(),
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
		MaxSessions:   256,
	}
}

type entry struct {
	session  *Session
	lastUsed time.Time
}

// Manager tracks open sessions by uuid and evicts idle ones.
type Manager struct {
	querier graph.Querier
	opts    ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*entry

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a manager and starts its eviction loop.
func NewManager(q graph.Querier, opts ManagerOptions) *Manager {
	m := &Manager{
		querier:  q,
		opts:     opts,
		sessions: make(map[string]*entry),
		closed:   make(chan struct{}),
	}
	if opts.IdleTTL > 0 {
		m.wg.Add(1)
		go m.evictLoop()
	}
	return m
}

func (m *Manager) clock() time.Time {
	if m.opts.Session.Clock != nil {
		return m.opts.Session.Clock()
	}
	return time.Now()
}

// Create registers a new empty session. When the manager is full the least
// recently used session is evicted first.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, e := range m.sessions {
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID, oldest = id, e.lastUsed
			}
		}
		delete(m.sessions, oldestID)
		slog.Info("Session evicted to make room", "session", oldestID)
	}

	s := NewSession(uuid.New().String(), m.querier, m.opts.Session)
	m.sessions[s.ID()] = &entry{session: s, lastUsed: m.clock()}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return s
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastUsed = m.clock()
	return e.session, nil
}

// Delete closes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return nil
}

// IDs returns the open session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and refreshes the
// size gauges. It returns the number evicted.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	evicted := 0
	live := make([]*Session, 0, len(m.sessions))
	for id, e := range m.sessions {
		if m.opts.IdleTTL > 0 && now.Sub(e.lastUsed) > m.opts.IdleTTL {
			delete(m.sessions, id)
			evicted++
			slog.Info("Idle session evicted", "session", id, "idle", now.Sub(e.lastUsed).String())
			continue
		}
		live = append(live, e.session)
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	var nodes, conns int
	for _, s := range live {
		n, c := s.Size()
		nodes += n
		conns += c
	}
	metrics.GraphElements.WithLabelValues("nodes").Set(float64(nodes))
	metrics.GraphElements.WithLabelValues("connections").Set(float64(conns))
	return evicted
}

func (m *Manager) evictLoop() {
	defer m.wg.Done()

	interval := m.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
			m.Sweep(m.clock())
		}
	}
}

// Close stops the eviction loop and drops every session.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.wg.Wait()

		m.mu.Lock()
		m.sessions = make(map[string]*entry)
		m.mu.Unlock()
		metrics.ActiveSessions.Set(0)
	})
}
