// Package chat hosts the conversation session manager: the session store,
// the message pipeline and its cancellation controller, for one client.
package chat

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mindfulchat/internal/assistant"
	"mindfulchat/internal/config"
	"mindfulchat/internal/kvstore"
	"mindfulchat/internal/models"
)

var (
	ErrNotFound        = errors.New("chat: session not found")
	ErrEmptyInput      = errors.New("chat: empty input")
	ErrNoActiveSession = errors.New("chat: no active session")
	ErrNoFollowUp      = errors.New("chat: follow-up not found")
	ErrBusy            = errors.New("chat: session is waiting for a reply")
)

// Executor runs the remote dispatch of a submission. worker.Dispatcher
// satisfies it.
type Executor interface {
	Submit(key string, fn func()) error
}

type goExecutor struct{}

func (goExecutor) Submit(_ string, fn func()) error {
	go fn()
	return nil
}

// Recorder receives pipeline measurements.
type Recorder interface {
	Outcome(outcome Outcome)
	RemoteDone(d time.Duration)
	Inflight(delta int)
}

type noopRecorder struct{}

func (noopRecorder) Outcome(Outcome)          {}
func (noopRecorder) RemoteDone(time.Duration) {}
func (noopRecorder) Inflight(int)             {}

// Options configures a Manager.
type Options struct {
	// Key is the durable key the collection is persisted under.
	Key string
	// Owner groups this manager's jobs on the Executor.
	Owner             string
	MaxResponseLength int
	// RejectWhileTyping makes Submit refuse a session that is still typing.
	RejectWhileTyping bool
	Executor          Executor
	Recorder          Recorder
	Cipher            *SnapshotCipher
	// OnPersist runs after every successful write.
	OnPersist func()
	Now       func() time.Time
}

// Manager owns one client's session collection and pipeline.
type Manager struct {
	store     kvstore.Store
	client    assistant.Client
	key       string
	owner     string
	maxLen    int
	exclusive bool
	exec      Executor
	rec       Recorder
	cipher    *SnapshotCipher
	onPersist func()
	now       func() time.Time

	canceller Canceller
	inflight  sync.WaitGroup
	pending   atomic.Int64
	lastUsed  atomic.Int64

	mu       sync.Mutex
	sessions []*models.Session // display order
	activeID string
	version  uint64 // bumped on every persisted mutation
	typing   map[string]int
	subs     map[int]chan Event
	nextSub  int
}

func NewManager(store kvstore.Store, client assistant.Client, opts Options) *Manager {
	if opts.Key == "" {
		opts.Key = config.DefaultStorageKey
	}
	if opts.MaxResponseLength <= 0 {
		opts.MaxResponseLength = config.DefaultMaxResponseLength
	}
	if opts.Executor == nil {
		opts.Executor = goExecutor{}
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		store:     store,
		client:    client,
		key:       opts.Key,
		owner:     opts.Owner,
		maxLen:    opts.MaxResponseLength,
		exclusive: opts.RejectWhileTyping,
		exec:      opts.Executor,
		rec:       opts.Recorder,
		cipher:    opts.Cipher,
		onPersist: opts.OnPersist,
		now:       opts.Now,
		typing:    make(map[string]int),
		subs:      make(map[int]chan Event),
	}
	m.touch()
	return m
}

// State is a deep copy of the observable state.
type State struct {
	Sessions        []*models.Session `json:"sessions"`
	ActiveSessionID string            `json:"activeSessionId"`
	Typing          []string          `json:"typing"`
}

func (m *Manager) State() *State {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() *State {
	st := &State{
		Sessions:        make([]*models.Session, len(m.sessions)),
		ActiveSessionID: m.activeID,
		Typing:          make([]string, 0, len(m.typing)),
	}
	for i, s := range m.sessions {
		st.Sessions[i] = s.Clone()
	}
	for id, n := range m.typing {
		if n > 0 {
			st.Typing = append(st.Typing, id)
		}
	}
	sort.Strings(st.Typing)
	return st
}

// Typing reports whether sessionID has a submission in flight.
func (m *Manager) Typing(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing[sessionID] > 0
}

// Wait blocks until every dispatched submission has reconciled.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) touch() {
	m.lastUsed.Store(m.now().UnixNano())
}

// idleSince reports whether the manager can be dropped from memory.
func (m *Manager) idleSince(cutoff time.Time) bool {
	if m.pending.Load() > 0 {
		return false
	}
	m.mu.Lock()
	subs := len(m.subs)
	m.mu.Unlock()
	return subs == 0 && time.Unix(0, m.lastUsed.Load()).Before(cutoff)
}
