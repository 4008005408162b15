package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"mindfulchat/internal/assistant"
	"mindfulchat/internal/kvstore"

	"github.com/google/uuid"
)

const (
	invalidateChannel      = "mindfulchat:invalidate"
	defaultEvictInterval   = time.Minute
	defaultClientIdleTTL   = 30 * time.Minute
	invalidateWriteTimeout = 2 * time.Second
	loadTimeout            = 10 * time.Second
)

// Bus carries invalidations between instances sharing one store.
// *redis.Client satisfies it.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) error
}

type invalidateMessage struct {
	ClientID string `json:"client_id"`
	Origin   string `json:"origin"`
}

// RegistryConfig configures the managers a Registry builds.
type RegistryConfig struct {
	StorageKey        string
	MaxResponseLength int
	// RejectWhileTyping makes Submit return ErrBusy for a session that is
	// still waiting for a reply.
	RejectWhileTyping bool
	IdleTTL           time.Duration
	Executor          Executor
	Recorder          Recorder
	Cipher            *SnapshotCipher
	Bus               Bus
}

type registryEntry struct {
	ready   chan struct{}
	manager *Manager
	err     error
}

// Registry keeps one Manager per browser client, loaded on first use.
type Registry struct {
	cfg    RegistryConfig
	store  kvstore.Store
	client assistant.Client
	origin string

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewRegistry(store kvstore.Store, client assistant.Client, cfg RegistryConfig) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultClientIdleTTL
	}
	return &Registry{
		cfg:     cfg,
		store:   store,
		client:  client,
		origin:  uuid.NewString(),
		entries: make(map[string]*registryEntry),
	}
}

// Get returns the manager for clientID, loading its sessions once. ctx bounds
// only this caller's wait; the load itself outlives a cancelled request.
func (r *Registry) Get(ctx context.Context, clientID string) (*Manager, error) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	if !ok {
		e = &registryEntry{ready: make(chan struct{})}
		r.entries[clientID] = e
		go r.load(context.WithoutCancel(ctx), e, clientID)
	}
	r.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	e.manager.touch()
	return e.manager, nil
}

func (r *Registry) load(ctx context.Context, e *registryEntry, clientID string) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	m := NewManager(r.store, r.client, Options{
		Key:               r.storageKey(clientID),
		Owner:             clientID,
		MaxResponseLength: r.cfg.MaxResponseLength,
		RejectWhileTyping: r.cfg.RejectWhileTyping,
		Executor:          r.cfg.Executor,
		Recorder:          r.cfg.Recorder,
		Cipher:            r.cfg.Cipher,
		OnPersist:         func() { r.publishInvalidation(clientID) },
	})
	if err := m.Load(ctx); err != nil {
		e.err = fmt.Errorf("load client %s: %w", clientID, err)
		r.mu.Lock()
		delete(r.entries, clientID)
		r.mu.Unlock()
		close(e.ready)
		return
	}
	e.manager = m
	close(e.ready)
}

func (r *Registry) storageKey(clientID string) string {
	if clientID == "" {
		return r.cfg.StorageKey
	}
	return r.cfg.StorageKey + ":" + clientID
}

// Len reports the number of managers in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Invalidate reloads a cached manager after another instance wrote its
// sessions. Managers with submissions in flight keep their state.
func (r *Registry) Invalidate(ctx context.Context, clientID string) {
	m := r.cached(clientID)
	if m == nil {
		return
	}
	if m.pending.Load() > 0 {
		log.Printf("skip invalidation for %s: request in flight", clientID)
		return
	}
	applied, err := m.reload(ctx)
	if err != nil {
		log.Printf("reload client %s: %v", clientID, err)
		return
	}
	if !applied {
		log.Printf("skip invalidation for %s: changed during reload", clientID)
	}
}

func (r *Registry) cached(clientID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[clientID]
	if !ok {
		return nil
	}
	select {
	case <-e.ready:
		return e.manager
	default:
		return nil
	}
}

// Listen subscribes to invalidations from other instances until ctx ends.
func (r *Registry) Listen(ctx context.Context) error {
	if r.cfg.Bus == nil {
		return nil
	}
	return r.cfg.Bus.Subscribe(ctx, invalidateChannel, func(payload []byte) {
		var msg invalidateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("registry invalidation decode failed: %v", err)
			return
		}
		if msg.Origin == r.origin || msg.ClientID == "" {
			return
		}
		r.Invalidate(ctx, msg.ClientID)
	})
}

func (r *Registry) publishInvalidation(clientID string) {
	if r.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(invalidateMessage{ClientID: clientID, Origin: r.origin})
	if err != nil {
		log.Printf("registry invalidation marshal failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateWriteTimeout)
	defer cancel()
	if err := r.cfg.Bus.Publish(ctx, invalidateChannel, payload); err != nil {
		log.Printf("registry publish invalidation failed: %v", err)
	}
}

// StartEvictor drops idle managers every interval until ctx ends.
func (r *Registry) StartEvictor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultEvictInterval
	}
	go r.evictLoop(ctx, interval)
}

func (r *Registry) evictLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.evictIdle(time.Now()); n > 0 {
				log.Printf("evicted %d idle clients", n)
			}
		}
	}
}

// evictIdle removes managers untouched since now-IdleTTL with nothing in
// flight and no subscribers.
func (r *Registry) evictIdle(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, e := range r.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.manager != nil && e.manager.idleSince(cutoff) {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}

// Close waits for every in-flight submission to reconcile.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.entries))
	for _, e := range r.entries {
		select {
		case <-e.ready:
			if e.manager != nil {
				managers = append(managers, e.manager)
			}
		default:
		}
	}
	r.mu.Unlock()
	for _, m := range managers {
		m.Wait()
	}
}
