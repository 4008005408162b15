package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"mindfulchat/internal/kvstore"
)

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
	sent     [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]func([]byte))}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	b.sent = append(b.sent, payload)
	handlers := append([]func([]byte){}, b.handlers[channel]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

func TestRegistryGetCachesPerClient(t *testing.T) {
	store := kvstore.NewMemory()
	r := NewRegistry(store, nil, RegistryConfig{StorageKey: "mindfulnessChatSessions"})
	ctx := context.Background()

	a1, err := r.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a2, _ := r.Get(ctx, "alice")
	b, _ := r.Get(ctx, "bob")
	if a1 != a2 {
		t.Fatalf("expected cached manager")
	}
	if a1 == b || a1.ActiveSessionID() == b.ActiveSessionID() {
		t.Fatalf("clients must not share sessions")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 managers, got %d", r.Len())
	}
	if _, err := store.Get(ctx, "mindfulnessChatSessions:alice"); err != nil {
		t.Fatalf("client key not persisted: %v", err)
	}
}

func TestRegistryConcurrentGetLoadsOnce(t *testing.T) {
	r := NewRegistry(kvstore.NewMemory(), nil, RegistryConfig{StorageKey: "k"})
	var wg sync.WaitGroup
	managers := make([]*Manager, 8)
	for i := range managers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.Get(context.Background(), "same")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			managers[i] = m
		}(i)
	}
	wg.Wait()
	for _, m := range managers[1:] {
		if m != managers[0] {
			t.Fatalf("concurrent Get built more than one manager")
		}
	}
}

func TestRegistryGetFailureIsNotCached(t *testing.T) {
	r := NewRegistry(brokenStore{}, nil, RegistryConfig{StorageKey: "k"})
	if _, err := r.Get(context.Background(), "alice"); err == nil {
		t.Fatalf("expected load failure")
	}
	if r.Len() != 0 {
		t.Fatalf("failed load must not stay cached")
	}
}

func TestRegistryEvictsIdleClients(t *testing.T) {
	client, started, release := blockingClient()
	r := NewRegistry(kvstore.NewMemory(), client, RegistryConfig{StorageKey: "k", IdleTTL: time.Minute})
	ctx := context.Background()

	idle, _ := r.Get(ctx, "idle")
	busy, _ := r.Get(ctx, "busy")
	watched, _ := r.Get(ctx, "watched")
	_, unsubscribe := watched.Subscribe()
	defer unsubscribe()
	if err := busy.Submit("", "halo"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if n := r.evictIdle(time.Now()); n != 0 {
		t.Fatalf("recently used clients evicted: %d", n)
	}
	if n := r.evictIdle(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected only the idle client evicted, got %d", n)
	}
	if r.cached("idle") != nil || r.cached("busy") == nil || r.cached("watched") == nil {
		t.Fatalf("wrong client evicted")
	}
	_ = idle

	close(release)
	r.Close()
	if busy.Typing(busy.ActiveSessionID()) {
		t.Fatalf("Close returned before the reply reconciled")
	}
}

func TestRegistryInvalidationAcrossInstances(t *testing.T) {
	store := kvstore.NewMemory()
	bus := newFakeBus()
	ctx := context.Background()

	one := NewRegistry(store, nil, RegistryConfig{StorageKey: "k", Bus: bus})
	two := NewRegistry(store, nil, RegistryConfig{StorageKey: "k", Bus: bus})
	if err := one.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := two.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}

	m1, _ := one.Get(ctx, "alice")
	m2, _ := two.Get(ctx, "alice")
	if m1.ActiveSessionID() != m2.ActiveSessionID() {
		t.Fatalf("instances must share persisted state")
	}

	id := m1.CreateSession()
	if m2.ActiveSessionID() != id {
		t.Fatalf("other instance not reloaded after invalidation")
	}
	if len(m2.State().Sessions) != 2 {
		t.Fatalf("other instance missing the new session")
	}

	bus.mu.Lock()
	last := bus.sent[len(bus.sent)-1]
	bus.mu.Unlock()
	var msg invalidateMessage
	if err := json.Unmarshal(last, &msg); err != nil || msg.ClientID != "alice" || msg.Origin != one.origin {
		t.Fatalf("unexpected invalidation %s (%v)", last, err)
	}
}

func TestRegistryListenWithoutBus(t *testing.T) {
	r := NewRegistry(kvstore.NewMemory(), nil, RegistryConfig{})
	if err := r.Listen(context.Background()); err != nil {
		t.Fatalf("listen without bus: %v", err)
	}
	r.Invalidate(context.Background(), "unknown")
}

func TestRegistryGetRespectsContext(t *testing.T) {
	r := NewRegistry(kvstore.NewMemory(), nil, RegistryConfig{StorageKey: "k"})
	e := &registryEntry{ready: make(chan struct{})}
	r.entries["slow"] = e
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Get(ctx, "slow"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

// gatedStore holds the next Get after it has read the value until resumed.
type gatedStore struct {
	*kvstore.Memory
	mu     sync.Mutex
	read   chan struct{}
	resume chan struct{}
}

func (s *gatedStore) holdNextGet() (read, resume chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = make(chan struct{})
	s.resume = make(chan struct{})
	return s.read, s.resume
}

func (s *gatedStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.Memory.Get(ctx, key)
	s.mu.Lock()
	read, resume := s.read, s.resume
	s.read, s.resume = nil, nil
	s.mu.Unlock()
	if read != nil {
		close(read)
		<-resume
	}
	return v, err
}

func TestRegistryInvalidateSkipsClientWithRequestInFlight(t *testing.T) {
	store := kvstore.NewMemory()
	bus := newFakeBus()
	ctx := context.Background()
	client, started, release := blockingClient()

	one := NewRegistry(store, client, RegistryConfig{StorageKey: "k", Bus: bus})
	two := NewRegistry(store, nil, RegistryConfig{StorageKey: "k", Bus: bus})
	if err := one.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := two.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	m1, _ := one.Get(ctx, "alice")
	m2, _ := two.Get(ctx, "alice")
	sid := m1.ActiveSessionID()

	if err := m1.Submit(sid, "halo"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	m2.CreateSession()

	st := m1.State()
	if len(st.Sessions) != 1 || st.ActiveSessionID != sid {
		t.Fatalf("busy client reloaded from another instance: %+v", st)
	}
	if last := st.Sessions[0].Messages[len(st.Sessions[0].Messages)-1]; last.Text != "halo" {
		t.Fatalf("user message lost, last = %q", last.Text)
	}

	close(release)
	m1.Wait()
	s, _ := m1.Session(sid)
	if len(s.Messages) != 3 || s.Messages[1].Text != "halo" || s.Messages[2].Text != "late" {
		t.Fatalf("unexpected history after reply: %d messages", len(s.Messages))
	}
	// the reply persisted last, so the other instance follows it
	if got := len(m2.State().Sessions); got != 1 {
		t.Fatalf("other instance holds %d sessions, want 1", got)
	}
}

func TestRegistryInvalidateDropsReadOverlappingSubmit(t *testing.T) {
	store := &gatedStore{Memory: kvstore.NewMemory()}
	ctx := context.Background()
	client, started, release := blockingClient()
	r := NewRegistry(store, client, RegistryConfig{StorageKey: "k"})
	m, err := r.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sid := m.ActiveSessionID()

	read, resume := store.holdNextGet()
	done := make(chan struct{})
	go func() {
		r.Invalidate(ctx, "alice")
		close(done)
	}()
	<-read
	if err := m.Submit(sid, "halo"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	close(resume)
	<-done
	close(release)
	m.Wait()

	s, _ := m.Session(sid)
	if len(s.Messages) != 3 {
		t.Fatalf("expected greeting, user and reply, got %d messages", len(s.Messages))
	}
	if s.Messages[1].Sender != "user" || s.Messages[1].Text != "halo" || s.Messages[2].Text != "late" {
		t.Fatalf("reply not preceded by its user message: %q then %q", s.Messages[1].Text, s.Messages[2].Text)
	}
	raw, err := store.Memory.Get(ctx, "k:alice")
	if err != nil {
		t.Fatalf("read persisted: %v", err)
	}
	sessions, _, err := decodeSnapshot([]byte(raw))
	if err != nil || len(sessions[0].Messages) != 3 {
		t.Fatalf("persisted history lost the user message (%v)", err)
	}
}

func TestRegistryLoadOutlivesCancelledCaller(t *testing.T) {
	store := &gatedStore{Memory: kvstore.NewMemory()}
	r := NewRegistry(store, nil, RegistryConfig{StorageKey: "k"})
	read, resume := store.holdNextGet()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, "alice")
		first <- err
	}()
	<-read
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v", err)
	}

	second := make(chan error, 1)
	go func() {
		_, err := r.Get(context.Background(), "alice")
		second <- err
	}()
	close(resume)
	if err := <-second; err != nil {
		t.Fatalf("waiter failed because the first caller left: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one cached client, got %d", r.Len())
	}
}
