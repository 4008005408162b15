package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mindfulchat/internal/kvstore"
	"mindfulchat/internal/models"
)

const testSnapshotKey = "0123456789abcdef0123456789abcdef"

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	sessions := []*models.Session{
		{ID: "session-a", Name: "Chat 09:30", LastUpdated: now, Messages: []*models.Message{
			{ID: "bot-1", Text: "hi", Sender: models.SenderBot, Timestamp: now, FollowUps: []string{"Q"}, FollowUpAnswers: []string{"A"}},
		}},
		{ID: "session-b", Name: "Chat 09:31", LastUpdated: now, Messages: []*models.Message{
			{ID: "bot-2", Text: "halo", Sender: models.SenderBot, Timestamp: now},
		}},
	}
	data, err := encodeSnapshot(sessions, "session-b")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"recommended_responses_to_follow_up_answers"`) {
		t.Fatalf("wire names missing: %s", data)
	}
	got, active, err := decodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if active != "session-b" || len(got) != 2 || got[0].ID != "session-a" {
		t.Fatalf("unexpected decode: %q %+v", active, got)
	}
	msg := got[0].Messages[0]
	if msg.FollowUpAnswers[0] != "A" || msg.RecommendedResponses == nil {
		t.Fatalf("follow-up data lost: %+v", msg)
	}
	if got[1].Messages[0].FollowUps == nil {
		t.Fatalf("missing arrays must decode as empty")
	}
}

func TestDecodeLegacyArray(t *testing.T) {
	legacy := `[{"id":"1714550000000","name":"Chat 09:30","messages":[{"id":"bot-1","text":"hi","sender":"bot","timestamp":"2024-05-01T09:30:00Z","followUps":[]}],"lastUpdated":"2024-05-01T09:30:00Z"}]`
	sessions, active, err := decodeSnapshot([]byte(legacy))
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if len(sessions) != 1 || active != "1714550000000" {
		t.Fatalf("unexpected legacy decode: %q %+v", active, sessions)
	}
}

func TestDecodeRejectsUnusablePayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"garbage":      "not json at all",
		"empty":        "   ",
		"no sessions":  `{"version":1,"sessions":[]}`,
		"no messages":  `{"version":1,"sessions":[{"id":"s","messages":[]}]}`,
		"future":       `{"version":9,"sessions":[{"id":"s","messages":[{"id":"m"}]}]}`,
		"wrong shape":  `{"version":1,"sessions":"oops"}`,
		"truncated":    `{"version":1,"sessions":[{"id":"s"`,
		"missing id":   `[{"messages":[{"id":"m"}]}]`,
		"null entries": `[null]`,
	} {
		if _, _, err := decodeSnapshot([]byte(payload)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeRepairsActiveAndDuplicates(t *testing.T) {
	payload := `{"version":1,"activeSessionId":"gone","sessions":[
		{"id":"a","messages":[{"id":"m1"}]},
		{"id":"a","messages":[{"id":"m2"}]},
		{"id":"b","messages":[{"id":"m3"}]}]}`
	sessions, active, err := decodeSnapshot([]byte(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if active != "a" || len(sessions) != 2 {
		t.Fatalf("unexpected repair: %q %d", active, len(sessions))
	}
}

func TestLoadCorruptPayloadStartsFresh(t *testing.T) {
	store := kvstore.NewMemory()
	if err := store.Set(context.Background(), testKey, "{definitely not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := NewManager(store, nil, Options{Key: testKey})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load must not surface corruption: %v", err)
	}
	st := m.State()
	if len(st.Sessions) != 1 || len(st.Sessions[0].Messages) != 1 || st.ActiveSessionID != st.Sessions[0].ID {
		t.Fatalf("expected fresh single session, got %+v", st)
	}
	raw, _ := store.Get(context.Background(), testKey)
	if _, _, err := decodeSnapshot([]byte(raw)); err != nil {
		t.Fatalf("fresh state not persisted over corrupt payload: %v", err)
	}
}

func TestLoadRestoresPersistedState(t *testing.T) {
	store := kvstore.NewMemory()
	first := NewManager(store, nil, Options{Key: testKey})
	if err := first.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	second := first.CreateSession()
	if err := first.SelectSession(second); err != nil {
		t.Fatalf("select: %v", err)
	}

	again := NewManager(store, nil, Options{Key: testKey})
	if err := again.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	st := again.State()
	if len(st.Sessions) != 2 || st.ActiveSessionID != second {
		t.Fatalf("state not restored: %+v", st)
	}
}

type brokenStore struct{ kvstore.Store }

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("disk on fire")
}

func TestLoadSurfacesStoreFailure(t *testing.T) {
	m := NewManager(brokenStore{}, nil, Options{Key: testKey})
	if err := m.Load(context.Background()); err == nil {
		t.Fatalf("expected store failure")
	}
}

func TestSnapshotCipher(t *testing.T) {
	c, err := NewSnapshotCipher(testSnapshotKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	sealed, err := c.seal([]byte(`{"version":1}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "version") {
		t.Fatalf("payload not sealed: %s", sealed)
	}
	plain, err := c.open(sealed)
	if err != nil || string(plain) != `{"version":1}` {
		t.Fatalf("open = %q, %v", plain, err)
	}

	// plaintext written before a key was configured still loads
	if plain, err := c.open(`[{"id":"x"}]`); err != nil || string(plain) != `[{"id":"x"}]` {
		t.Fatalf("plaintext passthrough = %q, %v", plain, err)
	}

	var none *SnapshotCipher
	if _, err := none.open(sealed); err == nil {
		t.Fatalf("sealed payload without key must fail")
	}
	other, _ := NewSnapshotCipher(strings.Repeat("k", 32))
	if _, err := other.open(sealed); !errors.Is(err, errInvalidCiphertext) {
		t.Fatalf("wrong key must fail, got %v", err)
	}
	if _, err := NewSnapshotCipher("short"); err == nil {
		t.Fatalf("expected key length error")
	}
}

func TestSnapshotCipherFromEnv(t *testing.T) {
	t.Setenv(SnapshotKeyEnv, "")
	if c, err := NewSnapshotCipherFromEnv(); err != nil || c != nil {
		t.Fatalf("unset key must disable the cipher: %v %v", c, err)
	}
	t.Setenv(SnapshotKeyEnv, testSnapshotKey)
	if c, err := NewSnapshotCipherFromEnv(); err != nil || c == nil {
		t.Fatalf("expected cipher from env: %v", err)
	}
}

func TestManagerPersistsSealedSnapshots(t *testing.T) {
	c, err := NewSnapshotCipher(testSnapshotKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	store := kvstore.NewMemory()
	m := NewManager(store, nil, Options{Key: testKey, Cipher: c})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	raw, _ := store.Get(context.Background(), testKey)
	if !strings.HasPrefix(raw, sealedPrefix) {
		t.Fatalf("snapshot stored in plaintext")
	}
	id := m.ActiveSessionID()

	again := NewManager(store, nil, Options{Key: testKey, Cipher: c})
	if err := again.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ActiveSessionID() != id {
		t.Fatalf("sealed snapshot not restored")
	}

	// a different key cannot read it and falls back to a fresh session
	other, _ := NewSnapshotCipher(strings.Repeat("k", 32))
	third := NewManager(store, nil, Options{Key: testKey, Cipher: other})
	if err := third.Load(context.Background()); err != nil {
		t.Fatalf("load with wrong key: %v", err)
	}
	if third.ActiveSessionID() == id {
		t.Fatalf("expected fresh session with wrong key")
	}
}
