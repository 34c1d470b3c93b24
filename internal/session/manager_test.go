package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/internal/geo"
	"rollcall/internal/notify"
)

// memStore mimics the Postgres repo, including the guarded rotation write
// and the partial-unique active-session index.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.sessions {
		if other.ClassID == s.ClassID && other.IsActive {
			return ErrActiveSessionExists
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) RotateToken(_ context.Context, id, token string, expiresAt time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive || !time.Now().Before(s.WindowEnd) {
		return "", false, nil
	}
	prev := s.CurrentToken
	s.CurrentToken = token
	s.TokenExpiresAt = expiresAt
	return prev, true, nil
}

func (m *memStore) End(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	now := time.Now()
	s.IsActive = false
	s.EndTime = &now
	return true, nil
}

func (m *memStore) ExpireBefore(_ context.Context, deadline time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.IsActive && s.WindowEnd.Before(deadline) {
			now := time.Now()
			s.IsActive = false
			s.EndTime = &now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) token(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].CurrentToken
}

func (m *memStore) setWindowEnd(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id].WindowEnd = at
}

type captureHub struct {
	mu     sync.Mutex
	events []notify.Event
}

func (h *captureHub) Publish(e notify.Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *captureHub) kinds(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.SessionID == sessionID {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (h *captureHub) countKind(sessionID, kind string) int {
	n := 0
	for _, k := range h.kinds(sessionID) {
		if k == kind {
			n++
		}
	}
	return n
}

func testManager() (*Manager, *memStore, *captureHub) {
	store := newMemStore()
	hub := &captureHub{}
	m := NewManager(store, hub, nil, Config{
		RotateEvery: 5 * time.Millisecond,
		TokenTTL:    50 * time.Millisecond,
		SweepGrace:  time.Minute,
	})
	return m, store, hub
}

func anchor() geo.Location {
	return geo.Location{Latitude: 41.3275, Longitude: 19.8187, AccuracyM: 5}
}

func TestStartIssuesAndRotates(t *testing.T) {
	m, store, hub := testManager()
	defer m.Shutdown()

	s, err := m.Start(context.Background(), "class-1", "pres-1", anchor(), 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.CurrentToken == "" || !s.IsActive {
		t.Fatalf("session not issued properly: %+v", s)
	}
	if got := s.WindowEnd.Sub(s.StartTime); got != 10*time.Minute {
		t.Fatalf("window length %s, want 10m", got)
	}

	first := s.CurrentToken
	waitFor(t, func() bool { return store.token(s.ID) != first }, "credential never rotated")
	waitFor(t, func() bool { return hub.countKind(s.ID, notify.KindCredentialRotated) > 0 },
		"no credential-rotated event published")
}

func TestStartConflictsOnActiveClass(t *testing.T) {
	m, _, _ := testManager()
	defer m.Shutdown()

	if _, err := m.Start(context.Background(), "class-1", "pres-1", anchor(), 10); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := m.Start(context.Background(), "class-1", "pres-2", anchor(), 10); !errors.Is(err, ErrActiveSessionExists) {
		t.Fatalf("err = %v, want ErrActiveSessionExists", err)
	}
	// a different class is unaffected
	if _, err := m.Start(context.Background(), "class-2", "pres-1", anchor(), 10); err != nil {
		t.Fatalf("other class start: %v", err)
	}
}

func TestEndStopsRotationAndIsIdempotent(t *testing.T) {
	m, store, hub := testManager()
	defer m.Shutdown()

	s, err := m.Start(context.Background(), "class-1", "pres-1", anchor(), 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.End(context.Background(), s.ID, "pres-2"); !errors.Is(err, ErrNotPresenter) {
		t.Fatalf("foreign presenter err = %v, want ErrNotPresenter", err)
	}
	if err := m.End(context.Background(), s.ID, "pres-1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	got, err := store.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive || got.EndTime == nil {
		t.Fatalf("session not ended: %+v", got)
	}

	// a tick racing end must not resurrect the token
	frozen := store.token(s.ID)
	time.Sleep(30 * time.Millisecond)
	if store.token(s.ID) != frozen {
		t.Fatal("rotation wrote a token after end")
	}

	if err := m.End(context.Background(), s.ID, "pres-1"); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if n := hub.countKind(s.ID, notify.KindSessionEnded); n != 1 {
		t.Fatalf("session-ended events = %d, want 1", n)
	}
}

func TestRotationStopsWhenWindowCloses(t *testing.T) {
	m, store, hub := testManager()
	defer m.Shutdown()

	s, err := m.Start(context.Background(), "class-1", "pres-1", anchor(), 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	store.setWindowEnd(s.ID, time.Now().Add(-time.Second))

	waitFor(t, func() bool { return hub.countKind(s.ID, notify.KindWindowClosed) > 0 },
		"no window-closed event")
	waitFor(t, func() bool { return m.sched.Active() == 0 }, "rotation task kept running")

	// still active: the window closing is not an end
	got, _ := store.Get(context.Background(), s.ID)
	if !got.IsActive {
		t.Fatal("window close must not deactivate the session")
	}
}

func TestSweepForceEndsOverdueSessions(t *testing.T) {
	m, store, hub := testManager()
	defer m.Shutdown()

	s, err := m.Start(context.Background(), "class-1", "pres-1", anchor(), 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// hard deadline (window end + grace) already passed
	store.setWindowEnd(s.ID, time.Now().Add(-2*time.Minute))

	ids, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 1 || ids[0] != s.ID {
		t.Fatalf("swept %v, want [%s]", ids, s.ID)
	}
	got, _ := store.Get(context.Background(), s.ID)
	if got.IsActive {
		t.Fatal("sweep did not end the session")
	}

	// re-running is a no-op
	ids, err = m.Sweep(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("second sweep = %v, %v, want empty", ids, err)
	}
	if n := hub.countKind(s.ID, notify.KindSessionEnded); n != 1 {
		t.Fatalf("session-ended events = %d, want 1", n)
	}
}

func TestSweepLeavesOpenSessionsAlone(t *testing.T) {
	m, store, _ := testManager()
	defer m.Shutdown()

	s, err := m.Start(context.Background(), "class-1", "pres-1", anchor(), 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// window closed but grace not yet elapsed
	store.setWindowEnd(s.ID, time.Now().Add(-time.Second))

	ids, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("swept %v before the hard deadline", ids)
	}
	got, _ := store.Get(context.Background(), s.ID)
	if !got.IsActive {
		t.Fatal("session ended before its hard deadline")
	}
}
