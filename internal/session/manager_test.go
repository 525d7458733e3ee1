package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("", "abc123", "primary")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ConversationID != "abc123" || got.Provider != "primary" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if _, err := m.End("missing"); err != ErrNotFound {
		t.Fatalf("End(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerCreateKeepsGivenID(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("sess_1", "", "fallback")
	if s.ID != "sess_1" {
		t.Fatalf("ID = %q, want sess_1", s.ID)
	}
}

func TestManagerRelayHoldsSessionOpen(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("", "abc123", "primary")

	detach, err := m.AttachRelay(s.ID)
	if err != nil {
		t.Fatalf("AttachRelay() error = %v", err)
	}

	var mu sync.Mutex
	var expired []string
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.ID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	got, _ := m.Get(s.ID)
	if got.Status != StatusActive {
		t.Fatalf("Status = %q while relay attached, want active", got.Status)
	}

	detach()
	detach()
	time.Sleep(90 * time.Millisecond)
	got, _ = m.Get(s.ID)
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q after detach, want ended", got.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != s.ID {
		t.Fatalf("expired = %v, want [%s]", expired, s.ID)
	}
}

func TestManagerForgetsEndedSessions(t *testing.T) {
	m := NewManager(time.Minute)
	m.SetEndedRetention(time.Millisecond)
	s := m.Create("", "", "primary")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	m.expireInactive()
	if _, err := m.Get(s.ID); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := m.AttachRelay(s.ID); err != ErrNotFound {
		t.Fatalf("AttachRelay() error = %v, want ErrNotFound", err)
	}
}
