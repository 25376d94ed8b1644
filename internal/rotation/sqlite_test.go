package rotation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rsclarke/swapgate/internal/db"
	"github.com/rsclarke/swapgate/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "rotation.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewSQLiteStore(database)
}

func addCredential(t *testing.T, s *SQLiteStore, id, token string, usage float64) {
	t.Helper()
	c := &models.Credential{ID: id, Token: token, UsagePercent: &usage}
	if err := s.AddCredential(context.Background(), c); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func TestActiveElectsLowestUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addCredential(t, s, "account-busy", "tok-busy", 90)
	addCredential(t, s, "account-idle", "tok-idle", 5)

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active == nil || active.ID != "account-idle" {
		t.Fatalf("active = %+v, want account-idle", active)
	}

	state, err := s.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ActiveID != "account-idle" {
		t.Errorf("state active = %q, want account-idle", state.ActiveID)
	}
	if len(state.Credentials) != 2 {
		t.Errorf("state has %d credentials, want 2", len(state.Credentials))
	}
}

func TestActiveEmptyStore(t *testing.T) {
	s := newTestStore(t)
	active, err := s.Active(context.Background())
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Errorf("active = %+v, want nil", active)
	}
}

func TestActiveSkipsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute).Unix()
	stale := &models.Credential{ID: "account-stale", Token: "tok-stale", ExpiresAt: &past}
	if err := s.AddCredential(ctx, stale); err != nil {
		t.Fatalf("add: %v", err)
	}
	addCredential(t, s, "account-fresh", "tok-fresh", 50)

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active == nil || active.ID != "account-fresh" {
		t.Fatalf("active = %+v, want account-fresh", active)
	}

	state, err := s.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got := state.Credentials["account-stale"].Status; got != models.StatusExpired {
		t.Errorf("stale status = %q, want expired", got)
	}
}

func TestMarkExhaustedAndSelectNext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addCredential(t, s, "account-a", "tok-a", 0)
	addCredential(t, s, "account-b", "tok-b", 10)

	active, err := s.Active(ctx)
	if err != nil || active == nil {
		t.Fatalf("Active: %v %v", active, err)
	}
	if err := s.MarkExhausted(ctx, active.ID); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}
	next, err := s.SelectNext(ctx, active.ID)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if next == nil || next.ID != "account-b" {
		t.Fatalf("next = %+v, want account-b", next)
	}

	if err := s.MarkExhausted(ctx, next.ID); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}
	none, err := s.SelectNext(ctx, next.ID)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if none != nil {
		t.Errorf("expected no eligible credential, got %+v", none)
	}

	state, err := s.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ActiveID != "" {
		t.Errorf("active id = %q, want cleared", state.ActiveID)
	}
}

func TestSelectNextKeepsConcurrentRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addCredential(t, s, "account-a", "tok-a", 0)
	addCredential(t, s, "account-b", "tok-b", 10)
	addCredential(t, s, "account-c", "tok-c", 20)

	if _, err := s.Active(ctx); err != nil {
		t.Fatalf("Active: %v", err)
	}
	if err := s.MarkExhausted(ctx, "account-a"); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, err := s.SelectNext(ctx, "account-a")
			if err != nil {
				t.Errorf("SelectNext: %v", err)
				return
			}
			if next != nil {
				results[i] = next.ID
			}
		}(i)
	}
	wg.Wait()

	for i, id := range results {
		if id != "account-b" {
			t.Errorf("result %d = %q, want account-b", i, id)
		}
	}
}

func TestMarkExhaustedUnknown(t *testing.T) {
	s := newTestStore(t)
	err := s.MarkExhausted(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddCredentialDuplicateToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addCredential(t, s, "account-a", "same-token", 0)

	err := s.AddCredential(ctx, &models.Credential{ID: "account-b", Token: "same-token"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestAddCredentialGeneratesID(t *testing.T) {
	s := newTestStore(t)
	c := &models.Credential{Token: "tok"}
	if err := s.AddCredential(context.Background(), c); err != nil {
		t.Fatalf("AddCredential: %v", err)
	}
	if len(c.ID) != idLength {
		t.Errorf("id length = %d, want %d", len(c.ID), idLength)
	}
	if c.Fingerprint == "" {
		t.Error("fingerprint not set")
	}
}

func TestResetAndRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addCredential(t, s, "account-a", "tok-a", 0)

	if err := s.MarkExhausted(ctx, "account-a"); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}
	if active, _ := s.Active(ctx); active != nil {
		t.Fatalf("exhausted credential elected: %+v", active)
	}
	if err := s.ResetCredential(ctx, "account-a"); err != nil {
		t.Fatalf("ResetCredential: %v", err)
	}
	active, err := s.Active(ctx)
	if err != nil || active == nil || active.ID != "account-a" {
		t.Fatalf("Active after reset = %+v, %v", active, err)
	}

	if err := s.RemoveCredential(ctx, "account-a"); err != nil {
		t.Fatalf("RemoveCredential: %v", err)
	}
	if err := s.RemoveCredential(ctx, "account-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}

	events, err := s.AuditEvents(ctx, 10)
	if err != nil {
		t.Fatalf("AuditEvents: %v", err)
	}
	if len(events) == 0 || events[0].Kind != EventRemoved {
		t.Errorf("latest audit event = %+v, want %s", events, EventRemoved)
	}
}

func TestRecordUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addCredential(t, s, "account-a", "tok-a", 0)

	if err := s.RecordUsage(ctx, "account-a", 42.5); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	creds, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(creds) != 1 || creds[0].UsagePercent == nil || *creds[0].UsagePercent != 42.5 {
		t.Errorf("usage not recorded: %+v", creds)
	}
}

func TestGenerateIDUniqueness(t *testing.T) {
	const n = 100
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("GenerateID failed: %v", err)
		}
		if ids[id] {
			t.Errorf("duplicate id generated: %s", id)
		}
		ids[id] = true
	}
}
