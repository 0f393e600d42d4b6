package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pocketexpense/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testMutation(op core.MutationOp, targetID string) core.PendingMutation {
	return core.PendingMutation{
		LocalID:  core.NewLocalID(),
		Op:       op,
		TargetID: targetID,
		Expense: core.Expense{
			OwnerID:       "user-1",
			ClientID:      "client-1",
			Amount:        core.Money{Cents: 1500},
			Category:      core.CategoryFood,
			PaymentMethod: core.PaymentCash,
			Date:          core.NewDate(2025, 3, 15),
			Note:          "queued lunch",
		},
	}
}

func TestEnqueueListOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testMutation(core.OpCreate, "")
	second := testMutation(core.OpCreate, "")
	third := testMutation(core.OpUpdate, "server-1")

	for _, m := range []core.PendingMutation{first, second, third} {
		if err := store.Enqueue(ctx, m); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 mutations, got %d", len(list))
	}
	if list[0].LocalID != first.LocalID || list[1].LocalID != second.LocalID || list[2].LocalID != third.LocalID {
		t.Error("expected oldest-first ordering")
	}
	if list[2].Op != core.OpUpdate || list[2].TargetID != "server-1" {
		t.Errorf("update mutation lost fields: %+v", list[2])
	}
}

func TestEnqueue_PreservesExpensePayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := testMutation(core.OpCreate, "")
	if err := store.Enqueue(ctx, m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got := list[0].Expense
	if got.Amount.Cents != 1500 {
		t.Errorf("expected 1500 cents, got %d", got.Amount.Cents)
	}
	if got.Category != core.CategoryFood || got.PaymentMethod != core.PaymentCash {
		t.Errorf("category/payment lost: %+v", got)
	}
	if got.ClientID != "client-1" {
		t.Errorf("client id lost: %q", got.ClientID)
	}
	if got.Date.Year() != 2025 || got.Date.Month() != 3 || got.Date.Day() != 15 {
		t.Errorf("date lost: %v", got.Date)
	}
}

func TestEnqueue_RejectsInvalidMutation(t *testing.T) {
	store := newTestStore(t)

	m := testMutation(core.OpUpdate, "") // update without target id
	if err := store.Enqueue(context.Background(), m); !errors.Is(err, core.ErrInvalidOp) {
		t.Errorf("expected ErrInvalidOp, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := testMutation(core.OpCreate, "")
	if err := store.Enqueue(ctx, m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := store.Remove(ctx, m.LocalID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}

	if err := store.Remove(ctx, m.LocalID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Session(ctx); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound before login, got %v", err)
	}

	sess := Session{Token: "tok-1", UserID: "user-1", Email: "a@example.com", Name: "A"}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if got != sess {
		t.Errorf("session round trip changed data: %+v", got)
	}

	// A new login replaces the stored session.
	sess2 := Session{Token: "tok-2", UserID: "user-2", Email: "b@example.com", Name: "B"}
	if err := store.SaveSession(ctx, sess2); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}
	got, err = store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if got != sess2 {
		t.Errorf("expected replaced session, got %+v", got)
	}
}

func TestClear_WipesQueueAndSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testMutation(core.OpCreate, "")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.SaveSession(ctx, Session{Token: "tok", UserID: "u"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty queue after clear, got %d", n)
	}
	if _, err := store.Session(ctx); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}
