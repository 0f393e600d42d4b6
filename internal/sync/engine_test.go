package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"pocketexpense/internal/core"
)

type fakeStore struct {
	mu      stdsync.Mutex
	created []core.Expense
	updated []core.Expense
	// err is consulted per call keyed by ClientID (creates) or ID (updates)
	errs    map[string]error
	nextID  int
	barrier chan struct{} // when set, each call waits here
	entered chan struct{} // when set, signaled on entering a call
}

func newFakeStore() *fakeStore {
	return &fakeStore{errs: make(map[string]error)}
}

func (f *fakeStore) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.barrier != nil {
		<-f.barrier
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[e.ClientID]; err != nil {
		return core.Expense{}, err
	}
	// Replay of a known client id returns the existing record.
	for _, existing := range f.created {
		if e.ClientID != "" && existing.ClientID == e.ClientID {
			return existing, nil
		}
	}
	f.nextID++
	e.ID = fmt.Sprintf("server-%d", f.nextID)
	f.created = append(f.created, e)
	return e, nil
}

func (f *fakeStore) UpdateExpense(_ context.Context, id string, e core.Expense) (core.Expense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return core.Expense{}, err
	}
	e.ID = id
	f.updated = append(f.updated, e)
	return e, nil
}

func (f *fakeStore) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type memQueue struct {
	mu      stdsync.Mutex
	entries []core.PendingMutation
}

func (q *memQueue) Enqueue(_ context.Context, m core.PendingMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, m)
	return nil
}

func (q *memQueue) List(_ context.Context) ([]core.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.PendingMutation, len(q.entries))
	copy(out, q.entries)
	return out, nil
}

func (q *memQueue) Remove(_ context.Context, localID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.entries {
		if m.LocalID == localID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("mutation %s: %w", localID, core.ErrNotFound)
}

func (q *memQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	return nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

type staticOracle struct{ reachable bool }

func (o staticOracle) Reachable(context.Context) bool { return o.reachable }

func validExpense() core.Expense {
	return core.Expense{
		OwnerID:       "user-1",
		Amount:        core.Money{Cents: 1000},
		Category:      core.CategoryFood,
		PaymentMethod: core.PaymentCard,
		Date:          core.NewDate(2025, 3, 15),
	}
}

func TestRecord_ReachableWritesRemote(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: true}, nil)

	got, err := engine.Record(context.Background(), validExpense(), core.OpCreate)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if got.ID != "server-1" {
		t.Errorf("expected server id, got %q", got.ID)
	}
	if got.Pending {
		t.Error("synced record must not be pending")
	}
	if got.ClientID == "" {
		t.Error("expected a minted client id")
	}
	if queue.len() != 0 {
		t.Errorf("expected empty queue, got %d entries", queue.len())
	}
}

func TestRecord_UnreachableEnqueues(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	got, err := engine.Record(context.Background(), validExpense(), core.OpCreate)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !core.IsLocalID(got.ID) {
		t.Errorf("expected local id, got %q", got.ID)
	}
	if !got.Pending {
		t.Error("queued record must be pending")
	}
	if store.createCount() != 0 {
		t.Error("no remote write expected while unreachable")
	}
	if queue.len() != 1 {
		t.Fatalf("expected 1 queued entry, got %d", queue.len())
	}
}

func TestRecord_TransientFailureEnqueues(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	oracle := staticOracle{reachable: true}
	engine := NewEngine(store, queue, oracle, nil)

	e := validExpense()
	e.ClientID = "client-down"
	store.errs["client-down"] = fmt.Errorf("post: %w", core.ErrUnavailable)

	got, err := engine.Record(context.Background(), e, core.OpCreate)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !got.Pending {
		t.Error("expected pending record after transient failure")
	}
	if queue.len() != 1 {
		t.Errorf("expected 1 queued entry, got %d", queue.len())
	}
}

func TestRecord_TerminalErrorsPropagateWithoutQueueing(t *testing.T) {
	tests := []struct {
		name    string
		remote  error
		wantErr error
	}{
		{"auth", fmt.Errorf("post: %w", core.ErrUnauthorized), core.ErrUnauthorized},
		{"validation", fmt.Errorf("post: %w", core.ErrInvalidInput), core.ErrInvalidInput},
		{"not found", fmt.Errorf("put: %w", core.ErrNotFound), core.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			queue := &memQueue{}
			engine := NewEngine(store, queue, staticOracle{reachable: true}, nil)

			e := validExpense()
			e.ClientID = "client-x"
			store.errs["client-x"] = tt.remote

			_, err := engine.Record(context.Background(), e, core.OpCreate)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if queue.len() != 0 {
				t.Errorf("terminal failure must not enqueue, got %d entries", queue.len())
			}
		})
	}
}

func TestRecord_InvalidExpenseNeverQueued(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	e := validExpense()
	e.Amount = core.Money{Cents: 0}

	_, err := engine.Record(context.Background(), e, core.OpCreate)
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if queue.len() != 0 {
		t.Error("invalid input must not be queued")
	}
}

func TestRecord_UpdateOfQueuedCreateFoldsIn(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	pending, err := engine.Record(ctx, validExpense(), core.OpCreate)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	edited := pending
	edited.Amount = core.Money{Cents: 2500}
	got, err := engine.Record(ctx, edited, core.OpUpdate)
	if err != nil {
		t.Fatalf("update of pending record failed: %v", err)
	}
	if got.ID != pending.ID || !got.Pending {
		t.Errorf("amended record must keep its local id and stay pending, got %+v", got)
	}
	if queue.len() != 1 {
		t.Fatalf("expected the edit folded into 1 entry, got %d", queue.len())
	}

	entries, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	m := entries[0]
	if m.Op != core.OpCreate {
		t.Errorf("folded entry must stay a create, got %q", m.Op)
	}
	if m.Expense.Amount.Cents != 2500 {
		t.Errorf("expected amended amount 2500, got %d", m.Expense.Amount.Cents)
	}
	if m.Expense.ClientID == "" || m.Expense.ClientID != pending.ClientID {
		t.Errorf("amend must keep the dedup client id, got %q", m.Expense.ClientID)
	}

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Synced != 1 || store.createCount() != 1 {
		t.Errorf("expected one synced record, got %+v (%d created)", result, store.createCount())
	}
	store.mu.Lock()
	synced := store.created[0]
	store.mu.Unlock()
	if synced.Amount.Cents != 2500 {
		t.Errorf("server received stale amount %d", synced.Amount.Cents)
	}
}

func TestRecord_UpdateOfUnknownLocalIDFails(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: true}, nil)

	e := validExpense()
	e.ID = core.NewLocalID()

	_, err := engine.Record(context.Background(), e, core.OpUpdate)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if queue.len() != 0 || store.createCount() != 0 {
		t.Error("unknown local id must touch neither queue nor server")
	}
}

func TestDrain_SyncsOldestFirstAndRemaps(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}

	var remaps [][2]string
	engine := NewEngine(store, queue, staticOracle{reachable: false}, func(localID, serverID string) {
		remaps = append(remaps, [2]string{localID, serverID})
	})

	ctx := context.Background()
	first, _ := engine.Record(ctx, validExpense(), core.OpCreate)
	second, _ := engine.Record(ctx, validExpense(), core.OpCreate)

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Synced != 2 || result.Failed != 0 || result.StillPending != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if queue.len() != 0 {
		t.Errorf("expected drained queue, got %d entries", queue.len())
	}
	if len(remaps) != 2 {
		t.Fatalf("expected 2 remaps, got %d", len(remaps))
	}
	if remaps[0][0] != first.ID || remaps[0][1] != "server-1" {
		t.Errorf("first remap wrong: %v", remaps[0])
	}
	if remaps[1][0] != second.ID || remaps[1][1] != "server-2" {
		t.Errorf("second remap wrong: %v", remaps[1])
	}
}

func TestDrain_AuthFailureAbortsAndPreservesQueue(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	bad := validExpense()
	bad.ClientID = "client-auth"
	store.errs["client-auth"] = fmt.Errorf("post: %w", core.ErrUnauthorized)
	if _, err := engine.Record(ctx, bad, core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	result, err := engine.Drain(ctx)
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if result.Synced != 1 {
		t.Errorf("expected 1 synced before abort, got %d", result.Synced)
	}
	if result.StillPending != 2 {
		t.Errorf("expected failing entry and its successor preserved, got %d", result.StillPending)
	}
	if queue.len() != 2 {
		t.Errorf("expected 2 preserved entries, got %d", queue.len())
	}
}

func TestDrain_ValidationFailureIsTerminalPerRecord(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	bad := validExpense()
	bad.ClientID = "client-invalid"
	store.errs["client-invalid"] = fmt.Errorf("post: %w", core.ErrInvalidInput)
	if _, err := engine.Record(ctx, bad, core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Failed != 1 || result.Synced != 1 || result.StillPending != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if queue.len() != 0 {
		t.Errorf("rejected entry must be dequeued, got %d entries", queue.len())
	}
}

func TestDrain_TransientFailureKeepsEntryAndContinues(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	slow := validExpense()
	slow.ClientID = "client-slow"
	store.errs["client-slow"] = fmt.Errorf("post: %w", core.ErrUnavailable)
	if _, err := engine.Record(ctx, slow, core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Synced != 1 || result.StillPending != 1 || result.Failed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if queue.len() != 1 {
		t.Errorf("expected 1 kept entry, got %d", queue.len())
	}

	// Server recovers; the retry resolves the kept entry.
	store.mu.Lock()
	delete(store.errs, "client-slow")
	store.mu.Unlock()

	result, err = engine.Drain(ctx)
	if err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}
	if result.Synced != 1 || queue.len() != 0 {
		t.Errorf("retry did not resolve entry: %+v, queue %d", result, queue.len())
	}
}

func TestDrain_RepeatedDrainDoesNotDuplicate(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if _, err := engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if _, err := engine.Drain(ctx); err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}

	if store.createCount() != 3 {
		t.Errorf("expected 3 remote records, got %d", store.createCount())
	}
}

func TestDrain_ClientIDSurvivesIntoReplay(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	entries, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	clientID := entries[0].Expense.ClientID
	if clientID == "" {
		t.Fatal("queued mutation must carry the dedup client id")
	}

	// Simulate ack-then-crash: the server already has the record, the queue
	// still holds the entry. Draining must resolve to the same record.
	if _, err := store.CreateExpense(ctx, entries[0].Expense); err != nil {
		t.Fatalf("pre-create failed: %v", err)
	}
	if _, err := engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if store.createCount() != 1 {
		t.Errorf("replay duplicated the record: %d", store.createCount())
	}
}

func TestDrain_ConcurrentCallersSingleFlight(t *testing.T) {
	store := newFakeStore()
	store.barrier = make(chan struct{})
	store.entered = make(chan struct{}, 1)
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	var wg stdsync.WaitGroup
	results := make([]DrainResult, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = engine.Drain(ctx)
	}()

	// Wait until the first drain is blocked inside a remote write, then let
	// the second caller join the in-flight drain.
	<-store.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = engine.Drain(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	close(store.barrier)
	wg.Wait()

	if store.createCount() != 2 {
		t.Errorf("expected 2 remote records, got %d", store.createCount())
	}
	if results[0] != results[1] {
		t.Errorf("concurrent callers should share one result: %+v vs %+v", results[0], results[1])
	}
	if results[0].Synced != 2 {
		t.Errorf("expected 2 synced, got %+v", results[0])
	}
}

func TestTeardown_ClearsQueue(t *testing.T) {
	store := newFakeStore()
	queue := &memQueue{}
	engine := NewEngine(store, queue, staticOracle{reachable: false}, nil)

	ctx := context.Background()
	if _, err := engine.Record(ctx, validExpense(), core.OpCreate); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := engine.Teardown(ctx); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if queue.len() != 0 {
		t.Errorf("expected cleared queue, got %d entries", queue.len())
	}

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain after teardown failed: %v", err)
	}
	if result != (DrainResult{}) {
		t.Errorf("expected empty drain after teardown, got %+v", result)
	}
}
