// Package sync keeps device-recorded expense mutations and the server in
// agreement: writes go straight to the server while it is reachable and fall
// back to a durable pending queue that is drained on reconnect.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"pocketexpense/internal/core"
)

// RecordStore is the remote write surface the engine syncs against.
// Implemented by apiclient.Client.
type RecordStore interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	UpdateExpense(ctx context.Context, id string, e core.Expense) (core.Expense, error)
}

// Queue is the durable pending-mutation storage. Implemented by
// localstore.Store.
type Queue interface {
	Enqueue(ctx context.Context, m core.PendingMutation) error
	List(ctx context.Context) ([]core.PendingMutation, error)
	Remove(ctx context.Context, localID string) error
	Clear(ctx context.Context) error
}

// Oracle reports current network reachability.
type Oracle interface {
	Reachable(ctx context.Context) bool
}

// DrainResult reports what one queue drain accomplished, so the host can
// decide whether derived views need refreshing.
type DrainResult struct {
	Synced       int // acknowledged by the server and dequeued
	Failed       int // terminally rejected (validation, not-found) and dequeued
	StillPending int // left queued for the next drain
}

// Remap announces that a locally-identified record received its server
// identity, so in-memory views can swap ids.
type Remap func(localID, serverID string)

type Engine struct {
	store  RecordStore
	queue  Queue
	oracle Oracle
	remap  Remap

	// mu serializes queue read-modify-write sections against re-entrant
	// triggers; network calls happen outside it.
	mu    sync.Mutex
	group singleflight.Group
}

func NewEngine(store RecordStore, queue Queue, oracle Oracle, remap Remap) *Engine {
	if remap == nil {
		remap = func(string, string) {}
	}
	return &Engine{store: store, queue: queue, oracle: oracle, remap: remap}
}

// Record applies one expense mutation. While the server is reachable the
// write goes out immediately; a transient failure or unreachability enqueues
// the mutation instead and returns the expense marked pending under a local
// id. Validation, ownership and authentication failures propagate without
// queueing: retrying them unchanged can never succeed.
func (e *Engine) Record(ctx context.Context, expense core.Expense, op core.MutationOp) (core.Expense, error) {
	if op != core.OpCreate && op != core.OpUpdate {
		return core.Expense{}, core.ErrInvalidOp
	}
	if op == core.OpUpdate && expense.ID == "" {
		return core.Expense{}, core.ErrInvalidOp
	}
	if err := expense.Validate(); err != nil {
		return core.Expense{}, err
	}

	// The dedup key is minted once, before the first attempt, so every
	// retry of this mutation resolves to the same server record.
	if op == core.OpCreate && expense.ClientID == "" {
		expense.ClientID = uuid.NewString()
	}

	// An update aimed at a record that exists only in the queue folds into
	// its queued create; the server has never seen this id, so a remote
	// update could only fail.
	if op == core.OpUpdate && core.IsLocalID(expense.ID) {
		return e.amendQueued(ctx, expense)
	}

	if e.oracle.Reachable(ctx) {
		synced, err := e.writeRemote(ctx, expense, op, expense.ID)
		if err == nil {
			return synced, nil
		}
		if !errors.Is(err, core.ErrUnavailable) {
			return core.Expense{}, err
		}
		slog.WarnContext(ctx, "Remote write failed, queueing mutation", "error", err, "op", string(op))
	}

	return e.enqueue(ctx, expense, op)
}

func (e *Engine) writeRemote(ctx context.Context, expense core.Expense, op core.MutationOp, targetID string) (core.Expense, error) {
	if op == core.OpCreate {
		return e.store.CreateExpense(ctx, expense)
	}
	return e.store.UpdateExpense(ctx, targetID, expense)
}

func (e *Engine) enqueue(ctx context.Context, expense core.Expense, op core.MutationOp) (core.Expense, error) {
	m := core.PendingMutation{
		LocalID: core.NewLocalID(),
		Op:      op,
		Expense: expense,
	}
	if op == core.OpUpdate {
		m.TargetID = expense.ID
	}

	e.mu.Lock()
	err := e.queue.Enqueue(ctx, m)
	e.mu.Unlock()
	if err != nil {
		return core.Expense{}, fmt.Errorf("enqueue mutation: %w", err)
	}

	pending := expense
	pending.ID = m.LocalID
	pending.Pending = true
	return pending, nil
}

// amendQueued replaces the payload of the queued create identified by a
// local id. The original ClientID and position metadata are kept so the
// eventual sync still resolves to a single server record.
func (e *Engine) amendQueued(ctx context.Context, expense core.Expense) (core.Expense, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.queue.List(ctx)
	if err != nil {
		return core.Expense{}, fmt.Errorf("list pending mutations: %w", err)
	}

	for _, m := range entries {
		if m.LocalID != expense.ID || m.Op != core.OpCreate {
			continue
		}

		merged := expense
		merged.ID = ""
		merged.ClientID = m.Expense.ClientID
		if err := e.queue.Remove(ctx, m.LocalID); err != nil {
			return core.Expense{}, fmt.Errorf("amend mutation %s: %w", m.LocalID, err)
		}
		if err := e.queue.Enqueue(ctx, core.PendingMutation{
			LocalID:   m.LocalID,
			Op:        core.OpCreate,
			Expense:   merged,
			CreatedAt: m.CreatedAt,
		}); err != nil {
			return core.Expense{}, fmt.Errorf("amend mutation %s: %w", m.LocalID, err)
		}
		slog.InfoContext(ctx, "Amended queued mutation", "local_id", m.LocalID)

		pending := merged
		pending.ID = m.LocalID
		pending.Pending = true
		return pending, nil
	}

	return core.Expense{}, fmt.Errorf("pending expense %s: %w", expense.ID, core.ErrNotFound)
}

// Drain pushes queued mutations to the server, oldest first. Concurrent
// callers share a single in-flight drain. Per entry: success dequeues it and
// publishes the id remap; a validation or not-found rejection dequeues it as
// failed; a transient failure keeps it queued and moves on. An authentication
// failure aborts the rest of the drain with every unresolved entry preserved
// (including the failing one) so a re-login can retry them, and is returned
// as the error alongside the partial result.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	v, err, _ := e.group.Do("drain", func() (any, error) {
		return e.drain(ctx)
	})
	result, _ := v.(DrainResult)
	return result, err
}

func (e *Engine) drain(ctx context.Context) (DrainResult, error) {
	e.mu.Lock()
	entries, err := e.queue.List(ctx)
	e.mu.Unlock()
	if err != nil {
		return DrainResult{}, fmt.Errorf("list pending mutations: %w", err)
	}

	var result DrainResult
	for i, m := range entries {
		synced, err := e.writeRemote(ctx, m.Expense, m.Op, m.TargetID)
		switch {
		case err == nil:
			if removeErr := e.dequeue(ctx, m.LocalID); removeErr != nil {
				// Entry vanished under us (teardown); stop quietly.
				slog.WarnContext(ctx, "Dequeue after sync failed", "error", removeErr, "local_id", m.LocalID)
				result.StillPending = len(entries) - i - 1
				return result, nil
			}
			result.Synced++
			if m.Op == core.OpCreate {
				e.remap(m.LocalID, synced.ID)
			}
			slog.InfoContext(ctx, "Mutation synced",
				"local_id", m.LocalID,
				"server_id", synced.ID,
				"op", string(m.Op))

		case errors.Is(err, core.ErrUnauthorized):
			result.StillPending = len(entries) - i
			slog.WarnContext(ctx, "Drain aborted on authentication failure",
				"synced", result.Synced,
				"still_pending", result.StillPending)
			return result, fmt.Errorf("drain aborted: %w", err)

		case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrNotFound):
			if removeErr := e.dequeue(ctx, m.LocalID); removeErr != nil {
				slog.WarnContext(ctx, "Dequeue of rejected mutation failed", "error", removeErr, "local_id", m.LocalID)
			}
			result.Failed++
			slog.WarnContext(ctx, "Mutation rejected by server",
				"error", err,
				"local_id", m.LocalID,
				"op", string(m.Op))

		default:
			// Transient: keep for the next drain, keep going — one slow
			// record must not block independent ones.
			result.StillPending++
			slog.WarnContext(ctx, "Mutation sync failed, will retry",
				"error", err,
				"local_id", m.LocalID)
		}
	}

	slog.InfoContext(ctx, "Drain finished",
		"synced", result.Synced,
		"failed", result.Failed,
		"still_pending", result.StillPending)
	return result, nil
}

func (e *Engine) dequeue(ctx context.Context, localID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Remove(ctx, localID)
}

// Teardown discards all device sync state on logout. An in-flight drain is
// abandoned: its remaining dequeues fail against the cleared queue and its
// results are ignored by the host.
func (e *Engine) Teardown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.queue.Clear(ctx); err != nil {
		return fmt.Errorf("clear pending queue: %w", err)
	}
	slog.InfoContext(ctx, "Sync state cleared")
	return nil
}
