// Package sync implements the bidirectional delta-synchronization engine:
// one pull phase then one push phase per invocation, reconciling the local
// store with the remote relational store without loss or duplication.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/attach"
	"github.com/feather-im/feather/internal/bus"
	"github.com/feather-im/feather/internal/metrics"
	"github.com/feather-im/feather/internal/remote"
	"github.com/feather-im/feather/internal/status"
	"github.com/feather-im/feather/internal/store"
)

// ErrSyncRunning is returned when Sync is called while a cycle is already
// in flight. Callers retry later; nothing is queued.
var ErrSyncRunning = errors.New("sync already in progress")

const defaultPageSize = 500

// Engine is the sync orchestrator. Safe to invoke repeatedly and from any
// goroutine; concurrent invocations are rejected, not interleaved.
type Engine struct {
	db       *store.DB
	remote   remote.Client
	pipeline *attach.Pipeline
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu sync.Mutex // single-flight guard

	stateMu    sync.Mutex
	lastSyncAt time.Time
	lastErr    error
}

// NewEngine creates the orchestrator. pageSize <= 0 selects the default
// of 500 rows per network call.
func NewEngine(db *store.DB, rc remote.Client, pipeline *attach.Pipeline,
	machine *status.Machine, b *bus.Bus, logger *zap.Logger, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Engine{
		db:       db,
		remote:   rc,
		pipeline: pipeline,
		machine:  machine,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
	}
}

// Sync runs one pull phase followed by one push phase. A pull error aborts
// the whole cycle without advancing the cursor; a push error leaves the
// affected records pending for the next attempt. Cancellation of ctx is
// treated like any other network failure.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.mu.TryLock() {
		return ErrSyncRunning
	}
	defer e.mu.Unlock()

	if e.machine.Current() == status.Booting {
		_ = e.machine.Transition(status.Idle)
	}
	if err := e.machine.Transition(status.Pulling); err != nil {
		return err
	}

	if err := e.pull(ctx); err != nil {
		return e.fail("pull", err)
	}
	if err := e.machine.Transition(status.Pushing); err != nil {
		return err
	}
	if err := e.push(ctx); err != nil {
		return e.fail("push", err)
	}

	_ = e.machine.Transition(status.Idle)
	metrics.SyncCycles.Inc()
	e.setResult(nil)
	e.publish("sync.completed", nil)
	return nil
}

// LastResult returns when the last successful cycle finished and the
// error of the last failed one, for status introspection.
func (e *Engine) LastResult() (time.Time, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastSyncAt, e.lastErr
}

func (e *Engine) fail(phase string, err error) error {
	metrics.SyncFailures.Inc()
	_ = e.machine.Transition(status.Failed)
	_ = e.machine.Transition(status.Idle)
	wrapped := fmt.Errorf("%s: %w", phase, err)
	e.setResult(wrapped)
	e.logger.Error("sync failed", zap.String("phase", phase), zap.Error(err))
	e.publish("sync.failed", wrapped.Error())
	return wrapped
}

func (e *Engine) setResult(err error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if err == nil {
		e.lastSyncAt = time.Now()
	}
	e.lastErr = err
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
