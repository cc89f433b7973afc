package pregel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
)

// leaseTable enforces one writer per thread id inside this process.
type leaseTable struct {
	mu   sync.Mutex
	held map[string]bool
}

var leases = &leaseTable{held: make(map[string]bool)}

// acquire takes the thread, and the store's own lock when it offers one.
func (t *leaseTable) acquire(ctx context.Context, store checkpoint.Store, threadID string) (func(), error) {
	t.mu.Lock()
	if t.held[threadID] {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	t.held[threadID] = true
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		delete(t.held, threadID)
		t.mu.Unlock()
	}

	locker, ok := store.(checkpoint.Locker)
	if !ok {
		return release, nil
	}
	unlock, err := locker.Lock(ctx, threadID)
	if err != nil {
		release()
		if errors.Is(err, checkpoint.ErrThreadLocked) {
			return nil, fmt.Errorf("%w: %s: %w", ErrThreadBusy, threadID, err)
		}
		return nil, &StoreError{Op: "lock", ThreadID: threadID, Err: err}
	}
	return func() {
		unlock()
		release()
	}, nil
}
