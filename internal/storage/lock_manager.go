package storage

import (
	"fmt"
	"sync"
)

// TableResource canonicalizes a table name into the opaque resource name
// used by the LockManager.
func TableResource(table string) string {
	return "table:" + table
}

// lockEntry is the per-resource lock state: at most one exclusive holder
// (0 = none) and a set of shared holders. Invariant: if xHolder != 0, the
// shared set is empty or contains only xHolder (an in-place upgrade).
type lockEntry struct {
	xHolder  int64
	sHolders map[int64]struct{}
}

// LockManager implements table-granularity two-phase locking with a
// no-wait conflict policy: a conflict is reported immediately, never
// blocked on. The caller decides whether to abort.
type LockManager struct {
	mu    sync.Mutex
	table map[string]*lockEntry
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{table: make(map[string]*lockEntry)}
}

// LockShared grants tx a shared lock on res, unless another transaction
// holds exclusive on it (ErrLockConflict). Re-granting S to the same
// transaction is a no-op.
func (lm *LockManager) LockShared(tx int64, res string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e := lm.entry(res)
	if e.xHolder != 0 && e.xHolder != tx {
		return fmt.Errorf("tx %d wants S on %q, held X by tx %d: %w", tx, res, e.xHolder, ErrLockConflict)
	}
	e.sHolders[tx] = struct{}{}
	return nil
}

// LockExclusive grants tx an exclusive lock on res, unless another
// transaction holds shared or exclusive on it (ErrLockConflict). If tx
// already holds shared on res, it is upgraded in place.
func (lm *LockManager) LockExclusive(tx int64, res string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e := lm.entry(res)
	if e.xHolder != 0 && e.xHolder != tx {
		return fmt.Errorf("tx %d wants X on %q, held X by tx %d: %w", tx, res, e.xHolder, ErrLockConflict)
	}
	for other := range e.sHolders {
		if other != tx {
			return fmt.Errorf("tx %d wants X on %q, held S by tx %d: %w", tx, res, other, ErrLockConflict)
		}
	}
	delete(e.sHolders, tx)
	e.xHolder = tx
	return nil
}

// Unlock releases whichever lock (S or X) tx holds on res.
func (lm *LockManager) Unlock(tx int64, res string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.table[res]
	if !ok {
		return
	}
	if e.xHolder == tx {
		e.xHolder = 0
	}
	delete(e.sHolders, tx)
	lm.pruneLocked(res, e)
}

// ReleaseAll releases every lock held by tx, across all resources.
func (lm *LockManager) ReleaseAll(tx int64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for res, e := range lm.table {
		if e.xHolder == tx {
			e.xHolder = 0
		}
		delete(e.sHolders, tx)
		lm.pruneLocked(res, e)
	}
}

func (lm *LockManager) entry(res string) *lockEntry {
	e, ok := lm.table[res]
	if !ok {
		e = &lockEntry{sHolders: make(map[int64]struct{})}
		lm.table[res] = e
	}
	return e
}

func (lm *LockManager) pruneLocked(res string, e *lockEntry) {
	if e.xHolder == 0 && len(e.sHolders) == 0 {
		delete(lm.table, res)
	}
}
