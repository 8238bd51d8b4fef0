package storage

import (
	"errors"
	"testing"
)

func TestLockManagerSharedSharedCompatible(t *testing.T) {
	lm := NewLockManager()
	res := TableResource("accounts")
	if err := lm.LockShared(1, res); err != nil {
		t.Fatalf("LockShared(1): %v", err)
	}
	if err := lm.LockShared(2, res); err != nil {
		t.Fatalf("LockShared(2) should succeed alongside another shared holder: %v", err)
	}
}

func TestLockManagerExclusiveConflictsWithShared(t *testing.T) {
	lm := NewLockManager()
	res := TableResource("accounts")
	lm.LockShared(1, res)

	err := lm.LockExclusive(2, res)
	if !errors.Is(err, ErrLockConflict) {
		t.Fatalf("LockExclusive against an existing shared holder = %v, want ErrLockConflict", err)
	}
}

func TestLockManagerExclusiveConflictsWithExclusive(t *testing.T) {
	lm := NewLockManager()
	res := TableResource("accounts")
	lm.LockExclusive(1, res)

	err := lm.LockExclusive(2, res)
	if !errors.Is(err, ErrLockConflict) {
		t.Fatalf("LockExclusive against an existing exclusive holder = %v, want ErrLockConflict", err)
	}
}

func TestLockManagerUpgradeInPlace(t *testing.T) {
	lm := NewLockManager()
	res := TableResource("accounts")
	if err := lm.LockShared(1, res); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if err := lm.LockExclusive(1, res); err != nil {
		t.Fatalf("same-transaction upgrade S->X should succeed: %v", err)
	}
}

func TestLockManagerUnlockReleasesResource(t *testing.T) {
	lm := NewLockManager()
	res := TableResource("accounts")
	lm.LockExclusive(1, res)
	lm.Unlock(1, res)

	if err := lm.LockExclusive(2, res); err != nil {
		t.Fatalf("LockExclusive after Unlock should succeed: %v", err)
	}
}

func TestLockManagerReleaseAllAcrossResources(t *testing.T) {
	lm := NewLockManager()
	lm.LockExclusive(1, TableResource("a"))
	lm.LockShared(1, TableResource("b"))

	lm.ReleaseAll(1)

	if err := lm.LockExclusive(2, TableResource("a")); err != nil {
		t.Fatalf("ReleaseAll should free resource a: %v", err)
	}
	if err := lm.LockExclusive(2, TableResource("b")); err != nil {
		t.Fatalf("ReleaseAll should free resource b: %v", err)
	}
}

func TestLockManagerReentrantSharedIsNoop(t *testing.T) {
	lm := NewLockManager()
	res := TableResource("accounts")
	if err := lm.LockShared(1, res); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if err := lm.LockShared(1, res); err != nil {
		t.Fatalf("re-granting S to the same tx should be a no-op: %v", err)
	}
}
