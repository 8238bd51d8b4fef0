package storage

import "errors"

// Error kinds. Callers should match with errors.Is; operations wrap one of
// these with context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrNotFound reports a missing table, column, or key.
	ErrNotFound = errors.New("not found")

	// ErrTypeMismatch reports a value that does not match its column type,
	// or a comparison attempted between mismatched value variants.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrLockConflict reports a 2PL conflict. The transaction remains
	// ACTIVE; the caller decides whether to retry or abort.
	ErrLockConflict = errors.New("lock conflict")

	// ErrInvalidState reports commit/abort of a non-ACTIVE transaction.
	// StorageEngine mutators do not check the transaction's state, so DML
	// under a non-ACTIVE or unknown transaction id does not produce it.
	ErrInvalidState = errors.New("invalid state")

	// ErrCorruptLog reports a malformed WAL record encountered before the
	// final (possibly partial) line. Fatal at startup.
	ErrCorruptLog = errors.New("corrupt log")

	// ErrCorruptPage reports a page that fails a structural check.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrNoVictim reports that every frame in the buffer pool is pinned
	// and CLOCK found nothing to evict. Fatal internal condition.
	ErrNoVictim = errors.New("no victim frame available")

	// ErrDeletedRecord reports an attempt to read a tombstoned slot.
	ErrDeletedRecord = errors.New("attempt to read deleted record")

	// ErrInvalidRecordID reports an out-of-range page or slot number.
	ErrInvalidRecordID = errors.New("invalid RecordID")
)
