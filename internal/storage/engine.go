package storage

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// table bundles the per-table state the StorageEngine exclusively owns:
// the heap, the clustered PK index, and the schema used to (de)serialize
// tuples crossing the boundary between them.
type table struct {
	name     string
	schema   *Schema
	pkColumn int
	heap     *TableHeap
	index    *BPlusTree
}

// StorageEngine is the facade that binds FileManager, BufferManager,
// LockManager, WALManager and TransactionManager into per-table
// mutators. Every mutator is the single place where locking, WAL, heap
// and index are coordinated; callers never touch the lower layers
// directly.
type StorageEngine struct {
	mu     sync.Mutex
	dir    string
	fm     *FileManager
	bm     *BufferManager
	lm     *LockManager
	wal    *WALManager
	txMgr  *TransactionManager
	tables map[string]*table
	log    zerolog.Logger
}

// NewStorageEngine binds already-constructed layers into the facade. The
// FileManager is taken from bm; the TransactionManager is passed in, so
// it is constructed before the StorageEngine.
// dir holds per-table heap/index files plus wal.log.
func NewStorageEngine(dir string, bm *BufferManager, lm *LockManager, wal *WALManager, txMgr *TransactionManager, logger zerolog.Logger) *StorageEngine {
	return &StorageEngine{
		dir:    dir,
		fm:     bm.fm,
		bm:     bm,
		lm:     lm,
		wal:    wal,
		txMgr:  txMgr,
		tables: make(map[string]*table),
		log:    WithComponent(logger, "storage_engine"),
	}
}

// RegisterTable opens (or creates) a table's heap and index files and
// makes it available to the mutators below. pkColumn is the ordinal of
// the primary-key column, which must be INT.
func (se *StorageEngine) RegisterTable(name string, schema *Schema, pkColumn int) error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if pkColumn < 0 || pkColumn >= len(schema.Columns) {
		return fmt.Errorf("storage: table %q: primary key column index %d out of range", name, pkColumn)
	}
	if schema.Columns[pkColumn].Type != TypeInt {
		return fmt.Errorf("storage: table %q: primary key column %q must be INT", name, schema.Columns[pkColumn].Name)
	}
	if _, exists := se.tables[name]; exists {
		return nil
	}

	heapFileID, err := se.fm.Open(filepath.Join(se.dir, name+".heap"))
	if err != nil {
		return fmt.Errorf("storage: register table %q: %w", name, err)
	}
	idxFileID, err := se.fm.Open(filepath.Join(se.dir, name+".idx"))
	if err != nil {
		return fmt.Errorf("storage: register table %q: %w", name, err)
	}

	index, err := OpenBPlusTree(se.bm, idxFileID, 0)
	if err != nil {
		return fmt.Errorf("storage: register table %q: %w", name, err)
	}

	se.tables[name] = &table{
		name:     name,
		schema:   schema,
		pkColumn: pkColumn,
		heap:     OpenTableHeap(se.bm, heapFileID, schema.RecordSize),
		index:    index,
	}
	se.log.Info().Str("table", name).Int("record_size", schema.RecordSize).Msg("table registered")
	return nil
}

func (se *StorageEngine) lookupTable(name string) (*table, error) {
	se.mu.Lock()
	defer se.mu.Unlock()
	t, ok := se.tables[name]
	if !ok {
		return nil, fmt.Errorf("storage: table %q: %w", name, ErrNotFound)
	}
	return t, nil
}

// InsertRecord is the facade's write path: lock, serialize, heap-insert,
// log, index-insert, in that order (spec §4.8 step 1-6).
func (se *StorageEngine) InsertRecord(tx int64, name string, values Tuple) (RecordID, error) {
	t, err := se.lookupTable(name)
	if err != nil {
		return RecordID{}, err
	}
	if err := se.lm.LockExclusive(tx, TableResource(name)); err != nil {
		return RecordID{}, err
	}

	payload, err := SerializeTuple(t.schema, values)
	if err != nil {
		return RecordID{}, err
	}
	rid, err := t.heap.Insert(payload)
	if err != nil {
		return RecordID{}, err
	}
	if err := se.wal.LogInsert(tx, name, rid, values); err != nil {
		return RecordID{}, err
	}
	if err := t.index.Insert(values[t.pkColumn].Int(), rid); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// UpdateRecord locates the single row with primary_key == pk, logs its
// old and new images, and overwrites it in place. Returns false if no
// such row exists.
func (se *StorageEngine) UpdateRecord(tx int64, name string, pk int32, newValues Tuple) (bool, error) {
	t, err := se.lookupTable(name)
	if err != nil {
		return false, err
	}
	if err := se.lm.LockExclusive(tx, TableResource(name)); err != nil {
		return false, err
	}

	rid, found, err := t.index.Find(pk)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	oldPayload, err := t.heap.Get(rid)
	if err != nil {
		return false, err
	}
	oldValues, err := DeserializeTuple(t.schema, oldPayload)
	if err != nil {
		return false, err
	}

	newPayload, err := SerializeTuple(t.schema, newValues)
	if err != nil {
		return false, err
	}
	ok, err := t.heap.Update(rid, newPayload)
	if err != nil || !ok {
		return ok, err
	}
	if err := se.wal.LogUpdate(tx, name, rid, oldValues, newValues); err != nil {
		return false, err
	}

	if newValues[t.pkColumn].Int() != pk {
		if _, err := t.index.Remove(pk); err != nil {
			return false, err
		}
		if err := t.index.Insert(newValues[t.pkColumn].Int(), rid); err != nil {
			return false, err
		}
	}
	return true, nil
}

// DeleteRecord locates the single row with primary_key == pk, logs its
// old image, tombstones it, and removes it from the index. Returns false
// if no such row exists.
func (se *StorageEngine) DeleteRecord(tx int64, name string, pk int32) (bool, error) {
	t, err := se.lookupTable(name)
	if err != nil {
		return false, err
	}
	if err := se.lm.LockExclusive(tx, TableResource(name)); err != nil {
		return false, err
	}

	rid, found, err := t.index.Find(pk)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	oldPayload, err := t.heap.Get(rid)
	if err != nil {
		return false, err
	}
	oldValues, err := DeserializeTuple(t.schema, oldPayload)
	if err != nil {
		return false, err
	}

	ok, err := t.heap.Delete(rid)
	if err != nil || !ok {
		return ok, err
	}
	if err := se.wal.LogDelete(tx, name, rid, oldValues); err != nil {
		return false, err
	}
	if _, err := t.index.Remove(pk); err != nil {
		return false, err
	}
	return true, nil
}

// ScanTable acquires a shared lock on name and returns every live row's
// RecordID in heap order.
func (se *StorageEngine) ScanTable(tx int64, name string) ([]RecordID, error) {
	t, err := se.lookupTable(name)
	if err != nil {
		return nil, err
	}
	if err := se.lm.LockShared(tx, TableResource(name)); err != nil {
		return nil, err
	}
	return t.heap.Scan()
}

// GetRecord reads and deserializes the tuple at rid.
func (se *StorageEngine) GetRecord(name string, rid RecordID) (Tuple, error) {
	t, err := se.lookupTable(name)
	if err != nil {
		return nil, err
	}
	payload, err := t.heap.Get(rid)
	if err != nil {
		return nil, err
	}
	return DeserializeTuple(t.schema, payload)
}

// Commit writes and flushes the COMMIT record, transitions the
// transaction, and releases its locks, in that order (spec §4.8).
func (se *StorageEngine) Commit(tx int64) error {
	if err := se.wal.LogCommit(tx); err != nil {
		return err
	}
	if err := se.wal.Flush(); err != nil {
		return err
	}
	if err := se.txMgr.Commit(tx); err != nil {
		return err
	}
	se.lm.ReleaseAll(tx)
	se.log.Debug().Int64("tx", tx).Msg("committed")
	return nil
}

// Abort writes and flushes the ABORT record, transitions the
// transaction, and releases its locks. It does not itself undo tx's
// in-memory effects; undo of an aborted-in-flight transaction happens
// only during recovery if the process crashes before this call
// completes (see DESIGN.md).
func (se *StorageEngine) Abort(tx int64) error {
	if err := se.wal.LogAbort(tx); err != nil {
		return err
	}
	if err := se.wal.Flush(); err != nil {
		return err
	}
	if err := se.txMgr.Abort(tx); err != nil {
		return err
	}
	se.lm.ReleaseAll(tx)
	se.log.Debug().Int64("tx", tx).Msg("aborted")
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Recoverable implementation
// ───────────────────────────────────────────────────────────────────────────
//
// These three methods place data at the exact RecordID recorded in the
// log, bypassing locking and the index update path, and are idempotent:
// RedoInsert/RedoUpdate overwrite a slot regardless of its current
// tombstone state, and RedoDelete tombstones a slot that may already be
// dead. After all three run, RebuildIndexes rebuilds every table's index
// from its heap, since redo/undo touch the heap directly.

// RedoInsert places values at rid in table's heap.
func (se *StorageEngine) RedoInsert(name string, rid RecordID, values Tuple) error {
	t, err := se.lookupTable(name)
	if err != nil {
		return err
	}
	payload, err := SerializeTuple(t.schema, values)
	if err != nil {
		return err
	}
	return t.heap.PutAt(rid, payload)
}

// RedoDelete tombstones rid in table's heap.
func (se *StorageEngine) RedoDelete(name string, rid RecordID) error {
	t, err := se.lookupTable(name)
	if err != nil {
		return err
	}
	return t.heap.DeleteAt(rid)
}

// RedoUpdate overwrites rid in table's heap with values.
func (se *StorageEngine) RedoUpdate(name string, rid RecordID, values Tuple) error {
	t, err := se.lookupTable(name)
	if err != nil {
		return err
	}
	payload, err := SerializeTuple(t.schema, values)
	if err != nil {
		return err
	}
	return t.heap.PutAt(rid, payload)
}

// RebuildIndexes reconstructs every registered table's B+ tree from its
// heap's current contents. Recovery's redo/undo passes write the heap
// directly (per spec §4.6, the index update path is bypassed), so the
// index is stale until this runs once, after Recover and before the
// engine accepts new work.
func (se *StorageEngine) RebuildIndexes() error {
	se.mu.Lock()
	tables := make([]*table, 0, len(se.tables))
	for _, t := range se.tables {
		tables = append(tables, t)
	}
	se.mu.Unlock()

	for _, t := range tables {
		// Start from a fresh empty leaf root: the old tree may still hold
		// keys the undo pass removed, or a header that never reached disk.
		rootPN, err := se.bm.Allocate(t.index.fileID)
		if err != nil {
			return err
		}
		if err := t.index.writeNodeAt(rootPN, newLeafNode(t.index.maxKeys)); err != nil {
			return err
		}
		t.index.root = rootPN
		if err := t.index.persistHeader(); err != nil {
			return err
		}

		rids, err := t.heap.Scan()
		if err != nil {
			return err
		}
		for _, rid := range rids {
			payload, err := t.heap.Get(rid)
			if err != nil {
				return err
			}
			values, err := DeserializeTuple(t.schema, payload)
			if err != nil {
				return err
			}
			if err := t.index.Insert(values[t.pkColumn].Int(), rid); err != nil {
				return err
			}
		}
	}
	return nil
}

// Recover drives WAL replay followed by an index rebuild. Call once at
// startup, after every table has been registered via RegisterTable and
// before any client transaction begins.
func (se *StorageEngine) Recover() error {
	se.log.Info().Msg("recovery: replaying write-ahead log")
	if err := se.wal.Recover(se); err != nil {
		return err
	}
	if err := se.RebuildIndexes(); err != nil {
		return err
	}
	se.log.Info().Msg("recovery: complete")
	return nil
}
