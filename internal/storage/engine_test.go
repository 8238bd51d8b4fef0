package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, dir string) (*StorageEngine, *TransactionManager) {
	t.Helper()
	fm := NewFileManager()
	bm := NewBufferManager(fm, 32)
	lm := NewLockManager()
	wal, err := OpenWALManager(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("OpenWALManager: %v", err)
	}
	txMgr := NewTransactionManager()
	engine := NewStorageEngine(dir, bm, lm, wal, txMgr, zerolog.Nop())

	schema, err := NewSchema([]Column{
		{Name: "id", Type: TypeInt},
		{Name: "name", Type: TypeString, Length: 16},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	if err := engine.RegisterTable("accounts", schema, 0); err != nil {
		t.Fatalf("RegisterTable: %v", err)
	}
	return engine, txMgr
}

func TestEngineInsertGetScan(t *testing.T) {
	engine, txMgr := newTestEngine(t, t.TempDir())
	tx := txMgr.Begin()

	rid, err := engine.InsertRecord(tx, "accounts", Tuple{IntValue(1), StringValue("alice")})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := engine.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := txMgr.Begin()
	values, err := engine.GetRecord("accounts", rid)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if values[0].Int() != 1 || values[1].Str() != "alice" {
		t.Fatalf("GetRecord = %v, want {1, alice}", values)
	}

	rids, err := engine.ScanTable(tx2, "accounts")
	if err != nil {
		t.Fatalf("ScanTable: %v", err)
	}
	if len(rids) != 1 || rids[0] != rid {
		t.Fatalf("ScanTable = %v, want [%v]", rids, rid)
	}
	engine.Commit(tx2)
}

func TestEngineUpdateByPrimaryKey(t *testing.T) {
	engine, txMgr := newTestEngine(t, t.TempDir())
	tx := txMgr.Begin()
	engine.InsertRecord(tx, "accounts", Tuple{IntValue(1), StringValue("alice")})
	engine.Commit(tx)

	tx2 := txMgr.Begin()
	ok, err := engine.UpdateRecord(tx2, "accounts", 1, Tuple{IntValue(1), StringValue("alicia")})
	if err != nil || !ok {
		t.Fatalf("UpdateRecord = (%v, %v), want (true, nil)", ok, err)
	}
	engine.Commit(tx2)

	rid, found, err := engine.tables["accounts"].index.Find(1)
	if err != nil || !found {
		t.Fatalf("index.Find(1) after update = (%+v, %v, %v)", rid, found, err)
	}
	values, err := engine.GetRecord("accounts", rid)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if values[1].Str() != "alicia" {
		t.Fatalf("GetRecord after update = %v, want name alicia", values)
	}
}

func TestEngineUpdateMissingKeyReturnsFalse(t *testing.T) {
	engine, txMgr := newTestEngine(t, t.TempDir())
	tx := txMgr.Begin()
	ok, err := engine.UpdateRecord(tx, "accounts", 99, Tuple{IntValue(99), StringValue("nobody")})
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if ok {
		t.Fatal("UpdateRecord on a missing primary key should return false")
	}
}

func TestEngineDeleteByPrimaryKey(t *testing.T) {
	engine, txMgr := newTestEngine(t, t.TempDir())
	tx := txMgr.Begin()
	engine.InsertRecord(tx, "accounts", Tuple{IntValue(1), StringValue("alice")})
	engine.Commit(tx)

	tx2 := txMgr.Begin()
	ok, err := engine.DeleteRecord(tx2, "accounts", 1)
	if err != nil || !ok {
		t.Fatalf("DeleteRecord = (%v, %v), want (true, nil)", ok, err)
	}
	engine.Commit(tx2)

	if _, found, _ := engine.tables["accounts"].index.Find(1); found {
		t.Fatal("index should no longer contain the deleted primary key")
	}
}

func TestEngineSecondExclusiveLockConflicts(t *testing.T) {
	engine, txMgr := newTestEngine(t, t.TempDir())
	tx1 := txMgr.Begin()
	tx2 := txMgr.Begin()

	if _, err := engine.InsertRecord(tx1, "accounts", Tuple{IntValue(1), StringValue("alice")}); err != nil {
		t.Fatalf("InsertRecord(tx1): %v", err)
	}
	_, err := engine.InsertRecord(tx2, "accounts", Tuple{IntValue(2), StringValue("bob")})
	if !errors.Is(err, ErrLockConflict) {
		t.Fatalf("concurrent InsertRecord on the same table = %v, want ErrLockConflict", err)
	}
}

func TestEngineRecoverReplaysCommittedAndUndoesLosers(t *testing.T) {
	dir := t.TempDir()
	engine, txMgr := newTestEngine(t, dir)

	tx1 := txMgr.Begin()
	rid1, err := engine.InsertRecord(tx1, "accounts", Tuple{IntValue(1), StringValue("alice")})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := engine.Commit(tx1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := txMgr.Begin()
	// tx2 inserts but never commits or aborts: a crash leaves it a loser.
	rid2, err := engine.InsertRecord(tx2, "accounts", Tuple{IntValue(2), StringValue("bob")})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := engine.wal.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Simulate a crash-and-restart: fresh in-memory structures over the
	// same data directory.
	fresh, _ := newTestEngine(t, dir)
	if err := fresh.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if _, err := fresh.GetRecord("accounts", rid1); err != nil {
		t.Fatalf("committed insert should survive recovery: %v", err)
	}
	if _, err := fresh.GetRecord("accounts", rid2); err == nil {
		t.Fatal("loser's insert should be undone by recovery: GetRecord should fail")
	}

	rid, found, err := fresh.tables["accounts"].index.Find(1)
	if err != nil || !found || rid != rid1 {
		t.Fatalf("index after recovery: Find(1) = (%+v, %v, %v), want (%+v, true, nil)", rid, found, err, rid1)
	}
	if _, found, _ := fresh.tables["accounts"].index.Find(2); found {
		t.Fatal("index after recovery should not contain the loser's key")
	}
}
