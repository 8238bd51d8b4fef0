package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestHeap(t *testing.T, recordSize int) *TableHeap {
	t.Helper()
	fm := NewFileManager()
	bm := NewBufferManager(fm, 8)
	id, err := fm.Open(filepath.Join(t.TempDir(), "t.heap"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return OpenTableHeap(bm, id, recordSize)
}

func pad(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func TestHeapInsertGetRoundTrip(t *testing.T) {
	h := newTestHeap(t, 8)
	payload := pad("hello", 8)

	rid, err := h.Insert(payload)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get = %v, want %v", got, payload)
	}
}

func TestHeapDeleteThenGetIsErrDeletedRecord(t *testing.T) {
	h := newTestHeap(t, 8)
	rid, _ := h.Insert(pad("x", 8))

	ok, err := h.Delete(rid)
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", ok, err)
	}
	if _, err := h.Get(rid); err == nil {
		t.Fatal("Get on a tombstoned record should fail")
	}
}

func TestHeapDeleteReclaimedBeforeNewPage(t *testing.T) {
	h := newTestHeap(t, 8)
	rid1, _ := h.Insert(pad("a", 8))
	h.Insert(pad("b", 8))

	h.Delete(rid1)

	rid3, err := h.Insert(pad("c", 8))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rid3 != rid1 {
		t.Fatalf("Insert after delete reused slot %+v, want reclaimed slot %+v", rid3, rid1)
	}
}

func TestHeapDeleteDoesNotShiftLaterSlots(t *testing.T) {
	h := newTestHeap(t, 8)
	rid0, _ := h.Insert(pad("a", 8))
	rid1, _ := h.Insert(pad("b", 8))

	h.Delete(rid0)

	got, err := h.Get(rid1)
	if err != nil {
		t.Fatalf("Get rid1 after deleting rid0: %v", err)
	}
	if !bytes.Equal(got, pad("b", 8)) {
		t.Fatalf("rid1's payload changed after deleting rid0: got %v", got)
	}
}

func TestHeapUpdateOverwritesInPlace(t *testing.T) {
	h := newTestHeap(t, 8)
	rid, _ := h.Insert(pad("old", 8))

	ok, err := h.Update(rid, pad("new!", 8))
	if err != nil || !ok {
		t.Fatalf("Update = (%v, %v), want (true, nil)", ok, err)
	}
	got, _ := h.Get(rid)
	if !bytes.Equal(got, pad("new!", 8)) {
		t.Fatalf("Get after Update = %v, want %v", got, pad("new!", 8))
	}
}

func TestHeapScanReturnsOnlyAliveInHeapOrder(t *testing.T) {
	h := newTestHeap(t, 8)
	rid0, _ := h.Insert(pad("a", 8))
	rid1, _ := h.Insert(pad("b", 8))
	rid2, _ := h.Insert(pad("c", 8))
	h.Delete(rid1)

	rids, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []RecordID{rid0, rid2}
	if len(rids) != len(want) || rids[0] != want[0] || rids[1] != want[1] {
		t.Fatalf("Scan = %+v, want %+v", rids, want)
	}
}

func TestHeapGetOutOfRangeIsErrInvalidRecordID(t *testing.T) {
	h := newTestHeap(t, 8)
	if _, err := h.Get(RecordID{PageNo: 99, SlotNo: 0}); err == nil {
		t.Fatal("Get on an out-of-range RecordID should fail")
	}
}

func TestHeapPutAtGrowsFileToExactRecordID(t *testing.T) {
	h := newTestHeap(t, 8)
	target := RecordID{PageNo: 3, SlotNo: 2}

	if err := h.PutAt(target, pad("recovered", 8)); err != nil {
		t.Fatalf("PutAt: %v", err)
	}
	got, err := h.Get(target)
	if err != nil {
		t.Fatalf("Get after PutAt: %v", err)
	}
	if !bytes.Equal(got, pad("recovered", 8)) {
		t.Fatalf("Get after PutAt = %v, want %v", got, pad("recovered", 8))
	}
}

func TestHeapDeleteAtIsNoopOnMissingPage(t *testing.T) {
	h := newTestHeap(t, 8)
	if err := h.DeleteAt(RecordID{PageNo: 5, SlotNo: 0}); err != nil {
		t.Fatalf("DeleteAt on a missing page should be a no-op, got %v", err)
	}
}
