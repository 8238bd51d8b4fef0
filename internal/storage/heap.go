package storage

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Slotted heap page
// ───────────────────────────────────────────────────────────────────────────
//
// Layout: a 4-byte slot count at offset 0, followed by a dense array of
// fixed-width slots, each `1 + recordSize` bytes: one tombstone byte
// (0 = dead, 1 = alive) followed by the serialized record payload. Slot
// numbers are stable for the life of the page; slot count never
// decreases; deletions flip the tombstone but never shift later slots.

const slotCountOff = 0
const slotDirOff = 4

func maxSlotsPerPage(recordSize int) int {
	return (PageSize - slotDirOff) / (1 + recordSize)
}

func heapSlotCount(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[slotCountOff:]))
}

func setHeapSlotCount(buf []byte, n int) {
	binary.LittleEndian.PutUint32(buf[slotCountOff:], uint32(n))
}

func slotOffset(slot, recordSize int) int {
	return slotDirOff + slot*(1+recordSize)
}

func slotIsAlive(buf []byte, slot, recordSize int) bool {
	return buf[slotOffset(slot, recordSize)] == 1
}

func slotPayload(buf []byte, slot, recordSize int) []byte {
	off := slotOffset(slot, recordSize) + 1
	return buf[off : off+recordSize]
}

func writeSlot(buf []byte, slot, recordSize int, alive bool, payload []byte) {
	off := slotOffset(slot, recordSize)
	if alive {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	copy(buf[off+1:off+1+recordSize], payload)
}

// initHeapPage zeroes a fresh page's slot count. Pages come zero-filled
// from the buffer pool already, so this is a formality that documents
// the invariant.
func initHeapPage(buf []byte) {
	setHeapSlotCount(buf, 0)
}

// ───────────────────────────────────────────────────────────────────────────
// TableHeap
// ───────────────────────────────────────────────────────────────────────────

// TableHeap is a heap-organized table of fixed-size records using the
// slotted page layout above. Callers must serialize access to a given
// TableHeap via the LockManager; TableHeap itself is not internally
// latched.
type TableHeap struct {
	bm         *BufferManager
	fileID     FileID
	recordSize int
	maxSlots   int
}

// OpenTableHeap attaches a TableHeap to an already-open heap file.
func OpenTableHeap(bm *BufferManager, fileID FileID, recordSize int) *TableHeap {
	return &TableHeap{
		bm:         bm,
		fileID:     fileID,
		recordSize: recordSize,
		maxSlots:   maxSlotsPerPage(recordSize),
	}
}

// Insert places payload (already serialized to recordSize bytes) into the
// first page with room: a reclaimed tombstone slot first, else a freshly
// appended slot, else a brand-new page.
func (h *TableHeap) Insert(payload []byte) (RecordID, error) {
	if len(payload) != h.recordSize {
		return RecordID{}, fmt.Errorf("heap: payload is %d bytes, want %d", len(payload), h.recordSize)
	}

	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return RecordID{}, err
	}

	for pn := PageNo(0); uint32(pn) < count; pn++ {
		buf, err := h.bm.Fetch(h.fileID, pn)
		if err != nil {
			return RecordID{}, err
		}
		sc := heapSlotCount(buf)

		for slot := 0; slot < sc; slot++ {
			if !slotIsAlive(buf, slot, h.recordSize) {
				writeSlot(buf, slot, h.recordSize, true, payload)
				h.bm.MarkDirty(h.fileID, pn)
				h.bm.Unpin(h.fileID, pn)
				return RecordID{PageNo: pn, SlotNo: uint32(slot)}, nil
			}
		}
		if sc < h.maxSlots {
			writeSlot(buf, sc, h.recordSize, true, payload)
			setHeapSlotCount(buf, sc+1)
			h.bm.MarkDirty(h.fileID, pn)
			h.bm.Unpin(h.fileID, pn)
			return RecordID{PageNo: pn, SlotNo: uint32(sc)}, nil
		}
		h.bm.Unpin(h.fileID, pn)
	}

	pn, err := h.bm.Allocate(h.fileID)
	if err != nil {
		return RecordID{}, err
	}
	buf, err := h.bm.Fetch(h.fileID, pn)
	if err != nil {
		return RecordID{}, err
	}
	initHeapPage(buf)
	writeSlot(buf, 0, h.recordSize, true, payload)
	setHeapSlotCount(buf, 1)
	h.bm.MarkDirty(h.fileID, pn)
	h.bm.Unpin(h.fileID, pn)
	return RecordID{PageNo: pn, SlotNo: 0}, nil
}

// Delete flips rid's tombstone. Returns false (never an error) for an
// out-of-range page or slot.
func (h *TableHeap) Delete(rid RecordID) (bool, error) {
	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return false, err
	}
	if uint32(rid.PageNo) >= count {
		return false, nil
	}
	buf, err := h.bm.Fetch(h.fileID, rid.PageNo)
	if err != nil {
		return false, err
	}
	defer h.bm.Unpin(h.fileID, rid.PageNo)

	sc := heapSlotCount(buf)
	if int(rid.SlotNo) >= sc || !slotIsAlive(buf, int(rid.SlotNo), h.recordSize) {
		return false, nil
	}
	writeSlot(buf, int(rid.SlotNo), h.recordSize, false, make([]byte, h.recordSize))
	h.bm.MarkDirty(h.fileID, rid.PageNo)
	return true, nil
}

// Update overwrites the payload at rid in place. Returns false for an
// out-of-range or dead slot.
func (h *TableHeap) Update(rid RecordID, payload []byte) (bool, error) {
	if len(payload) != h.recordSize {
		return false, fmt.Errorf("heap: payload is %d bytes, want %d", len(payload), h.recordSize)
	}
	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return false, err
	}
	if uint32(rid.PageNo) >= count {
		return false, nil
	}
	buf, err := h.bm.Fetch(h.fileID, rid.PageNo)
	if err != nil {
		return false, err
	}
	defer h.bm.Unpin(h.fileID, rid.PageNo)

	sc := heapSlotCount(buf)
	if int(rid.SlotNo) >= sc || !slotIsAlive(buf, int(rid.SlotNo), h.recordSize) {
		return false, nil
	}
	writeSlot(buf, int(rid.SlotNo), h.recordSize, true, payload)
	h.bm.MarkDirty(h.fileID, rid.PageNo)
	return true, nil
}

// Get returns the serialized payload at rid. An out-of-range RecordID
// raises ErrInvalidRecordID; a tombstoned slot raises ErrDeletedRecord.
func (h *TableHeap) Get(rid RecordID) ([]byte, error) {
	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return nil, err
	}
	if uint32(rid.PageNo) >= count {
		return nil, fmt.Errorf("heap: rid %+v: %w", rid, ErrInvalidRecordID)
	}
	buf, err := h.bm.Fetch(h.fileID, rid.PageNo)
	if err != nil {
		return nil, err
	}
	defer h.bm.Unpin(h.fileID, rid.PageNo)

	sc := heapSlotCount(buf)
	if int(rid.SlotNo) >= sc {
		return nil, fmt.Errorf("heap: rid %+v: %w", rid, ErrInvalidRecordID)
	}
	if !slotIsAlive(buf, int(rid.SlotNo), h.recordSize) {
		return nil, ErrDeletedRecord
	}
	out := make([]byte, h.recordSize)
	copy(out, slotPayload(buf, int(rid.SlotNo), h.recordSize))
	return out, nil
}

// Scan visits pages in page-number order and slots in slot-number order,
// returning the RecordIDs of alive slots only.
func (h *TableHeap) Scan() ([]RecordID, error) {
	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return nil, err
	}
	var out []RecordID
	for pn := PageNo(0); uint32(pn) < count; pn++ {
		buf, err := h.bm.Fetch(h.fileID, pn)
		if err != nil {
			return nil, err
		}
		sc := heapSlotCount(buf)
		for slot := 0; slot < sc; slot++ {
			if slotIsAlive(buf, slot, h.recordSize) {
				out = append(out, RecordID{PageNo: pn, SlotNo: uint32(slot)})
			}
		}
		h.bm.Unpin(h.fileID, pn)
	}
	return out, nil
}

// PutAt is the recovery-only, idempotent counterpart to Insert: it places
// payload at the exact RecordID recorded in the log, growing the heap
// file and the page's slot directory as needed, bypassing the
// tombstone-reclaim / append policy used by Insert.
func (h *TableHeap) PutAt(rid RecordID, payload []byte) error {
	if err := h.growTo(rid.PageNo); err != nil {
		return err
	}
	buf, err := h.bm.Fetch(h.fileID, rid.PageNo)
	if err != nil {
		return err
	}
	defer h.bm.Unpin(h.fileID, rid.PageNo)

	sc := heapSlotCount(buf)
	if int(rid.SlotNo) >= sc {
		setHeapSlotCount(buf, int(rid.SlotNo)+1)
	}
	writeSlot(buf, int(rid.SlotNo), h.recordSize, true, payload)
	h.bm.MarkDirty(h.fileID, rid.PageNo)
	return nil
}

// DeleteAt is the recovery-only, idempotent counterpart to Delete: it
// tombstones rid if the page exists, and is a no-op otherwise.
func (h *TableHeap) DeleteAt(rid RecordID) error {
	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return err
	}
	if uint32(rid.PageNo) >= count {
		return nil
	}
	buf, err := h.bm.Fetch(h.fileID, rid.PageNo)
	if err != nil {
		return err
	}
	defer h.bm.Unpin(h.fileID, rid.PageNo)

	sc := heapSlotCount(buf)
	if int(rid.SlotNo) >= sc {
		return nil
	}
	writeSlot(buf, int(rid.SlotNo), h.recordSize, false, make([]byte, h.recordSize))
	h.bm.MarkDirty(h.fileID, rid.PageNo)
	return nil
}

// growTo allocates pages until the heap file has at least pn+1 pages,
// initializing each new page as an empty slotted page.
func (h *TableHeap) growTo(pn PageNo) error {
	count, err := h.bm.PageCount(h.fileID)
	if err != nil {
		return err
	}
	for uint32(pn) >= count {
		newPN, err := h.bm.Allocate(h.fileID)
		if err != nil {
			return err
		}
		buf, err := h.bm.Fetch(h.fileID, newPN)
		if err != nil {
			return err
		}
		initHeapPage(buf)
		h.bm.MarkDirty(h.fileID, newPN)
		h.bm.Unpin(h.fileID, newPN)
		count, err = h.bm.PageCount(h.fileID)
		if err != nil {
			return err
		}
	}
	return nil
}
