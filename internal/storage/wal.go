package storage

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL wire format
// ───────────────────────────────────────────────────────────────────────────
//
// One record per line, comma-separated, newline-terminated:
//
//   INSERT,<tx>,<table>,<page>,<slot>,<fv1>,<fv2>,...
//   DELETE,<tx>,<table>,<page>,<slot>,<fv1>,...
//   UPDATE,<tx>,<table>,<page>,<slot>,<oldfv1>,...;<newfv1>,...
//   COMMIT,<tx>
//   ABORT,<tx>
//
// Field values are encoded as I:<decimal> or S:<raw-bytes>. A ';' splits
// the old image from the new image in UPDATE. Commas, newlines, and ';'
// inside string values are not escaped in this baseline format — see
// DESIGN.md (WAL escaping is an open question the source leaves
// ambiguous).

const (
	opInsert = "INSERT"
	opDelete = "DELETE"
	opUpdate = "UPDATE"
	opCommit = "COMMIT"
	opAbort  = "ABORT"
)

// Recoverable is the StorageEngine-side contract WALManager.Recover
// drives during redo/undo. These operations place data at the exact
// RecordID recorded in the log, bypassing the index update path, and are
// idempotent.
type Recoverable interface {
	RedoInsert(table string, rid RecordID, values Tuple) error
	RedoDelete(table string, rid RecordID) error
	RedoUpdate(table string, rid RecordID, values Tuple) error
}

// WALManager is an append-only, forward-compatible textual log. A single
// latch serializes append and flush so log order is a total order.
type WALManager struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenWALManager opens (creating if needed) the log at path for append.
func OpenWALManager(path string) (*WALManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WALManager{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func fvEncode(v Value) string {
	if v.IsString() {
		return "S:" + v.Str()
	}
	return "I:" + strconv.FormatInt(int64(v.Int()), 10)
}

func fvDecode(tok string) (Value, error) {
	if len(tok) < 2 || tok[1] != ':' {
		return Value{}, fmt.Errorf("wal: malformed field value %q: %w", tok, ErrCorruptLog)
	}
	switch tok[0] {
	case 'I':
		n, err := strconv.ParseInt(tok[2:], 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("wal: malformed int field %q: %w", tok, ErrCorruptLog)
		}
		return IntValue(int32(n)), nil
	case 'S':
		return StringValue(tok[2:]), nil
	default:
		return Value{}, fmt.Errorf("wal: malformed field value %q: %w", tok, ErrCorruptLog)
	}
}

func (w *WALManager) appendLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.WriteString(line + "\n")
	return err
}

// LogInsert appends an INSERT record (buffered; not yet durable).
func (w *WALManager) LogInsert(tx int64, table string, rid RecordID, newValues Tuple) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s,%d,%s,%d,%d", opInsert, tx, table, rid.PageNo, rid.SlotNo)
	for _, v := range newValues {
		b.WriteByte(',')
		b.WriteString(fvEncode(v))
	}
	return w.appendLine(b.String())
}

// LogDelete appends a DELETE record carrying the old tuple.
func (w *WALManager) LogDelete(tx int64, table string, rid RecordID, oldValues Tuple) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s,%d,%s,%d,%d", opDelete, tx, table, rid.PageNo, rid.SlotNo)
	for _, v := range oldValues {
		b.WriteByte(',')
		b.WriteString(fvEncode(v))
	}
	return w.appendLine(b.String())
}

// LogUpdate appends an UPDATE record carrying both images, separated by
// ';'.
func (w *WALManager) LogUpdate(tx int64, table string, rid RecordID, oldValues, newValues Tuple) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s,%d,%s,%d,%d", opUpdate, tx, table, rid.PageNo, rid.SlotNo)
	for _, v := range oldValues {
		b.WriteByte(',')
		b.WriteString(fvEncode(v))
	}
	b.WriteByte(';')
	for i, v := range newValues {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fvEncode(v))
	}
	return w.appendLine(b.String())
}

// LogCommit appends a COMMIT record. The caller MUST call Flush before
// acknowledging the commit: an un-flushed COMMIT is equivalent to no
// COMMIT for recovery purposes.
func (w *WALManager) LogCommit(tx int64) error {
	return w.appendLine(fmt.Sprintf("%s,%d", opCommit, tx))
}

// LogAbort appends an ABORT record.
func (w *WALManager) LogAbort(tx int64) error {
	return w.appendLine(fmt.Sprintf("%s,%d", opAbort, tx))
}

// Flush forces buffered records to the host file.
func (w *WALManager) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	return w.f.Sync()
}

// Close flushes and closes the underlying file.
func (w *WALManager) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// logEntry is the in-memory parse of one WAL line.
type logEntry struct {
	op        string
	tx        int64
	table     string
	rid       RecordID
	oldValues Tuple
	newValues Tuple
}

func parseLogLine(line string) (logEntry, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return logEntry{}, fmt.Errorf("wal: malformed line %q: %w", line, ErrCorruptLog)
	}
	tx, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return logEntry{}, fmt.Errorf("wal: malformed tx in %q: %w", line, ErrCorruptLog)
	}

	switch parts[0] {
	case opCommit:
		return logEntry{op: opCommit, tx: tx}, nil
	case opAbort:
		return logEntry{op: opAbort, tx: tx}, nil
	case opInsert, opDelete:
		if len(parts) < 5 {
			return logEntry{}, fmt.Errorf("wal: malformed line %q: %w", line, ErrCorruptLog)
		}
		page, err1 := strconv.ParseUint(parts[3], 10, 32)
		slot, err2 := strconv.ParseUint(parts[4], 10, 32)
		if err1 != nil || err2 != nil {
			return logEntry{}, fmt.Errorf("wal: malformed RecordID in %q: %w", line, ErrCorruptLog)
		}
		values := make(Tuple, 0, len(parts)-5)
		for _, tok := range parts[5:] {
			v, err := fvDecode(tok)
			if err != nil {
				return logEntry{}, err
			}
			values = append(values, v)
		}
		e := logEntry{op: parts[0], tx: tx, table: parts[2], rid: RecordID{PageNo: PageNo(page), SlotNo: uint32(slot)}}
		if parts[0] == opInsert {
			e.newValues = values
		} else {
			e.oldValues = values
		}
		return e, nil
	case opUpdate:
		semi := strings.IndexByte(line, ';')
		if semi < 0 {
			return logEntry{}, fmt.Errorf("wal: UPDATE missing ';' in %q: %w", line, ErrCorruptLog)
		}
		oldPart := strings.Split(line[:semi], ",")
		newPart := strings.Split(line[semi+1:], ",")
		if len(oldPart) < 5 {
			return logEntry{}, fmt.Errorf("wal: malformed UPDATE in %q: %w", line, ErrCorruptLog)
		}
		page, err1 := strconv.ParseUint(oldPart[3], 10, 32)
		slot, err2 := strconv.ParseUint(oldPart[4], 10, 32)
		if err1 != nil || err2 != nil {
			return logEntry{}, fmt.Errorf("wal: malformed RecordID in %q: %w", line, ErrCorruptLog)
		}
		oldValues := make(Tuple, 0, len(oldPart)-5)
		for _, tok := range oldPart[5:] {
			v, err := fvDecode(tok)
			if err != nil {
				return logEntry{}, err
			}
			oldValues = append(oldValues, v)
		}
		newValues := make(Tuple, 0, len(newPart))
		for _, tok := range newPart {
			if tok == "" {
				continue
			}
			v, err := fvDecode(tok)
			if err != nil {
				return logEntry{}, err
			}
			newValues = append(newValues, v)
		}
		return logEntry{
			op: opUpdate, tx: tx, table: oldPart[2],
			rid:       RecordID{PageNo: PageNo(page), SlotNo: uint32(slot)},
			oldValues: oldValues, newValues: newValues,
		}, nil
	default:
		return logEntry{}, fmt.Errorf("wal: unknown op in %q: %w", line, ErrCorruptLog)
	}
}

// readAllEntries reads every complete line of the log in forward order. A
// partial final line (no trailing newline) is silently discarded; any
// malformed record before that point is fatal.
func readAllEntries(path string) ([]logEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(string(data), "\n")
	lines = lines[:len(lines)-1] // drop trailing "" (well-formed) or partial fragment

	entries := make([]logEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		e, err := parseLogLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Recover runs once at startup, before accepting any work:
//  1. Read every record in forward order.
//  2. Partition transactions into committed (has COMMIT) and aborted
//     (has ABORT); a transaction with neither is a loser.
//  3. Redo committed data records in forward order.
//  4. Undo loser data records in reverse order.
//  5. Truncate the log and reopen for append.
func (w *WALManager) Recover(storage Recoverable) error {
	entries, err := readAllEntries(w.path)
	if err != nil {
		return err
	}

	committed := make(map[int64]bool)
	aborted := make(map[int64]bool)
	for _, e := range entries {
		switch e.op {
		case opCommit:
			committed[e.tx] = true
		case opAbort:
			aborted[e.tx] = true
		}
	}

	for _, e := range entries {
		if !committed[e.tx] {
			continue
		}
		if err := applyRedo(storage, e); err != nil {
			return err
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if committed[e.tx] || aborted[e.tx] {
			continue
		}
		if err := applyUndo(storage, e); err != nil {
			return err
		}
	}

	return w.truncate()
}

func applyRedo(storage Recoverable, e logEntry) error {
	switch e.op {
	case opInsert:
		return storage.RedoInsert(e.table, e.rid, e.newValues)
	case opDelete:
		return storage.RedoDelete(e.table, e.rid)
	case opUpdate:
		return storage.RedoUpdate(e.table, e.rid, e.newValues)
	}
	return nil
}

func applyUndo(storage Recoverable, e logEntry) error {
	switch e.op {
	case opInsert:
		return storage.RedoDelete(e.table, e.rid)
	case opDelete:
		return storage.RedoInsert(e.table, e.rid, e.oldValues)
	case opUpdate:
		return storage.RedoUpdate(e.table, e.rid, e.oldValues)
	}
	return nil
}

// truncate zeroes the log file and reopens it for append.
func (w *WALManager) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("wal: truncate %s: %w", w.path, err)
	}
	f.Close()
	f, err = os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("wal: reopen %s: %w", w.path, err)
	}
	w.f = f
	w.w = bufio.NewWriter(f)
	return nil
}
