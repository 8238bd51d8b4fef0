package storage

import (
	"fmt"
	"os"
	"sync"
)

// fileEntry tracks one open host file: its handle, the in-memory free-list
// of deallocated page numbers, and the page count derived from file size.
type fileEntry struct {
	f         *os.File
	freeList  []PageNo
	pageCount uint32
}

// FileManager owns fixed-size paged file I/O for every open file, plus
// each file's free-page list. The free-list is in-memory only and is lost
// across process restarts (see DESIGN.md, free-list persistence).
type FileManager struct {
	mu     sync.Mutex
	files  map[FileID]*fileEntry
	nextID FileID
}

// NewFileManager returns an empty FileManager.
func NewFileManager() *FileManager {
	return &FileManager{files: make(map[FileID]*fileEntry)}
}

// Open opens path for read/write, creating it if it does not exist, and
// returns a handle for subsequent operations.
func (fm *FileManager) Open(path string) (FileID, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("file manager: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("file manager: stat %s: %w", path, err)
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.nextID++
	id := fm.nextID
	fm.files[id] = &fileEntry{
		f:         f,
		pageCount: uint32(info.Size() / PageSize),
	}
	return id, nil
}

// Close closes the file handle for id and drops its bookkeeping. An
// invalid id is a programming error and is fatal.
func (fm *FileManager) Close(id FileID) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	e, ok := fm.files[id]
	if !ok {
		panic(fmt.Sprintf("file manager: invalid file id %d", id))
	}
	err := e.f.Close()
	delete(fm.files, id)
	return err
}

// ReadPage reads page pageNo of file id into buf, which must be exactly
// PageSize bytes. Reading at or beyond the current page count zero-fills
// buf instead of failing.
func (fm *FileManager) ReadPage(id FileID, pageNo PageNo, buf []byte) error {
	if len(buf) != PageSize {
		panic("file manager: buffer must be PageSize bytes")
	}
	fm.mu.Lock()
	e, ok := fm.files[id]
	fm.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("file manager: invalid file id %d", id))
	}

	if uint32(pageNo) >= e.pageCount {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	n, err := e.f.ReadAt(buf, int64(pageNo)*PageSize)
	if err != nil && n < PageSize {
		return fmt.Errorf("file manager: read page %d: %w", pageNo, err)
	}
	for i := n; i < PageSize; i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes buf (PageSize bytes) to page pageNo of file id,
// extending the file as needed, and flushes to the host.
func (fm *FileManager) WritePage(id FileID, pageNo PageNo, buf []byte) error {
	if len(buf) != PageSize {
		panic("file manager: buffer must be PageSize bytes")
	}
	fm.mu.Lock()
	e, ok := fm.files[id]
	fm.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("file manager: invalid file id %d", id))
	}

	if _, err := e.f.WriteAt(buf, int64(pageNo)*PageSize); err != nil {
		return fmt.Errorf("file manager: write page %d: %w", pageNo, err)
	}
	if err := e.f.Sync(); err != nil {
		return fmt.Errorf("file manager: sync: %w", err)
	}

	fm.mu.Lock()
	if uint32(pageNo)+1 > e.pageCount {
		e.pageCount = uint32(pageNo) + 1
	}
	fm.mu.Unlock()
	return nil
}

// Allocate returns a page number for a new page: it pops from the
// free-list if nonempty, otherwise appends a zeroed page to the file.
func (fm *FileManager) Allocate(id FileID) (PageNo, error) {
	fm.mu.Lock()
	e, ok := fm.files[id]
	if !ok {
		fm.mu.Unlock()
		panic(fmt.Sprintf("file manager: invalid file id %d", id))
	}
	if n := len(e.freeList); n > 0 {
		pn := e.freeList[n-1]
		e.freeList = e.freeList[:n-1]
		fm.mu.Unlock()
		return pn, nil
	}
	pn := PageNo(e.pageCount)
	fm.mu.Unlock()

	var zero [PageSize]byte
	if err := fm.WritePage(id, pn, zero[:]); err != nil {
		return 0, err
	}
	return pn, nil
}

// Deallocate pushes pageNo onto file id's free-list without zeroing its
// contents.
func (fm *FileManager) Deallocate(id FileID, pageNo PageNo) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	e, ok := fm.files[id]
	if !ok {
		panic(fmt.Sprintf("file manager: invalid file id %d", id))
	}
	e.freeList = append(e.freeList, pageNo)
	return nil
}

// PageCount returns the number of pages currently in file id.
func (fm *FileManager) PageCount(id FileID) (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	e, ok := fm.files[id]
	if !ok {
		panic(fmt.Sprintf("file manager: invalid file id %d", id))
	}
	return e.pageCount, nil
}
