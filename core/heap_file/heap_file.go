package heapfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/miradb/miracache/core/page_manager"
	"go.uber.org/zap"
)

// --- HeapFile ---

// Magic identifies a heap file. It is the first little-endian word of the
// header block.
const Magic uint32 = 0xDEADBEEF

// fileHeader is the persistent header stored at offset 0. The header block
// occupies the first pageSize bytes of the file; page 0 starts at the first
// page boundary after it.
type fileHeader struct {
	Magic     uint32
	PageCount uint32
}

const headerFieldBytes = 8

// HeapFile is the backing store for a page cache: fixed-size page slots in a
// single file, identified by densely allocated PageIDs. All file access is
// serialized by an internal mutex, which is the innermost lock in the cache's
// lock ordering.
type HeapFile struct {
	path      string
	file      *os.File
	pageSize  int
	pageCount uint32
	mu        sync.Mutex
	logger    *zap.Logger
}

// Open opens a heap file. With create=true a fresh file is initialized
// (truncating anything already at path); otherwise the existing file is
// opened and its header validated.
func Open(path string, create bool, pageSize int, logger *zap.Logger) (*HeapFile, error) {
	hf := &HeapFile{
		path:     path,
		pageSize: pageSize,
		logger:   logger.Named("heap_file"),
	}

	if create {
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, path, err)
		}
		hf.file = file
		hf.pageCount = 0
		if err := hf.writeHeader(); err != nil {
			file.Close()
			_ = os.Remove(path)
			return nil, err
		}
		hf.logger.Info("Initialized heap file",
			zap.String("path", path), zap.Int("page_size", pageSize))
		return hf, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	hf.file = file
	if err := hf.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	hf.logger.Info("Opened heap file",
		zap.String("path", path),
		zap.Int("page_size", pageSize),
		zap.Uint32("page_count", hf.pageCount))
	return hf, nil
}

// writeHeader serializes the header and rewrites the whole header block,
// zero-filling past the header fields, so the file length is always
// pageSize + pageCount*pageSize.
func (hf *HeapFile) writeHeader() error {
	buf := new(bytes.Buffer)
	header := fileHeader{Magic: Magic, PageCount: hf.pageCount}
	if err := binary.Write(buf, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: serializing header for %s: %v", ErrIO, hf.path, err)
	}
	buf.Write(make([]byte, hf.pageSize-headerFieldBytes))
	if _, err := hf.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("%w: writing header to %s at offset 0: %v", ErrIO, hf.path, err)
	}
	return nil
}

// readHeader reads and validates the header block of an existing file.
func (hf *HeapFile) readHeader() error {
	data := make([]byte, headerFieldBytes)
	if n, err := hf.file.ReadAt(data, 0); err != nil {
		if err == io.EOF && n < headerFieldBytes {
			return fmt.Errorf("%w: %s: header too short", ErrIO, hf.path)
		}
		return fmt.Errorf("%w: reading header from %s: %v", ErrIO, hf.path, err)
	}
	var header fileHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: deserializing header from %s: %v", ErrIO, hf.path, err)
	}
	if header.Magic != Magic {
		return fmt.Errorf("%w: %s: expected 0x%x, got 0x%x", ErrInvalidMagic, hf.path, Magic, header.Magic)
	}
	hf.pageCount = header.PageCount
	return nil
}

// NewPageID extends the file by one zeroed page slot, persists the new page
// count in the header, and returns the allocated id.
func (hf *HeapFile) NewPageID() (pagemanager.PageID, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.file == nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: %s", ErrFileClosed, hf.path)
	}

	id := pagemanager.PageID(hf.pageCount)
	offset := hf.pageOffset(id)
	if _, err := hf.file.WriteAt(make([]byte, hf.pageSize), offset); err != nil {
		return pagemanager.InvalidPageID,
			fmt.Errorf("%w: extending %s for page %d at offset %d: %v", ErrIO, hf.path, id, offset, err)
	}
	hf.pageCount++
	if err := hf.writeHeader(); err != nil {
		hf.pageCount--
		return pagemanager.InvalidPageID, err
	}
	return id, nil
}

// Initialize extends the file until it holds at least numPages page slots.
func (hf *HeapFile) Initialize(numPages uint32) error {
	for {
		hf.mu.Lock()
		done := hf.pageCount >= numPages
		hf.mu.Unlock()
		if done {
			return nil
		}
		if _, err := hf.NewPageID(); err != nil {
			return err
		}
	}
}

// ReadPage reads the page slot for id into buf. The caller must hold an
// exclusive latch on the destination page buffer.
func (hf *HeapFile) ReadPage(id pagemanager.PageID, buf []byte) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.file == nil {
		return fmt.Errorf("%w: %s", ErrFileClosed, hf.path)
	}
	if uint32(id) >= hf.pageCount {
		return fmt.Errorf("%w: page %d, page count %d", ErrPageOutOfRange, id, hf.pageCount)
	}
	if len(buf) != hf.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrPageSizeMismatch, len(buf), hf.pageSize)
	}
	offset := hf.pageOffset(id)
	n, err := hf.file.ReadAt(buf, offset)
	if err != nil {
		return fmt.Errorf("%w: reading page %d from %s at offset %d: %v", ErrIO, id, hf.path, offset, err)
	}
	if n != hf.pageSize {
		return fmt.Errorf("%w: short read for page %d from %s: expected %d, got %d", ErrIO, id, hf.path, hf.pageSize, n)
	}
	return nil
}

// WritePage writes buf into the page slot for id. The caller must hold a
// latch proving the buffer is stable.
func (hf *HeapFile) WritePage(id pagemanager.PageID, buf []byte) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.file == nil {
		return fmt.Errorf("%w: %s", ErrFileClosed, hf.path)
	}
	if uint32(id) >= hf.pageCount {
		return fmt.Errorf("%w: page %d, page count %d", ErrPageOutOfRange, id, hf.pageCount)
	}
	if len(buf) != hf.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrPageSizeMismatch, len(buf), hf.pageSize)
	}
	offset := hf.pageOffset(id)
	if _, err := hf.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing page %d to %s at offset %d: %v", ErrIO, id, hf.path, offset, err)
	}
	// No fsync per page; durability beyond OS buffers is handled by Sync.
	return nil
}

// PageCount returns the number of allocated page slots.
func (hf *HeapFile) PageCount() uint32 {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.pageCount
}

// PageSize returns the fixed page size in bytes.
func (hf *HeapFile) PageSize() int { return hf.pageSize }

// Sync flushes OS buffers for the file.
func (hf *HeapFile) Sync() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.file == nil {
		return nil
	}
	if err := hf.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, hf.path, err)
	}
	return nil
}

// Close syncs and closes the underlying file.
func (hf *HeapFile) Close() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.file == nil {
		return nil
	}
	if err := hf.file.Sync(); err != nil {
		hf.logger.Error("Sync on close failed", zap.Error(err))
	}
	err := hf.file.Close()
	hf.file = nil
	if err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, hf.path, err)
	}
	return nil
}

// pageOffset maps a page id to its byte offset: the header block occupies
// the first pageSize bytes, page i follows at pageSize + i*pageSize.
func (hf *HeapFile) pageOffset(id pagemanager.PageID) int64 {
	return int64(hf.pageSize) + int64(id)*int64(hf.pageSize)
}
