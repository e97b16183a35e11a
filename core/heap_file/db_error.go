package heapfile

import "errors"

// --- Error Definitions ---

var (
	ErrIO               = errors.New("i/o error")
	ErrFileExists       = errors.New("heap file already exists")
	ErrFileNotFound     = errors.New("heap file not found")
	ErrFileClosed       = errors.New("heap file is closed")
	ErrInvalidMagic     = errors.New("invalid heap file magic number")
	ErrPageOutOfRange   = errors.New("page id beyond allocated page count")
	ErrPageSizeMismatch = errors.New("page buffer size does not match file page size")
)
