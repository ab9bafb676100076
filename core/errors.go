package core

import "errors"

// Sentinel errors returned by the engine. Callers match them with errors.Is;
// wrapped context (key, file id, offset) is added with fmt.Errorf("%w: ...").
var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrEmptyKey        = errors.New("empty key")
	ErrRecordTooLarge  = errors.New("record exceeds max file size")
	ErrBatchTooLarge   = errors.New("batch exceeds max staged operations")
	ErrDBClosed        = errors.New("database is closed")
	ErrDBInUse         = errors.New("database directory is locked by another process")
	ErrMergeInProgress = errors.New("merge already in progress")
	ErrCorruptRecord   = errors.New("corrupt record")
	ErrCorruptLog      = errors.New("corrupt log")
	ErrDiskFull        = errors.New("no space left on device")
)
