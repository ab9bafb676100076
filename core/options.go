package core

import "go.uber.org/zap"

// sugaredLogger is the logger type every component takes, spelled once
// here so call sites don't need to import zap just to name the parameter.
type sugaredLogger = *zap.SugaredLogger

// Defaults mirror spec.md §6.
const (
	defaultMaxFileSize   int64   = 256 << 20 // 256 MiB
	defaultSyncWrites            = false
	defaultIndexType             = IndexBalancedTree
	defaultMergeRatio    float64 = 0.5
	defaultBatchMaxSize  int     = 10_000
)

// options collects everything Open can be configured with. It is built up
// by applying Option values over the package defaults before Open does
// anything with the directory.
type options struct {
	maxFileSize  int64
	syncWrites   bool
	indexType    IndexType
	mergeRatio   float64
	batchMaxSize int
	logger       sugaredLogger
}

func defaultOptions() options {
	return options{
		maxFileSize:  defaultMaxFileSize,
		syncWrites:   defaultSyncWrites,
		indexType:    defaultIndexType,
		mergeRatio:   defaultMergeRatio,
		batchMaxSize: defaultBatchMaxSize,
		logger:       zap.NewNop().Sugar(),
	}
}

// Option configures a DB at Open time.
type Option func(*options)

// WithMaxFileSize caps how large a segment grows before the engine seals
// it and rolls over to a new active segment.
func WithMaxFileSize(n int64) Option {
	return func(o *options) { o.maxFileSize = n }
}

// WithSyncWrites makes every Put, Delete and Batch.Commit fsync the log
// once, after its trailing commit record, before returning, trading write
// latency for not losing the most recent writes on a crash.
func WithSyncWrites(sync bool) Option {
	return func(o *options) { o.syncWrites = sync }
}

// WithIndexType selects the in-memory ordered-index implementation.
func WithIndexType(t IndexType) Option {
	return func(o *options) { o.indexType = t }
}

// WithMergeRatio sets the fraction of a data file's size that must be
// stale (reclaimable) bytes before merge reclaims it.
func WithMergeRatio(ratio float64) Option {
	return func(o *options) { o.mergeRatio = ratio }
}

// WithBatchMaxSize caps how many distinct keys a single Batch may stage;
// staging one more key returns ErrBatchTooLarge, while restaging an
// already-staged key is still accepted.
func WithBatchMaxSize(n int) Option {
	return func(o *options) { o.batchMaxSize = n }
}

// WithLogger swaps in a structured logger for lifecycle and warning events.
// The default is a no-op logger so library consumers see no output unless
// they ask for it.
func WithLogger(l sugaredLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
