package cache

import "errors"

var (
	// ErrArenaExhausted is fatal: live counters cannot be stored.
	ErrArenaExhausted = errors.New("cache arena exhausted")
	// ErrLateRecord rejects a record whose window has already been closed.
	ErrLateRecord = errors.New("record is older than the retained windows")
	// ErrDoubleRelease guards the free list against a second release.
	ErrDoubleRelease = errors.New("record released twice")
	// ErrBatchNotReady is returned by a swap while the previous batch is unacknowledged.
	ErrBatchNotReady   = errors.New("previous batch not acknowledged")
	ErrUnknownBatch    = errors.New("batch is not the outstanding batch")
	ErrUnknownStrategy = errors.New("unknown aggregation strategy")
	// ErrCorruptChain reports a bucket chain that failed a structural check.
	ErrCorruptChain = errors.New("corrupt bucket chain")
)
