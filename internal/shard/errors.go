package shard

import "fmt"

// MissingIndexError reports that the top-level index document could not be
// opened. It is fatal for a run.
type MissingIndexError struct {
	Path string
	Err  error
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("shard: cannot open index %s: %v", e.Path, e.Err)
}

func (e *MissingIndexError) Unwrap() error { return e.Err }

// PartialScanError reports a shard whose header could not be read. Its
// tensors are absent from the Index; the run continues.
type PartialScanError struct {
	Shard string
	Err   error
}

func (e *PartialScanError) Error() string {
	return fmt.Sprintf("shard: skipped %s: %v", e.Shard, e.Err)
}

func (e *PartialScanError) Unwrap() error { return e.Err }
