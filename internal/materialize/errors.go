package materialize

import "errors"

var (
	// ErrMissingReference: a quantized weight has no resolvable scale tensor.
	ErrMissingReference = errors.New("missing reference")
	// ErrShapeMismatch: declared shape, dtype and byte range disagree, or the
	// scale table does not match the block grid.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNotMatrix: a block-quantized tensor is not 2-D.
	ErrNotMatrix = errors.New("quantized tensor is not 2-D")
	// ErrDropped is returned when asked to produce bytes for a dropped tensor.
	ErrDropped = errors.New("tensor dropped")
)
