package safetensors

import (
	"errors"
	"fmt"
)

var (
	ErrTooSmall       = errors.New("file shorter than length prefix")
	ErrHeaderOverflow = errors.New("declared header length exceeds file size")
	ErrHeaderJSON     = errors.New("header is not valid JSON")
	ErrBadTensor      = errors.New("invalid tensor entry")
	ErrClosed         = errors.New("safetensors: file closed")
)

// FormatError reports a malformed container.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("safetensors: %v", e.Err)
	}
	return fmt.Sprintf("safetensors: %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(path string, err error) error {
	return &FormatError{Path: path, Err: err}
}
