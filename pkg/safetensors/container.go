// Package safetensors reads and writes the sharded tensor container format:
//
//	[8 bytes LE uint64 header_len][header_len bytes JSON][raw tensor bytes]
//
// Tensor data_offsets in the header are relative to the first byte after the
// header. Writers emit tensors back to back with no padding.
package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// PrefixSize is the width of the little-endian header length prefix.
const PrefixSize = 8

// maxHeaderSize caps header allocations; real headers are a few MiB at most.
const maxHeaderSize = 256 << 20

// Container is the undecoded header of a shard plus the location of its blob.
type Container struct {
	Path string
	Size int64
	// Header holds the raw JSON header bytes.
	Header []byte
	// DataStart is PrefixSize + len(Header).
	DataStart int64
}

// ReadContainer reads the length prefix and header of the file at path.
// Any structural problem is reported as a *FormatError.
func ReadContainer(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	c, err := ReadContainerFrom(f, st.Size())
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Path = path
		}
		return nil, err
	}
	c.Path = path
	return c, nil
}

// ReadContainerFrom reads a container header from r, which holds size bytes.
func ReadContainerFrom(r io.ReaderAt, size int64) (*Container, error) {
	if size < PrefixSize {
		return nil, formatErr("", ErrTooSmall)
	}
	var prefix [PrefixSize]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, formatErr("", fmt.Errorf("read length prefix: %w", err))
	}
	headerLen := binary.LittleEndian.Uint64(prefix[:])
	if headerLen > uint64(size-PrefixSize) {
		return nil, formatErr("", fmt.Errorf("%w (%d > %d)", ErrHeaderOverflow, headerLen, size-PrefixSize))
	}
	if headerLen > maxHeaderSize {
		return nil, formatErr("", fmt.Errorf("header too large (%d bytes)", headerLen))
	}

	header := make([]byte, headerLen)
	if _, err := r.ReadAt(header, PrefixSize); err != nil {
		return nil, formatErr("", fmt.Errorf("read header: %w", err))
	}
	if !json.Valid(header) {
		return nil, formatErr("", ErrHeaderJSON)
	}
	return &Container{
		Size:      size,
		Header:    header,
		DataStart: PrefixSize + int64(headerLen),
	}, nil
}

// Writer emits a container: length prefix and header on creation, then tensor
// bytes exactly as they are written.
type Writer struct {
	bw       *bufio.Writer
	header   int64
	data     int64
	finished bool
}

// NewWriter writes the length prefix and header to w.
func NewWriter(w io.Writer, header []byte) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 1<<20)
	var prefix [PrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(header)))
	if _, err := bw.Write(prefix[:]); err != nil {
		return nil, err
	}
	if _, err := bw.Write(header); err != nil {
		return nil, err
	}
	return &Writer{bw: bw, header: int64(len(header))}, nil
}

// Write appends tensor bytes.
func (w *Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, ErrClosed
	}
	n, err := w.bw.Write(p)
	w.data += int64(n)
	return n, err
}

// DataWritten reports the number of tensor bytes written so far.
func (w *Writer) DataWritten() int64 { return w.data }

// Size reports the total container size so far.
func (w *Writer) Size() int64 { return PrefixSize + w.header + w.data }

// Finish flushes buffered bytes. The Writer is unusable afterwards.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	w.finished = true
	return w.bw.Flush()
}

// WriteFile creates path and writes a complete container whose data section
// is copied from data.
func WriteFile(path string, header []byte, data io.Reader) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w, err := NewWriter(f, header)
	if err != nil {
		return err
	}
	if data != nil {
		if _, err := io.Copy(w, data); err != nil {
			return err
		}
	}
	return w.Finish()
}
