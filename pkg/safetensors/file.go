package safetensors

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// File provides random access to the tensors of one shard.
//
// When the platform supports it the shard is mapped read-only; otherwise
// reads go through ReadAt on the open handle. Both are safe for concurrent
// readers.
type File struct {
	Path      string
	DataStart int64
	Size      int64
	Header    *Header

	f      *os.File
	mapped []byte
	ra     io.ReaderAt
}

// Open reads and validates the container at path and keeps it open for
// tensor reads. Every tensor range must lie inside the file.
func Open(path string) (*File, error) {
	c, err := ReadContainer(path)
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(c.Header)
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Path = path
		}
		return nil, err
	}
	blob := c.Size - c.DataStart
	for name, ti := range h.Tensors {
		if ti.End > blob {
			return nil, formatErr(path, fmt.Errorf("%w %q: range [%d,%d) exceeds data size %d", ErrBadTensor, name, ti.Start, ti.End, blob))
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sf := &File{
		Path:      path,
		DataStart: c.DataStart,
		Size:      c.Size,
		Header:    h,
		f:         f,
		ra:        f,
	}
	if data, err := mapFile(f, c.Size); err == nil {
		sf.mapped = data
		sf.ra = bytes.NewReader(data)
	}
	return sf, nil
}

// Mapped reports whether reads are served from a memory mapping.
func (sf *File) Mapped() bool { return sf.mapped != nil }

func (sf *File) Close() error {
	if sf == nil || sf.f == nil {
		return nil
	}
	var first error
	if sf.mapped != nil {
		first = unmapFile(sf.mapped)
		sf.mapped = nil
	}
	if err := sf.f.Close(); err != nil && first == nil {
		first = err
	}
	sf.f = nil
	sf.ra = nil
	return first
}

func (sf *File) Tensor(name string) (TensorInfo, bool) {
	if sf == nil || sf.Header == nil {
		return TensorInfo{}, false
	}
	ti, ok := sf.Header.Tensors[name]
	return ti, ok
}

// Section returns a reader over the bytes of ti, which must belong to sf.
func (sf *File) Section(ti TensorInfo) (*io.SectionReader, error) {
	if sf == nil || sf.ra == nil {
		return nil, ErrClosed
	}
	if ti.End < ti.Start || sf.DataStart+ti.End > sf.Size {
		return nil, fmt.Errorf("safetensors: %s: invalid range [%d,%d)", sf.Path, ti.Start, ti.End)
	}
	return io.NewSectionReader(sf.ra, sf.DataStart+ti.Start, ti.Size()), nil
}

// ReadRange reads the bytes of ti into memory.
func (sf *File) ReadRange(ti TensorInfo) ([]byte, error) {
	r, err := sf.Section(ti)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, ti.Size())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("safetensors: %s: read [%d,%d): %w", sf.Path, ti.Start, ti.End, err)
	}
	return buf, nil
}

// ReadTensor reads a named tensor into memory.
func (sf *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	ti, ok := sf.Tensor(name)
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor not found: %s", name)
	}
	b, err := sf.ReadRange(ti)
	return b, ti, err
}
