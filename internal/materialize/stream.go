package materialize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/nickhuang99/hugecp/internal/shard"
	"github.com/nickhuang99/hugecp/pkg/bf16"
	"github.com/nickhuang99/hugecp/pkg/dequant"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// copyChunk is the streaming read size. It is a multiple of 4 so an F32
// chunk never splits an element.
const copyChunk = 1 << 20

// WriteTo streams the output bytes of dec into w and returns the count.
// Verbatim and narrowing paths hold at most one chunk in memory;
// dequantization needs the whole matrix.
func (m *Materializer) WriteTo(w io.Writer, dec Decision) (int64, error) {
	switch dec.Action {
	case ActionCopy, ActionPassThrough:
		r, err := m.section(dec.Source)
		if err != nil {
			return 0, err
		}
		n, err := io.CopyBuffer(w, r, make([]byte, copyChunk))
		if err != nil {
			return n, fmt.Errorf("materialize: copy %s: %w", dec.Name, err)
		}
		return n, nil
	case ActionNarrow:
		r, err := m.section(dec.Source)
		if err != nil {
			return 0, err
		}
		n, err := narrowStream(w, r, dec.Source.Info.Size())
		if err != nil {
			return n, fmt.Errorf("materialize: narrow %s: %w", dec.Name, err)
		}
		return n, nil
	default:
		b, err := m.Materialize(dec)
		if err != nil {
			return 0, err
		}
		n, err := w.Write(b)
		return int64(n), err
	}
}

// Materialize returns the complete output bytes of dec.
func (m *Materializer) Materialize(dec Decision) ([]byte, error) {
	switch dec.Action {
	case ActionDrop:
		return nil, fmt.Errorf("materialize: %s: %w", dec.Name, ErrDropped)
	case ActionCopy, ActionPassThrough:
		return m.read(dec.Source)
	case ActionNarrow:
		raw, err := m.read(dec.Source)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(raw)/4*bf16.Size)
		bf16.NarrowF32Bytes(out, raw)
		return out, nil
	case ActionDequantize:
		return m.dequantize(dec)
	default:
		return nil, fmt.Errorf("materialize: %s: unknown action %v", dec.Name, dec.Action)
	}
}

func (m *Materializer) dequantize(dec Decision) ([]byte, error) {
	q, err := m.read(dec.Source)
	if err != nil {
		return nil, err
	}
	rawScale, err := m.read(dec.Scale)
	if err != nil {
		return nil, err
	}
	scaleInv := decodeScale(rawScale, dec.Scale.Info.DType)

	shape := dec.Source.Info.Shape
	out := make([]byte, dec.Size)
	if err := dequant.BlockwiseInto(out, q, scaleInv, shape[0], shape[1], m.blockSize); err != nil {
		m.log.Error("dequantization failed", "tensor", dec.Name, "error", err)
		return nil, fmt.Errorf("materialize: %s: %w", dec.Name, err)
	}
	return out, nil
}

// decodeScale widens a scale table stored as F32 or BF16.
func decodeScale(raw []byte, dtype string) []float32 {
	if dtype == safetensors.DTypeBF16 {
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = bf16.ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func (m *Materializer) section(d shard.Descriptor) (*io.SectionReader, error) {
	f, ok := m.res.File(d)
	if !ok {
		return nil, fmt.Errorf("materialize: %s: shard %s not open", d.Name, d.Shard)
	}
	return f.Section(d.Info)
}

func (m *Materializer) read(d shard.Descriptor) ([]byte, error) {
	f, ok := m.res.File(d)
	if !ok {
		return nil, fmt.Errorf("materialize: %s: shard %s not open", d.Name, d.Shard)
	}
	return f.ReadRange(d.Info)
}

// narrowStream converts size bytes of little-endian F32 from src into BF16
// on dst.
func narrowStream(dst io.Writer, src io.Reader, size int64) (int64, error) {
	if size%4 != 0 {
		return 0, errors.New("f32->bf16: trailing partial element")
	}
	in := make([]byte, copyChunk)
	out := make([]byte, copyChunk/2)
	var remaining, written int64 = size, 0
	for remaining > 0 {
		chunk := min(int64(len(in)), remaining)
		if _, err := io.ReadFull(src, in[:chunk]); err != nil {
			return written, err
		}
		n := bf16.NarrowF32Bytes(out, in[:chunk])
		wn, err := dst.Write(out[:n*bf16.Size])
		written += int64(wn)
		if err != nil {
			return written, err
		}
		remaining -= chunk
	}
	return written, nil
}
