// Package materialize turns resolved tensors into the bytes of the merged
// shard: block-quantized FP8 weights are dequantized to BF16, F32 tensors are
// narrowed to BF16, BF16 and unrecognised dtypes are copied verbatim.
//
// Classification (Decide) only reads headers, so output lengths are known
// before any tensor data is touched.
package materialize

import (
	"fmt"
	"math"
	"slices"

	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/internal/shard"
	"github.com/nickhuang99/hugecp/pkg/bf16"
	"github.com/nickhuang99/hugecp/pkg/dequant"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// Action is what happens to one tensor.
type Action int

const (
	ActionDrop Action = iota
	ActionDequantize
	ActionCopy
	ActionNarrow
	ActionPassThrough
)

func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "drop"
	case ActionDequantize:
		return "dequantize"
	case ActionCopy:
		return "copy"
	case ActionNarrow:
		return "narrow"
	case ActionPassThrough:
		return "passthrough"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the classified plan for one tensor.
type Decision struct {
	Name   string
	Source shard.Descriptor
	// Scale is set for ActionDequantize.
	Scale  shard.Descriptor
	Action Action
	// DType, Shape and Size describe the output tensor.
	DType string
	Shape []int64
	Size  int64
	// Reason explains ActionDrop.
	Reason error
}

// Dropped reports whether the tensor is excluded from the output.
func (d Decision) Dropped() bool { return d.Action == ActionDrop }

// Resolver is the part of the shard index the materializer reads from.
type Resolver interface {
	Scale(weight string) (shard.Descriptor, bool)
	File(d shard.Descriptor) (*safetensors.File, bool)
}

// Materializer produces output bytes for resolved tensors.
type Materializer struct {
	res       Resolver
	blockSize int
	log       logger.Logger
}

// New returns a Materializer. blockSize <= 0 selects dequant.DefaultBlockSize.
func New(res Resolver, blockSize int, log logger.Logger) *Materializer {
	if blockSize <= 0 {
		blockSize = dequant.DefaultBlockSize
	}
	if log == nil {
		log = logger.Default()
	}
	return &Materializer{res: res, blockSize: blockSize, log: log}
}

// BlockSize returns the dequantization tile edge.
func (m *Materializer) BlockSize() int { return m.blockSize }

// Decide classifies d and predicts its output. Dropped tensors are logged at
// WARN with the reason.
func (m *Materializer) Decide(d shard.Descriptor) Decision {
	dec := m.decide(d)
	if dec.Dropped() {
		m.log.Warn("dropping tensor", "tensor", d.Name, "dtype", d.Info.DType, "shard", d.Shard, "reason", dec.Reason)
	}
	return dec
}

func (m *Materializer) decide(d shard.Descriptor) Decision {
	ti := d.Info
	dec := Decision{
		Name:   d.Name,
		Source: d,
		DType:  ti.DType,
		Shape:  slices.Clone(ti.Shape),
	}
	drop := func(err error) Decision {
		dec.Action = ActionDrop
		dec.Size = 0
		dec.Reason = err
		return dec
	}

	if ti.Size() <= 0 {
		return drop(fmt.Errorf("%w: empty byte range [%d,%d)", ErrShapeMismatch, ti.Start, ti.End))
	}

	elemSize, known := safetensors.ElementSize(ti.DType)
	if !known {
		dec.Action = ActionPassThrough
		dec.Size = ti.Size()
		return dec
	}

	n, err := checkExtent(ti, elemSize)
	if err != nil {
		return drop(err)
	}

	switch {
	case ti.DType == safetensors.DTypeF8E4M3:
		if len(ti.Shape) != 2 {
			return drop(fmt.Errorf("%w: shape %v", ErrNotMatrix, ti.Shape))
		}
		scale, ok := m.res.Scale(d.Name)
		if !ok {
			return drop(fmt.Errorf("%w: no %s%s tensor in any shard", ErrMissingReference, d.Name, shard.ScaleSuffix))
		}
		if err := m.checkScale(ti.Shape[0], ti.Shape[1], scale.Info); err != nil {
			return drop(fmt.Errorf("scale %s: %w", scale.Name, err))
		}
		dec.Action = ActionDequantize
		dec.Scale = scale
		dec.DType = safetensors.DTypeBF16
		dec.Size = n * bf16.Size
	case ti.DType == safetensors.DTypeBF16:
		dec.Action = ActionCopy
		dec.Size = ti.Size()
	case safetensors.IsF32(ti.DType):
		dec.Action = ActionNarrow
		dec.DType = safetensors.DTypeBF16
		dec.Size = n * bf16.Size
	}
	return dec
}

func checkExtent(ti safetensors.TensorInfo, elemSize int) (int64, error) {
	n, err := ti.NumElements()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if n > math.MaxInt64/int64(elemSize) {
		return 0, fmt.Errorf("%w: shape %v of %s overflows a byte length", ErrShapeMismatch, ti.Shape, ti.DType)
	}
	if n*int64(elemSize) != ti.Size() {
		return 0, fmt.Errorf("%w: shape %v of %s needs %d bytes, range holds %d",
			ErrShapeMismatch, ti.Shape, ti.DType, n*int64(elemSize), ti.Size())
	}
	return n, nil
}

func (m *Materializer) checkScale(rows, cols int64, si safetensors.TensorInfo) error {
	if si.DType != safetensors.DTypeBF16 && !safetensors.IsF32(si.DType) {
		return fmt.Errorf("%w: unsupported scale dtype %s", ErrShapeMismatch, si.DType)
	}
	elemSize, _ := safetensors.ElementSize(si.DType)
	n, err := checkExtent(si, elemSize)
	if err != nil {
		return err
	}
	rb, cb := dequant.BlockCount(rows, cols, int64(m.blockSize))
	if n != rb*cb {
		return fmt.Errorf("%w: %d scale entries for %dx%d blocks", ErrShapeMismatch, n, rb, cb)
	}
	return nil
}
