package safetensors

import (
	"fmt"
	"math"
	"sort"

	"github.com/goccy/go-json"
)

// MetadataKey is the reserved header key that never names a tensor.
const MetadataKey = "__metadata__"

// TensorInfo describes one tensor entry of a header. Start and End are
// relative to the data section; End is exclusive.
type TensorInfo struct {
	DType string
	Shape []int64
	Start int64
	End   int64
}

// Size returns the byte length of the tensor.
func (ti TensorInfo) Size() int64 { return ti.End - ti.Start }

// NumElements returns the product of the shape. A scalar (empty shape) has
// one element.
func (ti TensorInfo) NumElements() (int64, error) {
	n := int64(1)
	for _, d := range ti.Shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int64 `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Header is a decoded container header.
type Header struct {
	Tensors map[string]TensorInfo
	// Metadata is the raw __metadata__ value, nil when absent.
	Metadata json.RawMessage
}

// Names returns the tensor names in ascending order.
func (h *Header) Names() []string {
	out := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseHeader decodes raw header JSON. Failures are *FormatError values.
func ParseHeader(raw []byte) (*Header, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, formatErr("", fmt.Errorf("%w: %v", ErrHeaderJSON, err))
	}

	h := &Header{
		Tensors:  make(map[string]TensorInfo, len(entries)),
		Metadata: entries[MetadataKey],
	}
	delete(entries, MetadataKey)

	for name, msg := range entries {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, formatErr("", fmt.Errorf("%w %q: %v", ErrBadTensor, name, err))
		}
		if len(th.DataOffsets) != 2 {
			return nil, formatErr("", fmt.Errorf("%w %q: data_offsets must have two entries", ErrBadTensor, name))
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start {
			return nil, formatErr("", fmt.Errorf("%w %q: offsets [%d,%d)", ErrBadTensor, name, start, end))
		}
		for _, d := range th.Shape {
			if d < 0 {
				return nil, formatErr("", fmt.Errorf("%w %q: negative dim %d", ErrBadTensor, name, d))
			}
		}
		h.Tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: start,
			End:   end,
		}
	}
	return h, nil
}

// EncodeHeader serializes tensors and an optional metadata map into header
// JSON. Keys are emitted in ascending order.
func EncodeHeader(tensors map[string]TensorInfo, metadata map[string]string) ([]byte, error) {
	doc := make(map[string]any, len(tensors)+1)
	if metadata != nil {
		doc[MetadataKey] = metadata
	}
	for name, ti := range tensors {
		if name == MetadataKey {
			return nil, fmt.Errorf("safetensors: tensor name %q is reserved", name)
		}
		shape := ti.Shape
		if shape == nil {
			shape = []int64{}
		}
		doc[name] = tensorHeader{
			DType:       ti.DType,
			Shape:       shape,
			DataOffsets: []int64{ti.Start, ti.End},
		}
	}
	return json.Marshal(doc)
}
