package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"github.com/nickhuang99/hugecp/pkg/bf16"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// previewValues decodes up to n leading elements of a tensor. Unknown dtypes
// are shown as hex bytes.
func previewValues(r io.ReaderAt, dtype string, n int) string {
	width := 1
	switch {
	case safetensors.IsF32(dtype):
		width = 4
	case dtype == safetensors.DTypeBF16, dtype == safetensors.DTypeF16:
		width = 2
	}
	buf := make([]byte, n*width)
	k, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return "?"
	}
	buf = buf[:k-k%width]
	if len(buf) == 0 {
		return "[]"
	}

	vals := make([]string, 0, len(buf)/width)
	for i := 0; i < len(buf); i += width {
		var s string
		switch {
		case safetensors.IsF32(dtype):
			s = formatFloat(math.Float32frombits(binary.LittleEndian.Uint32(buf[i:])))
		case dtype == safetensors.DTypeBF16:
			s = formatFloat(bf16.ToFloat32(binary.LittleEndian.Uint16(buf[i:])))
		case dtype == safetensors.DTypeF16:
			s = formatFloat(float16.Frombits(binary.LittleEndian.Uint16(buf[i:])).Float32())
		case dtype == safetensors.DTypeF8E4M3:
			// Quantized payload; shown as the raw magnitudes the dequantizer scales.
			s = strconv.Itoa(int(buf[i]))
		default:
			s = fmt.Sprintf("%02x", buf[i])
		}
		vals = append(vals, s)
	}
	return "[" + strings.Join(vals, " ") + "]"
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', 5, 32)
}
