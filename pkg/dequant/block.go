// Package dequant recovers block-quantized 8-bit weight matrices.
//
// A matrix of M×N bytes is tiled into blockSize×blockSize blocks in row-major
// block order. Each block carries one inverse scale; element (r,c) recovers as
// float32(q[r*N+c]) * (1/scaleInv[block]), with the reciprocal taken once per
// block. Edge blocks are clipped to the matrix.
package dequant

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nickhuang99/hugecp/pkg/bf16"
)

// DefaultBlockSize is the tile edge used by FP8 block-quantized checkpoints.
const DefaultBlockSize = 128

// ErrInvalidInput reports a violated precondition.
var ErrInvalidInput = errors.New("dequant: invalid input")

// BlockCount returns the number of row and column blocks covering an M×N
// matrix.
func BlockCount(m, n, blockSize int64) (rows, cols int64) {
	return (m + blockSize - 1) / blockSize, (n + blockSize - 1) / blockSize
}

// Blockwise dequantizes q (M×N, row-major) with one inverse scale per block
// and returns BF16 bit patterns. Narrowing truncates.
func Blockwise(q []byte, scaleInv []float32, m, n int64, blockSize int) ([]uint16, error) {
	if m <= 0 || n <= 0 {
		return nil, fmt.Errorf("%w: M=%d N=%d block_size=%d", ErrInvalidInput, m, n, blockSize)
	}
	raw := make([]byte, m*n*bf16.Size)
	if err := BlockwiseInto(raw, q, scaleInv, m, n, blockSize); err != nil {
		return nil, err
	}
	out := make([]uint16, m*n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[i*bf16.Size:])
	}
	return out, nil
}

// BlockwiseInto dequantizes q like Blockwise and writes little-endian BF16
// into dst, which must hold M*N*2 bytes.
//
// A zero inverse scale yields an infinite scale that propagates into the
// block's values as Inf or NaN.
func BlockwiseInto(dst, q []byte, scaleInv []float32, m, n int64, blockSize int) error {
	if m <= 0 || n <= 0 || blockSize <= 0 {
		return fmt.Errorf("%w: M=%d N=%d block_size=%d", ErrInvalidInput, m, n, blockSize)
	}
	if int64(len(q)) != m*n {
		return fmt.Errorf("%w: quantized length %d does not match M*N=%d", ErrInvalidInput, len(q), m*n)
	}
	if int64(len(dst)) != m*n*bf16.Size {
		return fmt.Errorf("%w: output length %d does not match 2*M*N=%d", ErrInvalidInput, len(dst), m*n*bf16.Size)
	}
	bs := int64(blockSize)
	rowBlocks, colBlocks := BlockCount(m, n, bs)
	if int64(len(scaleInv)) != rowBlocks*colBlocks {
		return fmt.Errorf("%w: scale_inv length %d does not match block count %d", ErrInvalidInput, len(scaleInv), rowBlocks*colBlocks)
	}

	for br := range rowBlocks {
		r0 := br * bs
		r1 := min(r0+bs, m)
		for bc := range colBlocks {
			scale := 1.0 / scaleInv[br*colBlocks+bc]
			c0 := bc * bs
			c1 := min(c0+bs, n)
			for r := r0; r < r1; r++ {
				row := r * n
				for c := c0; c < c1; c++ {
					v := bf16.FromFloat32(float32(q[row+c]) * scale)
					binary.LittleEndian.PutUint16(dst[(row+c)*bf16.Size:], v)
				}
			}
		}
	}
	return nil
}
