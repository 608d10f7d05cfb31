// Package stfixture writes small synthetic sharded models for tests.
package stfixture

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// Tensor is one entry of a synthetic shard. Data is laid out in the order
// tensors are passed to WriteShard.
type Tensor struct {
	Name  string
	DType string
	Shape []int64
	Data  []byte
}

// WriteShard writes a shard named name into dir and returns its path.
func WriteShard(t testing.TB, dir, name string, tensors ...Tensor) string {
	t.Helper()
	infos := make(map[string]safetensors.TensorInfo, len(tensors))
	var blob bytes.Buffer
	for _, tn := range tensors {
		start := int64(blob.Len())
		blob.Write(tn.Data)
		infos[tn.Name] = safetensors.TensorInfo{
			DType: tn.DType,
			Shape: tn.Shape,
			Start: start,
			End:   int64(blob.Len()),
		}
	}
	header, err := safetensors.EncodeHeader(infos, map[string]string{"format": "pt"})
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := safetensors.WriteFile(path, header, &blob); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	return path
}

// WriteIndex writes an index document mapping tensor names to shards.
func WriteIndex(t testing.TB, dir, name string, weightMap map[string]string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"weight_map": weightMap})
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return path
}

// F32 encodes vals as little-endian float32.
func F32(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// U16 encodes vals as little-endian uint16, e.g. BF16 bit patterns.
func U16(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// Fill returns n bytes of value v.
func Fill(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}
