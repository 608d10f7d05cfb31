package shard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/internal/stfixture"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

func quietCtx() context.Context {
	return logger.WithContext(context.Background(), logger.Discard())
}

func TestResolveAcrossShards(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stfixture.WriteShard(t, dir, "model-00002-of-00002.safetensors",
		stfixture.Tensor{Name: "w_scale_inv", DType: "F32", Shape: []int64{1, 1}, Data: stfixture.F32(0.5)},
		stfixture.Tensor{Name: "norm", DType: "BF16", Shape: []int64{2}, Data: stfixture.U16(1, 2)},
	)
	stfixture.WriteShard(t, dir, "model-00001-of-00002.safetensors",
		stfixture.Tensor{Name: "w", DType: "F8_E4M3", Shape: []int64{2, 2}, Data: []byte{1, 2, 3, 4}},
	)
	stfixture.WriteIndex(t, dir, DefaultIndexName, map[string]string{
		"w":           "model-00001-of-00002.safetensors",
		"w_scale_inv": "model-00002-of-00002.safetensors",
		"norm":        "model-00002-of-00002.safetensors",
	})

	idx, err := Resolve(quietCtx(), Options{Root: dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if diff := cmp.Diff([]string{"model-00001-of-00002.safetensors", "model-00002-of-00002.safetensors"}, idx.Shards()); diff != "" {
		t.Fatalf("shard order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"norm", "w", "w_scale_inv"}, idx.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}

	w, ok := idx.Descriptor("w")
	if !ok || w.Shard != "model-00001-of-00002.safetensors" || w.Info.DType != "F8_E4M3" {
		t.Fatalf("unexpected descriptor %+v", w)
	}
	scale, ok := idx.Scale("w")
	if !ok || scale.Shard != "model-00002-of-00002.safetensors" {
		t.Fatalf("scale not resolved across shards: %+v", scale)
	}
	f, ok := idx.File(scale)
	if !ok {
		t.Fatal("scale shard not open")
	}
	b, err := f.ReadRange(scale.Info)
	if err != nil || len(b) != 4 {
		t.Fatalf("read scale: %v %v", b, err)
	}
}

func TestResolveScaleOutsideWeightMap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stfixture.WriteShard(t, dir, "a.safetensors",
		stfixture.Tensor{Name: "w", DType: "F8_E4M3", Shape: []int64{1, 1}, Data: []byte{1}},
	)
	stfixture.WriteShard(t, dir, "b.safetensors",
		stfixture.Tensor{Name: "w_scale_inv", DType: "F32", Shape: []int64{1, 1}, Data: stfixture.F32(1)},
	)
	stfixture.WriteIndex(t, dir, DefaultIndexName, map[string]string{"w": "a.safetensors"})

	idx, err := Resolve(quietCtx(), Options{Root: dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if _, ok := idx.Descriptor("w_scale_inv"); ok {
		t.Fatal("scale should not become a merged tensor when absent from the weight map")
	}
	if d, ok := idx.Scale("w"); !ok || d.Shard != "b.safetensors" {
		t.Fatalf("expected header-level scale lookup, got %+v %v", d, ok)
	}
}

func TestResolveDropsIndexShardMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stfixture.WriteShard(t, dir, "a.bin",
		stfixture.Tensor{Name: "y", DType: "BF16", Shape: []int64{1}, Data: stfixture.U16(7)},
	)
	stfixture.WriteIndex(t, dir, "index.json", map[string]string{
		"x": "a.bin",
		"y": "a.bin",
		"z": "gone.bin",
	})

	idx, err := Resolve(quietCtx(), Options{Root: dir, IndexName: "index.json", Ext: ".bin"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if _, ok := idx.Descriptor("x"); ok {
		t.Fatal("x should be dropped")
	}
	if diff := cmp.Diff([]string{"y"}, idx.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "z"}, idx.Unresolved()); diff != "" {
		t.Fatalf("unresolved (-want +got):\n%s", diff)
	}
	if s, ok := idx.ShardOf("x"); !ok || s != "a.bin" {
		t.Fatalf("ShardOf(x) = %q, %v", s, ok)
	}
}

func TestResolveSkipsBrokenShard(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stfixture.WriteShard(t, dir, "good.safetensors",
		stfixture.Tensor{Name: "a", DType: "BF16", Shape: []int64{1}, Data: stfixture.U16(1)},
	)
	if err := os.WriteFile(filepath.Join(dir, "bad.safetensors"), []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("write bad shard: %v", err)
	}
	stfixture.WriteIndex(t, dir, DefaultIndexName, map[string]string{
		"a": "good.safetensors",
		"b": "bad.safetensors",
	})

	idx, err := Resolve(quietCtx(), Options{Root: dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer func() { _ = idx.Close() }()

	errs := idx.ScanErrors()
	if len(errs) != 1 {
		t.Fatalf("expected one scan error, got %v", errs)
	}
	var perr *PartialScanError
	if !errors.As(errs[0], &perr) || perr.Shard != "bad.safetensors" {
		t.Fatalf("unexpected scan error %v", errs[0])
	}
	var fe *safetensors.FormatError
	if !errors.As(errs[0], &fe) {
		t.Fatalf("expected wrapped FormatError, got %v", errs[0])
	}
	if diff := cmp.Diff([]string{"a"}, idx.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
}

func TestResolveMissingIndex(t *testing.T) {
	t.Parallel()

	_, err := Resolve(quietCtx(), Options{Root: t.TempDir()})
	var mie *MissingIndexError
	if !errors.As(err, &mie) {
		t.Fatalf("expected MissingIndexError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestResolveMalformedIndex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultIndexName), []byte("{"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	_, err := Resolve(quietCtx(), Options{Root: dir})
	var fe *safetensors.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}
