package convert

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/internal/merge"
	"github.com/nickhuang99/hugecp/internal/shard"
	"github.com/nickhuang99/hugecp/internal/stfixture"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// fileResolver serves one open shard; any other shard name is unavailable.
type fileResolver struct {
	name string
	f    *safetensors.File
}

func (r fileResolver) Scale(string) (shard.Descriptor, bool) { return shard.Descriptor{}, false }

func (r fileResolver) File(d shard.Descriptor) (*safetensors.File, bool) {
	if d.Shard != r.name {
		return nil, false
	}
	return r.f, true
}

func TestPrefetchSourceStopsOnMaterializeError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := stfixture.WriteShard(t, dir, "good.safetensors",
		stfixture.Tensor{Name: "a", DType: "BF16", Shape: []int64{1}, Data: stfixture.U16(1)},
		stfixture.Tensor{Name: "c", DType: "BF16", Shape: []int64{1}, Data: stfixture.U16(3)},
	)
	sf, err := safetensors.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = sf.Close() }()

	copyOf := func(name, shardName string) materialize.Decision {
		ti, ok := sf.Tensor(name)
		if !ok {
			ti = safetensors.TensorInfo{DType: "BF16", Shape: []int64{1}, Start: 0, End: 2}
		}
		return materialize.Decision{
			Name:   name,
			Source: shard.Descriptor{Name: name, Shard: shardName, Info: ti},
			Action: materialize.ActionCopy,
			DType:  ti.DType,
			Shape:  ti.Shape,
			Size:   ti.Size(),
		}
	}
	plan, err := merge.Build([]materialize.Decision{
		copyOf("a", "good.safetensors"),
		copyOf("b", "missing.safetensors"),
		copyOf("c", "good.safetensors"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	m := materialize.New(fileResolver{name: "good.safetensors", f: sf}, 0, logger.Discard())
	pf := newPrefetchSource(quietCtx(), m, plan.Entries(), 2)

	var buf bytes.Buffer
	var writeErr error
	for _, e := range plan.Entries() {
		if _, writeErr = pf.WriteTensor(&buf, e); writeErr != nil {
			break
		}
	}
	if writeErr == nil {
		t.Fatal("expected a write error for the unavailable shard")
	}
	if !strings.Contains(writeErr.Error(), "not open") {
		t.Fatalf("write error = %v, want the materialize failure", writeErr)
	}

	closeErr := pf.Close()
	if closeErr == nil || !strings.Contains(closeErr.Error(), "missing.safetensors") {
		t.Fatalf("Close = %v, want the materialize failure", closeErr)
	}
}

func TestRunParallelUnwritableOutput(t *testing.T) {
	t.Parallel()
	in := writeModel(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	// The prefetcher is already running when output creation fails; Run must
	// still return instead of waiting on it.
	if _, err := Run(quietCtx(), Options{InputDir: in, OutputDir: filepath.Join(blocker, "sub"), Jobs: 4}); err == nil {
		t.Fatal("expected error for unwritable output with jobs=4")
	}
}
