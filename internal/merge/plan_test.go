package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

func keep(name string, size int64) materialize.Decision {
	return materialize.Decision{Name: name, Action: materialize.ActionCopy, DType: "BF16", Shape: []int64{size / 2}, Size: size}
}

func TestBuildContiguousOffsets(t *testing.T) {
	t.Parallel()

	p, err := Build([]materialize.Decision{
		keep("model.layers.1.w", 6),
		keep("embed", 4),
		{Name: "lost", Action: materialize.ActionDrop, Reason: materialize.ErrMissingReference},
		keep("model.layers.0.w", 10),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	entries := p.Entries()
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"embed", "model.layers.0.w", "model.layers.1.w"}, names); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	if entries[0].Start != 0 {
		t.Fatalf("first entry starts at %d", entries[0].Start)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].End != entries[i].Start {
			t.Fatalf("gap between %s and %s", entries[i-1].Name(), entries[i].Name())
		}
	}
	if p.DataSize() != 20 || entries[len(entries)-1].End != 20 {
		t.Fatalf("data size %d", p.DataSize())
	}

	if _, ok := p.Tensors()["lost"]; ok {
		t.Fatal("dropped tensor has an entry")
	}
	dropped := p.Dropped()
	if len(dropped) != 1 || dropped[0].Name != "lost" {
		t.Fatalf("dropped = %+v", dropped)
	}
}

func TestBuildRejectsDuplicatesAndReserved(t *testing.T) {
	t.Parallel()

	if _, err := Build([]materialize.Decision{keep("a", 2), keep("a", 2)}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := Build([]materialize.Decision{keep(safetensors.MetadataKey, 2)}); err == nil {
		t.Fatal("expected reserved name error")
	}
	if _, err := Build([]materialize.Decision{{Name: "z", Action: materialize.ActionCopy}}); err == nil {
		t.Fatal("expected size error")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := Build([]materialize.Decision{
		keep("b", 4),
		{Name: "a", Action: materialize.ActionPassThrough, DType: "I64", Shape: []int64{1}, Size: 8},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	raw, err := p.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	h, err := safetensors.ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if string(h.Metadata) != `{"format":"pt"}` {
		t.Fatalf("metadata = %s", h.Metadata)
	}
	want := map[string]safetensors.TensorInfo{
		"a": {DType: "I64", Shape: []int64{1}, Start: 0, End: 8},
		"b": {DType: "BF16", Shape: []int64{2}, Start: 8, End: 12},
	}
	if diff := cmp.Diff(want, h.Tensors); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	p, err := Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.Entries()) != 0 || p.DataSize() != 0 {
		t.Fatalf("expected empty plan")
	}
	if _, err := p.Header(); err != nil {
		t.Fatalf("Header: %v", err)
	}
}
