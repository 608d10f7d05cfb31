package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nickhuang99/hugecp/internal/stfixture"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing optional file", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Jobs != nil || cfg.OutputName != "" {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("missing required file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
			t.Fatal("expected error for missing explicit config")
		}
	})

	t.Run("parses keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := "block_size: 64\njobs: 3\noutput_name: merged.safetensors\nlog_format: json\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg, err := LoadConfig(path, true)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.BlockSize == nil || *cfg.BlockSize != 64 || cfg.Jobs == nil || *cfg.Jobs != 3 {
			t.Fatalf("unexpected numeric keys: %+v", cfg)
		}
		if cfg.OutputName != "merged.safetensors" || cfg.LogFormat != "json" {
			t.Fatalf("unexpected string keys: %+v", cfg)
		}
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("jobs: [\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadConfig(path, true); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func writeInput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	stfixture.WriteShard(t, dir, "model-00001-of-00001.safetensors",
		stfixture.Tensor{Name: "w", DType: "F8_E4M3", Shape: []int64{2, 2}, Data: []byte{10, 20, 30, 40}},
		stfixture.Tensor{Name: "w_scale_inv", DType: "F32", Shape: []int64{1, 1}, Data: stfixture.F32(0.5)},
	)
	stfixture.WriteIndex(t, dir, "model.safetensors.index.json", map[string]string{
		"w":           "model-00001-of-00001.safetensors",
		"w_scale_inv": "model-00001-of-00001.safetensors",
	})
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.Writer = &out
	cmd.ErrWriter = &errOut
	err := cmd.Run(context.Background(), append([]string{"q8bf16"}, args...))
	return out.String(), err
}

func TestConvertUsesConfigUnlessFlagSet(t *testing.T) {
	cfgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	if err := os.MkdirAll(filepath.Join(cfgDir, "q8bf16"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := "output_name: from-config.safetensors\nlog_level: error\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "q8bf16", "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	in := writeInput(t)

	t.Run("config applies", func(t *testing.T) {
		outDir := t.TempDir()
		stdout, err := runCLI(t, in, outDir)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !strings.Contains(stdout, "processed 2 tensors") {
			t.Fatalf("unexpected summary: %q", stdout)
		}
		if _, err := os.Stat(filepath.Join(outDir, "from-config.safetensors")); err != nil {
			t.Fatalf("expected config output name: %v", err)
		}
	})

	t.Run("explicit flag wins", func(t *testing.T) {
		outDir := t.TempDir()
		if _, err := runCLI(t, "convert", "--output-name", "flag.safetensors", in, outDir); err != nil {
			t.Fatalf("run: %v", err)
		}
		sf, err := safetensors.Open(filepath.Join(outDir, "flag.safetensors"))
		if err != nil {
			t.Fatalf("expected flag output name: %v", err)
		}
		_ = sf.Close()
	})
}

func TestConvertRejectsWrongArgCount(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := runCLI(t, "convert", "only-one"); err == nil {
		t.Fatal("expected argument error")
	}
}

func TestConvertMissingIndexFails(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := runCLI(t, "--log-level", "error", t.TempDir(), t.TempDir()); err == nil {
		t.Fatal("expected missing index error")
	}
}

func TestInspectListsTensors(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	in := writeInput(t)
	stdout, err := runCLI(t, "inspect", "--log-level", "error", in)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"dequantize", "narrow", "[10 20 30 40]", "1 shards (0 skipped), 2 tensors, 0 unresolved"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, stdout)
		}
	}
}
