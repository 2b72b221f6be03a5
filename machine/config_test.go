package machine

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "kernsim.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
memory_pages = 256
timer_quantum = 0
tag_output = true
monitor_input = "-"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	exp := DefaultConfig()
	exp.MemoryPages = 256
	exp.TimerQuantum = 0
	exp.TagOutput = true
	exp.MonitorInput = "-"

	if diff := cmp.Diff(exp, cfg, cmpopts.IgnoreInterfaces(struct {
		io.Writer
		io.Reader
	}{})); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
	if got := cfg.memorySize(); got != 256<<12 {
		t.Fatalf("expected 1MB of memory; got %d bytes", got)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	specs := []struct {
		name     string
		contents string
		expErr   string
	}{
		{"unknown key", "memory_pages = 128\ndisk = \"hda\"\n", "unknown configuration keys: disk"},
		{"too little memory", "memory_pages = 8\n", errConfigMemory.Message},
		{"too many envs", "envs = 4096\n", errConfigEnvs.Message},
		{"negative quantum", "timer_quantum = -1\n", errConfigTimer.Message},
		{"syntax", "memory_pages = \n", "toml:"},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, spec.contents))
			if err == nil || !strings.Contains(err.Error(), spec.expErr) {
				t.Fatalf("expected error containing %q; got %v", spec.expErr, err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected the default config to be valid; got %v", err)
	}

	cfg := DefaultConfig()
	cfg.Envs = 0
	if err := cfg.Validate(); err != errConfigEnvs {
		t.Fatalf("expected errConfigEnvs; got %v", err)
	}
}
