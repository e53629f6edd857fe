package main

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"hosted", ModeHosted},
		{"", ModeHosted},
		{"Freestanding", ModeFreestanding},
		{" kernel ", ModeFreestanding},
		{"nostdlib", ModeFreestanding},
	}
	for _, test := range tests {
		mode, err := ParseMode(test.in)
		be.Err(t, err, nil)
		be.Equal(t, mode, test.want)
	}

	_, err := ParseMode("bare")
	be.Err(t, err, `unknown mode "bare"`)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	be.Err(t, cfg.Validate(), nil)

	cfg.StackSize = 1000
	be.Err(t, cfg.Validate(), "stack size 1000")

	cfg.StackSize = 4096 + 8
	be.Err(t, cfg.Validate(), "multiple of 16")

	cfg = DefaultConfig()
	cfg.Mode = "wasm"
	be.Err(t, cfg.Validate(), `unknown mode "wasm"`)
}

func TestEntryName(t *testing.T) {
	cfg := DefaultConfig()
	be.Equal(t, cfg.EntryName(), "main")
	cfg.Mode = ModeFreestanding
	be.Equal(t, cfg.EntryName(), "_start")
	cfg.Entry = "kmain"
	be.Equal(t, cfg.EntryName(), "kmain")
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SWEET_MODE", "kernel")
	t.Setenv("SWEET_ENTRY", "kmain")
	t.Setenv("SWEET_ASFLAGS", "-g -Fdwarf")
	t.Setenv("SWEET_SANITIZE", "true")
	t.Setenv("SWEET_STACK_SIZE", "65536")

	cfg := DefaultConfig()
	be.Err(t, cfg.LoadEnv(), nil)
	be.Equal(t, cfg.Mode, ModeFreestanding)
	be.Equal(t, cfg.Entry, "kmain")
	be.Equal(t, cfg.ASFlags, "-g -Fdwarf")
	be.True(t, cfg.Sanitize)
	be.Equal(t, cfg.StackSize, 65536)
	be.Equal(t, cfg.Verbose, false)
}

func TestLoadEnvRejectsBadValues(t *testing.T) {
	t.Setenv("SWEET_MODE", "bare")
	cfg := DefaultConfig()
	be.Err(t, cfg.LoadEnv(), "SWEET_MODE")

	t.Setenv("SWEET_MODE", "hosted")
	t.Setenv("SWEET_STACK_SIZE", "100")
	cfg = DefaultConfig()
	be.Err(t, cfg.LoadEnv(), "stack size 100")
}
