package main

import (
	"fmt"
	"strings"

	"github.com/xyproto/env/v2"
)

// Mode selects the execution environment a program is built for.
type Mode string

const (
	// ModeHosted links against the C runtime and runs as a user process.
	ModeHosted Mode = "hosted"
	// ModeFreestanding runs without an operating system.
	ModeFreestanding Mode = "freestanding"
)

const (
	DefaultStackSize = 1 << 20
	DefaultDebugPort = 0xE9
)

// Config controls compilation, linking and execution.
type Config struct {
	Mode         Mode
	Entry        string // entry function; empty selects the mode default
	Output       string
	ASFlags      string
	LinkerScript string
	Runtime      []string // extra .asm sources or objects linked into the output
	Verbose      bool
	KeepBuildDir bool
	Sanitize     bool
	StackSize    int
	DebugPort    uint16
	PID          int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeHosted,
		StackSize: DefaultStackSize,
		DebugPort: DefaultDebugPort,
		PID:       4242,
	}
}

// LoadEnv overlays SWEET_* environment variables onto c.
func (c *Config) LoadEnv() error {
	// The env package caches the environment; pick up later changes.
	env.Load()
	if env.Has("SWEET_MODE") {
		mode, err := ParseMode(env.Str("SWEET_MODE"))
		if err != nil {
			return fmt.Errorf("SWEET_MODE: %w", err)
		}
		c.Mode = mode
	}
	c.Entry = env.Str("SWEET_ENTRY", c.Entry)
	c.ASFlags = env.Str("SWEET_ASFLAGS", c.ASFlags)
	c.LinkerScript = env.Str("SWEET_LINKER_SCRIPT", c.LinkerScript)
	if env.Has("SWEET_VERBOSE") {
		c.Verbose = env.Bool("SWEET_VERBOSE")
	}
	if env.Has("SWEET_SANITIZE") {
		c.Sanitize = env.Bool("SWEET_SANITIZE")
	}
	c.StackSize = env.Int("SWEET_STACK_SIZE", c.StackSize)
	return c.Validate()
}

// Validate rejects settings the machine cannot honor.
func (c *Config) Validate() error {
	if c.Mode != ModeHosted && c.Mode != ModeFreestanding {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.StackSize < 4096 || c.StackSize%16 != 0 {
		return fmt.Errorf("stack size %d must be a multiple of 16 and at least 4096", c.StackSize)
	}
	return nil
}

// ParseMode parses "hosted" or "freestanding".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hosted", "":
		return ModeHosted, nil
	case "freestanding", "kernel", "nostdlib":
		return ModeFreestanding, nil
	}
	return "", fmt.Errorf("unknown mode %q (want hosted or freestanding)", s)
}

// EntryName returns the function execution starts at.
func (c Config) EntryName() string {
	if c.Entry != "" {
		return c.Entry
	}
	if c.Mode == ModeFreestanding {
		return "_start"
	}
	return "main"
}
