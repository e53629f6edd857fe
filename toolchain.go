package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Toolchain assembles and links generated assembly into an executable.
type Toolchain struct {
	Assembler string
	CC        string
	Linker    string
	Log       *log.Logger
}

// DefaultToolchain uses nasm, gcc and ld from PATH.
func DefaultToolchain(logger *log.Logger) *Toolchain {
	return &Toolchain{Assembler: "nasm", CC: "gcc", Linker: "ld", Log: logger}
}

// AssembleCommand returns the assembler invocation for one source file.
func (tc *Toolchain) AssembleCommand(cfg Config, asmFile, objFile string) []string {
	args := []string{tc.Assembler, "-felf64"}
	args = append(args, strings.Fields(cfg.ASFlags)...)
	return append(args, "-o", objFile, asmFile)
}

// LinkCommand returns the link invocation. Hosted programs link through the
// C compiler driver so the C runtime calls main; freestanding programs are
// linked statically with nothing else.
func (tc *Toolchain) LinkCommand(cfg Config, output string, objFiles ...string) []string {
	var args []string
	if cfg.Mode == ModeHosted {
		args = []string{tc.CC, "-no-pie"}
	} else {
		args = []string{tc.Linker, "-nostdlib", "-static", "-e", cfg.EntryName(), "-z", "max-page-size=0x1000"}
		if cfg.LinkerScript != "" {
			args = append(args, "-T", cfg.LinkerScript)
		}
	}
	args = append(args, "-o", output)
	return append(args, objFiles...)
}

// Build writes asm to a scratch directory, assembles it together with the
// runtime sources in cfg.Runtime and links the result to cfg.Output.
func (tc *Toolchain) Build(asm string, cfg Config) error {
	dir, err := os.MkdirTemp("", "sweet-build-")
	if err != nil {
		return err
	}
	if cfg.KeepBuildDir {
		tc.Log.Printf("keeping build directory %s", dir)
	} else {
		defer os.RemoveAll(dir)
	}

	asmFile := filepath.Join(dir, "out.asm")
	objFile := filepath.Join(dir, "out.o")
	if err := os.WriteFile(asmFile, []byte(asm), 0644); err != nil {
		return err
	}
	if err := tc.run(tc.AssembleCommand(cfg, asmFile, objFile)); err != nil {
		return fmt.Errorf("assembling: %w", err)
	}
	objFiles := []string{objFile}
	for i, runtime := range cfg.Runtime {
		if !isAsmSource(runtime) {
			objFiles = append(objFiles, runtime)
			continue
		}
		obj := filepath.Join(dir, fmt.Sprintf("runtime%d.o", i))
		if err := tc.run(tc.AssembleCommand(cfg, runtime, obj)); err != nil {
			return fmt.Errorf("assembling runtime %s: %w", runtime, err)
		}
		objFiles = append(objFiles, obj)
	}
	if err := tc.run(tc.LinkCommand(cfg, cfg.Output, objFiles...)); err != nil {
		return fmt.Errorf("linking: %w", err)
	}
	return nil
}

func isAsmSource(path string) bool {
	switch filepath.Ext(path) {
	case ".asm", ".s", ".nasm":
		return true
	}
	return false
}

// Exec runs a hosted executable built by Build with the given standard
// streams and returns its exit status.
func (tc *Toolchain) Exec(path string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if !strings.ContainsRune(path, filepath.Separator) {
		path = "." + string(filepath.Separator) + path
	}
	tc.Log.Printf("running %s", path)
	cmd := exec.Command(path)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
	err := cmd.Run()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		if status, ok := exit.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exit.ExitCode(), nil
	}
	return 0, err
}

func (tc *Toolchain) run(args []string) error {
	tc.Log.Printf("%s", strings.Join(args, " "))
	var stderr bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s: %v\n%s", args[0], err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%s: %v", args[0], err)
	}
	return nil
}
