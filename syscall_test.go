package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func syscallMachine(number uint64, args ...uint64) (*Machine, *bytes.Buffer) {
	m := NewMachine(DefaultConfig())
	var stdout bytes.Buffer
	m.Stdout = &stdout
	m.Mem.Map("buf", 0x10000, 16, true)
	copy(m.Mem.Region(0x10000, 1).Data, "hello")
	m.Regs[RAX] = number
	for i, v := range args {
		m.Regs[syscallArgRegs[i]] = v
	}
	return m, &stdout
}

func TestSyscallWrite(t *testing.T) {
	m, stdout := syscallMachine(SYS_WRITE, 1, 0x10000, 5)
	m.Regs[RCX] = 99
	be.Err(t, m.Syscall(), nil)
	be.Equal(t, stdout.String(), "hello")
	be.Equal(t, m.Regs[RAX], uint64(5))
	// The kernel clobbers rcx and saves rflags in r11.
	be.Equal(t, m.Regs[RCX], uint64(0))
	be.Equal(t, m.Regs[R11], m.flagsWord())
}

func TestSyscallErrors(t *testing.T) {
	tests := []struct {
		number uint64
		args   []uint64
		errno  int
	}{
		{SYS_WRITE, []uint64{7, 0x10000, 5}, EBADF},
		{SYS_WRITE, []uint64{1, 0x10000, 64}, EFAULT},
		{SYS_WRITE, []uint64{1, 0, 1}, EFAULT},
		{SYS_READ, []uint64{3, 0x10000, 4}, EBADF},
		{SYS_READ, []uint64{0, 0, 4}, EFAULT},
		{999, nil, ENOSYS},
	}
	for _, test := range tests {
		m, _ := syscallMachine(test.number, test.args...)
		be.Err(t, m.Syscall(), nil)
		be.Equal(t, int64(m.Regs[RAX]), int64(-test.errno))
	}
}

func TestSyscallRead(t *testing.T) {
	m, _ := syscallMachine(SYS_READ, 0, 0x10008, 8)
	m.Stdin = strings.NewReader("hi")
	be.Err(t, m.Syscall(), nil)
	be.Equal(t, m.Regs[RAX], uint64(2))
	data, _ := m.Mem.ReadBytes(0x10008, 2)
	be.Equal(t, string(data), "hi")
}

func TestSyscallGetpidAndExit(t *testing.T) {
	m, _ := syscallMachine(SYS_GETPID)
	be.Err(t, m.Syscall(), nil)
	be.Equal(t, m.Regs[RAX], uint64(4242))

	for _, number := range []uint64{SYS_EXIT, SYS_EXIT_GROUP} {
		m, _ = syscallMachine(number, 300)
		var exit *ExitError
		be.True(t, errors.As(m.Syscall(), &exit))
		be.Equal(t, exit.Code, 44)
	}
}

func TestSyscallIsUndefinedFreestanding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	m := NewMachine(cfg)
	m.Regs[RAX] = SYS_GETPID
	err := m.Syscall()
	var fault *Fault
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Signal(), "#UD")
}

func TestSyscallFromAsmBlock(t *testing.T) {
	output := executeSweet(t, `
fn main() {
    var msg: string = "raw\n";
    asm {
        mov rax, 1
        mov rdi, 1
        mov rsi, msg
        mov rdx, 4
        syscall
    }
}
`)
	be.Equal(t, output, "raw\n")
}
