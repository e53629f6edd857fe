package main

import (
	"errors"
	"testing"

	"github.com/nalgeon/be"
)

// execAsm runs a block that touches only registers and machine memory.
func execAsm(t *testing.T, m *Machine, text string) error {
	t.Helper()
	block, err := ParseAsmBlock(text, 1, asmLookup())
	be.Err(t, err, nil)
	return m.ExecAsm(block, nil)
}

func TestExecAsmLoop(t *testing.T) {
	m := NewMachine(DefaultConfig())
	err := execAsm(t, m, `
    mov ecx, 5
    xor eax, eax
.loop:
    add rax, rcx
    dec rcx
    jnz .loop
`)
	be.Err(t, err, nil)
	be.Equal(t, m.Regs[RAX], uint64(15))
	be.Equal(t, m.Regs[RCX], uint64(0))
	be.True(t, m.ZF)
}

func TestExecAsmPartialRegisterWrites(t *testing.T) {
	m := NewMachine(DefaultConfig())
	be.Err(t, execAsm(t, m, "mov rax, -1\nmov eax, 1"), nil)
	be.Equal(t, m.Regs[RAX], uint64(1))

	be.Err(t, execAsm(t, m, "mov rax, -1\nmov al, 0"), nil)
	be.Equal(t, m.Regs[RAX], uint64(0xFFFFFFFFFFFFFF00))

	be.Err(t, execAsm(t, m, "mov rbx, 0\nmov bh, 0x12"), nil)
	be.Equal(t, m.Regs[RBX], uint64(0x1200))
}

func TestExecAsmFlags(t *testing.T) {
	m := NewMachine(DefaultConfig())
	be.Err(t, execAsm(t, m, "mov eax, 1\ncmp eax, 2"), nil)
	be.True(t, m.CF)
	be.True(t, m.SF)
	be.Equal(t, m.ZF, false)
	// cmp leaves its destination alone.
	be.Equal(t, m.Regs[RAX], uint64(1))

	be.Err(t, execAsm(t, m, "mov al, 127\ninc al"), nil)
	be.True(t, m.OF)
	be.Equal(t, m.ReadReg(registers["al"]), uint64(0x80))
}

func TestExecAsmShifts(t *testing.T) {
	m := NewMachine(DefaultConfig())
	be.Err(t, execAsm(t, m, "mov rax, -8\nsar rax, 1"), nil)
	be.Equal(t, int64(m.Regs[RAX]), int64(-4))

	be.Err(t, execAsm(t, m, "mov eax, 1\nshl eax, 31"), nil)
	be.Equal(t, m.Regs[RAX], uint64(0x80000000))
	be.True(t, m.SF)
}

func TestExecAsmPushPop(t *testing.T) {
	m := NewMachine(DefaultConfig())
	be.Err(t, execAsm(t, m, "mov rax, 7\npush rax\npop rbx"), nil)
	be.Equal(t, m.Regs[RBX], uint64(7))
	be.Equal(t, m.Regs[RSP], uint64(StackTop))
}

func TestExecAsmStringInstructions(t *testing.T) {
	m := NewMachine(DefaultConfig())
	m.Mem.Map("buf", 0x10000, 16, true)
	be.Err(t, m.Mem.WriteBytes(0x10000, []byte("hi")), nil)
	m.Regs[RSI] = 0x10000
	m.Regs[RDI] = 0x10008
	be.Err(t, execAsm(t, m, "lodsb\nstosb\nlodsb\nstosb"), nil)
	out, err := m.Mem.ReadBytes(0x10008, 2)
	be.Err(t, err, nil)
	be.Equal(t, string(out), "hi")
	be.Equal(t, m.Regs[RSI], uint64(0x10002))
}

func TestExecAsmPrivilegedInHostedMode(t *testing.T) {
	for _, text := range []string{"hlt", "cli", "mov al, 1\nout 0xE9, al"} {
		m := NewMachine(DefaultConfig())
		err := execAsm(t, m, text)
		var fault *Fault
		be.True(t, errors.As(err, &fault))
		be.Equal(t, fault.Reason, ReasonPrivileged)
		be.Equal(t, fault.Signal(), "SIGSEGV")
	}
}

func TestExecAsmFreestandingPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	m := NewMachine(cfg)
	be.Err(t, execAsm(t, m, "cli\nmov al, 'K'\nout 0xE9, al\nin al, 0xE9"), nil)
	be.Equal(t, m.Port.String(), "K")
	be.True(t, m.InterruptsDisabled)
	be.Equal(t, m.ReadReg(registers["al"]), uint64(0xE9))

	err := execAsm(t, m, "hlt")
	be.True(t, errors.Is(err, errHalt))
}

func TestExecAsmCallThroughRegisterFaults(t *testing.T) {
	m := NewMachine(DefaultConfig())
	err := execAsm(t, m, "mov rax, 0x1000\ncall rax")
	var fault *Fault
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Access, "exec")
	be.Equal(t, fault.Addr, uint64(0x1000))
}
