package main

import (
	"errors"
	"testing"

	"github.com/nalgeon/be"
)

func TestMemoryLittleEndian(t *testing.T) {
	var mem Memory
	mem.Map("data", 0x1000, 16, true)
	be.Err(t, mem.Store(0x1000, 4, 0x11223344), nil)

	v, err := mem.Load(0x1000, 1)
	be.Err(t, err, nil)
	be.Equal(t, v, uint64(0x44))

	v, _ = mem.Load(0x1002, 2)
	be.Equal(t, v, uint64(0x1122))

	// Stores only touch their own width.
	be.Err(t, mem.Store(0x1000, 1, 0xFFFF), nil)
	v, _ = mem.Load(0x1000, 4)
	be.Equal(t, v, uint64(0x112233FF))
}

func TestMemoryFaults(t *testing.T) {
	var mem Memory
	mem.Map("data", 0x1000, 16, true)
	mem.Map("rodata", 0x2000, 16, false)

	var fault *Fault
	_, err := mem.Load(0x3000, 1)
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Access, "read")
	be.Equal(t, fault.Reason, "unmapped address")

	// An access straddling the end of a region is not inside it.
	_, err = mem.Load(0x100c, 8)
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Addr, uint64(0x100c))

	err = mem.Store(0x2000, 8, 1)
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Access, "write")
	be.Equal(t, fault.Reason, "write to read-only rodata")

	err = mem.WriteBytes(0x2004, []byte("x"))
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Reason, "write to read-only rodata")
}

func TestReadCString(t *testing.T) {
	var mem Memory
	first := mem.Map("a", 0x1000, 4, true)
	second := mem.Map("b", 0x1004, 4, true)
	copy(first.Data, "abcd")
	copy(second.Data, "ef\x00g")

	s, err := mem.ReadCString(0x1000)
	be.Err(t, err, nil)
	be.Equal(t, string(s), "abcdef")

	// Running off the mapped memory faults.
	second.Data[2] = 'x'
	_, err = mem.ReadCString(0x1000)
	var fault *Fault
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Addr, uint64(0x1008))
}

func TestFaultSignals(t *testing.T) {
	tests := []struct {
		mode   Mode
		reason string
		signal string
		status int
	}{
		{ModeHosted, "unmapped address", "SIGSEGV", 139},
		{ModeHosted, ReasonPrivileged, "SIGSEGV", 139},
		{ModeHosted, ReasonDivide, "SIGFPE", 136},
		{ModeFreestanding, "unmapped address", "#PF", 139},
		{ModeFreestanding, ReasonInvalidOpcode, "#UD", 139},
		{ModeFreestanding, ReasonPrivileged, "#GP", 139},
		{ModeFreestanding, ReasonDivide, "#DE", 139},
	}
	for _, test := range tests {
		f := &Fault{Mode: test.mode, Reason: test.reason}
		be.Equal(t, f.Signal(), test.signal)
		be.Equal(t, f.ExitStatus(), test.status)
	}

	f := &Fault{Mode: ModeHosted, Access: "read", Reason: "unmapped address"}
	be.Equal(t, f.Error(), "SIGSEGV: read at 0x0 (unmapped address)")
	f = &Fault{Mode: ModeFreestanding, Reason: ReasonInvalidOpcode}
	be.Equal(t, f.Error(), "#UD: invalid opcode")
}

func TestMachineFaultsCarryMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	m := NewMachine(cfg)
	_, err := m.Load(0, 8)
	var fault *Fault
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Signal(), "#PF")
}

func TestSanitizer(t *testing.T) {
	s := NewSanitizer()
	s.Track(0x1000, 8)
	mark := s.Mark()
	s.Track(0x2000, 8)

	be.Err(t, s.Check(0x1000, 8, "read"), nil)
	be.Err(t, s.Check(0x2004, 4, "write"), nil)

	s.Release(mark)
	err := s.Check(0x2000, 8, "read")
	var serr *SanitizerError
	be.True(t, errors.As(err, &serr))
	be.Equal(t, serr.Error(), "sanitizer: 8-byte read at 0x2000 is outside live storage")

	// An access may not span two ranges or run past one.
	err = s.Check(0x1004, 8, "write")
	be.True(t, errors.As(err, &serr))
}

func TestMachineSanitizerIsOptIn(t *testing.T) {
	m := NewMachine(DefaultConfig())
	be.True(t, m.Sanitizer == nil)
	addr := uint64(StackTop - 64)
	be.Err(t, m.StoreThrough(addr, 8, 5), nil)

	cfg := DefaultConfig()
	cfg.Sanitize = true
	m = NewMachine(cfg)
	err := m.StoreThrough(addr, 8, 5)
	var serr *SanitizerError
	be.True(t, errors.As(err, &serr))
	be.Equal(t, serr.Access, "write")
}

func TestRegisterViews(t *testing.T) {
	m := NewMachine(DefaultConfig())
	m.Regs[RAX] = 0x1122334455667788
	be.Equal(t, m.ReadReg(registers["eax"]), uint64(0x55667788))
	be.Equal(t, m.ReadReg(registers["ax"]), uint64(0x7788))
	be.Equal(t, m.ReadReg(registers["ah"]), uint64(0x77))

	m.WriteReg(registers["ah"], 0xAB)
	be.Equal(t, m.Regs[RAX], uint64(0x112233445566AB88))
	m.WriteReg(registers["ax"], 0x1)
	be.Equal(t, m.Regs[RAX], uint64(0x1122334455660001))
	m.WriteReg(registers["eax"], 0xFFFFFFFF)
	be.Equal(t, m.Regs[RAX], uint64(0xFFFFFFFF))
}

func TestPushPop(t *testing.T) {
	m := NewMachine(DefaultConfig())
	be.Err(t, m.Push(1), nil)
	be.Err(t, m.Push(2), nil)
	be.Equal(t, m.Regs[RSP], uint64(StackTop-16))
	v, _ := m.Pop()
	be.Equal(t, v, uint64(2))
	v, _ = m.Pop()
	be.Equal(t, v, uint64(1))

	// Popping past the top of the stack leaves mapped memory.
	_, err := m.Pop()
	var fault *Fault
	be.True(t, errors.As(err, &fault))
}

func TestDebugPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	m := NewMachine(cfg)
	be.Err(t, m.WriteDebugPort(0xE9, 'o', 1), nil)
	be.Err(t, m.WriteDebugPort(0xE9, 'k'|'\n'<<8, 2), nil)
	// Other ports have nothing behind them.
	be.Err(t, m.WriteDebugPort(0x80, 'x', 1), nil)
	be.Equal(t, m.Port.String(), "ok\n")

	v, _ := m.ReadDebugPort(0xE9)
	be.Equal(t, v, uint64(0xE9))
	v, _ = m.ReadDebugPort(0x60)
	be.Equal(t, v, uint64(0xFF))
}

func TestCanonicalValues(t *testing.T) {
	be.Equal(t, canonical(0xFF, TypeI8), uint64(0xFFFFFFFFFFFFFFFF))
	be.Equal(t, canonical(0x1FF, TypeU8), uint64(0xFF))
	be.Equal(t, canonical(0x80000000, TypeI32), uint64(0xFFFFFFFF80000000))
	be.Equal(t, canonical(0x100, TypeBool), uint64(0))
	be.Equal(t, canonical(0x2, TypeBool), uint64(1))
	be.Equal(t, bitsFloat(floatBits(1.5, TypeF32), TypeF32), 1.5)
}
