package main

import "io"

// Linux x86-64 syscall numbers.
const (
	SYS_READ       = 0
	SYS_WRITE      = 1
	SYS_GETPID     = 39
	SYS_EXIT       = 60
	SYS_EXIT_GROUP = 231
)

// Linux error numbers, returned negated in rax.
const (
	EBADF  = 9
	EFAULT = 14
	ENOSYS = 38
)

// Syscall executes the syscall instruction: the number is in rax, arguments
// in rdi, rsi, rdx, r10, r8, r9 and the result is left in rax. The kernel
// clobbers rcx and r11.
func (m *Machine) Syscall() error {
	if m.Config.Mode == ModeFreestanding {
		// Nothing has enabled the syscall instruction.
		return m.fault(&Fault{Reason: ReasonInvalidOpcode})
	}
	var args [6]uint64
	for i, reg := range syscallArgRegs {
		args[i] = m.Regs[reg]
	}
	number := m.Regs[RAX]
	m.Log.Printf("syscall %d(%#x, %#x, %#x)", number, args[0], args[1], args[2])

	var ret uint64
	switch number {
	case SYS_READ:
		ret = m.sysRead(args[0], args[1], args[2])
	case SYS_WRITE:
		ret = m.sysWrite(args[0], args[1], args[2])
	case SYS_GETPID:
		ret = uint64(m.Config.PID)
	case SYS_EXIT, SYS_EXIT_GROUP:
		return &ExitError{Code: int(args[0] & 0xFF)}
	default:
		ret = errno(ENOSYS)
	}
	m.Regs[RCX] = 0
	m.Regs[R11] = m.flagsWord()
	m.Regs[RAX] = ret
	return nil
}

// maxTransfer bounds one read or write; no mapped region is larger.
const maxTransfer = 1 << 30

func errno(e int) uint64 {
	return uint64(-int64(e))
}

func (m *Machine) sysWrite(fd, buf, count uint64) uint64 {
	var w io.Writer
	switch fd {
	case 1:
		w = m.Stdout
	case 2:
		w = m.Stderr
	default:
		return errno(EBADF)
	}
	if count == 0 {
		return 0
	}
	if count > maxTransfer {
		return errno(EFAULT)
	}
	data, err := m.Mem.ReadBytes(buf, int(count))
	if err != nil {
		return errno(EFAULT)
	}
	n, _ := w.Write(data)
	return uint64(n)
}

func (m *Machine) sysRead(fd, buf, count uint64) uint64 {
	if fd != 0 {
		return errno(EBADF)
	}
	if count == 0 {
		return 0
	}
	if count > maxTransfer || m.Mem.Region(buf, int(count)) == nil {
		return errno(EFAULT)
	}
	data := make([]byte, count)
	n, err := m.Stdin.Read(data)
	if n == 0 && err != nil && err != io.EOF {
		return errno(EBADF)
	}
	if err := m.Mem.WriteBytes(buf, data[:n]); err != nil {
		return errno(EFAULT)
	}
	return uint64(n)
}
