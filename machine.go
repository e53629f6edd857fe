package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
)

// Memory layout of a loaded program.
const (
	RodataBase = 0x400000
	DataBase   = 0x600000
	StackTop   = 0x7ffffffff000
)

// Region is a contiguous mapped range of machine memory.
type Region struct {
	Name     string
	Base     uint64
	Data     []byte
	Writable bool
}

func (r *Region) End() uint64 {
	return r.Base + uint64(len(r.Data))
}

func (r *Region) contains(addr uint64, size int) bool {
	return addr >= r.Base && addr+uint64(size) <= r.End() && addr+uint64(size) >= addr
}

// Memory is the flat address space of the machine. Accesses outside every
// region fault; nothing else is checked.
type Memory struct {
	regions []*Region
}

// Map adds a zero-filled region.
func (m *Memory) Map(name string, base uint64, size int, writable bool) *Region {
	r := &Region{Name: name, Base: base, Data: make([]byte, size), Writable: writable}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Base < m.regions[j].Base })
	return r
}

// Region returns the region containing [addr, addr+size), or nil.
func (m *Memory) Region(addr uint64, size int) *Region {
	for _, r := range m.regions {
		if r.contains(addr, size) {
			return r
		}
	}
	return nil
}

// Load reads a little-endian value of size 1, 2, 4 or 8 bytes.
func (m *Memory) Load(addr uint64, size int) (uint64, error) {
	r := m.Region(addr, size)
	if r == nil {
		return 0, &Fault{Addr: addr, Access: "read", Reason: "unmapped address"}
	}
	b := r.Data[addr-r.Base:]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	panic(fmt.Sprintf("Load: bad size %d", size))
}

// Store writes the low size bytes of v.
func (m *Memory) Store(addr uint64, size int, v uint64) error {
	r := m.Region(addr, size)
	if r == nil {
		return &Fault{Addr: addr, Access: "write", Reason: "unmapped address"}
	}
	if !r.Writable {
		return &Fault{Addr: addr, Access: "write", Reason: "write to read-only " + r.Name}
	}
	b := r.Data[addr-r.Base:]
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("Store: bad size %d", size))
	}
	return nil
}

// ReadBytes copies n bytes starting at addr.
func (m *Memory) ReadBytes(addr uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	r := m.Region(addr, n)
	if r == nil {
		return nil, &Fault{Addr: addr, Access: "read", Reason: "unmapped address"}
	}
	out := make([]byte, n)
	copy(out, r.Data[addr-r.Base:])
	return out, nil
}

// WriteBytes copies data to addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r := m.Region(addr, len(data))
	if r == nil {
		return &Fault{Addr: addr, Access: "write", Reason: "unmapped address"}
	}
	if !r.Writable {
		return &Fault{Addr: addr, Access: "write", Reason: "write to read-only " + r.Name}
	}
	copy(r.Data[addr-r.Base:], data)
	return nil
}

// ReadCString reads bytes up to (not including) the first NUL.
func (m *Memory) ReadCString(addr uint64) ([]byte, error) {
	var out []byte
	for {
		r := m.Region(addr, 1)
		if r == nil {
			return out, &Fault{Addr: addr, Access: "read", Reason: "unmapped address"}
		}
		data := r.Data[addr-r.Base:]
		if i := bytes.IndexByte(data, 0); i >= 0 {
			return append(out, data[:i]...), nil
		}
		out = append(out, data...)
		addr = r.End()
	}
}

// Fault reasons that map to specific exceptions.
const (
	ReasonInvalidOpcode = "invalid opcode"
	ReasonPrivileged    = "privileged instruction"
	ReasonDivide        = "divide error"
)

// Fault is a hardware-level failure: a bad memory access or an instruction the
// current privilege level cannot execute. The language never recovers from it.
type Fault struct {
	Mode   Mode
	Addr   uint64
	Access string // "read", "write", "exec" or ""
	Reason string
}

// Signal names how the environment reports the fault.
func (f *Fault) Signal() string {
	if f.Mode == ModeFreestanding {
		switch f.Reason {
		case ReasonInvalidOpcode:
			return "#UD"
		case ReasonPrivileged:
			return "#GP"
		case ReasonDivide:
			return "#DE"
		}
		return "#PF"
	}
	if f.Reason == ReasonDivide {
		return "SIGFPE"
	}
	return "SIGSEGV"
}

func (f *Fault) Error() string {
	if f.Access != "" {
		return fmt.Sprintf("%s: %s at 0x%x (%s)", f.Signal(), f.Access, f.Addr, f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Signal(), f.Reason)
}

// ExitStatus returns the status a shell would report for the fault.
func (f *Fault) ExitStatus() int {
	if f.Signal() == "SIGFPE" {
		return 128 + 8
	}
	return 128 + 11
}

// SanitizerError reports an access that lands outside live variable storage.
// It is only produced when the sanitizer is enabled.
type SanitizerError struct {
	Addr   uint64
	Size   int
	Access string
}

func (e *SanitizerError) Error() string {
	return fmt.Sprintf("sanitizer: %d-byte %s at 0x%x is outside live storage", e.Size, e.Access, e.Addr)
}

type liveRange struct {
	base, end uint64
}

// Sanitizer tracks which addresses belong to live variables and string
// literals. Dereferences are checked against it only when enabled.
type Sanitizer struct {
	ranges []liveRange
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Mark returns a handle for Release covering everything tracked after it.
func (s *Sanitizer) Mark() int {
	return len(s.ranges)
}

// Track marks [base, base+size) live.
func (s *Sanitizer) Track(base uint64, size int) {
	s.ranges = append(s.ranges, liveRange{base, base + uint64(size)})
}

// Release drops every range tracked after handle was taken. Frames release in
// stack order.
func (s *Sanitizer) Release(handle int) {
	if handle < len(s.ranges) {
		s.ranges = s.ranges[:handle]
	}
}

// Check reports an error unless [addr, addr+size) is inside one live range.
func (s *Sanitizer) Check(addr uint64, size int, access string) error {
	for _, r := range s.ranges {
		if addr >= r.base && addr+uint64(size) <= r.end {
			return nil
		}
	}
	return &SanitizerError{Addr: addr, Size: size, Access: access}
}

// ExitError stops execution with a process exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// errHalt stops the machine after a hlt instruction.
var errHalt = fmt.Errorf("machine halted")

// Machine is a single x86-64 core with its memory and I/O channels.
type Machine struct {
	Config Config
	Mem    *Memory

	Regs               [16]uint64
	XMM                [16]uint64
	ZF, SF, CF, OF     bool
	InterruptsDisabled bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Port receives bytes written to the debug port.
	Port bytes.Buffer

	Sanitizer *Sanitizer
	Log       *log.Logger

	// Externs maps resolved foreign symbols to their host implementation.
	Externs map[string]ForeignFunc

	stack *Region
}

// NewMachine maps a stack and applies the mode-specific configuration.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		Config: cfg,
		Mem:    &Memory{},
		Stdout: io.Discard,
		Stderr: io.Discard,
		Stdin:  bytes.NewReader(nil),
		Log:    log.New(io.Discard, "", 0),
	}
	m.stack = m.Mem.Map("stack", StackTop-uint64(cfg.StackSize), cfg.StackSize, true)
	m.Regs[RSP] = StackTop
	if cfg.Sanitize {
		m.Sanitizer = NewSanitizer()
	}
	return m
}

func (m *Machine) fault(f *Fault) *Fault {
	f.Mode = m.Config.Mode
	return f
}

// Load reads machine memory. Bad addresses fault; nothing else is checked.
func (m *Machine) Load(addr uint64, size int) (uint64, error) {
	v, err := m.Mem.Load(addr, size)
	return v, m.wrapFault(err)
}

// Store writes machine memory.
func (m *Machine) Store(addr uint64, size int, v uint64) error {
	return m.wrapFault(m.Mem.Store(addr, size, v))
}

// LoadThrough reads the target of a pointer dereference. With the sanitizer
// enabled the target must be live storage.
func (m *Machine) LoadThrough(addr uint64, size int) (uint64, error) {
	if m.Sanitizer != nil {
		if err := m.Sanitizer.Check(addr, size, "read"); err != nil {
			return 0, err
		}
	}
	return m.Load(addr, size)
}

// StoreThrough writes the target of a pointer dereference.
func (m *Machine) StoreThrough(addr uint64, size int, v uint64) error {
	if m.Sanitizer != nil {
		if err := m.Sanitizer.Check(addr, size, "write"); err != nil {
			return err
		}
	}
	return m.Store(addr, size, v)
}

func (m *Machine) wrapFault(err error) error {
	if f, ok := err.(*Fault); ok {
		return m.fault(f)
	}
	return err
}

// Push stores an 8-byte value on the machine stack.
func (m *Machine) Push(v uint64) error {
	m.Regs[RSP] -= 8
	return m.wrapFault(m.Mem.Store(m.Regs[RSP], 8, v))
}

// Pop loads an 8-byte value from the machine stack.
func (m *Machine) Pop() (uint64, error) {
	v, err := m.Mem.Load(m.Regs[RSP], 8)
	m.Regs[RSP] += 8
	return v, m.wrapFault(err)
}

// ReadReg reads a register view, zero-extended.
func (m *Machine) ReadReg(r Register) uint64 {
	v := m.Regs[r.Index]
	if r.High {
		return (v >> 8) & 0xFF
	}
	return truncate(v, r.Size)
}

// WriteReg writes a register view with x86-64 semantics: 32-bit writes clear
// the upper half, 8 and 16-bit writes preserve the other bits.
func (m *Machine) WriteReg(r Register, v uint64) {
	old := m.Regs[r.Index]
	switch {
	case r.High:
		m.Regs[r.Index] = old&^0xFF00 | (v&0xFF)<<8
	case r.Size == 8:
		m.Regs[r.Index] = v
	case r.Size == 4:
		m.Regs[r.Index] = v & 0xFFFFFFFF
	case r.Size == 2:
		m.Regs[r.Index] = old&^0xFFFF | v&0xFFFF
	case r.Size == 1:
		m.Regs[r.Index] = old&^0xFF | v&0xFF
	}
}

// WriteDebugPort handles an out instruction.
func (m *Machine) WriteDebugPort(port uint16, v uint64, size int) error {
	if m.Config.Mode != ModeFreestanding {
		return m.fault(&Fault{Reason: ReasonPrivileged})
	}
	if port != m.Config.DebugPort {
		// Writes to other ports have no device behind them.
		m.Log.Printf("out to unmapped port 0x%x ignored", port)
		return nil
	}
	for i := 0; i < size; i++ {
		m.Port.WriteByte(byte(v >> (8 * i)))
	}
	return nil
}

// ReadDebugPort handles an in instruction. Reading the debug port returns its
// own port number, which is how programs detect it.
func (m *Machine) ReadDebugPort(port uint16) (uint64, error) {
	if m.Config.Mode != ModeFreestanding {
		return 0, m.fault(&Fault{Reason: ReasonPrivileged})
	}
	if port == m.Config.DebugPort {
		return uint64(port & 0xFF), nil
	}
	return 0xFF, nil
}

func truncate(v uint64, size int) uint64 {
	if size >= 8 {
		return v
	}
	return v & (1<<(uint(size)*8) - 1)
}

func signExtend(v uint64, size int) uint64 {
	switch size {
	case 1:
		return uint64(int64(int8(v)))
	case 2:
		return uint64(int64(int16(v)))
	case 4:
		return uint64(int64(int32(v)))
	}
	return v
}

// canonical normalizes raw bits of type t to a 64-bit value: signed integers
// are sign-extended and unsigned integers zero-extended.
func canonical(v uint64, t *TypeNode) uint64 {
	switch {
	case TypesEqual(t, TypeBool):
		if v&0xFF != 0 {
			return 1
		}
		return 0
	case TypesEqual(t, TypeF32):
		return v & 0xFFFFFFFF
	case IsIntegerType(t) && IsSignedType(t):
		return signExtend(v, GetTypeSize(t))
	case IsIntegerType(t):
		return truncate(v, GetTypeSize(t))
	}
	return v
}

func floatBits(f float64, t *TypeNode) uint64 {
	if TypesEqual(t, TypeF32) {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func bitsFloat(v uint64, t *TypeNode) float64 {
	if TypesEqual(t, TypeF32) {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}
