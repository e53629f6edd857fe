package main

import "fmt"

const FP_MAX = 8
const GP_MAX = 6

// Integer argument registers of the System V AMD64 calling convention.
var argreg64 = []int{RDI, RSI, RDX, RCX, R8, R9}

// Syscall argument registers of the Linux x86-64 convention.
var syscallArgRegs = []int{RDI, RSI, RDX, R10, R8, R9}

// ArgClass is the System V classification of a scalar argument.
type ArgClass int

const (
	ClassInteger ArgClass = iota
	ClassSSE
	ClassMemory
)

func (c ArgClass) String() string {
	switch c {
	case ClassInteger:
		return "INTEGER"
	case ClassSSE:
		return "SSE"
	}
	return "MEMORY"
}

// ArgLocation says where one argument travels.
type ArgLocation struct {
	Type  *TypeNode // after default argument promotion
	Class ArgClass
	// ClassInteger: general purpose register index. ClassSSE: xmm index.
	Reg int
	// ClassMemory: offset from rsp at the call instruction.
	StackOffset int
}

// CallLayout is the marshaling plan for one call site.
type CallLayout struct {
	Args []ArgLocation
	// StackBytes is the size of the outgoing argument area, a multiple of 16.
	StackBytes int
	// SSECount is the number of vector registers used, passed in al to
	// variadic callees.
	SSECount int
	Variadic bool
}

// PromoteVariadic applies the C default argument promotions.
func PromoteVariadic(t *TypeNode) *TypeNode {
	if t.Kind != TypeBuiltin {
		return t
	}
	switch t.String {
	case "bool", "i8", "i16", "u8", "u16":
		return TypeI32
	case "f32":
		return TypeF64
	}
	return t
}

// ClassifyCall lays out arguments of the given static types. The first fixed
// arguments match declared parameters; the rest are variadic and promoted.
func ClassifyCall(argTypes []*TypeNode, fixed int, variadic bool) *CallLayout {
	layout := &CallLayout{Variadic: variadic}
	gp, fp, stack := 0, 0, 0
	for i, t := range argTypes {
		if variadic && i >= fixed {
			t = PromoteVariadic(t)
		}
		loc := ArgLocation{Type: t}
		switch {
		case IsFloatType(t) && fp < FP_MAX:
			loc.Class, loc.Reg = ClassSSE, fp
			fp++
		case !IsFloatType(t) && gp < GP_MAX:
			loc.Class, loc.Reg = ClassInteger, argreg64[gp]
			gp++
		default:
			loc.Class, loc.StackOffset = ClassMemory, stack
			stack += 8
		}
		layout.Args = append(layout.Args, loc)
	}
	layout.StackBytes = (stack + 15) &^ 15
	layout.SSECount = fp
	return layout
}

// ForeignFunc is a host implementation of an extern symbol. It reads its
// arguments from the machine registers and stack exactly as compiled C code
// would, and leaves its result in rax or xmm0.
type ForeignFunc func(m *Machine) error

// VarArgs walks the variadic arguments of a foreign call with va_arg
// semantics: integers come from the remaining argument registers, then the
// overflow area on the stack; doubles from xmm registers, then the stack.
type VarArgs struct {
	m        *Machine
	gp, fp   int
	overflow uint64
}

// NewVarArgs starts after the given number of named integer and floating
// parameters. It must be created on entry, while rsp points at the return
// address.
func NewVarArgs(m *Machine, namedInts, namedFloats int) *VarArgs {
	return &VarArgs{m: m, gp: namedInts, fp: namedFloats, overflow: m.Regs[RSP] + 8}
}

// Int fetches the next INTEGER-class argument as 64 raw bits.
func (va *VarArgs) Int() (uint64, error) {
	if va.gp < GP_MAX {
		v := va.m.Regs[argreg64[va.gp]]
		va.gp++
		return v, nil
	}
	return va.fromStack()
}

// Float fetches the next SSE-class argument as a double.
func (va *VarArgs) Float() (float64, error) {
	if va.fp < FP_MAX {
		v := va.m.XMM[va.fp]
		va.fp++
		return bitsFloat(v, TypeF64), nil
	}
	v, err := va.fromStack()
	return bitsFloat(v, TypeF64), err
}

func (va *VarArgs) fromStack() (uint64, error) {
	v, err := va.m.Load(va.overflow, 8)
	if err != nil {
		return 0, fmt.Errorf("va_arg: %w", err)
	}
	va.overflow += 8
	return v, nil
}

// marshalArg converts a canonical value of static type from to the bits its
// promoted type carries in a register or stack slot.
func marshalArg(v uint64, from, to *TypeNode) uint64 {
	if TypesEqual(from, TypeF32) && TypesEqual(to, TypeF64) {
		return floatBits(bitsFloat(v, TypeF32), TypeF64)
	}
	return v
}
