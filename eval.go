package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

// Result is the observable outcome of running a program.
type Result struct {
	ExitCode int
	// Halted is set when a freestanding program stops the CPU.
	Halted bool
	Stdout []byte
	Port   []byte
}

// Run executes prog on a fresh machine, capturing standard output.
func Run(prog *Program, cfg Config) (*Result, error) {
	var stdout bytes.Buffer
	m := NewMachine(cfg)
	m.Stdout = &stdout
	res, err := m.Run(prog)
	if res != nil {
		res.Stdout = stdout.Bytes()
	}
	return res, err
}

type interpreter struct {
	m       *Machine
	prog    *Program
	globals map[*SymbolInfo]uint64
	strings map[string]uint64
}

type activation struct {
	fn       *ASTNode
	frame    *Frame
	returned bool
	result   uint64
}

// Run links prog against the foreign library for the machine's mode, loads it
// and calls the entry function. A fault is returned as the error together
// with a result carrying the exit status the host would report.
func (m *Machine) Run(prog *Program) (*Result, error) {
	externs, err := ResolveExterns(prog, m.Config.Mode)
	if err != nil {
		return nil, err
	}
	m.Externs = externs

	in := &interpreter{
		m:       m,
		prog:    prog,
		globals: make(map[*SymbolInfo]uint64),
		strings: make(map[string]uint64),
	}
	if err := in.load(); err != nil {
		return nil, err
	}

	name := m.Config.EntryName()
	entry := prog.Function(name)
	if entry == nil {
		return nil, &LinkError{Symbol: name}
	}
	if len(entry.Params) != 0 {
		return nil, fmt.Errorf("entry function '%s' must not take parameters", name)
	}
	m.Log.Printf("running %s in %s mode", name, m.Config.Mode)

	ret, err := in.call(entry, nil)
	res := &Result{}
	var exit *ExitError
	var fault *Fault
	switch {
	case err == nil && m.Config.Mode == ModeFreestanding:
		// Returning from the kernel entry leaves nothing to run.
		res.Halted = true
	case err == nil:
		if !TypesEqual(entry.DeclType, TypeVoid) {
			res.ExitCode = int(uint8(ret))
		}
	case errors.As(err, &exit):
		res.ExitCode = exit.Code
	case errors.Is(err, errHalt):
		res.Halted = true
	case errors.As(err, &fault):
		res.ExitCode = fault.ExitStatus()
		res.Port = m.Port.Bytes()
		return res, err
	default:
		res.ExitCode = 1
		res.Port = m.Port.Bytes()
		return res, err
	}
	res.Port = m.Port.Bytes()
	return res, nil
}

// load maps string literals read-only and globals read-write.
func (in *interpreter) load() error {
	m := in.m
	size := 0
	for _, s := range in.prog.Strings {
		size += len(s) + 1
	}
	rodata := m.Mem.Map("rodata", RodataBase, size, false)
	addr := uint64(RodataBase)
	for _, s := range in.prog.Strings {
		copy(rodata.Data[addr-RodataBase:], s)
		in.strings[s] = addr
		if m.Sanitizer != nil {
			m.Sanitizer.Track(addr, len(s)+1)
		}
		addr += uint64(len(s) + 1)
	}

	globals := in.prog.Symbols.Globals
	m.Mem.Map("data", DataBase, len(globals)*SlotSize, true)
	for i, g := range globals {
		addr := uint64(DataBase + i*SlotSize)
		in.globals[g] = addr
		if m.Sanitizer != nil {
			m.Sanitizer.Track(addr, SlotSize)
		}
		if len(g.Decl.Children) == 0 {
			continue
		}
		v, err := in.eval(g.Decl.Children[0], nil)
		if err != nil {
			return fmt.Errorf("initializing global '%s': %w", g.Name, err)
		}
		if err := m.Store(addr, SlotSize, v); err != nil {
			return err
		}
	}
	return nil
}

// call pushes a return address and runs fn.
func (in *interpreter) call(fn *ASTNode, args []uint64) (uint64, error) {
	m := in.m
	if err := m.Push(0); err != nil {
		return 0, err
	}
	ret, err := in.invoke(fn, args)
	if err != nil {
		return 0, err
	}
	if _, err := m.Pop(); err != nil {
		return 0, err
	}
	return ret, nil
}

// invoke builds fn's frame the way compiled code does (push rbp; mov rbp,
// rsp; sub rsp, size), stores the arguments and runs the body.
func (in *interpreter) invoke(fn *ASTNode, args []uint64) (uint64, error) {
	m := in.m
	frame := in.prog.Frames[fn]
	if err := m.Push(m.Regs[RBP]); err != nil {
		return 0, err
	}
	m.Regs[RBP] = m.Regs[RSP]
	m.Regs[RSP] -= uint64(frame.Size)

	act := &activation{fn: fn, frame: frame}
	if m.Sanitizer != nil {
		handle := m.Sanitizer.Mark()
		defer m.Sanitizer.Release(handle)
		for _, local := range frame.Locals {
			m.Sanitizer.Track(m.Regs[RBP]+uint64(int64(local.Offset)), SlotSize)
		}
	}
	for i, p := range fn.Params {
		if err := m.Store(in.varAddress(p.Symbol, act), SlotSize, canonical(args[i], p.Type)); err != nil {
			return 0, err
		}
	}
	if err := in.exec(fn.Children[0], act); err != nil {
		return 0, err
	}

	// leave
	m.Regs[RSP] = m.Regs[RBP]
	rbp, err := m.Pop()
	if err != nil {
		return 0, err
	}
	m.Regs[RBP] = rbp
	return act.result, nil
}

// varAddress returns the storage address of a variable. Locals are addressed
// through rbp, so an asm block that clobbers rbp breaks them as it would in
// compiled code.
func (in *interpreter) varAddress(symbol *SymbolInfo, act *activation) uint64 {
	if addr, ok := in.globals[symbol]; ok {
		return addr
	}
	off, ok := act.frame.Offset(symbol)
	if !ok {
		panic(fmt.Sprintf("variable '%s' has no slot in '%s'", symbol.Name, act.fn.String))
	}
	return in.m.Regs[RBP] + uint64(int64(off))
}

func (in *interpreter) loadVar(symbol *SymbolInfo, act *activation) (uint64, error) {
	v, err := in.m.Load(in.varAddress(symbol, act), GetTypeSize(symbol.Type))
	if err != nil {
		return 0, err
	}
	return canonical(v, symbol.Type), nil
}

// storeVar writes a whole slot so narrow values are kept extended.
func (in *interpreter) storeVar(symbol *SymbolInfo, act *activation, v uint64) error {
	return in.m.Store(in.varAddress(symbol, act), SlotSize, v)
}

func (in *interpreter) exec(stmt *ASTNode, act *activation) error {
	switch stmt.Kind {
	case NodeVar:
		if len(stmt.Children) == 0 {
			return nil
		}
		v, err := in.eval(stmt.Children[0], act)
		if err != nil {
			return err
		}
		return in.storeVar(stmt.Symbol, act, canonical(v, stmt.DeclType))

	case NodeBlock:
		for _, child := range stmt.Children {
			if err := in.exec(child, act); err != nil {
				return err
			}
			if act.returned {
				return nil
			}
		}
		return nil

	case NodeIf:
		cond, err := in.eval(stmt.Children[0], act)
		if err != nil {
			return err
		}
		if cond != 0 {
			return in.exec(stmt.Children[1], act)
		}
		if len(stmt.Children) > 2 {
			return in.exec(stmt.Children[2], act)
		}
		return nil

	case NodeWhile:
		for {
			cond, err := in.eval(stmt.Children[0], act)
			if err != nil {
				return err
			}
			if cond == 0 {
				return nil
			}
			if err := in.exec(stmt.Children[1], act); err != nil {
				return err
			}
			if act.returned {
				return nil
			}
		}

	case NodeReturn:
		if len(stmt.Children) > 0 {
			v, err := in.eval(stmt.Children[0], act)
			if err != nil {
				return err
			}
			act.result = canonical(v, act.fn.DeclType)
		}
		act.returned = true
		return nil

	case NodeAsm:
		return in.m.ExecAsm(stmt.Asm, asmFrame{in: in, act: act})

	default:
		_, err := in.eval(stmt, act)
		return err
	}
}

func (in *interpreter) eval(node *ASTNode, act *activation) (uint64, error) {
	switch node.Kind {
	case NodeInteger, NodeChar:
		if IsFloatType(node.TypeAST) {
			return floatBits(float64(node.Integer), node.TypeAST), nil
		}
		return canonical(uint64(node.Integer), node.TypeAST), nil
	case NodeFloat:
		return floatBits(node.Float, node.TypeAST), nil
	case NodeBoolean:
		if node.Boolean {
			return 1, nil
		}
		return 0, nil
	case NodeNull:
		return 0, nil
	case NodeString:
		return in.strings[node.String], nil
	case NodeIdent:
		return in.loadVar(node.Symbol, act)
	case NodeUnary:
		return in.unary(node, act)
	case NodeBinary:
		if node.Op == "=" {
			return in.assign(node, act)
		}
		return in.binary(node, act)
	case NodeCast:
		v, err := in.eval(node.Children[0], act)
		if err != nil {
			return 0, err
		}
		return convert(v, node.Children[0].TypeAST, node.DeclType), nil
	case NodeCall:
		return in.callExpr(node, act)
	}
	return 0, fmt.Errorf("cannot evaluate %s", node.Kind)
}

// addressOf evaluates an addressable expression to its storage address.
func (in *interpreter) addressOf(node *ASTNode, act *activation) (uint64, error) {
	if node.Kind == NodeIdent {
		return in.varAddress(node.Symbol, act), nil
	}
	// *p: the address is the value of p.
	return in.eval(node.Children[0], act)
}

func (in *interpreter) unary(node *ASTNode, act *activation) (uint64, error) {
	operand := node.Children[0]
	switch node.Op {
	case "&":
		return in.addressOf(operand, act)
	case "*":
		addr, err := in.eval(operand, act)
		if err != nil {
			return 0, err
		}
		v, err := in.m.LoadThrough(addr, GetTypeSize(node.TypeAST))
		if err != nil {
			return 0, err
		}
		return canonical(v, node.TypeAST), nil
	}
	v, err := in.eval(operand, act)
	if err != nil {
		return 0, err
	}
	switch node.Op {
	case "-":
		if IsFloatType(node.TypeAST) {
			return floatBits(-bitsFloat(v, node.TypeAST), node.TypeAST), nil
		}
		return canonical(-v, node.TypeAST), nil
	case "!":
		return v ^ 1, nil
	}
	return 0, fmt.Errorf("unknown unary operator '%s'", node.Op)
}

func (in *interpreter) assign(node *ASTNode, act *activation) (uint64, error) {
	lhs, rhs := node.Children[0], node.Children[1]
	v, err := in.eval(rhs, act)
	if err != nil {
		return 0, err
	}
	v = canonical(v, lhs.TypeAST)
	if lhs.Kind == NodeIdent {
		return v, in.storeVar(lhs.Symbol, act, v)
	}
	addr, err := in.eval(lhs.Children[0], act)
	if err != nil {
		return 0, err
	}
	return v, in.m.StoreThrough(addr, GetTypeSize(lhs.TypeAST), v)
}

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (in *interpreter) binary(node *ASTNode, act *activation) (uint64, error) {
	left, right := node.Children[0], node.Children[1]
	a, err := in.eval(left, act)
	if err != nil {
		return 0, err
	}
	switch node.Op {
	case "&&":
		if a == 0 {
			return 0, nil
		}
		return in.eval(right, act)
	case "||":
		if a != 0 {
			return 1, nil
		}
		return in.eval(right, act)
	}
	b, err := in.eval(right, act)
	if err != nil {
		return 0, err
	}

	t := left.TypeAST
	if IsUntyped(t) {
		t = right.TypeAST
	}
	if IsFloatType(t) {
		return floatBinary(node.Op, bitsFloat(a, t), bitsFloat(b, t), t), nil
	}

	signed := IsSignedType(t)
	switch node.Op {
	case "==":
		return boolBits(a == b), nil
	case "!=":
		return boolBits(a != b), nil
	case "<":
		if signed {
			return boolBits(int64(a) < int64(b)), nil
		}
		return boolBits(a < b), nil
	case ">":
		if signed {
			return boolBits(int64(a) > int64(b)), nil
		}
		return boolBits(a > b), nil
	case "<=":
		if signed {
			return boolBits(int64(a) <= int64(b)), nil
		}
		return boolBits(a <= b), nil
	case ">=":
		if signed {
			return boolBits(int64(a) >= int64(b)), nil
		}
		return boolBits(a >= b), nil
	case "+":
		return canonical(a+b, t), nil
	case "-":
		return canonical(a-b, t), nil
	case "*":
		return canonical(a*b, t), nil
	case "&":
		return a & b, nil
	case "|":
		return a | b, nil
	case "^":
		return canonical(a^b, t), nil
	case "<<":
		return canonical(a<<(b&63), t), nil
	case ">>":
		if signed {
			return canonical(uint64(int64(a)>>(b&63)), t), nil
		}
		return canonical(a>>(b&63), t), nil
	case "/", "%":
		if b == 0 || (signed && int64(b) == -1 && int64(a) == math.MinInt64) {
			return 0, in.m.fault(&Fault{Reason: ReasonDivide})
		}
		if signed {
			if node.Op == "/" {
				return canonical(uint64(int64(a)/int64(b)), t), nil
			}
			return canonical(uint64(int64(a)%int64(b)), t), nil
		}
		if node.Op == "/" {
			return canonical(a/b, t), nil
		}
		return canonical(a%b, t), nil
	}
	return 0, fmt.Errorf("unknown binary operator '%s'", node.Op)
}

func floatBinary(op string, a, b float64, t *TypeNode) uint64 {
	var r float64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		r = a / b
	case "==":
		return boolBits(a == b)
	case "!=":
		return boolBits(a != b)
	case "<":
		return boolBits(a < b)
	case ">":
		return boolBits(a > b)
	case "<=":
		return boolBits(a <= b)
	case ">=":
		return boolBits(a >= b)
	}
	return floatBits(r, t)
}

// integerIndefinite is what cvttsd2si produces for NaN or out of range input.
const integerIndefinite = uint64(1) << 63

// convert implements 'as' on canonical values.
func convert(v uint64, from, to *TypeNode) uint64 {
	switch {
	case IsFloatType(from) && IsFloatType(to):
		return floatBits(bitsFloat(v, from), to)
	case IsFloatType(from):
		f := bitsFloat(v, from)
		switch {
		case math.IsNaN(f):
			return canonical(integerIndefinite, to)
		case IsSignedType(to):
			if f >= 9.223372036854775807e18 || f < -9.223372036854775808e18 {
				return canonical(integerIndefinite, to)
			}
			return canonical(uint64(int64(f)), to)
		default:
			if f >= 1.8446744073709551615e19 || f <= -1 {
				return canonical(integerIndefinite, to)
			}
			return canonical(uint64(f), to)
		}
	case IsFloatType(to):
		if IsSignedType(from) || from == TypeUntypedInt {
			return floatBits(float64(int64(v)), to)
		}
		return floatBits(float64(v), to)
	}
	return canonical(v, to)
}

func (in *interpreter) callExpr(node *ASTNode, act *activation) (uint64, error) {
	symbol := node.Children[0].Symbol
	args := node.Children[1:]
	values := make([]uint64, len(args))
	types := make([]*TypeNode, len(args))
	for i, arg := range args {
		v, err := in.eval(arg, act)
		if err != nil {
			return 0, err
		}
		values[i], types[i] = v, arg.TypeAST
	}
	if symbol.Kind == SymbolFunction {
		return in.call(symbol.Decl, values)
	}
	return in.callForeign(symbol, values, types)
}

// callForeign marshals a call to an extern through registers and the stack
// per the System V convention and runs the linked implementation.
func (in *interpreter) callForeign(symbol *SymbolInfo, values []uint64, types []*TypeNode) (uint64, error) {
	m := in.m
	fn := m.Externs[symbol.Name]
	layout := ClassifyCall(types, len(symbol.Params), symbol.Variadic)

	savedRSP := m.Regs[RSP]
	m.Regs[RSP] = (m.Regs[RSP] - uint64(layout.StackBytes)) &^ 15
	for i, loc := range layout.Args {
		v := marshalArg(values[i], types[i], loc.Type)
		switch loc.Class {
		case ClassInteger:
			m.Regs[loc.Reg] = v
		case ClassSSE:
			m.XMM[loc.Reg] = v
		case ClassMemory:
			if err := m.Store(m.Regs[RSP]+uint64(loc.StackOffset), 8, v); err != nil {
				return 0, err
			}
		}
	}
	m.Regs[RAX] = uint64(layout.SSECount)

	if err := m.Push(0); err != nil {
		return 0, err
	}
	if err := fn(m); err != nil {
		return 0, err
	}
	m.Regs[RSP] = savedRSP

	switch {
	case TypesEqual(symbol.Type, TypeVoid):
		return 0, nil
	case IsFloatType(symbol.Type):
		return canonical(m.XMM[0], symbol.Type), nil
	}
	return canonical(m.Regs[RAX], symbol.Type), nil
}

// asmFrame resolves variables and calls for an asm block.
type asmFrame struct {
	in  *interpreter
	act *activation
}

func (f asmFrame) VarAddress(symbol *SymbolInfo) uint64 {
	return f.in.varAddress(symbol, f.act)
}

// CallSymbol runs a call made from inside an asm block. The return address
// is already on the stack, so stack arguments start at rsp+8.
func (f asmFrame) CallSymbol(symbol *SymbolInfo) error {
	m := f.in.m
	if symbol.Kind == SymbolExtern {
		return m.Externs[symbol.Name](m)
	}
	layout := ClassifyCall(symbol.Params, len(symbol.Params), false)
	args := make([]uint64, len(layout.Args))
	for i, loc := range layout.Args {
		var v uint64
		switch loc.Class {
		case ClassInteger:
			v = m.Regs[loc.Reg]
		case ClassSSE:
			v = m.XMM[loc.Reg]
		case ClassMemory:
			var err error
			if v, err = m.Load(m.Regs[RSP]+8+uint64(loc.StackOffset), 8); err != nil {
				return err
			}
		}
		args[i] = canonical(v, symbol.Params[i])
	}
	ret, err := f.in.invoke(symbol.Decl, args)
	if err != nil {
		return err
	}
	if IsFloatType(symbol.Type) {
		m.XMM[0] = ret
	} else {
		m.Regs[RAX] = ret
	}
	return nil
}
