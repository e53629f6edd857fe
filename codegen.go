package main

import (
	"fmt"
	"strconv"
	"strings"
)

// CodeGen emits NASM x86-64 assembly for a checked program.
type CodeGen struct {
	prog *Program
	cfg  Config
	out  strings.Builder

	labelCount  int
	asmCount    int
	stringLabel map[string]string

	fn    *ASTNode
	frame *Frame
	// depth counts 8-byte pushes since the prologue, for call alignment.
	depth int
}

// CompileToNASM generates an assembly listing for prog in the configured mode.
func CompileToNASM(prog *Program, cfg Config) (string, error) {
	if cfg.Mode == ModeFreestanding && len(prog.Symbols.Externs) > 0 {
		return "", &LinkError{Symbol: prog.Symbols.Externs[0].Name}
	}
	entry := cfg.EntryName()
	if prog.Function(entry) == nil {
		return "", &LinkError{Symbol: entry}
	}
	g := &CodeGen{prog: prog, cfg: cfg, stringLabel: make(map[string]string)}
	for i, s := range prog.Strings {
		g.stringLabel[s] = "LC" + strconv.Itoa(i+1)
	}
	g.emitHeader()
	g.emitData()
	g.emitSection("text")
	for _, fn := range prog.Symbols.Functions {
		g.emitFunction(fn.Decl)
	}
	g.emitRodata()
	return g.out.String(), nil
}

func (g *CodeGen) emit(format string, args ...any) {
	g.out.WriteString("    ")
	fmt.Fprintf(&g.out, format, args...)
	g.out.WriteByte('\n')
}

func (g *CodeGen) emitLabel(label string) {
	g.out.WriteString(label + ":\n")
}

func (g *CodeGen) emitSection(name string) {
	g.out.WriteString("section ." + name + "\n")
}

func (g *CodeGen) newLabel() string {
	g.labelCount++
	return ".L" + strconv.Itoa(g.labelCount)
}

func (g *CodeGen) push() {
	g.emit("push rax")
	g.depth++
}

func (g *CodeGen) pop(reg string) {
	g.emit("pop %s", reg)
	g.depth--
}

func (g *CodeGen) emitHeader() {
	g.emit("default rel")
	entry := g.cfg.EntryName()
	g.emit("global %s", entry)
	for _, fn := range g.prog.Symbols.Functions {
		if fn.Public && fn.Name != entry {
			g.emit("global %s", fn.Name)
		}
	}
	for _, gl := range g.prog.Symbols.Globals {
		if gl.Public {
			g.emit("global %s", gl.Name)
		}
	}
	for _, ext := range g.prog.Symbols.Externs {
		g.emit("extern %s", ext.Name)
	}
}

func (g *CodeGen) emitData() {
	var initialized, uninitialized []*SymbolInfo
	for _, gl := range g.prog.Symbols.Globals {
		if len(gl.Decl.Children) > 0 {
			initialized = append(initialized, gl)
		} else {
			uninitialized = append(uninitialized, gl)
		}
	}
	if len(initialized) > 0 {
		g.emitSection("data")
		g.emit("align 8")
		for _, gl := range initialized {
			g.emitLabel(gl.Name)
			g.emit("dq %s", g.constant(gl.Decl.Children[0]))
		}
	}
	if len(uninitialized) > 0 {
		g.emitSection("bss")
		g.emit("alignb 8")
		for _, gl := range uninitialized {
			g.emitLabel(gl.Name)
			g.emit("resq 1")
		}
	}
}

// constant renders a global initializer as a dq operand.
func (g *CodeGen) constant(node *ASTNode) string {
	switch node.Kind {
	case NodeString:
		return g.stringLabel[node.String]
	case NodeCast:
		if node.Children[0].Kind == NodeString {
			return g.stringLabel[node.Children[0].String]
		}
		v := convert(constantBits(node.Children[0]), node.Children[0].TypeAST, node.DeclType)
		return fmt.Sprintf("0x%x", v)
	}
	return fmt.Sprintf("0x%x", constantBits(node))
}

func constantBits(node *ASTNode) uint64 {
	switch node.Kind {
	case NodeInteger, NodeChar:
		if IsFloatType(node.TypeAST) {
			return floatBits(float64(node.Integer), node.TypeAST)
		}
		return canonical(uint64(node.Integer), node.TypeAST)
	case NodeFloat:
		return floatBits(node.Float, node.TypeAST)
	case NodeBoolean:
		return boolBits(node.Boolean)
	case NodeCast:
		return convert(constantBits(node.Children[0]), node.Children[0].TypeAST, node.DeclType)
	}
	return 0
}

func (g *CodeGen) emitRodata() {
	if len(g.prog.Strings) == 0 {
		return
	}
	g.emitSection("rodata")
	for _, s := range g.prog.Strings {
		var b strings.Builder
		for i := 0; i < len(s); i++ {
			b.WriteString(strconv.Itoa(int(s[i])))
			b.WriteString(", ")
		}
		g.out.WriteString(g.stringLabel[s] + ": db " + b.String() + "0\n")
	}
}

func (g *CodeGen) emitFunction(fn *ASTNode) {
	g.fn = fn
	g.frame = g.prog.Frames[fn]
	g.depth = 0

	g.emitLabel(fn.String)
	g.emit("push rbp")
	g.emit("mov rbp, rsp")
	if g.frame.Size > 0 {
		g.emit("sub rsp, %d", g.frame.Size)
	}

	var types []*TypeNode
	for _, p := range fn.Params {
		types = append(types, p.Type)
	}
	layout := ClassifyCall(types, len(types), false)
	for i, loc := range layout.Args {
		off, _ := g.frame.Offset(fn.Params[i].Symbol)
		switch loc.Class {
		case ClassInteger:
			g.emit("mov qword [rbp%+d], %s", off, RegisterFor(loc.Reg, 8).Name)
		case ClassSSE:
			g.emit("movq qword [rbp%+d], xmm%d", off, loc.Reg)
		case ClassMemory:
			g.emit("mov rax, qword [rbp%+d]", 16+loc.StackOffset)
			g.emit("mov qword [rbp%+d], rax", off)
		}
	}

	g.genStatement(fn.Children[0])

	g.emitLabel(".Lreturn")
	if g.cfg.Mode == ModeFreestanding && fn.String == g.cfg.EntryName() {
		// Nothing to return to.
		g.emit("cli")
		g.emitLabel(".Lhalt")
		g.emit("hlt")
		g.emit("jmp .Lhalt")
		return
	}
	g.emit("mov rsp, rbp")
	g.emit("pop rbp")
	g.emit("ret")
}

func (g *CodeGen) genStatement(stmt *ASTNode) {
	switch stmt.Kind {
	case NodeVar:
		if len(stmt.Children) == 0 {
			return
		}
		g.genExpression(stmt.Children[0])
		g.canonicalize(stmt.DeclType)
		g.storeVar(stmt.Symbol)

	case NodeBlock:
		for _, child := range stmt.Children {
			g.genStatement(child)
		}

	case NodeIf:
		elseLabel, endLabel := g.newLabel(), g.newLabel()
		g.genExpression(stmt.Children[0])
		g.emit("test rax, rax")
		g.emit("jz %s", elseLabel)
		g.genStatement(stmt.Children[1])
		g.emit("jmp %s", endLabel)
		g.emitLabel(elseLabel)
		if len(stmt.Children) > 2 {
			g.genStatement(stmt.Children[2])
		}
		g.emitLabel(endLabel)

	case NodeWhile:
		top, end := g.newLabel(), g.newLabel()
		g.emitLabel(top)
		g.genExpression(stmt.Children[0])
		g.emit("test rax, rax")
		g.emit("jz %s", end)
		g.genStatement(stmt.Children[1])
		g.emit("jmp %s", top)
		g.emitLabel(end)

	case NodeReturn:
		if len(stmt.Children) > 0 {
			value := stmt.Children[0]
			g.genExpression(value)
			if !extendsResult(value, g.fn.DeclType) {
				g.canonicalize(g.fn.DeclType)
			}
			if TypesEqual(g.fn.DeclType, TypeF32) {
				g.emit("movd xmm0, eax")
			} else if IsFloatType(g.fn.DeclType) {
				g.emit("movq xmm0, rax")
			}
		}
		g.emit("jmp .Lreturn")

	case NodeAsm:
		g.genAsm(stmt)

	default:
		g.genExpression(stmt)
	}
}

// extendsResult reports whether generating node already leaves rax in the
// canonical form of t, as casts and calls do.
func extendsResult(node *ASTNode, t *TypeNode) bool {
	switch node.Kind {
	case NodeCast:
		return TypesEqual(node.DeclType, t)
	case NodeCall:
		return TypesEqual(node.TypeAST, t)
	}
	return false
}

// slot renders the memory operand of a variable without a size.
func (g *CodeGen) slot(symbol *SymbolInfo) string {
	if symbol.Kind == SymbolGlobal {
		return "[" + symbol.Name + "]"
	}
	off, _ := g.frame.Offset(symbol)
	return fmt.Sprintf("[rbp%+d]", off)
}

func (g *CodeGen) storeVar(symbol *SymbolInfo) {
	g.emit("mov qword %s, rax", g.slot(symbol))
}

var sizeNames = map[int]string{1: "byte", 2: "word", 4: "dword", 8: "qword"}

// load reads a value of type t from the memory operand mem into rax.
func (g *CodeGen) load(t *TypeNode, mem string) {
	size := GetTypeSize(t)
	signed := IsSignedType(t) && IsIntegerType(t)
	switch {
	case size == 8:
		g.emit("mov rax, qword %s", mem)
	case size == 4 && signed:
		g.emit("movsxd rax, dword %s", mem)
	case size == 4:
		g.emit("mov eax, dword %s", mem)
	case signed:
		g.emit("movsx rax, %s %s", sizeNames[size], mem)
	default:
		g.emit("movzx eax, %s %s", sizeNames[size], mem)
	}
}

// storeThrough writes the low bytes of rax to the address in rcx.
func (g *CodeGen) storeThrough(t *TypeNode) {
	size := GetTypeSize(t)
	g.emit("mov %s [rcx], %s", sizeNames[size], RegisterFor(RAX, size).Name)
}

// canonicalize extends the value in rax from the width of t.
func (g *CodeGen) canonicalize(t *TypeNode) {
	if !IsIntegerType(t) || IsUntyped(t) {
		if TypesEqual(t, TypeBool) {
			g.emit("movzx eax, al")
		}
		return
	}
	switch size, signed := GetTypeSize(t), IsSignedType(t); {
	case size == 1 && signed:
		g.emit("movsx rax, al")
	case size == 1:
		g.emit("movzx eax, al")
	case size == 2 && signed:
		g.emit("movsx rax, ax")
	case size == 2:
		g.emit("movzx eax, ax")
	case size == 4 && signed:
		g.emit("movsxd rax, eax")
	case size == 4:
		g.emit("mov eax, eax")
	}
}

func (g *CodeGen) genAddress(node *ASTNode) {
	if node.Kind == NodeIdent {
		g.emit("lea rax, %s", g.slot(node.Symbol))
		return
	}
	g.genExpression(node.Children[0])
}

// genExpression leaves the canonical value of node in rax. Floating point
// values travel in rax as raw bits.
func (g *CodeGen) genExpression(node *ASTNode) {
	switch node.Kind {
	case NodeInteger, NodeChar, NodeFloat, NodeBoolean:
		v := constantBits(node)
		if v == 0 {
			g.emit("xor eax, eax")
		} else {
			g.emit("mov rax, 0x%x", v)
		}
	case NodeNull:
		g.emit("xor eax, eax")
	case NodeString:
		g.emit("lea rax, [%s]", g.stringLabel[node.String])
	case NodeIdent:
		g.load(node.Symbol.Type, g.slot(node.Symbol))
	case NodeUnary:
		g.genUnary(node)
	case NodeBinary:
		if node.Op == "=" {
			g.genAssignment(node)
			return
		}
		g.genBinary(node)
	case NodeCast:
		g.genExpression(node.Children[0])
		g.genConvert(node.Children[0].TypeAST, node.DeclType)
	case NodeCall:
		g.genCall(node)
	}
}

func (g *CodeGen) genUnary(node *ASTNode) {
	switch node.Op {
	case "&":
		g.genAddress(node.Children[0])
		return
	case "*":
		g.genExpression(node.Children[0])
		g.load(node.TypeAST, "[rax]")
		return
	}
	g.genExpression(node.Children[0])
	switch {
	case node.Op == "!":
		g.emit("xor eax, 1")
	case TypesEqual(node.TypeAST, TypeF32):
		g.emit("btc eax, 31")
	case IsFloatType(node.TypeAST):
		g.emit("btc rax, 63")
	default:
		g.emit("neg rax")
		g.canonicalize(node.TypeAST)
	}
}

func (g *CodeGen) genAssignment(node *ASTNode) {
	lhs := node.Children[0]
	g.genExpression(node.Children[1])
	g.canonicalize(lhs.TypeAST)
	if lhs.Kind == NodeIdent {
		g.storeVar(lhs.Symbol)
		return
	}
	g.push()
	g.genExpression(lhs.Children[0])
	g.emit("mov rcx, rax")
	g.pop("rax")
	g.storeThrough(lhs.TypeAST)
}

var signedSetcc = map[string]string{"==": "sete", "!=": "setne", "<": "setl", ">": "setg", "<=": "setle", ">=": "setge"}
var unsignedSetcc = map[string]string{"==": "sete", "!=": "setne", "<": "setb", ">": "seta", "<=": "setbe", ">=": "setae"}

func (g *CodeGen) genBinary(node *ASTNode) {
	left, right := node.Children[0], node.Children[1]
	if node.Op == "&&" || node.Op == "||" {
		end := g.newLabel()
		g.genExpression(left)
		g.emit("test rax, rax")
		if node.Op == "&&" {
			g.emit("jz %s", end)
		} else {
			g.emit("jnz %s", end)
		}
		g.genExpression(right)
		g.emitLabel(end)
		g.emit("test rax, rax")
		g.emit("setne al")
		g.emit("movzx eax, al")
		return
	}

	g.genExpression(right)
	g.push()
	g.genExpression(left)
	g.pop("rcx")

	t := left.TypeAST
	if IsUntyped(t) {
		t = right.TypeAST
	}
	if IsFloatType(t) {
		g.genFloatBinary(node.Op, t)
		return
	}
	signed := IsSignedType(t)
	switch node.Op {
	case "+":
		g.emit("add rax, rcx")
	case "-":
		g.emit("sub rax, rcx")
	case "*":
		g.emit("imul rax, rcx")
	case "&":
		g.emit("and rax, rcx")
	case "|":
		g.emit("or rax, rcx")
	case "^":
		g.emit("xor rax, rcx")
	case "<<":
		g.emit("shl rax, cl")
	case ">>":
		if signed {
			g.emit("sar rax, cl")
		} else {
			g.emit("shr rax, cl")
		}
	case "/", "%":
		if signed {
			g.emit("cqo")
			g.emit("idiv rcx")
		} else {
			g.emit("xor edx, edx")
			g.emit("div rcx")
		}
		if node.Op == "%" {
			g.emit("mov rax, rdx")
		}
	default:
		setcc := unsignedSetcc[node.Op]
		if signed {
			setcc = signedSetcc[node.Op]
		}
		g.emit("cmp rax, rcx")
		g.emit("%s al", setcc)
		g.emit("movzx eax, al")
		return
	}
	g.canonicalize(t)
}

func (g *CodeGen) genFloatBinary(op string, t *TypeNode) {
	suffix := "sd"
	if TypesEqual(t, TypeF32) {
		suffix = "ss"
		g.emit("movd xmm0, eax")
		g.emit("movd xmm1, ecx")
	} else {
		g.emit("movq xmm0, rax")
		g.emit("movq xmm1, rcx")
	}
	arith := map[string]string{"+": "add", "-": "sub", "*": "mul", "/": "div"}
	if name, ok := arith[op]; ok {
		g.emit("%s%s xmm0, xmm1", name, suffix)
		if suffix == "ss" {
			g.emit("movd eax, xmm0")
		} else {
			g.emit("movq rax, xmm0")
		}
		return
	}
	g.emit("ucomi%s xmm0, xmm1", suffix)
	g.emit("%s al", unsignedSetcc[op])
	g.emit("movzx eax, al")
}

// genConvert converts the value in rax from one type to another.
func (g *CodeGen) genConvert(from, to *TypeNode) {
	switch {
	case TypesEqual(from, to):
	case IsFloatType(from) && IsFloatType(to):
		if TypesEqual(from, TypeF32) {
			g.emit("movd xmm0, eax")
			g.emit("cvtss2sd xmm0, xmm0")
			g.emit("movq rax, xmm0")
		} else {
			g.emit("movq xmm0, rax")
			g.emit("cvtsd2ss xmm0, xmm0")
			g.emit("movd eax, xmm0")
		}
	case IsFloatType(from):
		if TypesEqual(from, TypeF32) {
			g.emit("movd xmm0, eax")
			g.emit("cvttss2si rax, xmm0")
		} else {
			g.emit("movq xmm0, rax")
			g.emit("cvttsd2si rax, xmm0")
		}
		g.canonicalize(to)
	case IsFloatType(to):
		if TypesEqual(to, TypeF32) {
			g.emit("cvtsi2ss xmm0, rax")
			g.emit("movd eax, xmm0")
		} else {
			g.emit("cvtsi2sd xmm0, rax")
			g.emit("movq rax, xmm0")
		}
	default:
		g.canonicalize(to)
	}
}

// genCall evaluates arguments, places them per ClassifyCall and calls.
func (g *CodeGen) genCall(node *ASTNode) {
	symbol := node.Children[0].Symbol
	args := node.Children[1:]
	var types []*TypeNode
	for _, arg := range args {
		types = append(types, arg.TypeAST)
	}
	fixed, variadic := len(symbol.Params), symbol.Variadic
	layout := ClassifyCall(types, fixed, variadic)

	stackArgs := layout.StackBytes / 8
	var memArgs int
	for _, loc := range layout.Args {
		if loc.Class == ClassMemory {
			memArgs++
		}
	}
	pad := 0
	if (g.depth+stackArgs)%2 != 0 {
		pad = 8
		g.emit("sub rsp, 8")
		g.depth++
	}
	if stackArgs > memArgs {
		// The outgoing area is rounded up to 16 bytes.
		g.emit("sub rsp, %d", (stackArgs-memArgs)*8)
		g.depth += stackArgs - memArgs
	}

	// Stack arguments first, last to first, so the first one ends up at rsp.
	for i := len(args) - 1; i >= 0; i-- {
		if layout.Args[i].Class == ClassMemory {
			g.genArgument(args[i], layout.Args[i])
			g.push()
		}
	}
	for i := len(args) - 1; i >= 0; i-- {
		if layout.Args[i].Class != ClassMemory {
			g.genArgument(args[i], layout.Args[i])
			g.push()
		}
	}
	for _, loc := range layout.Args {
		switch loc.Class {
		case ClassInteger:
			g.pop(RegisterFor(loc.Reg, 8).Name)
		case ClassSSE:
			g.pop("rax")
			g.emit("movq xmm%d, rax", loc.Reg)
		}
	}
	g.emit("mov eax, %d", layout.SSECount)
	g.emit("call %s", symbol.Name)
	if cleanup := layout.StackBytes + pad; cleanup > 0 {
		g.emit("add rsp, %d", cleanup)
		g.depth -= cleanup / 8
	}

	switch {
	case TypesEqual(symbol.Type, TypeF32):
		g.emit("movd eax, xmm0")
	case IsFloatType(symbol.Type):
		g.emit("movq rax, xmm0")
	default:
		g.canonicalize(symbol.Type)
	}
}

// genArgument evaluates one argument and applies variadic promotion.
func (g *CodeGen) genArgument(arg *ASTNode, loc ArgLocation) {
	g.genExpression(arg)
	if TypesEqual(arg.TypeAST, TypeF32) && TypesEqual(loc.Type, TypeF64) {
		g.genConvert(TypeF32, TypeF64)
	}
}

// genAsm emits an asm block with variables replaced by their storage and
// labels renamed so they stay local to the block.
func (g *CodeGen) genAsm(node *ASTNode) {
	g.asmCount++
	prefix := ".asm" + strconv.Itoa(g.asmCount) + "_"
	rename := func(label string) string {
		return prefix + strings.TrimPrefix(label, ".")
	}
	g.emit("; asm block, line %d", node.Line)
	for _, instr := range node.Asm.Instrs {
		if instr.Label != "" {
			g.emitLabel(rename(instr.Label))
		}
		if instr.Mnemonic == "" {
			continue
		}
		var operands []string
		for _, op := range instr.Operands {
			operands = append(operands, g.asmOperand(instr.Mnemonic, op, rename))
		}
		if len(operands) == 0 {
			g.emit("%s", instr.Mnemonic)
		} else {
			g.emit("%s %s", instr.Mnemonic, strings.Join(operands, ", "))
		}
	}
}

func (g *CodeGen) asmOperand(mnemonic string, op AsmOperand, rename func(string) string) string {
	switch op.Kind {
	case OperandReg:
		return op.Reg.Name
	case OperandImm:
		return strconv.FormatInt(op.Imm, 10)
	case OperandLabel:
		return rename(op.Name)
	case OperandSymbol:
		return op.Name
	}

	var terms []string
	if op.Var != nil {
		if op.Var.Kind == SymbolGlobal {
			terms = append(terms, op.Var.Name)
		} else {
			off, _ := g.frame.Offset(op.Var)
			terms = append(terms, "rbp", strconv.Itoa(off))
		}
	}
	if op.Base != nil {
		terms = append(terms, op.Base.Name)
	}
	if op.Index != nil {
		terms = append(terms, fmt.Sprintf("%s*%d", op.Index.Name, op.Scale))
	}
	if op.Disp != 0 || len(terms) == 0 {
		terms = append(terms, strconv.FormatInt(op.Disp, 10))
	}
	expr := terms[0]
	for _, t := range terms[1:] {
		if strings.HasPrefix(t, "-") {
			expr += t
		} else {
			expr += "+" + t
		}
	}
	if mnemonic == "lea" || op.Size == 0 {
		return "[" + expr + "]"
	}
	return sizeNames[op.Size] + " [" + expr + "]"
}
