package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Register is an x86-64 general purpose register view.
type Register struct {
	Name  string
	Index int  // 0=rax 1=rcx 2=rdx 3=rbx 4=rsp 5=rbp 6=rsi 7=rdi 8-15=r8-r15
	Size  int  // bytes
	High  bool // ah, ch, dh, bh
	XMM   bool
}

const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registers = map[string]Register{}

func init() {
	names64 := []string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"}
	names32 := []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	names16 := []string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
	names8 := []string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil"}
	for i := 0; i < 8; i++ {
		registers[names64[i]] = Register{Name: names64[i], Index: i, Size: 8}
		registers[names32[i]] = Register{Name: names32[i], Index: i, Size: 4}
		registers[names16[i]] = Register{Name: names16[i], Index: i, Size: 2}
		registers[names8[i]] = Register{Name: names8[i], Index: i, Size: 1}
	}
	for i, name := range []string{"ah", "ch", "dh", "bh"} {
		registers[name] = Register{Name: name, Index: i, Size: 1, High: true}
	}
	for i := 8; i < 16; i++ {
		n := "r" + strconv.Itoa(i)
		registers[n] = Register{Name: n, Index: i, Size: 8}
		registers[n+"d"] = Register{Name: n + "d", Index: i, Size: 4}
		registers[n+"w"] = Register{Name: n + "w", Index: i, Size: 2}
		registers[n+"b"] = Register{Name: n + "b", Index: i, Size: 1}
	}
	for i := 0; i < 16; i++ {
		n := "xmm" + strconv.Itoa(i)
		registers[n] = Register{Name: n, Index: i, Size: 16, XMM: true}
	}
}

// LookupRegister returns the register named name (case-insensitive).
func LookupRegister(name string) (Register, bool) {
	r, ok := registers[strings.ToLower(name)]
	return r, ok
}

// RegisterFor returns the view of register index with the given size.
func RegisterFor(index, size int) Register {
	for _, r := range registers {
		if r.Index == index && r.Size == size && !r.High && !r.XMM {
			return r
		}
	}
	panic(fmt.Sprintf("no register %d of size %d", index, size))
}

type OperandKind int

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandMem
	OperandLabel
	OperandSymbol
)

// AsmOperand is one parsed instruction operand.
type AsmOperand struct {
	Kind OperandKind
	Reg  Register
	Imm  int64

	// OperandMem is [Base + Index*Scale + Disp], or [Var + Disp] when it
	// refers to a variable's storage.
	Size  int // 0 when neither given nor inferable
	Base  *Register
	Index *Register
	Scale int
	Disp  int64
	Var   *SymbolInfo

	// OperandLabel, OperandSymbol:
	Name   string
	Symbol *SymbolInfo
}

// AsmInstr is one line of an asm block. Mnemonic is empty for a line that only
// defines a label.
type AsmInstr struct {
	Label    string
	Mnemonic string
	Operands []AsmOperand
	Line     int
	Text     string
}

// AsmBlock is a parsed asm statement.
type AsmBlock struct {
	Instrs []AsmInstr
	// Labels maps a block-local label to the index of the instruction it marks.
	Labels map[string]int
	// Bindings lists the variables the block references, in first-use order.
	Bindings []*SymbolInfo
	// Calls lists the functions and externs the block calls.
	Calls []*SymbolInfo
}

// AsmLine is one instruction line of raw asm text.
type AsmLine struct {
	Text string
	Line int
}

// ScratchRegister is loaded with a variable's value when an instruction would
// otherwise need two memory operands.
const ScratchRegister = R11

// SplitAsmLines splits raw asm text into instruction lines. Lines are separated
// by newlines or ';' and '//' starts a comment.
func SplitAsmLines(text string, line int) []AsmLine {
	var lines []AsmLine
	for i, physical := range strings.Split(text, "\n") {
		if idx := strings.Index(physical, "//"); idx >= 0 {
			physical = physical[:idx]
		}
		for _, part := range splitOutsideQuotes(physical, ';') {
			part = strings.TrimSpace(part)
			if part != "" {
				lines = append(lines, AsmLine{Text: part, Line: line + i})
			}
		}
	}
	return lines
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	start := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

type operandClass int

const (
	classR operandClass = 1 << iota
	classM
	classI
	classL // label or call target
)

const classRM = classR | classM

var jumpMnemonics = map[string]bool{
	"jmp": true, "je": true, "jz": true, "jne": true, "jnz": true,
	"jl": true, "jle": true, "jg": true, "jge": true,
	"jb": true, "jbe": true, "ja": true, "jae": true, "js": true, "jns": true,
}

// Mnemonics lists every instruction an asm block may contain.
var Mnemonics = []string{
	"mov", "movzx", "movsx", "movsxd", "lea", "add", "sub", "and", "or", "xor",
	"not", "neg", "inc", "dec", "imul", "shl", "shr", "sar", "cmp", "test",
	"jmp", "je", "jz", "jne", "jnz", "jl", "jle", "jg", "jge", "jb", "jbe",
	"ja", "jae", "js", "jns", "call", "push", "pop", "out", "in", "syscall",
	"hlt", "nop", "cli", "sti", "lodsb", "stosb", "cqo",
}

var knownMnemonics = func() map[string]bool {
	m := make(map[string]bool)
	for _, name := range Mnemonics {
		m[name] = true
	}
	return m
}()

type asmParser struct {
	lookup func(string) *SymbolInfo
	block  *AsmBlock
	bound  map[*SymbolInfo]bool
	line   AsmLine
}

// ParseAsmBlock parses and validates raw asm text. lookup resolves identifiers
// to the variables and functions visible at the asm statement.
func ParseAsmBlock(text string, line int, lookup func(string) *SymbolInfo) (*AsmBlock, error) {
	p := &asmParser{
		lookup: lookup,
		block:  &AsmBlock{Labels: make(map[string]int)},
		bound:  make(map[*SymbolInfo]bool),
	}
	var pendingLabels []AsmLine
	for _, l := range SplitAsmLines(text, line) {
		p.line = l
		instr, err := p.parseLine(l)
		if err != nil {
			return nil, err
		}
		if instr.Label != "" {
			if _, dup := p.block.Labels[instr.Label]; dup {
				return nil, p.errorf("duplicate label '%s'", instr.Label)
			}
			p.block.Labels[instr.Label] = len(p.block.Instrs)
			pendingLabels = append(pendingLabels, l)
		}
		if instr.Mnemonic == "" {
			p.block.Instrs = append(p.block.Instrs, instr)
			continue
		}
		expanded, err := p.validate(instr)
		if err != nil {
			return nil, err
		}
		p.block.Instrs = append(p.block.Instrs, expanded...)
	}

	for _, instr := range p.block.Instrs {
		for _, op := range instr.Operands {
			if op.Kind == OperandLabel {
				if _, ok := p.block.Labels[op.Name]; !ok {
					p.line = AsmLine{Text: instr.Text, Line: instr.Line}
					return nil, p.errorf("undefined label '%s'", op.Name)
				}
			}
		}
	}
	return p.block, nil
}

func (p *asmParser) errorf(format string, args ...any) error {
	return &CompileError{
		Kind:    ErrAssemblyParse,
		Line:    p.line.Line,
		Column:  1,
		Message: fmt.Sprintf(format, args...) + " in '" + p.line.Text + "'",
	}
}

func isAsmIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(isLetter(c) || c == '.' || (i > 0 && isDigit(c))) {
			return false
		}
	}
	return true
}

func (p *asmParser) parseLine(l AsmLine) (AsmInstr, error) {
	instr := AsmInstr{Line: l.Line, Text: l.Text}
	rest := l.Text
	if idx := strings.IndexByte(rest, ':'); idx > 0 && !strings.ContainsAny(rest[:idx], " \t,[") {
		label := rest[:idx]
		if !isAsmIdent(label) {
			return instr, p.errorf("invalid label '%s'", label)
		}
		instr.Label = label
		rest = strings.TrimSpace(rest[idx+1:])
		if rest == "" {
			return instr, nil
		}
	}

	mnemonic, operandText := rest, ""
	if idx := strings.IndexAny(rest, " \t"); idx >= 0 {
		mnemonic, operandText = rest[:idx], rest[idx+1:]
	}
	instr.Mnemonic = strings.ToLower(mnemonic)
	if !knownMnemonics[instr.Mnemonic] {
		return instr, p.errorf("unknown instruction '%s'", mnemonic)
	}
	operandText = strings.TrimSpace(operandText)
	if operandText == "" {
		return instr, nil
	}
	for _, text := range splitOutsideQuotes(operandText, ',') {
		op, err := p.parseOperand(instr.Mnemonic, strings.TrimSpace(text))
		if err != nil {
			return instr, err
		}
		instr.Operands = append(instr.Operands, op)
	}
	return instr, nil
}

var sizeKeywords = map[string]int{"byte": 1, "word": 2, "dword": 4, "qword": 8}

func parseAsmNumber(s string) (int64, bool) {
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return int64(s[1]), true
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg, s = true, s[1:]
	}
	var v uint64
	var err error
	switch {
	case strings.HasSuffix(s, "h") && len(s) > 1 && isDigit(s[0]):
		v, err = strconv.ParseUint(s[:len(s)-1], 16, 64)
	default:
		v, err = strconv.ParseUint(s, 0, 64)
	}
	if err != nil {
		return 0, false
	}
	if neg {
		return -int64(v), true
	}
	return int64(v), true
}

func (p *asmParser) bind(symbol *SymbolInfo) {
	if !p.bound[symbol] {
		p.bound[symbol] = true
		p.block.Bindings = append(p.block.Bindings, symbol)
	}
}

func (p *asmParser) parseOperand(mnemonic, text string) (AsmOperand, error) {
	if text == "" {
		return AsmOperand{}, p.errorf("missing operand")
	}
	size := 0
	fields := strings.Fields(text)
	if n, ok := sizeKeywords[strings.ToLower(fields[0])]; ok && len(fields) > 1 {
		size = n
		fields = fields[1:]
		if strings.ToLower(fields[0]) == "ptr" {
			fields = fields[1:]
		}
		text = strings.Join(fields, " ")
	}

	if strings.HasPrefix(text, "[") {
		if !strings.HasSuffix(text, "]") {
			return AsmOperand{}, p.errorf("unterminated memory operand")
		}
		op, err := p.parseMemory(text[1 : len(text)-1])
		if err != nil {
			return op, err
		}
		if size != 0 {
			op.Size = size
		}
		return op, nil
	}
	if size != 0 && len(fields) == 1 {
		// A size prefix on a bare variable.
		if symbol := p.lookup(text); symbol != nil && symbol.IsStorage() {
			p.bind(symbol)
			return AsmOperand{Kind: OperandMem, Var: symbol, Size: size}, nil
		}
		return AsmOperand{}, p.errorf("size prefix requires a memory operand")
	}

	if r, ok := LookupRegister(text); ok {
		if r.XMM {
			return AsmOperand{}, p.errorf("register '%s' is not supported in asm blocks", text)
		}
		return AsmOperand{Kind: OperandReg, Reg: r}, nil
	}
	if v, ok := parseAsmNumber(text); ok {
		return AsmOperand{Kind: OperandImm, Imm: v}, nil
	}
	if !isAsmIdent(text) {
		return AsmOperand{}, p.errorf("invalid operand '%s'", text)
	}

	if jumpMnemonics[mnemonic] {
		return AsmOperand{Kind: OperandLabel, Name: text}, nil
	}
	symbol := p.lookup(text)
	if mnemonic == "call" {
		if symbol != nil && symbol.IsCallable() {
			p.block.Calls = append(p.block.Calls, symbol)
			return AsmOperand{Kind: OperandSymbol, Name: text, Symbol: symbol}, nil
		}
		if symbol == nil {
			return AsmOperand{Kind: OperandLabel, Name: text}, nil
		}
	}
	if symbol == nil {
		return AsmOperand{}, p.errorf("undefined identifier '%s'", text)
	}
	if !symbol.IsStorage() {
		return AsmOperand{}, p.errorf("%s '%s' can only be a call target", symbol.Kind, text)
	}
	p.bind(symbol)
	return AsmOperand{Kind: OperandMem, Var: symbol}, nil
}

// parseMemory parses the inside of [...].
func (p *asmParser) parseMemory(text string) (AsmOperand, error) {
	op := AsmOperand{Kind: OperandMem}
	expr := strings.ReplaceAll(text, " ", "")
	if expr == "" {
		return op, p.errorf("empty memory operand")
	}
	for i := 0; i < len(expr); {
		sign := int64(1)
		if expr[i] == '+' || expr[i] == '-' {
			if expr[i] == '-' {
				sign = -1
			}
			i++
		} else if i > 0 {
			return op, p.errorf("invalid memory operand '[%s]'", text)
		}
		j := i
		for j < len(expr) && expr[j] != '+' && expr[j] != '-' {
			j++
		}
		term := expr[i:j]
		i = j
		if term == "" {
			return op, p.errorf("invalid memory operand '[%s]'", text)
		}

		if a, b, ok := strings.Cut(term, "*"); ok {
			regText, scaleText := a, b
			if _, isReg := LookupRegister(b); isReg {
				regText, scaleText = b, a
			}
			r, isReg := LookupRegister(regText)
			scale, isNum := parseAsmNumber(scaleText)
			if !isReg || !isNum || sign < 0 || (scale != 1 && scale != 2 && scale != 4 && scale != 8) {
				return op, p.errorf("invalid scaled index '%s'", term)
			}
			if op.Index != nil || r.Size != 8 {
				return op, p.errorf("invalid scaled index '%s'", term)
			}
			op.Index, op.Scale = &r, int(scale)
			continue
		}
		if r, ok := LookupRegister(term); ok {
			if sign < 0 || r.Size != 8 || r.XMM {
				return op, p.errorf("invalid address register '%s'", term)
			}
			switch {
			case op.Base == nil && op.Var == nil:
				op.Base = &r
			case op.Index == nil:
				op.Index, op.Scale = &r, 1
			default:
				return op, p.errorf("too many registers in '[%s]'", text)
			}
			continue
		}
		if v, ok := parseAsmNumber(term); ok {
			op.Disp += sign * v
			continue
		}
		if !isAsmIdent(term) {
			return op, p.errorf("invalid memory operand '[%s]'", text)
		}
		symbol := p.lookup(term)
		if symbol == nil {
			return op, p.errorf("undefined identifier '%s'", term)
		}
		if !symbol.IsStorage() {
			return op, p.errorf("%s '%s' has no storage", symbol.Kind, term)
		}
		if sign < 0 || op.Var != nil || op.Base != nil || op.Index != nil {
			return op, p.errorf("variable '%s' must be the base of '[%s]'", term, text)
		}
		op.Var = symbol
		p.bind(symbol)
	}
	return op, nil
}

func (op AsmOperand) class() operandClass {
	switch op.Kind {
	case OperandReg:
		return classR
	case OperandMem:
		return classM
	case OperandImm:
		return classI
	}
	return classL
}

// describe names a memory operand in size mismatch errors.
func (op AsmOperand) describe() string {
	if op.Size == 0 && op.Var != nil {
		return "'" + op.Var.Name + "'"
	}
	return "memory"
}

// width returns the operand size in bytes, inferring variable sizes.
func (op AsmOperand) width() int {
	switch op.Kind {
	case OperandReg:
		return op.Reg.Size
	case OperandMem:
		if op.Size != 0 {
			return op.Size
		}
		if op.Var != nil && op.Disp == 0 {
			return GetTypeSize(op.Var.Type)
		}
	}
	return 0
}

func fitsImmediate(v int64, size int) bool {
	if size >= 8 {
		return true
	}
	bits := uint(size * 8)
	return v >= -(1<<(bits-1)) && v < 1<<bits
}

// validate checks operand forms and sizes. Instructions with two variable
// memory operands are expanded to load the source into the scratch register.
func (p *asmParser) validate(instr AsmInstr) ([]AsmInstr, error) {
	ops := instr.Operands
	want := func(n int) error {
		if len(ops) != n {
			return p.errorf("'%s' takes %d operand(s), got %d", instr.Mnemonic, n, len(ops))
		}
		return nil
	}
	allow := func(i int, c operandClass) error {
		if ops[i].class()&c == 0 {
			return p.errorf("invalid operand %d for '%s'", i+1, instr.Mnemonic)
		}
		return nil
	}

	switch instr.Mnemonic {
	case "mov", "add", "sub", "and", "or", "xor", "cmp", "test":
		if err := want(2); err != nil {
			return nil, err
		}
		if err := allow(0, classRM); err != nil {
			return nil, err
		}
		if err := allow(1, classRM|classI); err != nil {
			return nil, err
		}
		var prefix []AsmInstr
		if ops[0].Kind == OperandMem && ops[1].Kind == OperandMem {
			if ops[1].Var == nil {
				return nil, p.errorf("'%s' cannot take two memory operands", instr.Mnemonic)
			}
			size := ops[0].width()
			if size == 0 {
				size = ops[1].width()
			}
			if size == 0 {
				return nil, p.errorf("operation size not specified")
			}
			scratch := AsmOperand{Kind: OperandReg, Reg: RegisterFor(ScratchRegister, size)}
			src := ops[1]
			src.Size = size
			prefix = append(prefix, AsmInstr{Mnemonic: "mov", Operands: []AsmOperand{scratch, src}, Line: instr.Line, Text: instr.Text})
			instr.Operands = []AsmOperand{ops[0], scratch}
			ops = instr.Operands
		}
		if err := p.unifySizes(&instr); err != nil {
			return nil, err
		}
		if ops[1].Kind == OperandImm {
			size := instr.Operands[0].width()
			limit := size
			if instr.Mnemonic != "mov" || ops[0].Kind == OperandMem {
				limit = min(size, 4)
			}
			if !fitsImmediate(ops[1].Imm, limit) {
				return nil, p.errorf("immediate %d does not fit in %d bytes", ops[1].Imm, limit)
			}
		}
		if prefix != nil {
			prefix[0].Label = instr.Label
			instr.Label = ""
		}
		return append(prefix, instr), nil

	case "movzx", "movsx", "movsxd":
		if err := want(2); err != nil {
			return nil, err
		}
		if err := allow(0, classR); err != nil {
			return nil, err
		}
		if err := allow(1, classRM); err != nil {
			return nil, err
		}
		dst, src := ops[0].width(), ops[1].width()
		if src == 0 {
			return nil, p.errorf("operation size not specified")
		}
		if instr.Mnemonic == "movsxd" {
			if dst != 8 || src != 4 {
				return nil, p.errorf("'movsxd' needs a 64-bit destination and 32-bit source")
			}
		} else if src >= dst || src > 2 {
			return nil, p.errorf("'%s' source must be narrower than the destination", instr.Mnemonic)
		}
		instr.Operands[1].Size = src

	case "lea":
		if err := want(2); err != nil {
			return nil, err
		}
		if err := allow(0, classR); err != nil {
			return nil, err
		}
		if err := allow(1, classM); err != nil {
			return nil, err
		}
		if ops[0].Reg.Size < 4 {
			return nil, p.errorf("'lea' needs a 32 or 64-bit destination")
		}

	case "not", "neg", "inc", "dec":
		if err := want(1); err != nil {
			return nil, err
		}
		if err := allow(0, classRM); err != nil {
			return nil, err
		}
		if ops[0].width() == 0 {
			return nil, p.errorf("operation size not specified")
		}
		instr.Operands[0].Size = ops[0].width()

	case "imul":
		if len(ops) != 2 && len(ops) != 3 {
			return nil, p.errorf("'imul' takes 2 or 3 operands, got %d", len(ops))
		}
		if err := allow(0, classR); err != nil {
			return nil, err
		}
		if err := allow(1, classRM); err != nil {
			return nil, err
		}
		if len(ops) == 3 {
			if err := allow(2, classI); err != nil {
				return nil, err
			}
		}
		if ops[0].Reg.Size == 1 {
			return nil, p.errorf("'imul' has no 8-bit two-operand form")
		}
		if err := p.unifySizes(&instr); err != nil {
			return nil, err
		}

	case "shl", "shr", "sar":
		if err := want(2); err != nil {
			return nil, err
		}
		if err := allow(0, classRM); err != nil {
			return nil, err
		}
		if ops[1].Kind == OperandReg && ops[1].Reg.Name != "cl" || ops[1].Kind != OperandReg && ops[1].Kind != OperandImm {
			return nil, p.errorf("shift count must be an immediate or 'cl'")
		}
		if ops[0].width() == 0 {
			return nil, p.errorf("operation size not specified")
		}
		instr.Operands[0].Size = ops[0].width()

	case "call":
		if err := want(1); err != nil {
			return nil, err
		}
		if err := allow(0, classL|classR); err != nil {
			return nil, err
		}
		if ops[0].Kind == OperandReg && ops[0].Reg.Size != 8 {
			return nil, p.errorf("call through a register needs a 64-bit register")
		}

	case "push", "pop":
		if err := want(1); err != nil {
			return nil, err
		}
		c := classRM
		if instr.Mnemonic == "push" {
			c |= classI
		}
		if err := allow(0, c); err != nil {
			return nil, err
		}
		if w := ops[0].width(); ops[0].Kind != OperandImm && w != 8 && !(ops[0].Var != nil && ops[0].Size == 0) {
			return nil, p.errorf("'%s' needs a 64-bit operand", instr.Mnemonic)
		}
		if ops[0].Kind == OperandMem {
			instr.Operands[0].Size = 8
		}

	case "out":
		if err := want(2); err != nil {
			return nil, err
		}
		if !isPortOperand(ops[0]) {
			return nil, p.errorf("'out' port must be an 8-bit immediate or 'dx'")
		}
		if !isAccumulator(ops[1]) {
			return nil, p.errorf("'out' source must be al, ax or eax")
		}

	case "in":
		if err := want(2); err != nil {
			return nil, err
		}
		if !isAccumulator(ops[0]) {
			return nil, p.errorf("'in' destination must be al, ax or eax")
		}
		if !isPortOperand(ops[1]) {
			return nil, p.errorf("'in' port must be an 8-bit immediate or 'dx'")
		}

	case "syscall", "hlt", "nop", "cli", "sti", "lodsb", "stosb", "cqo":
		if err := want(0); err != nil {
			return nil, err
		}

	default:
		// Conditional and unconditional jumps.
		if err := want(1); err != nil {
			return nil, err
		}
		if ops[0].Kind != OperandLabel {
			return nil, p.errorf("'%s' needs a label", instr.Mnemonic)
		}
	}
	return []AsmInstr{instr}, nil
}

// unifySizes infers the size of a variable memory operand from the register
// it is paired with and rejects mismatched explicit sizes.
func (p *asmParser) unifySizes(instr *AsmInstr) error {
	a, b := &instr.Operands[0], &instr.Operands[1]
	switch {
	case a.Kind == OperandReg && b.Kind == OperandReg:
		if a.Reg.Size != b.Reg.Size {
			return p.errorf("operand size mismatch: %s is %d-bit, %s is %d-bit",
				a.Reg.Name, a.Reg.Size*8, b.Reg.Name, b.Reg.Size*8)
		}
	case a.Kind == OperandReg && b.Kind == OperandMem:
		if w := b.width(); w != 0 && w != a.Reg.Size {
			return p.errorf("operand size mismatch: %s is %d-bit, %s is %d-bit",
				a.Reg.Name, a.Reg.Size*8, b.describe(), w*8)
		}
		b.Size = a.Reg.Size
	case a.Kind == OperandMem && b.Kind == OperandReg:
		if w := a.width(); w != 0 && w != b.Reg.Size {
			return p.errorf("operand size mismatch: %s is %d-bit, %s is %d-bit",
				a.describe(), w*8, b.Reg.Name, b.Reg.Size*8)
		}
		a.Size = b.Reg.Size
	case a.Kind == OperandMem:
		if a.width() == 0 {
			return p.errorf("operation size not specified")
		}
		a.Size = a.width()
	}
	return nil
}

func isPortOperand(op AsmOperand) bool {
	if op.Kind == OperandImm {
		return op.Imm >= 0 && op.Imm <= 0xFF
	}
	return op.Kind == OperandReg && op.Reg.Name == "dx"
}

func isAccumulator(op AsmOperand) bool {
	return op.Kind == OperandReg && op.Reg.Index == RAX && !op.Reg.High && op.Reg.Size <= 4
}
