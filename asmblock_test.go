package main

import (
	"errors"
	"testing"

	"github.com/nalgeon/be"
)

func asmLookup(symbols ...*SymbolInfo) func(string) *SymbolInfo {
	return func(name string) *SymbolInfo {
		for _, s := range symbols {
			if s.Name == name {
				return s
			}
		}
		return nil
	}
}

func asmError(t *testing.T, err error) string {
	t.Helper()
	var cerr *CompileError
	be.True(t, errors.As(err, &cerr))
	be.Equal(t, cerr.Kind, ErrAssemblyParse)
	return cerr.Message
}

func TestSplitAsmLines(t *testing.T) {
	lines := SplitAsmLines("\n  mov rax, 60 // exit\n  xor edi, edi; syscall\n  mov al, ';'\n", 4)
	be.Equal(t, len(lines), 4)
	be.Equal(t, lines[0], AsmLine{Text: "mov rax, 60", Line: 5})
	be.Equal(t, lines[1], AsmLine{Text: "xor edi, edi", Line: 6})
	be.Equal(t, lines[2], AsmLine{Text: "syscall", Line: 6})
	be.Equal(t, lines[3], AsmLine{Text: "mov al, ';'", Line: 7})
}

func TestLookupRegister(t *testing.T) {
	r, ok := LookupRegister("EAX")
	be.True(t, ok)
	be.Equal(t, r.Index, RAX)
	be.Equal(t, r.Size, 4)

	r, ok = LookupRegister("r11b")
	be.True(t, ok)
	be.Equal(t, r.Index, R11)
	be.Equal(t, r.Size, 1)

	r, _ = LookupRegister("ah")
	be.True(t, r.High)

	_, ok = LookupRegister("rip")
	be.Equal(t, ok, false)

	be.Equal(t, RegisterFor(R11, 4).Name, "r11d")
	be.Equal(t, RegisterFor(RDI, 1).Name, "dil")
}

func TestParseAsmNumber(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"42", 42},
		{"-1", -1},
		{"0x3F8", 0x3F8},
		{"0E9h", 0xE9},
		{"'A'", 65},
	}
	for _, tt := range tests {
		v, ok := parseAsmNumber(tt.text)
		be.True(t, ok)
		be.Equal(t, v, tt.want)
	}
	_, ok := parseAsmNumber("rax")
	be.Equal(t, ok, false)
}

func TestParseAsmBlockLabels(t *testing.T) {
	block, err := ParseAsmBlock(`
    mov rcx, 3
.loop:
    dec rcx
    jnz .loop
done: nop
`, 1, asmLookup())
	be.Err(t, err, nil)
	be.Equal(t, len(block.Instrs), 5)
	be.Equal(t, block.Labels[".loop"], 1)
	be.Equal(t, block.Labels["done"], 4)
	be.Equal(t, block.Instrs[1].Label, ".loop")
	be.Equal(t, block.Instrs[1].Mnemonic, "")
	be.Equal(t, block.Instrs[2].Mnemonic, "dec")
	be.Equal(t, block.Instrs[3].Operands[0].Kind, OperandLabel)
	be.Equal(t, block.Instrs[4].Label, "done")
}

func TestParseAsmBlockLabelOnOwnLine(t *testing.T) {
	block, err := ParseAsmBlock("jmp .end\n.end:", 1, asmLookup())
	be.Err(t, err, nil)
	be.Equal(t, len(block.Instrs), 2)
	be.Equal(t, block.Instrs[1].Mnemonic, "")
	be.Equal(t, block.Labels[".end"], 1)
}

func TestParseAsmBlockBindings(t *testing.T) {
	x := &SymbolInfo{Name: "x", Type: TypeI64, Kind: SymbolVariable}
	b := &SymbolInfo{Name: "b", Type: TypeU8, Kind: SymbolParam}
	block, err := ParseAsmBlock("mov rax, x\nmov al, b\nadd x, rax\nmovzx ecx, b", 1, asmLookup(x, b))
	be.Err(t, err, nil)
	be.Equal(t, len(block.Bindings), 2)
	be.True(t, block.Bindings[0] == x)
	be.True(t, block.Bindings[1] == b)

	be.Equal(t, block.Instrs[0].Operands[1].Kind, OperandMem)
	be.Equal(t, block.Instrs[0].Operands[1].Size, 8)
	be.Equal(t, block.Instrs[1].Operands[1].Size, 1)
	be.Equal(t, block.Instrs[3].Operands[1].Size, 1)
}

func TestParseAsmBlockMemoryOperands(t *testing.T) {
	p := &SymbolInfo{Name: "p", Type: NewPointerType(TypeI64), Kind: SymbolVariable}
	block, err := ParseAsmBlock("mov rax, [rbx + rcx*8 - 16]\nmov dword [p + 4], 7\nmov byte ptr [rdi], 'z'", 1, asmLookup(p))
	be.Err(t, err, nil)

	op := block.Instrs[0].Operands[1]
	be.Equal(t, op.Base.Name, "rbx")
	be.Equal(t, op.Index.Name, "rcx")
	be.Equal(t, op.Scale, 8)
	be.Equal(t, op.Disp, int64(-16))
	be.Equal(t, op.Size, 8)

	op = block.Instrs[1].Operands[0]
	be.True(t, op.Var == p)
	be.Equal(t, op.Disp, int64(4))
	be.Equal(t, op.Size, 4)

	op = block.Instrs[2].Operands[0]
	be.Equal(t, op.Size, 1)
	be.Equal(t, block.Instrs[2].Operands[1].Imm, int64('z'))
}

func TestParseAsmBlockScratchExpansion(t *testing.T) {
	x := &SymbolInfo{Name: "x", Type: TypeI32, Kind: SymbolVariable}
	y := &SymbolInfo{Name: "y", Type: TypeI32, Kind: SymbolVariable}
	block, err := ParseAsmBlock("again: mov x, y", 1, asmLookup(x, y))
	be.Err(t, err, nil)
	be.Equal(t, len(block.Instrs), 2)

	load := block.Instrs[0]
	be.Equal(t, load.Label, "again")
	be.Equal(t, load.Mnemonic, "mov")
	be.Equal(t, load.Operands[0].Reg.Name, "r11d")
	be.True(t, load.Operands[1].Var == y)

	store := block.Instrs[1]
	be.Equal(t, store.Label, "")
	be.True(t, store.Operands[0].Var == x)
	be.Equal(t, store.Operands[1].Reg.Name, "r11d")
	be.Equal(t, block.Labels["again"], 0)
}

func TestParseAsmBlockCalls(t *testing.T) {
	printf := &SymbolInfo{Name: "printf", Kind: SymbolExtern, Type: TypeI32, Variadic: true}
	block, err := ParseAsmBlock("call printf\ncall rax", 1, asmLookup(printf))
	be.Err(t, err, nil)
	be.Equal(t, len(block.Calls), 1)
	be.True(t, block.Calls[0] == printf)
	be.Equal(t, block.Instrs[0].Operands[0].Kind, OperandSymbol)
	be.Equal(t, block.Instrs[1].Operands[0].Kind, OperandReg)
}

func TestParseAsmBlockErrors(t *testing.T) {
	x := &SymbolInfo{Name: "x", Type: TypeI32, Kind: SymbolVariable}
	f := &SymbolInfo{Name: "f", Kind: SymbolFunction, Type: TypeVoid}
	tests := []struct {
		text    string
		message string
	}{
		{"frobnicate rax", "unknown instruction 'frobnicate' in 'frobnicate rax'"},
		{"mov rax, nope", "undefined identifier 'nope' in 'mov rax, nope'"},
		{"mov rax, ebx", "operand size mismatch: rax is 64-bit, ebx is 32-bit in 'mov rax, ebx'"},
		{"mov rax, dword x", "operand size mismatch: rax is 64-bit, memory is 32-bit in 'mov rax, dword x'"},
		{"mov rax, x", "operand size mismatch: rax is 64-bit, 'x' is 32-bit in 'mov rax, x'"},
		{"add x, al", "operand size mismatch: 'x' is 32-bit, al is 8-bit in 'add x, al'"},
		{"jmp .nowhere", "undefined label '.nowhere' in 'jmp .nowhere'"},
		{"inc", "'inc' takes 1 operand(s), got 0 in 'inc'"},
		{"mov [rax], 1", "operation size not specified in 'mov [rax], 1'"},
		{"mov al, 300", "immediate 300 does not fit in 1 bytes in 'mov al, 300'"},
		{"mov rax, xmm0", "register 'xmm0' is not supported in asm blocks in 'mov rax, xmm0'"},
		{"mov rax, f", "function 'f' can only be a call target in 'mov rax, f'"},
		{"out 0x3F8, al", "'out' port must be an 8-bit immediate or 'dx' in 'out 0x3F8, al'"},
		{"shl rax, bl", "shift count must be an immediate or 'cl' in 'shl rax, bl'"},
		{"a: nop\na: nop", "duplicate label 'a' in 'a: nop'"},
		{"mov [rax], [rbx]", "'mov' cannot take two memory operands in 'mov [rax], [rbx]'"},
	}
	for _, tt := range tests {
		_, err := ParseAsmBlock(tt.text, 1, asmLookup(x, f))
		be.Equal(t, asmError(t, err), tt.message)
	}
}
