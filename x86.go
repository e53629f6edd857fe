package main

import "fmt"

// AsmContext connects an executing asm block to the activation it is
// embedded in.
type AsmContext interface {
	// VarAddress returns the storage address of a bound variable.
	VarAddress(symbol *SymbolInfo) uint64
	// CallSymbol runs a Sweet function or extern with the arguments already
	// in registers and on the stack, leaving the result in rax or xmm0.
	CallSymbol(symbol *SymbolInfo) error
}

// ExecAsm runs an asm block to completion. Execution falls off the end of the
// block; there is no write-back of registers to variables.
func (m *Machine) ExecAsm(block *AsmBlock, ctx AsmContext) error {
	pc := 0
	for pc < len(block.Instrs) {
		instr := &block.Instrs[pc]
		pc++
		if instr.Mnemonic == "" {
			continue
		}
		target, err := m.step(instr, ctx)
		if err != nil {
			return err
		}
		if target != "" {
			pc = block.Labels[target]
		}
	}
	return nil
}

func (m *Machine) flagsWord() uint64 {
	w := uint64(1 << 1)
	if m.CF {
		w |= 1 << 0
	}
	if m.ZF {
		w |= 1 << 6
	}
	if m.SF {
		w |= 1 << 7
	}
	if !m.InterruptsDisabled {
		w |= 1 << 9
	}
	if m.OF {
		w |= 1 << 11
	}
	return w
}

func (m *Machine) address(op *AsmOperand, ctx AsmContext) uint64 {
	addr := uint64(op.Disp)
	if op.Var != nil {
		addr += ctx.VarAddress(op.Var)
	}
	if op.Base != nil {
		addr += m.Regs[op.Base.Index]
	}
	if op.Index != nil {
		addr += m.Regs[op.Index.Index] * uint64(op.Scale)
	}
	return addr
}

func (m *Machine) read(op *AsmOperand, size int, ctx AsmContext) (uint64, error) {
	switch op.Kind {
	case OperandReg:
		return m.ReadReg(op.Reg), nil
	case OperandImm:
		return truncate(uint64(op.Imm), size), nil
	case OperandMem:
		return m.Load(m.address(op, ctx), size)
	}
	return 0, fmt.Errorf("cannot read operand of kind %d", op.Kind)
}

func (m *Machine) write(op *AsmOperand, size int, v uint64, ctx AsmContext) error {
	switch op.Kind {
	case OperandReg:
		m.WriteReg(op.Reg, v)
		return nil
	case OperandMem:
		return m.Store(m.address(op, ctx), size, v)
	}
	return fmt.Errorf("cannot write operand of kind %d", op.Kind)
}

func operandSize(op *AsmOperand) int {
	if op.Kind == OperandReg {
		return op.Reg.Size
	}
	if op.Size != 0 {
		return op.Size
	}
	return 8
}

func signBit(v uint64, size int) bool {
	return v>>(uint(size)*8-1)&1 == 1
}

func (m *Machine) setLogicFlags(r uint64, size int) {
	m.ZF = r == 0
	m.SF = signBit(r, size)
	m.CF, m.OF = false, false
}

func (m *Machine) condition(mnemonic string) bool {
	switch mnemonic {
	case "jmp":
		return true
	case "je", "jz":
		return m.ZF
	case "jne", "jnz":
		return !m.ZF
	case "jl":
		return m.SF != m.OF
	case "jle":
		return m.ZF || m.SF != m.OF
	case "jg":
		return !m.ZF && m.SF == m.OF
	case "jge":
		return m.SF == m.OF
	case "jb":
		return m.CF
	case "jbe":
		return m.CF || m.ZF
	case "ja":
		return !m.CF && !m.ZF
	case "jae":
		return !m.CF
	case "js":
		return m.SF
	case "jns":
		return !m.SF
	}
	return false
}

// step executes one instruction and returns the label to jump to, if any.
func (m *Machine) step(instr *AsmInstr, ctx AsmContext) (string, error) {
	ops := instr.Operands
	switch instr.Mnemonic {
	case "nop":
		return "", nil

	case "mov":
		size := operandSize(&ops[0])
		v, err := m.read(&ops[1], size, ctx)
		if err != nil {
			return "", err
		}
		return "", m.write(&ops[0], size, v, ctx)

	case "movzx", "movsx", "movsxd":
		src := operandSize(&ops[1])
		v, err := m.read(&ops[1], src, ctx)
		if err != nil {
			return "", err
		}
		if instr.Mnemonic != "movzx" {
			v = signExtend(v, src)
		}
		return "", m.write(&ops[0], ops[0].Reg.Size, truncate(v, ops[0].Reg.Size), ctx)

	case "lea":
		addr := m.address(&ops[1], ctx)
		return "", m.write(&ops[0], ops[0].Reg.Size, truncate(addr, ops[0].Reg.Size), ctx)

	case "add", "sub", "cmp", "and", "or", "xor", "test":
		size := operandSize(&ops[0])
		a, err := m.read(&ops[0], size, ctx)
		if err != nil {
			return "", err
		}
		b, err := m.read(&ops[1], size, ctx)
		if err != nil {
			return "", err
		}
		var r uint64
		switch instr.Mnemonic {
		case "add":
			r = truncate(a+b, size)
			m.ZF, m.SF = r == 0, signBit(r, size)
			m.CF = r < a
			m.OF = signBit(a, size) == signBit(b, size) && signBit(r, size) != signBit(a, size)
		case "sub", "cmp":
			r = truncate(a-b, size)
			m.ZF, m.SF = r == 0, signBit(r, size)
			m.CF = a < b
			m.OF = signBit(a, size) != signBit(b, size) && signBit(r, size) != signBit(a, size)
		case "and", "test":
			r = a & b
			m.setLogicFlags(r, size)
		case "or":
			r = a | b
			m.setLogicFlags(r, size)
		case "xor":
			r = a ^ b
			m.setLogicFlags(r, size)
		}
		if instr.Mnemonic == "cmp" || instr.Mnemonic == "test" {
			return "", nil
		}
		return "", m.write(&ops[0], size, r, ctx)

	case "not", "neg", "inc", "dec":
		size := operandSize(&ops[0])
		a, err := m.read(&ops[0], size, ctx)
		if err != nil {
			return "", err
		}
		var r uint64
		switch instr.Mnemonic {
		case "not":
			r = truncate(^a, size)
		case "neg":
			r = truncate(-a, size)
			m.ZF, m.SF, m.CF = r == 0, signBit(r, size), a != 0
			m.OF = r == a && a != 0
		case "inc":
			r = truncate(a+1, size)
			m.ZF, m.SF = r == 0, signBit(r, size)
			m.OF = !signBit(a, size) && signBit(r, size)
		case "dec":
			r = truncate(a-1, size)
			m.ZF, m.SF = r == 0, signBit(r, size)
			m.OF = signBit(a, size) && !signBit(r, size)
		}
		return "", m.write(&ops[0], size, r, ctx)

	case "imul":
		size := ops[0].Reg.Size
		// imul dst, src computes dst*src; imul dst, src, imm computes src*imm.
		src := &ops[0]
		if len(ops) == 3 {
			src = &ops[1]
		}
		a, err := m.read(src, size, ctx)
		if err != nil {
			return "", err
		}
		var b uint64
		if len(ops) == 3 {
			b = uint64(ops[2].Imm)
		} else if b, err = m.read(&ops[1], size, ctx); err != nil {
			return "", err
		}
		full := int64(signExtend(a, size)) * int64(signExtend(b, size))
		r := truncate(uint64(full), size)
		m.CF = int64(signExtend(r, size)) != full
		m.OF = m.CF
		m.ZF, m.SF = r == 0, signBit(r, size)
		return "", m.write(&ops[0], size, r, ctx)

	case "shl", "shr", "sar":
		size := operandSize(&ops[0])
		a, err := m.read(&ops[0], size, ctx)
		if err != nil {
			return "", err
		}
		count, err := m.read(&ops[1], 1, ctx)
		if err != nil {
			return "", err
		}
		if size == 8 {
			count &= 63
		} else {
			count &= 31
		}
		if count == 0 {
			return "", nil
		}
		var r uint64
		switch instr.Mnemonic {
		case "shl":
			r = truncate(a<<count, size)
			m.CF = count <= uint64(size*8) && (a>>(uint64(size*8)-count))&1 == 1
		case "shr":
			r = a >> count
			m.CF = (a>>(count-1))&1 == 1
		case "sar":
			r = truncate(uint64(int64(signExtend(a, size))>>count), size)
			m.CF = (uint64(int64(signExtend(a, size))>>(count-1)))&1 == 1
		}
		m.ZF, m.SF = r == 0, signBit(r, size)
		return "", m.write(&ops[0], size, r, ctx)

	case "jmp", "je", "jz", "jne", "jnz", "jl", "jle", "jg", "jge", "jb", "jbe", "ja", "jae", "js", "jns":
		if m.condition(instr.Mnemonic) {
			return ops[0].Name, nil
		}
		return "", nil

	case "call":
		switch ops[0].Kind {
		case OperandSymbol:
			if err := m.Push(0); err != nil {
				return "", err
			}
			if err := ctx.CallSymbol(ops[0].Symbol); err != nil {
				return "", err
			}
			_, err := m.Pop()
			return "", err
		case OperandLabel:
			return ops[0].Name, m.Push(0)
		default:
			// No code is mapped at any data address.
			return "", m.fault(&Fault{Addr: m.ReadReg(ops[0].Reg), Access: "exec", Reason: "address not executable"})
		}

	case "push":
		var v uint64
		if ops[0].Kind == OperandImm {
			v = uint64(ops[0].Imm)
		} else {
			var err error
			if v, err = m.read(&ops[0], 8, ctx); err != nil {
				return "", err
			}
		}
		return "", m.Push(v)

	case "pop":
		v, err := m.Pop()
		if err != nil {
			return "", err
		}
		return "", m.write(&ops[0], 8, v, ctx)

	case "out":
		return "", m.WriteDebugPort(m.port(&ops[0]), m.ReadReg(ops[1].Reg), ops[1].Reg.Size)

	case "in":
		v, err := m.ReadDebugPort(m.port(&ops[1]))
		if err != nil {
			return "", err
		}
		m.WriteReg(ops[0].Reg, v)
		return "", nil

	case "syscall":
		return "", m.Syscall()

	case "hlt":
		if m.Config.Mode != ModeFreestanding {
			return "", m.fault(&Fault{Reason: ReasonPrivileged})
		}
		return "", errHalt

	case "cli", "sti":
		if m.Config.Mode != ModeFreestanding {
			return "", m.fault(&Fault{Reason: ReasonPrivileged})
		}
		m.InterruptsDisabled = instr.Mnemonic == "cli"
		return "", nil

	case "lodsb":
		v, err := m.Load(m.Regs[RSI], 1)
		if err != nil {
			return "", err
		}
		m.WriteReg(registers["al"], v)
		m.Regs[RSI]++
		return "", nil

	case "stosb":
		if err := m.Store(m.Regs[RDI], 1, m.Regs[RAX]&0xFF); err != nil {
			return "", err
		}
		m.Regs[RDI]++
		return "", nil

	case "cqo":
		if int64(m.Regs[RAX]) < 0 {
			m.Regs[RDX] = ^uint64(0)
		} else {
			m.Regs[RDX] = 0
		}
		return "", nil
	}
	return "", m.fault(&Fault{Reason: ReasonInvalidOpcode})
}

func (m *Machine) port(op *AsmOperand) uint16 {
	if op.Kind == OperandImm {
		return uint16(op.Imm)
	}
	return uint16(m.Regs[RDX])
}
