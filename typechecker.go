package main

import (
	"fmt"
	"math"

	"modernc.org/mathutil"
)

// TypeChecker holds the state of a type-checking pass.
type TypeChecker struct {
	st *SymbolTable
	fn *ASTNode // function being checked, nil at top level
}

func NewTypeChecker(st *SymbolTable) *TypeChecker {
	return &TypeChecker{st: st}
}

func typeErrorf(kind ErrorKind, node *ASTNode, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Line: node.Line, Column: node.Column, Message: fmt.Sprintf(format, args...)}
}

// CheckProgram type-checks a program whose symbols have been bound by
// BuildSymbolTable. It stops at the first error.
func CheckProgram(ast *ASTNode, st *SymbolTable) error {
	tc := NewTypeChecker(st)
	for _, decl := range ast.Children {
		switch decl.Kind {
		case NodeVar:
			if err := tc.checkGlobal(decl); err != nil {
				return err
			}
		case NodeExtern:
			for _, p := range decl.Params {
				if TypesEqual(p.Type, TypeVoid) {
					return typeErrorf(ErrABIMismatch, decl, "extern '%s' has a 'void' parameter", decl.String)
				}
			}
		}
	}
	for _, decl := range ast.Children {
		if decl.Kind == NodeFunc {
			if err := tc.checkFunction(decl); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tc *TypeChecker) checkGlobal(node *ASTNode) error {
	if TypesEqual(node.DeclType, TypeVoid) {
		return typeErrorf(ErrType, node, "variable '%s' has type 'void'", node.String)
	}
	if len(node.Children) == 0 {
		return nil
	}
	init := node.Children[0]
	if !isConstantExpression(init) {
		return typeErrorf(ErrType, init, "initializer of global '%s' is not a constant", node.String)
	}
	if err := CheckExpression(init, tc); err != nil {
		return err
	}
	return tc.assignable(init, node.DeclType)
}

// isConstantExpression reports whether node can be laid out in the data section.
func isConstantExpression(node *ASTNode) bool {
	switch node.Kind {
	case NodeInteger, NodeFloat, NodeChar, NodeBoolean, NodeNull, NodeString:
		return true
	case NodeCast:
		return isConstantExpression(node.Children[0])
	}
	return false
}

func (tc *TypeChecker) checkFunction(fn *ASTNode) error {
	tc.fn = fn
	defer func() { tc.fn = nil }()
	if err := tc.checkBlock(fn.Children[0]); err != nil {
		return err
	}
	if !TypesEqual(fn.DeclType, TypeVoid) && !alwaysReturns(fn.Children[0]) {
		return typeErrorf(ErrType, fn, "function '%s' is missing a return statement", fn.String)
	}
	return nil
}

// alwaysReturns reports whether every path through stmt ends in a return.
func alwaysReturns(stmt *ASTNode) bool {
	switch stmt.Kind {
	case NodeReturn:
		return true
	case NodeBlock:
		for _, child := range stmt.Children {
			if alwaysReturns(child) {
				return true
			}
		}
	case NodeIf:
		return len(stmt.Children) == 3 && alwaysReturns(stmt.Children[1]) && alwaysReturns(stmt.Children[2])
	case NodeAsm:
		return endsProgram(stmt.Asm)
	}
	return false
}

// endsProgram reports whether an asm block halts, or makes an exit or
// exit_group syscall with the number loaded by an immediate mov into rax.
// Any other syscall returns to the block with its result in rax.
func endsProgram(block *AsmBlock) bool {
	exiting := false
	for _, instr := range block.Instrs {
		if instr.Label != "" {
			exiting = false
		}
		switch instr.Mnemonic {
		case "":
		case "hlt":
			return true
		case "syscall":
			if exiting {
				return true
			}
		case "mov":
			dst, src := instr.Operands[0], instr.Operands[1]
			if writesRAX(dst) {
				exiting = dst.Reg.Size >= 4 && src.Kind == OperandImm &&
					(src.Imm == SYS_EXIT || src.Imm == SYS_EXIT_GROUP)
			}
		case "add", "sub", "and", "or", "xor", "lea", "movzx", "movsx", "movsxd",
			"inc", "dec", "shl", "shr", "sar", "pop", "cmp", "test", "push", "nop":
			if len(instr.Operands) > 0 && writesRAX(instr.Operands[0]) {
				exiting = false
			}
		default:
			// Jumps, calls and instructions that write rax implicitly.
			exiting = false
		}
	}
	return false
}

func writesRAX(op AsmOperand) bool {
	return op.Kind == OperandReg && !op.Reg.XMM && op.Reg.Index == RAX
}

func (tc *TypeChecker) checkBlock(block *ASTNode) error {
	for _, stmt := range block.Children {
		if err := CheckStatement(stmt, tc); err != nil {
			return err
		}
	}
	return nil
}

// CheckStatement type-checks one statement.
func CheckStatement(stmt *ASTNode, tc *TypeChecker) error {
	switch stmt.Kind {
	case NodeVar:
		if TypesEqual(stmt.DeclType, TypeVoid) {
			return typeErrorf(ErrType, stmt, "variable '%s' has type 'void'", stmt.String)
		}
		if len(stmt.Children) > 0 {
			if err := CheckExpression(stmt.Children[0], tc); err != nil {
				return err
			}
			return tc.assignable(stmt.Children[0], stmt.DeclType)
		}
		return nil

	case NodeBlock:
		return tc.checkBlock(stmt)

	case NodeIf, NodeWhile:
		cond := stmt.Children[0]
		if err := CheckExpression(cond, tc); err != nil {
			return err
		}
		if !TypesEqual(cond.TypeAST, TypeBool) {
			return typeErrorf(ErrType, cond, "condition must be 'bool', got '%s'", TypeToString(cond.TypeAST))
		}
		for _, child := range stmt.Children[1:] {
			if err := CheckStatement(child, tc); err != nil {
				return err
			}
		}
		return nil

	case NodeReturn:
		want := TypeVoid
		if tc.fn != nil {
			want = tc.fn.DeclType
		}
		if len(stmt.Children) == 0 {
			if !TypesEqual(want, TypeVoid) {
				return typeErrorf(ErrType, stmt, "missing return value of type '%s'", TypeToString(want))
			}
			return nil
		}
		if TypesEqual(want, TypeVoid) {
			return typeErrorf(ErrType, stmt, "function '%s' returns no value", tc.fn.String)
		}
		if err := CheckExpression(stmt.Children[0], tc); err != nil {
			return err
		}
		return tc.assignable(stmt.Children[0], want)

	case NodeAsm:
		return nil

	default:
		return CheckExpression(stmt, tc)
	}
}

// CheckExpression computes node.TypeAST for an expression.
func CheckExpression(node *ASTNode, tc *TypeChecker) error {
	switch node.Kind {
	case NodeInteger:
		node.TypeAST = TypeUntypedInt
	case NodeFloat:
		node.TypeAST = TypeUntypedFloat
	case NodeChar:
		node.TypeAST = TypeU8
	case NodeString:
		node.TypeAST = TypeString
	case NodeBoolean:
		node.TypeAST = TypeBool
	case NodeNull:
		node.TypeAST = TypeNull

	case NodeIdent:
		if node.Symbol == nil {
			if tc.st != nil {
				node.Symbol = tc.st.LookupVariable(node.String)
			}
			if node.Symbol == nil {
				return typeErrorf(ErrSymbol, node, "undefined identifier '%s'", node.String)
			}
		}
		if node.Symbol.IsCallable() {
			return typeErrorf(ErrType, node, "%s '%s' is not a value", node.Symbol.Kind, node.String)
		}
		node.TypeAST = node.Symbol.Type

	case NodeUnary:
		return tc.checkUnary(node)

	case NodeBinary:
		if node.Op == "=" {
			return tc.checkAssignment(node)
		}
		return tc.checkBinary(node)

	case NodeCast:
		return tc.checkCast(node)

	case NodeCall:
		return tc.checkCall(node)

	default:
		return typeErrorf(ErrType, node, "unexpected %s in expression", node.Kind)
	}
	return nil
}

// IsAddressable reports whether node denotes storage whose address can be taken.
func IsAddressable(node *ASTNode) bool {
	switch node.Kind {
	case NodeIdent:
		return node.Symbol != nil && node.Symbol.IsStorage()
	case NodeUnary:
		return node.Op == "*"
	}
	return false
}

func describeExpression(node *ASTNode) string {
	switch node.Kind {
	case NodeInteger, NodeFloat, NodeChar, NodeBoolean, NodeNull:
		return "a literal"
	case NodeString:
		return "a string literal"
	case NodeCall:
		return "a call result"
	case NodeCast:
		return "a cast result"
	case NodeIdent:
		if node.Symbol != nil {
			return string(node.Symbol.Kind) + " '" + node.String + "'"
		}
		return "'" + node.String + "'"
	case NodeUnary:
		if node.Op == "&" {
			return "an address"
		}
	}
	return "a temporary value"
}

func (tc *TypeChecker) checkUnary(node *ASTNode) error {
	operand := node.Children[0]
	if node.Op == "&" && operand.Kind == NodeIdent {
		// &f is rejected as unaddressable rather than as a non-value.
		if operand.Symbol == nil && tc.st != nil {
			operand.Symbol = tc.st.LookupVariable(operand.String)
		}
		if operand.Symbol != nil && operand.Symbol.IsCallable() {
			return typeErrorf(ErrAddressability, node, "cannot take the address of %s", describeExpression(operand))
		}
	}
	if err := CheckExpression(operand, tc); err != nil {
		return err
	}
	t := operand.TypeAST

	switch node.Op {
	case "&":
		if !IsAddressable(operand) {
			return typeErrorf(ErrAddressability, node, "cannot take the address of %s", describeExpression(operand))
		}
		node.TypeAST = NewPointerType(t)
	case "*":
		if !IsPointerType(t) {
			return typeErrorf(ErrPointerType, node, "cannot dereference non-pointer type '%s'", TypeToString(t))
		}
		if TypesEqual(t.Child, TypeVoid) {
			return typeErrorf(ErrPointerType, node, "cannot dereference 'void*'")
		}
		node.TypeAST = t.Child
	case "-":
		if operand.Kind == NodeInteger && t == TypeUntypedInt && !operand.Unsigned {
			if operand.Integer == math.MinInt64 {
				return typeErrorf(ErrType, node, "constant expression overflows 'i64'")
			}
			*node = ASTNode{Kind: NodeInteger, Integer: -operand.Integer, TypeAST: t, Line: node.Line, Column: node.Column}
			return nil
		}
		if !IsIntegerType(t) && !IsFloatType(t) {
			return typeErrorf(ErrType, node, "operator '-' not defined on '%s'", TypeToString(t))
		}
		node.TypeAST = t
	case "!":
		if !TypesEqual(t, TypeBool) {
			return typeErrorf(ErrType, node, "operator '!' not defined on '%s'", TypeToString(t))
		}
		node.TypeAST = TypeBool
	}
	return nil
}

func (tc *TypeChecker) checkAssignment(node *ASTNode) error {
	lhs, rhs := node.Children[0], node.Children[1]
	if err := CheckExpression(lhs, tc); err != nil {
		return err
	}
	if !IsAddressable(lhs) {
		return typeErrorf(ErrAddressability, lhs, "cannot assign to %s", describeExpression(lhs))
	}
	if err := CheckExpression(rhs, tc); err != nil {
		return err
	}
	if err := tc.assignable(rhs, lhs.TypeAST); err != nil {
		return err
	}
	if lhs.Kind == NodeIdent {
		lhs.Symbol.Assigned = true
	}
	node.TypeAST = lhs.TypeAST
	return nil
}

// unify picks the common type of two operands, adapting untyped literals.
func (tc *TypeChecker) unify(node, left, right *ASTNode) (*TypeNode, error) {
	lt, rt := left.TypeAST, right.TypeAST
	switch {
	case IsUntyped(lt) && !IsUntyped(rt):
		if err := tc.assignable(left, rt); err != nil {
			return nil, err
		}
		return rt, nil
	case IsUntyped(rt) && !IsUntyped(lt):
		if err := tc.assignable(right, lt); err != nil {
			return nil, err
		}
		return lt, nil
	case lt == TypeUntypedFloat || rt == TypeUntypedFloat:
		if (IsFloatType(lt) || IsIntegerType(lt)) && (IsFloatType(rt) || IsIntegerType(rt)) {
			return TypeUntypedFloat, nil
		}
	case TypesEqual(lt, rt):
		return lt, nil
	}
	if IsAddressType(lt) || IsAddressType(rt) {
		return nil, typeErrorf(ErrPointerType, node, "mismatched types '%s' and '%s' for operator '%s'",
			TypeToString(lt), TypeToString(rt), node.Op)
	}
	return nil, typeErrorf(ErrType, node, "mismatched types '%s' and '%s' for operator '%s'",
		TypeToString(lt), TypeToString(rt), node.Op)
}

func (tc *TypeChecker) checkBinary(node *ASTNode) error {
	left, right := node.Children[0], node.Children[1]
	if err := CheckExpression(left, tc); err != nil {
		return err
	}
	if err := CheckExpression(right, tc); err != nil {
		return err
	}
	if left.Kind == NodeInteger && right.Kind == NodeInteger && left.TypeAST == TypeUntypedInt &&
		right.TypeAST == TypeUntypedInt && !left.Unsigned && !right.Unsigned {
		return foldConstant(node)
	}
	lt, rt := left.TypeAST, right.TypeAST

	switch node.Op {
	case "&&", "||":
		if !TypesEqual(lt, TypeBool) || !TypesEqual(rt, TypeBool) {
			return typeErrorf(ErrType, node, "operator '%s' needs 'bool' operands", node.Op)
		}
		node.TypeAST = TypeBool
		return nil
	case "==", "!=":
		if _, err := tc.unify(node, left, right); err != nil {
			return err
		}
		node.TypeAST = TypeBool
		return nil
	}

	if IsAddressType(lt) || IsAddressType(rt) {
		return typeErrorf(ErrPointerType, node, "pointer arithmetic is not supported: '%s' %s '%s'",
			TypeToString(lt), node.Op, TypeToString(rt))
	}
	common, err := tc.unify(node, left, right)
	if err != nil {
		return err
	}
	switch node.Op {
	case "<", ">", "<=", ">=":
		if !IsIntegerType(common) && !IsFloatType(common) {
			return typeErrorf(ErrType, node, "operator '%s' not defined on '%s'", node.Op, TypeToString(common))
		}
		node.TypeAST = TypeBool
	case "+", "-", "*", "/":
		if !IsIntegerType(common) && !IsFloatType(common) {
			return typeErrorf(ErrType, node, "operator '%s' not defined on '%s'", node.Op, TypeToString(common))
		}
		node.TypeAST = common
	case "%", "&", "|", "^", "<<", ">>":
		if !IsIntegerType(common) {
			return typeErrorf(ErrType, node, "operator '%s' not defined on '%s'", node.Op, TypeToString(common))
		}
		node.TypeAST = common
	default:
		return typeErrorf(ErrType, node, "unknown operator '%s'", node.Op)
	}
	if IsUntyped(common) {
		return typeErrorf(ErrType, node, "constant expression needs a type; declare a variable or use 'as'")
	}
	return nil
}

// foldConstant replaces a binary operation on two untyped integer constants
// with its value.
func foldConstant(node *ASTNode) error {
	a, b := node.Children[0].Integer, node.Children[1].Integer
	var v int64
	var overflow bool
	switch node.Op {
	case "+":
		v, overflow = mathutil.AddOverflowInt64(a, b)
	case "-":
		v, overflow = mathutil.SubOverflowInt64(a, b)
	case "*":
		v, overflow = mathutil.MulOverflowInt64(a, b)
	case "/", "%":
		if b == 0 {
			return typeErrorf(ErrType, node, "division by zero in constant expression")
		}
		if a == math.MinInt64 && b == -1 {
			overflow = node.Op == "/"
		} else if node.Op == "/" {
			v = a / b
		} else {
			v = a % b
		}
	case "&":
		v = a & b
	case "|":
		v = a | b
	case "^":
		v = a ^ b
	case "<<", ">>":
		if b < 0 || b > 63 {
			return typeErrorf(ErrType, node, "invalid shift count %d", b)
		}
		if node.Op == "<<" {
			v = a << uint(b)
			overflow = v>>uint(b) != a
		} else {
			v = a >> uint(b)
		}
	case "<", ">", "<=", ">=", "==", "!=":
		var result bool
		switch node.Op {
		case "<":
			result = a < b
		case ">":
			result = a > b
		case "<=":
			result = a <= b
		case ">=":
			result = a >= b
		case "==":
			result = a == b
		default:
			result = a != b
		}
		*node = ASTNode{Kind: NodeBoolean, Boolean: result, TypeAST: TypeBool, Line: node.Line, Column: node.Column}
		return nil
	default:
		return typeErrorf(ErrType, node, "operator '%s' not defined on 'untyped int'", node.Op)
	}
	if overflow {
		return typeErrorf(ErrType, node, "constant expression overflows 'i64'")
	}
	*node = ASTNode{Kind: NodeInteger, Integer: v, TypeAST: TypeUntypedInt, Line: node.Line, Column: node.Column}
	return nil
}

func isPointerWidthInteger(t *TypeNode) bool {
	return IsIntegerType(t) && t != TypeUntypedInt && GetTypeSize(t) == 8
}

// castAllowed reports whether an explicit 'as' conversion from src to dst exists.
func castAllowed(src, dst *TypeNode) bool {
	switch {
	case TypesEqual(src, dst):
		return true
	case TypesEqual(dst, TypeVoid) || TypesEqual(src, TypeVoid):
		return false
	case IsAddressType(src) && IsAddressType(dst):
		return true
	case IsAddressType(src) && isPointerWidthInteger(dst):
		return true
	case (isPointerWidthInteger(src) || src == TypeUntypedInt) && IsAddressType(dst):
		return true
	case (IsIntegerType(src) || IsFloatType(src)) && (IsIntegerType(dst) || IsFloatType(dst)):
		return true
	case TypesEqual(src, TypeBool) && IsIntegerType(dst):
		return true
	}
	return false
}

func (tc *TypeChecker) checkCast(node *ASTNode) error {
	expr := node.Children[0]
	if err := CheckExpression(expr, tc); err != nil {
		return err
	}
	if !castAllowed(expr.TypeAST, node.DeclType) {
		kind := ErrType
		if IsAddressType(expr.TypeAST) || IsAddressType(node.DeclType) {
			kind = ErrPointerType
		}
		return typeErrorf(kind, node, "cannot cast '%s' to '%s'", TypeToString(expr.TypeAST), TypeToString(node.DeclType))
	}
	if expr.TypeAST == TypeUntypedInt && IsIntegerType(node.DeclType) {
		// A constant keeps its bits: (-1 as u8) is 255.
		expr.TypeAST = TypeI64
		if expr.Unsigned {
			expr.TypeAST = TypeU64
		}
	} else if IsUntyped(expr.TypeAST) {
		if err := tc.assignable(expr, defaultType(expr, node.DeclType)); err != nil {
			return err
		}
	}
	node.TypeAST = node.DeclType
	return nil
}

// defaultType picks a concrete type for an untyped operand of a cast.
func defaultType(expr *ASTNode, target *TypeNode) *TypeNode {
	switch expr.TypeAST {
	case TypeUntypedFloat:
		return TypeF64
	case TypeNull:
		if IsAddressType(target) {
			return target
		}
		return NewPointerType(TypeVoid)
	}
	if IsAddressType(target) {
		return TypeUsize
	}
	return TypeI64
}

func (tc *TypeChecker) checkCall(node *ASTNode) error {
	callee := node.Children[0]
	if callee.Kind != NodeIdent {
		return typeErrorf(ErrType, callee, "cannot call %s", describeExpression(callee))
	}
	if callee.Symbol == nil && tc.st != nil {
		callee.Symbol = tc.st.LookupVariable(callee.String)
	}
	if callee.Symbol == nil {
		return typeErrorf(ErrSymbol, callee, "undefined identifier '%s'", callee.String)
	}
	fn := callee.Symbol
	if !fn.IsCallable() {
		return typeErrorf(ErrType, callee, "cannot call %s '%s' of type '%s'", fn.Kind, fn.Name, TypeToString(fn.Type))
	}
	args := node.Children[1:]

	switch {
	case fn.Kind == SymbolExtern && fn.Variadic && len(args) < len(fn.Params):
		return typeErrorf(ErrABIMismatch, node, "extern '%s' expects at least %d argument(s), got %d",
			fn.Name, len(fn.Params), len(args))
	case fn.Kind == SymbolExtern && !fn.Variadic && len(args) != len(fn.Params):
		return typeErrorf(ErrABIMismatch, node, "extern '%s' expects %d argument(s), got %d",
			fn.Name, len(fn.Params), len(args))
	case fn.Kind == SymbolFunction && len(args) != len(fn.Params):
		return typeErrorf(ErrType, node, "function '%s' expects %d argument(s), got %d",
			fn.Name, len(fn.Params), len(args))
	}

	for i, arg := range args {
		if err := CheckExpression(arg, tc); err != nil {
			return err
		}
		if i < len(fn.Params) {
			if err := tc.assignable(arg, fn.Params[i]); err != nil {
				return err
			}
			continue
		}
		if err := tc.variadicArgument(arg); err != nil {
			return err
		}
	}
	node.TypeAST = fn.Type
	return nil
}

// variadicArgument gives an argument in the variadic tail its concrete type.
// Untyped integer constants follow C constant typing: i32 if they fit,
// otherwise i64.
func (tc *TypeChecker) variadicArgument(arg *ASTNode) error {
	switch arg.TypeAST {
	case TypeUntypedInt:
		if FitsInteger(arg.Integer, arg.Unsigned, TypeI32) {
			arg.TypeAST = TypeI32
		} else if arg.Unsigned {
			arg.TypeAST = TypeU64
		} else {
			arg.TypeAST = TypeI64
		}
	case TypeUntypedFloat:
		arg.TypeAST = TypeF64
	case TypeNull:
		arg.TypeAST = NewPointerType(TypeVoid)
	}
	if TypesEqual(arg.TypeAST, TypeVoid) {
		return typeErrorf(ErrABIMismatch, arg, "cannot pass 'void' to a variadic parameter")
	}
	return nil
}

// FitsInteger reports whether the constant v fits in integer type t. unsigned
// marks constants above the int64 range, whose bits are stored in v.
func FitsInteger(v int64, unsigned bool, t *TypeNode) bool {
	bits := IntegerBits(t)
	if unsigned {
		return !IsSignedType(t) && bits == 64
	}
	if IsSignedType(t) {
		if v >= 0 {
			return mathutil.BitLenUint64(uint64(v)) <= bits-1
		}
		return mathutil.BitLenUint64(uint64(^v)) <= bits-1
	}
	return v >= 0 && mathutil.BitLenUint64(uint64(v)) <= bits
}

// assignable checks that the value of src may be stored in a location of type
// dst, fixing the type of untyped constants.
func (tc *TypeChecker) assignable(src *ASTNode, dst *TypeNode) error {
	st := src.TypeAST
	if TypesEqual(st, dst) {
		return nil
	}
	switch {
	case st == TypeUntypedInt && IsIntegerType(dst):
		if !FitsInteger(src.Integer, src.Unsigned, dst) {
			return typeErrorf(ErrType, src, "constant %s overflows '%s'", ToSExpr(src), TypeToString(dst))
		}
		src.TypeAST = dst
		return nil
	case st == TypeUntypedInt && IsFloatType(dst):
		src.TypeAST = dst
		return nil
	case st == TypeUntypedFloat && IsFloatType(dst):
		src.TypeAST = dst
		return nil
	case st == TypeNull && IsAddressType(dst):
		src.TypeAST = dst
		return nil
	case IsUntyped(st) && IsUntyped(dst):
		return nil
	}

	if IsPointerType(st) && IsPointerType(dst) {
		sd, dd := PointerDepth(st), PointerDepth(dst)
		if sd != dd {
			return typeErrorf(ErrPointerType, src, "cannot use '%s' as '%s': pointer depth %d does not match %d",
				TypeToString(st), TypeToString(dst), sd, dd)
		}
		return typeErrorf(ErrPointerType, src, "cannot use '%s' as '%s': base type '%s' does not match '%s'",
			TypeToString(st), TypeToString(dst), TypeToString(BaseType(st)), TypeToString(BaseType(dst)))
	}
	if IsAddressType(st) || IsAddressType(dst) {
		return typeErrorf(ErrPointerType, src, "cannot use '%s' as '%s'", TypeToString(st), TypeToString(dst))
	}
	return typeErrorf(ErrType, src, "cannot use '%s' as '%s'", TypeToString(st), TypeToString(dst))
}
