package main

import "fmt"

// SymbolKind says what a name is bound to.
type SymbolKind string

const (
	SymbolVariable SymbolKind = "variable"
	SymbolParam    SymbolKind = "parameter"
	SymbolGlobal   SymbolKind = "global"
	SymbolFunction SymbolKind = "function"
	SymbolExtern   SymbolKind = "extern"
)

// SymbolInfo represents a symbol in the symbol table
type SymbolInfo struct {
	Name     string
	Type     *TypeNode // variable type, or return type for functions and externs
	Kind     SymbolKind
	Assigned bool

	// SymbolFunction, SymbolExtern:
	Params   []*TypeNode
	Variadic bool
	Public   bool

	Decl *ASTNode
}

// IsStorage reports whether the symbol names a variable with a storage address.
func (s *SymbolInfo) IsStorage() bool {
	return s.Kind == SymbolVariable || s.Kind == SymbolParam || s.Kind == SymbolGlobal
}

// IsCallable reports whether the symbol can be the target of a call.
func (s *SymbolInfo) IsCallable() bool {
	return s.Kind == SymbolFunction || s.Kind == SymbolExtern
}

type scope struct {
	parent  *scope
	symbols map[string]*SymbolInfo
}

// SymbolTable tracks variable declarations and assignments
type SymbolTable struct {
	variables []*SymbolInfo // every variable ever declared, in declaration order
	globals   map[string]*SymbolInfo
	current   *scope

	Functions []*SymbolInfo
	Externs   []*SymbolInfo
	Globals   []*SymbolInfo
}

// NewSymbolTable creates a new symbol table
func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{globals: make(map[string]*SymbolInfo)}
	st.PushScope()
	return st
}

// PushScope opens a nested lexical scope.
func (st *SymbolTable) PushScope() {
	st.current = &scope{parent: st.current, symbols: make(map[string]*SymbolInfo)}
}

// PopScope closes the innermost lexical scope.
func (st *SymbolTable) PopScope() {
	if st.current.parent == nil {
		panic("PopScope: no scope to pop")
	}
	st.current = st.current.parent
}

// DeclareVariable adds a local variable to the innermost scope.
func (st *SymbolTable) DeclareVariable(name string, varType *TypeNode) error {
	_, err := st.declare(name, varType, SymbolVariable)
	return err
}

func (st *SymbolTable) declare(name string, varType *TypeNode, kind SymbolKind) (*SymbolInfo, error) {
	if _, exists := st.current.symbols[name]; exists {
		return nil, fmt.Errorf("variable '%s' already declared", name)
	}
	if g := st.globals[name]; g != nil && g.IsCallable() {
		return nil, fmt.Errorf("variable '%s' shadows %s '%s'", name, g.Kind, name)
	}
	symbol := &SymbolInfo{Name: name, Type: varType, Kind: kind}
	st.current.symbols[name] = symbol
	st.variables = append(st.variables, symbol)
	return symbol, nil
}

// LookupVariable finds a name in the innermost scope that declares it, falling
// back to top-level functions, externs and globals.
func (st *SymbolTable) LookupVariable(name string) *SymbolInfo {
	for s := st.current; s != nil; s = s.parent {
		if symbol, ok := s.symbols[name]; ok {
			return symbol
		}
	}
	return st.globals[name]
}

// AssignVariable marks a variable as assigned
func (st *SymbolTable) AssignVariable(name string) {
	symbol := st.LookupVariable(name)
	if symbol == nil {
		panic("AssignVariable: variable '" + name + "' not declared")
	}
	symbol.Assigned = true
}

// DeclareGlobal adds a top-level variable.
func (st *SymbolTable) DeclareGlobal(node *ASTNode) (*SymbolInfo, error) {
	if prev := st.globals[node.String]; prev != nil {
		return nil, fmt.Errorf("'%s' already declared as %s", node.String, prev.Kind)
	}
	symbol := &SymbolInfo{
		Name:     node.String,
		Type:     node.DeclType,
		Kind:     SymbolGlobal,
		Assigned: len(node.Children) > 0,
		Public:   node.Public,
		Decl:     node,
	}
	st.globals[node.String] = symbol
	st.Globals = append(st.Globals, symbol)
	st.variables = append(st.variables, symbol)
	return symbol, nil
}

// DeclareFunction adds a Sweet function.
func (st *SymbolTable) DeclareFunction(node *ASTNode) (*SymbolInfo, error) {
	if prev := st.globals[node.String]; prev != nil {
		if prev.Kind == SymbolExtern {
			return nil, &CompileError{Kind: ErrABIMismatch, Line: node.Line, Column: node.Column,
				Message: fmt.Sprintf("function '%s' collides with extern declaration", node.String)}
		}
		return nil, fmt.Errorf("'%s' already declared as %s", node.String, prev.Kind)
	}
	symbol := &SymbolInfo{
		Name:     node.String,
		Type:     node.DeclType,
		Kind:     SymbolFunction,
		Assigned: true,
		Public:   node.Public,
		Decl:     node,
	}
	for _, p := range node.Params {
		symbol.Params = append(symbol.Params, p.Type)
	}
	st.globals[node.String] = symbol
	st.Functions = append(st.Functions, symbol)
	return symbol, nil
}

// DeclareExtern adds a foreign declaration. Repeating an identical extern is
// allowed; any difference in the signature is an ABI mismatch.
func (st *SymbolTable) DeclareExtern(node *ASTNode) (*SymbolInfo, error) {
	var params []*TypeNode
	for _, p := range node.Params {
		params = append(params, p.Type)
	}
	if prev := st.globals[node.String]; prev != nil {
		mismatch := func(format string, args ...any) error {
			return &CompileError{Kind: ErrABIMismatch, Line: node.Line, Column: node.Column,
				Message: fmt.Sprintf(format, args...)}
		}
		if prev.Kind != SymbolExtern {
			return nil, mismatch("extern '%s' collides with %s '%s'", node.String, prev.Kind, node.String)
		}
		if len(prev.Params) != len(params) || prev.Variadic != node.Variadic {
			return nil, mismatch("extern '%s' redeclared with %s, previously %s",
				node.String, signatureString(params, node.Variadic), signatureString(prev.Params, prev.Variadic))
		}
		for i := range params {
			if !TypesEqual(prev.Params[i], params[i]) {
				return nil, mismatch("extern '%s' redeclared with %s, previously %s",
					node.String, signatureString(params, node.Variadic), signatureString(prev.Params, prev.Variadic))
			}
		}
		if !TypesEqual(prev.Type, node.DeclType) {
			return nil, mismatch("extern '%s' redeclared returning '%s', previously '%s'",
				node.String, TypeToString(node.DeclType), TypeToString(prev.Type))
		}
		return prev, nil
	}
	symbol := &SymbolInfo{
		Name:     node.String,
		Type:     node.DeclType,
		Kind:     SymbolExtern,
		Assigned: true,
		Params:   params,
		Variadic: node.Variadic,
		Decl:     node,
	}
	st.globals[node.String] = symbol
	st.Externs = append(st.Externs, symbol)
	return symbol, nil
}

func signatureString(params []*TypeNode, variadic bool) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += TypeToString(p)
	}
	if variadic {
		if len(params) > 0 {
			s += ", "
		}
		s += "..."
	}
	return s + ")"
}

// BuildSymbolTable declares every top-level name, then walks function bodies
// binding each identifier (including those inside asm blocks) to its symbol.
func BuildSymbolTable(ast *ASTNode) (*SymbolTable, error) {
	st := NewSymbolTable()
	b := &symbolBuilder{st: st}

	for _, decl := range ast.Children {
		var err error
		switch decl.Kind {
		case NodeFunc:
			decl.Symbol, err = st.DeclareFunction(decl)
		case NodeExtern:
			decl.Symbol, err = st.DeclareExtern(decl)
		case NodeVar:
			decl.Symbol, err = st.DeclareGlobal(decl)
		default:
			return nil, b.errorf(ErrSymbol, decl, "statement not allowed at top level")
		}
		if err != nil {
			return nil, b.wrap(decl, err)
		}
	}

	for _, decl := range ast.Children {
		switch decl.Kind {
		case NodeVar:
			if len(decl.Children) > 0 {
				if err := b.resolve(decl.Children[0]); err != nil {
					return nil, err
				}
			}
		case NodeFunc:
			if err := b.function(decl); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}

type symbolBuilder struct {
	st *SymbolTable
	fn *ASTNode
}

func (b *symbolBuilder) errorf(kind ErrorKind, node *ASTNode, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Line: node.Line, Column: node.Column, Message: fmt.Sprintf(format, args...)}
}

// wrap positions a plain error from the table at node.
func (b *symbolBuilder) wrap(node *ASTNode, err error) error {
	if ce, ok := err.(*CompileError); ok {
		return ce
	}
	return b.errorf(ErrSymbol, node, "%s", err.Error())
}

func (b *symbolBuilder) function(fn *ASTNode) error {
	b.fn = fn
	b.st.PushScope()
	defer b.st.PopScope()
	for i := range fn.Params {
		p := &fn.Params[i]
		if TypesEqual(p.Type, TypeVoid) {
			return b.errorf(ErrType, fn, "parameter '%s' has type 'void'", p.Name)
		}
		symbol, err := b.st.declare(p.Name, p.Type, SymbolParam)
		if err != nil {
			return b.wrap(fn, err)
		}
		symbol.Assigned = true
		symbol.Decl = fn
		p.Symbol = symbol
	}
	// The body shares the parameter scope.
	for _, stmt := range fn.Children[0].Children {
		if err := b.statement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *symbolBuilder) statement(node *ASTNode) error {
	switch node.Kind {
	case NodeVar:
		// The initializer cannot see the variable being declared.
		if len(node.Children) > 0 {
			if err := b.resolve(node.Children[0]); err != nil {
				return err
			}
		}
		symbol, err := b.st.declare(node.String, node.DeclType, SymbolVariable)
		if err != nil {
			return b.wrap(node, err)
		}
		symbol.Decl = node
		symbol.Assigned = len(node.Children) > 0
		node.Symbol = symbol
		return nil

	case NodeBlock:
		b.st.PushScope()
		defer b.st.PopScope()
		for _, stmt := range node.Children {
			if err := b.statement(stmt); err != nil {
				return err
			}
		}
		return nil

	case NodeIf, NodeWhile:
		if err := b.resolve(node.Children[0]); err != nil {
			return err
		}
		for _, child := range node.Children[1:] {
			if err := b.statement(child); err != nil {
				return err
			}
		}
		return nil

	case NodeAsm:
		block, err := ParseAsmBlock(node.AsmText, node.Line, b.st.LookupVariable)
		if err != nil {
			return err
		}
		node.Asm = block
		return nil

	case NodeFunc, NodeExtern:
		return b.errorf(ErrSymbol, node, "'%s' must be declared at top level", node.String)

	case NodeReturn:
		if len(node.Children) > 0 {
			return b.resolve(node.Children[0])
		}
		return nil

	default:
		return b.resolve(node)
	}
}

// resolve binds identifiers in an expression.
func (b *symbolBuilder) resolve(node *ASTNode) error {
	if node.Kind == NodeIdent {
		symbol := b.st.LookupVariable(node.String)
		if symbol == nil {
			return b.errorf(ErrSymbol, node, "undefined identifier '%s'", node.String)
		}
		node.Symbol = symbol
		return nil
	}
	for _, child := range node.Children {
		if err := b.resolve(child); err != nil {
			return err
		}
	}
	return nil
}
