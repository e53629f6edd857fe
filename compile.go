package main

// Program is a checked compilation unit ready for code generation or
// execution.
type Program struct {
	AST     *ASTNode
	Symbols *SymbolTable
	// Frames holds the stack layout of every function, keyed by declaration.
	Frames map[*ASTNode]*Frame
	// Strings lists string literals in first-use order.
	Strings []string
}

// Compile runs the front end: lex, parse, bind symbols and type-check. The
// returned error is always a *CompileError.
func Compile(source []byte) (*Program, error) {
	l := NewLexer(source)
	l.NextToken()
	ast := ParseProgram(l)
	if l.Errors.HasErrors() {
		return nil, l.Errors.First()
	}

	st, err := BuildSymbolTable(ast)
	if err != nil {
		return nil, err
	}
	if err := CheckProgram(ast, st); err != nil {
		return nil, err
	}

	prog := &Program{AST: ast, Symbols: st, Frames: make(map[*ASTNode]*Frame)}
	seen := make(map[string]bool)
	walkAST(ast, func(node *ASTNode) {
		switch node.Kind {
		case NodeFunc:
			prog.Frames[node] = LayoutFrame(node)
		case NodeString:
			if !seen[node.String] {
				seen[node.String] = true
				prog.Strings = append(prog.Strings, node.String)
			}
		}
	})
	return prog, nil
}

// Function returns the declaration of the Sweet function called name.
func (p *Program) Function(name string) *ASTNode {
	for _, fn := range p.Symbols.Functions {
		if fn.Name == name {
			return fn.Decl
		}
	}
	return nil
}

// walkAST calls visit for node and every descendant, parents first.
func walkAST(node *ASTNode, visit func(*ASTNode)) {
	if node == nil {
		return
	}
	visit(node)
	for _, child := range node.Children {
		walkAST(child, visit)
	}
}
