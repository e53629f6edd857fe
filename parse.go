package main

// parseBailout unwinds the parser after the first syntax error.
type parseBailout struct{}

// precedence returns the precedence level for a given binary token type
func precedence(tokenType TokenType) int {
	switch tokenType {
	case ASSIGN:
		return 1 // assignment has very low precedence
	case OR:
		return 2
	case AND:
		return 3
	case BIT_OR:
		return 4
	case XOR:
		return 5
	case BIT_AND:
		return 6
	case EQ, NOT_EQ:
		return 7
	case LT, GT, LE, GE:
		return 8
	case SHL, SHR:
		return 9
	case PLUS, MINUS:
		return 10
	case ASTERISK, SLASH, PERCENT:
		return 11
	case AS:
		return 12
	case LPAREN: // call operator
		return 13
	default:
		return 0 // not an operator
	}
}

// isOperator returns true if the token is a binary or postfix operator
func isOperator(tokenType TokenType) bool {
	return precedence(tokenType) > 0
}

func (l *Lexer) fail(format string, args ...any) {
	l.Errors.Add(ErrParse, l.CurrLine, l.CurrColumn, format, args...)
	panic(parseBailout{})
}

// SkipToken advances past the current token, asserting it matches the expected type.
func (l *Lexer) SkipToken(expectedType TokenType) {
	if l.CurrTokenType != expectedType {
		l.fail("expected %s but got %s", describeToken(expectedType), l.describeCurrent())
	}
	l.NextToken()
}

func (l *Lexer) expectIdent() string {
	if l.CurrTokenType != IDENT {
		l.fail("expected identifier but got %s", l.describeCurrent())
	}
	name := l.CurrLiteral
	l.NextToken()
	return name
}

func describeToken(t TokenType) string {
	switch t {
	case IDENT, INT, FLOAT, STRING, CHAR, EOF:
		return string(t)
	}
	return "'" + string(t) + "'"
}

func (l *Lexer) describeCurrent() string {
	switch l.CurrTokenType {
	case IDENT, INT, FLOAT:
		return string(l.CurrTokenType) + " " + l.CurrLiteral
	case EOF, STRING, CHAR:
		return string(l.CurrTokenType)
	}
	return "'" + l.CurrLiteral + "'"
}

// guard runs fn and converts a parser bailout into a nil result.
func guard(fn func() *ASTNode) (node *ASTNode) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(parseBailout); !ok {
				panic(r)
			}
			node = nil
		}
	}()
	return fn()
}

// ParseProgram parses top-level declarations until EOF. On a syntax error the
// lexer's error collection is non-empty and the result is nil.
func ParseProgram(l *Lexer) *ASTNode {
	return guard(func() *ASTNode {
		program := &ASTNode{Kind: NodeBlock, Line: l.CurrLine, Column: l.CurrColumn}
		for l.CurrTokenType != EOF {
			program.Children = append(program.Children, parseStatement(l))
		}
		if l.Errors.HasErrors() {
			return nil
		}
		return program
	})
}

// ParseStatement parses a single statement.
func ParseStatement(l *Lexer) *ASTNode {
	return guard(func() *ASTNode { return parseStatement(l) })
}

// ParseExpression parses an expression and returns an AST node
func ParseExpression(l *Lexer) *ASTNode {
	return guard(func() *ASTNode { return parseExpressionWithPrecedence(l, 0) })
}

// ParseType parses a base type name followed by any number of '*'.
func ParseType(l *Lexer) *TypeNode {
	if l.CurrTokenType != IDENT {
		l.fail("expected type but got %s", l.describeCurrent())
	}
	base := LookupBuiltinType(l.CurrLiteral)
	if base == nil {
		l.Errors.Add(ErrType, l.CurrLine, l.CurrColumn, "unknown type '%s'", l.CurrLiteral)
		panic(parseBailout{})
	}
	l.NextToken()
	t := base
	for l.CurrTokenType == ASTERISK {
		l.NextToken()
		t = NewPointerType(t)
	}
	return t
}

func (l *Lexer) newNode(kind NodeKind) *ASTNode {
	return &ASTNode{Kind: kind, Line: l.CurrLine, Column: l.CurrColumn}
}

// parseExpressionWithPrecedence implements precedence climbing
func parseExpressionWithPrecedence(l *Lexer, minPrec int) *ASTNode {
	left := parseUnary(l)

	for {
		if !isOperator(l.CurrTokenType) || precedence(l.CurrTokenType) < minPrec {
			break
		}

		switch l.CurrTokenType {
		case LPAREN:
			call := &ASTNode{Kind: NodeCall, Line: left.Line, Column: left.Column, Children: []*ASTNode{left}}
			l.SkipToken(LPAREN)
			for l.CurrTokenType != RPAREN {
				call.Children = append(call.Children, parseExpressionWithPrecedence(l, 0))
				if l.CurrTokenType != COMMA {
					break
				}
				l.SkipToken(COMMA)
			}
			l.SkipToken(RPAREN)
			left = call

		case AS:
			cast := &ASTNode{Kind: NodeCast, Line: l.CurrLine, Column: l.CurrColumn, Children: []*ASTNode{left}}
			l.SkipToken(AS)
			cast.DeclType = ParseType(l)
			left = cast

		default:
			op := l.CurrLiteral
			prec := precedence(l.CurrTokenType)
			node := &ASTNode{Kind: NodeBinary, Op: op, Line: l.CurrLine, Column: l.CurrColumn}
			l.NextToken()

			// Assignment is right-associative; everything else is left-associative.
			var right *ASTNode
			if op == "=" {
				right = parseExpressionWithPrecedence(l, prec)
			} else {
				right = parseExpressionWithPrecedence(l, prec+1)
			}
			node.Children = []*ASTNode{left, right}
			left = node
		}
	}

	return left
}

// parseUnary handles the prefix operators - ! & and *.
func parseUnary(l *Lexer) *ASTNode {
	switch l.CurrTokenType {
	case MINUS:
		node := l.newNode(NodeUnary)
		l.SkipToken(MINUS)
		operand := parseUnary(l)
		if operand.Kind == NodeInteger && !operand.Unsigned {
			operand.Integer = -operand.Integer
			operand.Line, operand.Column = node.Line, node.Column
			return operand
		}
		if operand.Kind == NodeFloat {
			operand.Float = -operand.Float
			return operand
		}
		node.Op = "-"
		node.Children = []*ASTNode{operand}
		return node
	case BANG, BIT_AND, ASTERISK:
		node := l.newNode(NodeUnary)
		node.Op = l.CurrLiteral
		l.NextToken()
		node.Children = []*ASTNode{parseUnary(l)}
		return node
	}
	return parsePostfix(l, parsePrimary(l))
}

// parsePostfix applies call operators, which bind tighter than prefix operators.
func parsePostfix(l *Lexer, node *ASTNode) *ASTNode {
	for l.CurrTokenType == LPAREN {
		call := &ASTNode{Kind: NodeCall, Line: node.Line, Column: node.Column, Children: []*ASTNode{node}}
		l.SkipToken(LPAREN)
		for l.CurrTokenType != RPAREN {
			call.Children = append(call.Children, parseExpressionWithPrecedence(l, 0))
			if l.CurrTokenType != COMMA {
				break
			}
			l.SkipToken(COMMA)
		}
		l.SkipToken(RPAREN)
		node = call
	}
	return node
}

// parsePrimary handles primary expressions (literals, identifiers, parentheses)
func parsePrimary(l *Lexer) *ASTNode {
	node := l.newNode("")
	switch l.CurrTokenType {
	case INT:
		node.Kind = NodeInteger
		node.Integer = int64(l.CurrIntValue)
		node.Unsigned = l.CurrIntValue > 1<<63-1
		l.SkipToken(INT)
	case FLOAT:
		node.Kind = NodeFloat
		node.Float = l.CurrFloatValue
		l.SkipToken(FLOAT)
	case CHAR:
		node.Kind = NodeChar
		node.Integer = int64(l.CurrIntValue)
		l.SkipToken(CHAR)
	case STRING:
		node.Kind = NodeString
		node.String = l.CurrLiteral
		l.SkipToken(STRING)
	case TRUE, FALSE:
		node.Kind = NodeBoolean
		node.Boolean = l.CurrTokenType == TRUE
		l.NextToken()
	case NULL:
		node.Kind = NodeNull
		l.SkipToken(NULL)
	case IDENT:
		node.Kind = NodeIdent
		node.String = l.CurrLiteral
		l.SkipToken(IDENT)
	case LPAREN:
		l.SkipToken(LPAREN)
		expr := parseExpressionWithPrecedence(l, 0)
		l.SkipToken(RPAREN)
		return expr
	default:
		l.fail("unexpected %s in expression", l.describeCurrent())
	}
	return node
}

func parseBlock(l *Lexer) *ASTNode {
	block := l.newNode(NodeBlock)
	l.SkipToken(LBRACE)
	for l.CurrTokenType != RBRACE {
		if l.CurrTokenType == EOF {
			l.fail("unexpected EOF, expected '}'")
		}
		block.Children = append(block.Children, parseStatement(l))
	}
	l.SkipToken(RBRACE)
	return block
}

func parseStatement(l *Lexer) *ASTNode {
	switch l.CurrTokenType {
	case PUB:
		l.SkipToken(PUB)
		var node *ASTNode
		switch l.CurrTokenType {
		case FN:
			node = parseFunction(l)
		case VAR:
			node = parseVariable(l)
		default:
			l.fail("expected 'fn' or 'var' after 'pub'")
		}
		node.Public = true
		return node

	case FN:
		return parseFunction(l)

	case VAR:
		return parseVariable(l)

	case EXTERN:
		return parseExtern(l)

	case ASM:
		node := l.newNode(NodeAsm)
		l.SkipToken(ASM)
		if l.CurrTokenType != LBRACE {
			l.fail("expected '{' after 'asm'")
		}
		node.AsmText, node.Line = l.ReadRawBlock()
		if l.Errors.HasErrors() {
			panic(parseBailout{})
		}
		return node

	case RETURN:
		node := l.newNode(NodeReturn)
		l.SkipToken(RETURN)
		if l.CurrTokenType != SEMICOLON {
			node.Children = []*ASTNode{parseExpressionWithPrecedence(l, 0)}
		}
		l.SkipToken(SEMICOLON)
		return node

	case IF:
		node := l.newNode(NodeIf)
		l.SkipToken(IF)
		cond := parseExpressionWithPrecedence(l, 0)
		node.Children = []*ASTNode{cond, parseBlock(l)}
		if l.CurrTokenType == ELSE {
			l.SkipToken(ELSE)
			if l.CurrTokenType == IF {
				elseIf := parseStatement(l)
				node.Children = append(node.Children, &ASTNode{
					Kind:     NodeBlock,
					Children: []*ASTNode{elseIf},
					Line:     elseIf.Line,
					Column:   elseIf.Column,
				})
			} else {
				node.Children = append(node.Children, parseBlock(l))
			}
		}
		return node

	case WHILE:
		node := l.newNode(NodeWhile)
		l.SkipToken(WHILE)
		cond := parseExpressionWithPrecedence(l, 0)
		node.Children = []*ASTNode{cond, parseBlock(l)}
		return node

	case LBRACE:
		return parseBlock(l)

	default:
		// Expression statement
		expr := parseExpressionWithPrecedence(l, 0)
		l.SkipToken(SEMICOLON)
		return expr
	}
}

func parseFunction(l *Lexer) *ASTNode {
	node := l.newNode(NodeFunc)
	l.SkipToken(FN)
	node.String = l.expectIdent()
	l.SkipToken(LPAREN)
	for l.CurrTokenType != RPAREN {
		name := l.expectIdent()
		l.SkipToken(COLON)
		node.Params = append(node.Params, Parameter{Name: name, Type: ParseType(l)})
		if l.CurrTokenType != COMMA {
			break
		}
		l.SkipToken(COMMA)
	}
	l.SkipToken(RPAREN)
	node.DeclType = TypeVoid
	if l.CurrTokenType == ARROW {
		l.SkipToken(ARROW)
		node.DeclType = ParseType(l)
	}
	node.Children = []*ASTNode{parseBlock(l)}
	return node
}

func parseVariable(l *Lexer) *ASTNode {
	node := l.newNode(NodeVar)
	l.SkipToken(VAR)
	node.String = l.expectIdent()
	l.SkipToken(COLON)
	node.DeclType = ParseType(l)
	if l.CurrTokenType == ASSIGN {
		l.SkipToken(ASSIGN)
		node.Children = []*ASTNode{parseExpressionWithPrecedence(l, 0)}
	}
	l.SkipToken(SEMICOLON)
	return node
}

func parseExtern(l *Lexer) *ASTNode {
	node := l.newNode(NodeExtern)
	l.SkipToken(EXTERN)
	node.String = l.expectIdent()
	if l.CurrTokenType == LPAREN {
		l.SkipToken(LPAREN)
		for l.CurrTokenType != RPAREN {
			if l.CurrTokenType == ELLIPSIS {
				l.SkipToken(ELLIPSIS)
				node.Variadic = true
				if l.CurrTokenType != RPAREN {
					l.fail("variadic marker must be the last parameter")
				}
				break
			}
			node.Params = append(node.Params, Parameter{Type: ParseType(l)})
			if l.CurrTokenType != COMMA {
				break
			}
			l.SkipToken(COMMA)
		}
		l.SkipToken(RPAREN)
	}
	node.DeclType = TypeVoid
	if l.CurrTokenType == ARROW {
		l.SkipToken(ARROW)
		node.DeclType = ParseType(l)
	}
	l.SkipToken(SEMICOLON)
	return node
}
