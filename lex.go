package main

import (
	"strconv"
	"strings"
)

// TokenType is the type of token (identifier, operator, literal, etc.).
type TokenType string

// Definition of token types
const (
	// Special tokens
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	// Identifiers + literals
	IDENT  = "IDENT" // main, foo, _bar
	INT    = "INT"   // 12345, 0xE9
	FLOAT  = "FLOAT" // 3.14
	STRING = "STRING"
	CHAR   = "CHAR"

	// Operators
	ASSIGN   = "="
	PLUS     = "+"
	MINUS    = "-"
	BANG     = "!"
	ASTERISK = "*"
	SLASH    = "/"
	PERCENT  = "%"

	LT     = "<"
	GT     = ">"
	EQ     = "=="
	NOT_EQ = "!="
	LE     = "<="
	GE     = ">="

	AND     = "&&"
	OR      = "||"
	BIT_AND = "&"
	BIT_OR  = "|"
	XOR     = "^"
	SHL     = "<<"
	SHR     = ">>"
	ARROW   = "->"

	// Delimiters
	COMMA     = ","
	SEMICOLON = ";"
	COLON     = ":"
	LPAREN    = "("
	RPAREN    = ")"
	LBRACE    = "{"
	RBRACE    = "}"
	LBRACKET  = "["
	RBRACKET  = "]"
	DOT       = "."
	ELLIPSIS  = "..."

	FN     = "FN"
	PUB    = "PUB"
	VAR    = "VAR"
	EXTERN = "EXTERN"
	ASM    = "ASM"
	RETURN = "RETURN"
	IF     = "IF"
	ELSE   = "ELSE"
	WHILE  = "WHILE"
	NULL   = "NULL"
	AS     = "AS"
	TRUE   = "TRUE"
	FALSE  = "FALSE"
)

var keywords = map[string]TokenType{
	"fn":     FN,
	"pub":    PUB,
	"var":    VAR,
	"extern": EXTERN,
	"asm":    ASM,
	"return": RETURN,
	"if":     IF,
	"else":   ELSE,
	"while":  WHILE,
	"null":   NULL,
	"as":     AS,
	"true":   TRUE,
	"false":  FALSE,
}

// Lexer scans a NUL-terminated source buffer one token at a time.
type Lexer struct {
	input []byte
	pos   int
	line  int
	col   int

	CurrTokenType  TokenType
	CurrLiteral    string
	CurrIntValue   uint64 // only meaningful when CurrTokenType == INT or CHAR
	CurrFloatValue float64
	CurrLine       int
	CurrColumn     int

	Errors *ErrorCollection
}

// NewLexer initializes a lexer with the given input (must end with a 0 byte).
func NewLexer(input []byte) *Lexer {
	if len(input) == 0 || input[len(input)-1] != 0 {
		input = append(input, 0)
	}
	return &Lexer{
		input:  input,
		line:   1,
		col:    1,
		Errors: NewErrorCollection(),
	}
}

func (l *Lexer) peekByte(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.input)-1; i++ {
		if l.input[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *Lexer) setToken(typ TokenType, lit string, width int) {
	l.CurrTokenType = typ
	l.CurrLiteral = lit
	l.advance(width)
}

func (l *Lexer) errorf(format string, args ...any) {
	l.Errors.Add(ErrLex, l.CurrLine, l.CurrColumn, format, args...)
}

// NextToken scans the next token and stores it in the Curr* fields.
// Call repeatedly until CurrTokenType == EOF.
func (l *Lexer) NextToken() {
	l.skipWhitespaceAndComments()

	l.CurrLine = l.line
	l.CurrColumn = l.col
	l.CurrIntValue = 0
	l.CurrFloatValue = 0

	c := l.peekByte(0)
	next := l.peekByte(1)

	switch {
	case c == 0:
		l.setToken(EOF, "", 0)
	case c == '=' && next == '=':
		l.setToken(EQ, "==", 2)
	case c == '=':
		l.setToken(ASSIGN, "=", 1)
	case c == '!' && next == '=':
		l.setToken(NOT_EQ, "!=", 2)
	case c == '!':
		l.setToken(BANG, "!", 1)
	case c == '-' && next == '>':
		l.setToken(ARROW, "->", 2)
	case c == '-':
		l.setToken(MINUS, "-", 1)
	case c == '+':
		l.setToken(PLUS, "+", 1)
	case c == '*':
		l.setToken(ASTERISK, "*", 1)
	case c == '/':
		l.setToken(SLASH, "/", 1)
	case c == '%':
		l.setToken(PERCENT, "%", 1)
	case c == '<' && next == '=':
		l.setToken(LE, "<=", 2)
	case c == '<' && next == '<':
		l.setToken(SHL, "<<", 2)
	case c == '<':
		l.setToken(LT, "<", 1)
	case c == '>' && next == '=':
		l.setToken(GE, ">=", 2)
	case c == '>' && next == '>':
		l.setToken(SHR, ">>", 2)
	case c == '>':
		l.setToken(GT, ">", 1)
	case c == '&' && next == '&':
		l.setToken(AND, "&&", 2)
	case c == '&':
		l.setToken(BIT_AND, "&", 1)
	case c == '|' && next == '|':
		l.setToken(OR, "||", 2)
	case c == '|':
		l.setToken(BIT_OR, "|", 1)
	case c == '^':
		l.setToken(XOR, "^", 1)
	case c == ',':
		l.setToken(COMMA, ",", 1)
	case c == ';':
		l.setToken(SEMICOLON, ";", 1)
	case c == ':':
		l.setToken(COLON, ":", 1)
	case c == '(':
		l.setToken(LPAREN, "(", 1)
	case c == ')':
		l.setToken(RPAREN, ")", 1)
	case c == '{':
		l.setToken(LBRACE, "{", 1)
	case c == '}':
		l.setToken(RBRACE, "}", 1)
	case c == '[':
		l.setToken(LBRACKET, "[", 1)
	case c == ']':
		l.setToken(RBRACKET, "]", 1)
	case c == '.' && next == '.' && l.peekByte(2) == '.':
		l.setToken(ELLIPSIS, "...", 3)
	case c == '.':
		l.setToken(DOT, ".", 1)
	case c == '"':
		l.readString()
	case c == '\'':
		l.readChar()
	case isLetter(c):
		lit := l.readIdentifier()
		if kw, ok := keywords[lit]; ok {
			l.CurrTokenType = kw
		} else {
			l.CurrTokenType = IDENT
		}
		l.CurrLiteral = lit
	case isDigit(c):
		l.readNumber()
	default:
		l.setToken(ILLEGAL, string(c), 1)
		l.errorf("unexpected character %q", c)
	}
}

// PeekToken returns the next token type without advancing the lexer.
func (l *Lexer) PeekToken() TokenType {
	saved := *l
	savedErrors := len(l.Errors.Errors)

	l.NextToken()
	nextType := l.CurrTokenType

	errs := l.Errors
	*l = saved
	errs.Errors = errs.Errors[:savedErrors]
	l.Errors = errs
	return nextType
}

// ReadRawBlock returns the raw text after the current '{' token up to the
// matching '}', then advances to the token after it. The starting line of
// the text is returned so callers can position diagnostics.
func (l *Lexer) ReadRawBlock() (string, int) {
	startLine := l.line
	start := l.pos
	for l.input[l.pos] != '}' && l.input[l.pos] != 0 {
		l.advance(1)
	}
	raw := string(l.input[start:l.pos])
	if l.input[l.pos] == 0 {
		l.Errors.Add(ErrParse, startLine, 1, "unterminated asm block")
		l.CurrTokenType = EOF
		return raw, startLine
	}
	l.advance(1) // skip }
	l.NextToken()
	return raw, startLine
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		c := l.peekByte(0)
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.advance(1)
		case c == '/' && l.peekByte(1) == '/':
			for l.peekByte(0) != '\n' && l.peekByte(0) != 0 {
				l.advance(1)
			}
		case c == '/' && l.peekByte(1) == '*':
			line, col := l.line, l.col
			l.advance(2)
			for !(l.peekByte(0) == '*' && l.peekByte(1) == '/') {
				if l.peekByte(0) == 0 {
					l.Errors.Add(ErrLex, line, col, "unterminated block comment")
					return
				}
				l.advance(1)
			}
			l.advance(2)
		default:
			return
		}
	}
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c == '_'
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.peekByte(0)) || isDigit(l.peekByte(0)) {
		l.advance(1)
	}
	return string(l.input[start:l.pos])
}

func (l *Lexer) readNumber() {
	start := l.pos
	if l.peekByte(0) == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		l.advance(2)
		for isHexDigit(l.peekByte(0)) {
			l.advance(1)
		}
	} else {
		for isDigit(l.peekByte(0)) {
			l.advance(1)
		}
		if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
			l.advance(1)
			for isDigit(l.peekByte(0)) {
				l.advance(1)
			}
			lit := string(l.input[start:l.pos])
			val, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				l.errorf("invalid float literal %s", lit)
			}
			l.CurrTokenType = FLOAT
			l.CurrLiteral = lit
			l.CurrFloatValue = val
			return
		}
	}
	lit := string(l.input[start:l.pos])
	val, err := strconv.ParseUint(lit, 0, 64)
	if err != nil {
		l.errorf("integer literal %s does not fit in 64 bits", lit)
	}
	l.CurrTokenType = INT
	l.CurrLiteral = lit
	l.CurrIntValue = val
}

// readEscape decodes one escape sequence after the backslash.
func (l *Lexer) readEscape() (byte, bool) {
	c := l.peekByte(0)
	l.advance(1)
	switch c {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\', '"', '\'':
		return c, true
	case 'x':
		hi, lo := l.peekByte(0), l.peekByte(1)
		if !isHexDigit(hi) || !isHexDigit(lo) {
			return 0, false
		}
		l.advance(2)
		v, _ := strconv.ParseUint(string([]byte{hi, lo}), 16, 8)
		return byte(v), true
	}
	return 0, false
}

func (l *Lexer) readString() {
	l.advance(1) // skip opening "
	var sb strings.Builder
	for {
		c := l.peekByte(0)
		if c == 0 || c == '\n' {
			l.errorf("unterminated string literal")
			break
		}
		if c == '"' {
			l.advance(1)
			break
		}
		if c == '\\' {
			l.advance(1)
			b, ok := l.readEscape()
			if !ok {
				l.errorf("invalid escape sequence in string literal")
			}
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte(c)
		l.advance(1)
	}
	l.CurrTokenType = STRING
	l.CurrLiteral = sb.String()
}

func (l *Lexer) readChar() {
	start := l.pos
	l.advance(1) // skip opening '
	var value byte
	if l.peekByte(0) == '\\' {
		l.advance(1)
		b, ok := l.readEscape()
		if !ok {
			l.errorf("invalid escape sequence in char literal")
		}
		value = b
	} else {
		value = l.peekByte(0)
		l.advance(1)
	}
	if l.peekByte(0) != '\'' {
		l.errorf("unterminated char literal")
	} else {
		l.advance(1)
	}
	l.CurrTokenType = CHAR
	l.CurrLiteral = string(l.input[start:l.pos])
	l.CurrIntValue = uint64(value)
}
