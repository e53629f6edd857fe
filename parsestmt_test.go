package main

import (
	"testing"

	"github.com/nalgeon/be"
)

func parseStmt(input string) (*ASTNode, *Lexer) {
	l := NewLexer([]byte(input))
	l.NextToken()
	return ParseStatement(l), l
}

func TestParseIfStatement(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "if x { y; }",
			expected: `(if (ident "x") (block (ident "y")))`,
		},
		{
			input:    "if p == null { return 1; } else { return 2; }",
			expected: `(if (binary "==" (ident "p") (null)) (block (return 1)) (block (return 2)))`,
		},
		{
			input:    "if a { } else if b { }",
			expected: `(if (ident "a") (block) (block (if (ident "b") (block))))`,
		},
	}

	for _, test := range tests {
		result, _ := parseStmt(test.input)
		be.Equal(t, ToSExpr(result), test.expected)
	}
}

func TestParseVarStatement(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"var x: i64;", `(var "x" "i64")`},
		{"var p: u8* = null;", `(var "p" "u8*" (null))`},
		{"var pptr: usize** = &ptr;", `(var "pptr" "usize**" (unary "&" (ident "ptr")))`},
		{"var s: string = \"hi\";", `(var "s" "string" (string "hi"))`},
	}

	for _, test := range tests {
		result, _ := parseStmt(test.input)
		be.Equal(t, ToSExpr(result), test.expected)
	}
}

func TestParseVarMissingType(t *testing.T) {
	result, l := parseStmt("var x = 5;")
	be.True(t, result == nil)
	be.Equal(t, l.Errors.First().Message, "expected ':' but got '='")
}

func TestParseReturnStatement(t *testing.T) {
	result, _ := parseStmt("return;")
	be.Equal(t, ToSExpr(result), "(return)")

	result, _ = parseStmt("return *p as i32;")
	be.Equal(t, ToSExpr(result), `(return (cast (unary "*" (ident "p")) "i32"))`)
}

func TestParseWhileStatement(t *testing.T) {
	result, _ := parseStmt("while i < 10 { i = i + 1; }")
	be.Equal(t, ToSExpr(result), `(while (binary "<" (ident "i") 10) (block (binary "=" (ident "i") (binary "+" (ident "i") 1))))`)
}

func TestParseFunction(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "fn main() -> i32 { return 0; }",
			expected: `(func "main" () "i32" (block (return 0)))`,
		},
		{
			input:    "fn set(p: i64*, v: i64) { *p = v; }",
			expected: `(func "set" (("p" "i64*") ("v" "i64")) "void" (block (binary "=" (unary "*" (ident "p")) (ident "v"))))`,
		},
	}

	for _, test := range tests {
		result, _ := parseStmt(test.input)
		be.Equal(t, ToSExpr(result), test.expected)
	}
}

func TestParsePublicDeclarations(t *testing.T) {
	result, _ := parseStmt("pub fn f() { }")
	be.True(t, result.Public)
	be.Equal(t, result.Kind, NodeFunc)

	result, _ = parseStmt("pub var g: i64 = 1;")
	be.True(t, result.Public)
	be.Equal(t, result.Kind, NodeVar)

	_, l := parseStmt("pub extern f();")
	be.Equal(t, l.Errors.First().Message, "expected 'fn' or 'var' after 'pub'")
}

func TestParseExtern(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"extern printf(string, ...) -> i32;", `(extern "printf" ("string" "...") "i32")`},
		{"extern exit(i32);", `(extern "exit" ("i32") "void")`},
		{"extern getpid() -> i32;", `(extern "getpid" () "i32")`},
		{"extern abort;", `(extern "abort" () "void")`},
	}

	for _, test := range tests {
		result, _ := parseStmt(test.input)
		be.Equal(t, ToSExpr(result), test.expected)
	}

	result, _ := parseStmt("extern printf(string, ...) -> i32;")
	be.True(t, result.Variadic)
	be.Equal(t, len(result.Params), 1)
}

func TestParseExternEllipsisMustBeLast(t *testing.T) {
	_, l := parseStmt("extern f(..., i32);")
	be.Equal(t, l.Errors.First().Message, "variadic marker must be the last parameter")
}

func TestParseAsmStatement(t *testing.T) {
	result, l := parseStmt("asm {\n    mov rax, 60 // exit\n    xor edi, edi; syscall\n}")
	be.Equal(t, l.Errors.HasErrors(), false)
	be.Equal(t, result.Kind, NodeAsm)
	be.Equal(t, ToSExpr(result), `(asm "mov rax, 60" "xor edi, edi" "syscall")`)
	be.Equal(t, l.CurrTokenType, EOF)
}

func TestParseAsmWithoutBrace(t *testing.T) {
	_, l := parseStmt("asm mov rax, 1;")
	be.Equal(t, l.Errors.First().Message, "expected '{' after 'asm'")
}

func TestParseProgramStopsAtFirstError(t *testing.T) {
	l := NewLexer([]byte("fn f() { return 1 }\nfn g() { }"))
	l.NextToken()
	result := ParseProgram(l)
	be.True(t, result == nil)
	be.Equal(t, len(l.Errors.Errors), 1)
	be.Equal(t, l.Errors.First().Message, "expected ';' but got '}'")
}

func TestParseExpressionStatement(t *testing.T) {
	result, _ := parseStmt("**pptr = 1337;")
	be.Equal(t, ToSExpr(result), `(binary "=" (unary "*" (unary "*" (ident "pptr"))) 1337)`)

	_, l := parseStmt("f()")
	be.Equal(t, l.Errors.First().Message, "expected ';' but got EOF")
}
