package sexy

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		input string
		typ   NodeType
		text  string
	}{
		{"hello", NodeSymbol, "hello"},
		{"func-name", NodeSymbol, "func-name"},
		{`"hello world"`, NodeString, "hello world"},
		{`"test\"quote"`, NodeString, `test"quote`},
		{`"a\nb"`, NodeString, "a\nb"},
		{"42", NodeInteger, "42"},
		{"-123", NodeInteger, "-123"},
		{"-", NodeSymbol, "-"},
		{"...", NodeEllipsis, ""},
	}

	for _, test := range tests {
		result, err := Parse(test.input)
		be.Err(t, err, nil)
		be.Equal(t, result.Type, test.typ)
		be.Equal(t, result.Text, test.text)
	}
}

func TestParseList(t *testing.T) {
	result, err := Parse(`(binary "+" (ident "x") 1)`)
	be.Err(t, err, nil)
	be.Equal(t, result.Type, NodeList)
	be.Equal(t, len(result.Items), 4)
	be.Equal(t, result.Items[0].Text, "binary")
	be.Equal(t, result.Items[2].Type, NodeList)
	be.Equal(t, result.String(), `(binary "+" (ident "x") 1)`)
}

func TestParseComments(t *testing.T) {
	result, err := Parse("; leading\n(a ; inner\n b)")
	be.Err(t, err, nil)
	be.Equal(t, result.String(), "(a b)")
}

func TestParseEmptyList(t *testing.T) {
	result, err := Parse("()")
	be.Err(t, err, nil)
	be.Equal(t, result.String(), "()")
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"(a b", ")", `"open`, "a b", ""} {
		_, err := Parse(input)
		be.True(t, err != nil)
	}
}

func mustParse(t *testing.T, input string) *Node {
	t.Helper()
	n, err := Parse(input)
	be.Err(t, err, nil)
	return n
}

func TestMatchExact(t *testing.T) {
	pattern := mustParse(t, `(var "p" "i64*" (unary "&" (ident "x")))`)
	actual := mustParse(t, `(var "p" "i64*" (unary "&" (ident "x")))`)
	be.Err(t, Match(pattern, actual), nil)
}

func TestMatchTrailingEllipsis(t *testing.T) {
	pattern := mustParse(t, `(block (extern "printf" ...) ...)`)
	actual := mustParse(t, `(block (extern "printf" ("u8*" ...) "i32") (func "main" () "i32" (block)))`)
	be.Err(t, Match(pattern, actual), nil)
}

func TestMatchEllipsisAsSingleDatum(t *testing.T) {
	pattern := mustParse(t, `(binary "+" ... 1)`)
	be.Err(t, Match(pattern, mustParse(t, `(binary "+" (ident "y") 1)`)), nil)
	be.True(t, Match(pattern, mustParse(t, `(binary "+" (ident "y") 2)`)) != nil)
}

func TestMatchMismatch(t *testing.T) {
	pattern := mustParse(t, `(unary "*" (ident "p"))`)

	err := Match(pattern, mustParse(t, `(unary "*" (ident "q"))`))
	be.True(t, err != nil)
	be.Equal(t, err.Error(), `at root[2][1]: expected "p", got "q"`)

	err = Match(pattern, mustParse(t, `(unary "*" (ident "p") 3)`))
	be.True(t, err != nil)

	err = Match(pattern, mustParse(t, `(unary "*")`))
	be.True(t, err != nil)

	err = Match(mustParse(t, "1"), mustParse(t, `"1"`))
	be.True(t, err != nil)
}
