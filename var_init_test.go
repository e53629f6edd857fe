package main

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestBasicVariableInitialization(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() {
    var x: i64 = 42;
    printf("%ld", x);
}
`)
	be.Equal(t, output, "42")
}

func TestMultipleVariableInitialization(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() {
    var a: i64 = 10;
    var b: i32 = -20;
    var c: u16 = 65535;
    var d: f64 = 2.5;
    printf("%ld %d %d %.2f", a, b, c, d);
}
`)
	be.Equal(t, output, "10 -20 65535 2.50")
}

func TestUninitializedVariablesAreZeroOnFreshStack(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() {
    var x: i64;
    var y: i64 = 5;
    x = y + 1;
    printf("%ld %ld", x, y);
}
`)
	be.Equal(t, output, "6 5")
}

func TestVariableInitializationWithExpressions(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() {
    var a: i64 = 3;
    var b: i64 = a * a + 1;
    var c: i64 = (b - a) / 2;
    printf("%ld %ld", b, c);
}
`)
	be.Equal(t, output, "10 3")
}

func TestPointerVariableInitialization(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() {
    var x: i64 = 7;
    var p: i64* = &x;
    var pp: i64** = &p;
    var q: i64* = *pp;
    printf("%ld %ld", *q, **pp);
}
`)
	be.Equal(t, output, "7 7")
}

func TestInitializerCannotReferToItself(t *testing.T) {
	_, err := Compile([]byte("fn main() { var x: i64 = x; }"))
	be.Equal(t, err.(*CompileError).Short(), "SymbolError: undefined identifier 'x'")
}

func TestGlobalInitializerMustBeConstant(t *testing.T) {
	_, err := Compile([]byte("var a: i64 = 1;\nvar b: i64 = a;"))
	be.Equal(t, err.(*CompileError).Short(), "TypeError: initializer of global 'b' is not a constant")
}
