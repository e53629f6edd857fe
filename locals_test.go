package main

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestCollectSingleLocalVariable(t *testing.T) {
	ast, _ := parseStmt("var x: i64;")

	locals := collectLocalVariables(ast)

	expected := []LocalVarInfo{
		{Name: "x", Type: "i64"},
	}
	be.Equal(t, locals, expected)
}

func TestCollectNestedLocalVariables(t *testing.T) {
	ast, _ := parseStmt(`{
    var x: i64;
    if x == 0 {
        var p: u8*;
    } else {
        var q: i64**;
    }
    while true { var y: u8; }
    return;
}`)

	locals := collectLocalVariables(ast)

	expected := []LocalVarInfo{
		{Name: "x", Type: "i64"},
		{Name: "p", Type: "u8*"},
		{Name: "q", Type: "i64**"},
		{Name: "y", Type: "u8"},
	}
	be.Equal(t, locals, expected)
}

func TestLayoutFrame(t *testing.T) {
	prog, err := Compile([]byte(`
fn f(a: i64, b: u8) -> i64 {
    var x: i64 = a;
    {
        var x: i64 = 2;
    }
    return x;
}
`))
	be.Err(t, err, nil)
	fn := prog.Function("f")
	frame := prog.Frames[fn]

	be.Equal(t, len(frame.Locals), 4)
	be.Equal(t, frame.Locals[0].Name, "a")
	be.Equal(t, frame.Locals[0].Offset, -8)
	be.Equal(t, frame.Locals[1].Name, "b")
	be.Equal(t, frame.Locals[1].Type, "u8")
	be.Equal(t, frame.Locals[1].Offset, -16)
	be.Equal(t, frame.Locals[2].Offset, -24)
	be.Equal(t, frame.Locals[3].Offset, -32)
	be.Equal(t, frame.Size, 32)

	// Shadowed variables get distinct slots.
	off, ok := frame.Offset(frame.Locals[2].Symbol)
	be.True(t, ok)
	be.Equal(t, off, -24)
	off, ok = frame.Offset(frame.Locals[3].Symbol)
	be.True(t, ok)
	be.Equal(t, off, -32)
}

func TestLayoutFrameRoundsTo16(t *testing.T) {
	prog, err := Compile([]byte("fn main() -> i64 { var x: i64 = 1; return x; }"))
	be.Err(t, err, nil)
	frame := prog.Frames[prog.Function("main")]
	be.Equal(t, len(frame.Locals), 1)
	be.Equal(t, frame.Size, 16)

	prog, err = Compile([]byte("fn main() { }"))
	be.Err(t, err, nil)
	frame = prog.Frames[prog.Function("main")]
	be.Equal(t, frame.Size, 0)
}
