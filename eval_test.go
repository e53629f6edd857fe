package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

// executeSweet compiles and runs source in hosted mode and returns what it
// printed.
func executeSweet(t *testing.T, source string) string {
	t.Helper()
	res, err := runSweet(t, source, DefaultConfig())
	be.Err(t, err, nil)
	return string(res.Stdout)
}

func runSweet(t *testing.T, source string, cfg Config) (*Result, error) {
	t.Helper()
	prog, err := Compile([]byte(source))
	be.Err(t, err, nil)
	return Run(prog, cfg)
}

func TestRunExitCodeFromMain(t *testing.T) {
	res, err := runSweet(t, "fn main() -> i32 { return 300; }", DefaultConfig())
	be.Err(t, err, nil)
	be.Equal(t, res.ExitCode, 44)
	be.Equal(t, res.Halted, false)

	res, err = runSweet(t, "fn main() { }", DefaultConfig())
	be.Err(t, err, nil)
	be.Equal(t, res.ExitCode, 0)
}

func TestRunPrintfPointerIsRawAddress(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() -> i32 {
    var x: i64 = 1;
    var p: i64* = &x;
    printf("%p 0x%lx\n", p, &x as usize);
    return 0;
}
`)
	fields := strings.Fields(output)
	be.Equal(t, len(fields), 2)
	be.Equal(t, fields[0], fields[1])
	be.True(t, strings.HasPrefix(fields[0], "0x7fff"))
}

func TestRunPointerWriteThroughParameter(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn set(p: i64*, v: i64) { *p = v; }

fn main() {
    var x: i64 = 1;
    var p: i64* = &x;
    var pp: i64** = &p;
    set(p, 69);
    printf("%ld ", x);
    **pp = 420;
    printf("%ld ", *p);
    set(*pp, 1337);
    printf("%ld", x);
}
`)
	be.Equal(t, output, "69 420 1337")
}

func TestRunAddressIsStable(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

fn main() {
    var x: i64 = 5;
    var a: usize = &x as usize;
    x = 6;
    var b: usize = &x as usize;
    if a == b { printf("same"); } else { printf("moved"); }
}
`)
	be.Equal(t, output, "same")
}

func TestRunNullDereferenceFaults(t *testing.T) {
	res, err := runSweet(t, `
fn main() -> i64 {
    var p: i64* = null;
    return *p;
}
`, DefaultConfig())
	var fault *Fault
	be.True(t, errors.As(err, &fault))
	be.Equal(t, fault.Signal(), "SIGSEGV")
	be.Equal(t, fault.Access, "read")
	be.Equal(t, fault.Addr, uint64(0))
	be.Equal(t, res.ExitCode, 139)
}

func TestRunSanitizerCatchesStaleAddress(t *testing.T) {
	source := `
fn leak() -> usize {
    var local: i64 = 7;
    return &local as usize;
}

fn main() -> i64 {
    var p: i64* = leak() as i64*;
    return *p;
}
`
	// Without the sanitizer the stale slot is still mapped stack memory.
	_, err := runSweet(t, source, DefaultConfig())
	be.Err(t, err, nil)

	cfg := DefaultConfig()
	cfg.Sanitize = true
	_, err = runSweet(t, source, cfg)
	var serr *SanitizerError
	be.True(t, errors.As(err, &serr))
	be.Equal(t, serr.Access, "read")
	be.Equal(t, serr.Size, 8)
}

func TestRunUnknownExternIsLinkError(t *testing.T) {
	_, err := runSweet(t, `
extern mystery() -> i32;
fn main() -> i32 { return mystery(); }
`, DefaultConfig())
	var lerr *LinkError
	be.True(t, errors.As(err, &lerr))
	be.Equal(t, lerr.Symbol, "mystery")
	be.Equal(t, err.Error(), "undefined reference to `mystery'")
}

func TestRunFreestandingRejectsExterns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	_, err := runSweet(t, `
extern puts(string) -> i32;
fn _start() { puts("no libc here"); }
`, cfg)
	var lerr *LinkError
	be.True(t, errors.As(err, &lerr))
	be.Equal(t, lerr.Symbol, "puts")
}

func TestRunMissingEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	_, err := runSweet(t, "fn main() { }", cfg)
	var lerr *LinkError
	be.True(t, errors.As(err, &lerr))
	be.Equal(t, lerr.Symbol, "_start")
}

func TestRunCustomEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Entry = "begin"
	res, err := runSweet(t, "fn begin() -> i32 { return 9; }", cfg)
	be.Err(t, err, nil)
	be.Equal(t, res.ExitCode, 9)
}

func TestRunFreestandingReturnHalts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFreestanding
	res, err := runSweet(t, `
fn _start() {
    asm {
        mov al, 'K'
        out 0xE9, al
    }
}
`, cfg)
	be.Err(t, err, nil)
	be.True(t, res.Halted)
	be.Equal(t, string(res.Port), "K")
}

func TestRunGlobalsAreInitialized(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;

var count: i64 = 40;
var greeting: string = "hey";
var ratio: f64 = 0.5;

fn main() {
    count = count + 2;
    printf("%s %ld %.1f", greeting, count, ratio);
}
`)
	be.Equal(t, output, "hey 42 0.5")
}

func TestConvert(t *testing.T) {
	be.Equal(t, convert(^uint64(0), TypeI64, TypeU8), uint64(0xFF))
	be.Equal(t, convert(0xFF, TypeU8, TypeI8), ^uint64(0))
	be.Equal(t, convert(floatBits(2.9, TypeF64), TypeF64, TypeI32), uint64(2))
	be.Equal(t, convert(floatBits(-2.9, TypeF64), TypeF64, TypeI64), uint64(0xFFFFFFFFFFFFFFFE))
	be.Equal(t, bitsFloat(convert(3, TypeI64, TypeF64), TypeF64), 3.0)
	be.Equal(t, bitsFloat(convert(floatBits(1.5, TypeF32), TypeF32, TypeF64), TypeF64), 1.5)
}

func TestRunStdoutIsCapturedInOrder(t *testing.T) {
	output := executeSweet(t, `
extern printf(string, ...) -> i32;
extern puts(string) -> i32;
extern putchar(i32) -> i32;

fn main() {
    printf("a");
    puts("b");
    putchar('c' as i32);
}
`)
	be.Equal(t, output, "ab\nc")
	be.True(t, !strings.Contains(output, "\x00"))
}
