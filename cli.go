package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

func showUsage() {
	fmt.Fprintf(os.Stderr, `Sweet - a systems language compiled to x86-64

Usage:
    sweet <command> [arguments]

Commands:
    run <file>      Compile and execute a .sw file on the built-in machine
    build <file>    Compile, assemble and link a .sw file
    asm <file>      Print the generated NASM assembly
    ast <file>      Print the parsed program as an s-expression
    tokens <file>   Print the token stream
    check <file>    Parse and type-check a .sw file
    help            Show this help message

Examples:
    sweet run examples/pointers.sw
    sweet build -o hello hello.sw
    sweet build -runtime runtime.asm -r hello.sw
    sweet build -mode freestanding -T kernel.ld -o kernel.elf kernel.sw
    sweet asm hello.sw

Environment:
    SWEET_MODE, SWEET_ENTRY, SWEET_ASFLAGS, SWEET_LINKER_SCRIPT,
    SWEET_VERBOSE, SWEET_SANITIZE, SWEET_STACK_SIZE

Use "sweet <command> -h" for more information about a command.
`)
}

// options are the flags shared by commands that compile a program.
type options struct {
	cfg  Config
	mode string
}

// newFlagSet creates a command's flag set with defaults taken from the
// environment.
func newFlagSet(name, usage, summary string) (*flag.FlagSet, *options) {
	opts := &options{cfg: DefaultConfig()}
	if err := opts.cfg.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&opts.mode, "mode", string(opts.cfg.Mode), "Execution environment: hosted or freestanding")
	fs.StringVar(&opts.cfg.Entry, "entry", opts.cfg.Entry, "Entry function (default: main, or _start when freestanding)")
	fs.BoolVar(&opts.cfg.Verbose, "v", opts.cfg.Verbose, "Show verbose compilation details")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sweet %s\n", usage)
		fmt.Fprintf(os.Stderr, "%s\n\n", summary)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	return fs, opts
}

// parse parses args, applies the mode flag and returns the single file
// argument.
func (opts *options) parse(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: expected exactly one file argument\n")
		fs.Usage()
		os.Exit(1)
	}
	mode, err := ParseMode(opts.mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts.cfg.Mode = mode
	if err := opts.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return fs.Arg(0)
}

func (opts *options) logger() *log.Logger {
	if opts.cfg.Verbose {
		return log.New(os.Stderr, "[*] ", 0)
	}
	return log.New(io.Discard, "", 0)
}

func readSource(filename string) []byte {
	source, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file %s: %v\n", filename, err)
		os.Exit(1)
	}
	return source
}

func compileFile(filename string, logger *log.Logger) *Program {
	logger.Printf("compiling %s", filename)
	prog, err := Compile(readSource(filename))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s:%v\n", filename, err)
		os.Exit(1)
	}
	logger.Printf("%d functions, %d globals, %d externs, %d strings",
		len(prog.Symbols.Functions), len(prog.Symbols.Globals), len(prog.Symbols.Externs), len(prog.Strings))
	return prog
}

func runCommand(args []string) {
	fs, opts := newFlagSet("run", "run [-mode m] [-entry f] [-sanitize] [-v] <file>",
		"Compile and execute a .sw file on the built-in machine")
	fs.BoolVar(&opts.cfg.Sanitize, "sanitize", opts.cfg.Sanitize, "Check dereferences against live storage")
	fs.IntVar(&opts.cfg.StackSize, "stack", opts.cfg.StackSize, "Stack size in bytes")
	filename := opts.parse(fs, args)
	logger := opts.logger()

	prog := compileFile(filename, logger)

	m := NewMachine(opts.cfg)
	m.Stdin = os.Stdin
	m.Stdout = os.Stdout
	m.Stderr = os.Stderr
	m.Log = logger
	res, err := m.Run(prog)
	if res != nil && len(res.Port) > 0 {
		os.Stdout.Write(res.Port)
	}
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			fmt.Fprintf(os.Stderr, "[!] %v\n", fault)
		} else {
			fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		}
		if res == nil {
			os.Exit(1)
		}
	}
	if res.Halted {
		logger.Printf("machine halted")
	}
	logger.Printf("exit status %d", res.ExitCode)
	os.Exit(res.ExitCode)
}

func buildCommand(args []string) {
	fs, opts := newFlagSet("build", "build [-mode m] [-o output] [-T script] [-runtime file]... [-r] [-keep] [-v] <file>",
		"Compile, assemble and link a .sw file")
	fs.StringVar(&opts.cfg.Output, "o", "", "Output file path (default: <filename> without extension)")
	fs.StringVar(&opts.cfg.LinkerScript, "T", opts.cfg.LinkerScript, "Linker script (freestanding only)")
	fs.StringVar(&opts.cfg.ASFlags, "asflags", opts.cfg.ASFlags, "Extra assembler flags")
	fs.BoolVar(&opts.cfg.KeepBuildDir, "keep", false, "Keep the intermediate build directory")
	fs.Func("runtime", "Extra .asm source or object to link (repeatable)", func(path string) error {
		opts.cfg.Runtime = append(opts.cfg.Runtime, path)
		return nil
	})
	runAfter := fs.Bool("r", false, "Run the executable after building (hosted only)")
	filename := opts.parse(fs, args)
	if *runAfter && opts.cfg.Mode != ModeHosted {
		fmt.Fprintf(os.Stderr, "Error: -r needs hosted mode\n")
		os.Exit(1)
	}
	logger := opts.logger()

	if opts.cfg.Output == "" {
		opts.cfg.Output = strings.TrimSuffix(filename, ".sw")
		if opts.cfg.Output == filename {
			opts.cfg.Output += ".out"
		}
	}

	prog := compileFile(filename, logger)
	asm, err := CompileToNASM(prog, opts.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compilation failed: %v\n", err)
		os.Exit(1)
	}
	logger.Printf("generated %d bytes of assembly", len(asm))

	tc := DefaultToolchain(logger)
	if err := tc.Build(asm, opts.cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}
	if !*runAfter {
		fmt.Printf("Generated %s\n", opts.cfg.Output)
		return
	}
	code, err := tc.Exec(opts.cfg.Output, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		os.Exit(1)
	}
	logger.Printf("exit status %d", code)
	os.Exit(code)
}

func asmCommand(args []string) {
	fs, opts := newFlagSet("asm", "asm [-mode m] [-v] <file>", "Print the generated NASM assembly")
	filename := opts.parse(fs, args)

	prog := compileFile(filename, opts.logger())
	asm, err := CompileToNASM(prog, opts.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compilation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(asm)
}

func astCommand(args []string) {
	fs, opts := newFlagSet("ast", "ast <file>", "Print the parsed program as an s-expression")
	filename := opts.parse(fs, args)

	l := NewLexer(readSource(filename))
	l.NextToken()
	ast := ParseProgram(l)
	if l.Errors.HasErrors() {
		fmt.Fprintf(os.Stderr, "Parsing errors in %s:\n%s\n", filename, l.Errors.String())
		os.Exit(1)
	}
	fmt.Println(ToSExpr(ast))
}

func tokensCommand(args []string) {
	fs, opts := newFlagSet("tokens", "tokens <file>", "Print the token stream")
	filename := opts.parse(fs, args)

	l := NewLexer(readSource(filename))
	l.NextToken()
	var prev TokenType
	for l.CurrTokenType != EOF {
		fmt.Printf("%d:%d\t%s\t%s\n", l.CurrLine, l.CurrColumn, l.CurrTokenType, l.CurrLiteral)
		if prev == ASM && l.CurrTokenType == LBRACE {
			// The body is not made of tokens.
			body, line := l.ReadRawBlock()
			fmt.Printf("%d:1\tASM_BODY\t%q\n", line, body)
			prev = RBRACE
			continue
		}
		prev = l.CurrTokenType
		l.NextToken()
	}
	if l.Errors.HasErrors() {
		fmt.Fprintf(os.Stderr, "Lexing errors in %s:\n%s\n", filename, l.Errors.String())
		os.Exit(1)
	}
}

func checkCommand(args []string) {
	fs, opts := newFlagSet("check", "check [-v] <file>", "Parse and type-check a .sw file")
	filename := opts.parse(fs, args)

	prog := compileFile(filename, opts.logger())
	fmt.Printf("%s: no errors found\n", filename)

	if opts.cfg.Verbose {
		fmt.Printf("AST: %s\n", ToSExpr(prog.AST))
	}
}

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		runCommand(args)
	case "build":
		buildCommand(args)
	case "asm":
		asmCommand(args)
	case "ast":
		astCommand(args)
	case "tokens":
		tokensCommand(args)
	case "check":
		checkCommand(args)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		showUsage()
		os.Exit(1)
	}
}
