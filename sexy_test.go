package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nalgeon/be"
	"github.com/strager/sweet/sexy"
)

func TestSexyAllTests(t *testing.T) {
	testFiles, err := filepath.Glob("test/*_test.md")
	be.Err(t, err, nil)
	be.True(t, len(testFiles) > 0)

	for _, testFile := range testFiles {
		testName := strings.TrimSuffix(filepath.Base(testFile), ".md")

		t.Run(testName, func(t *testing.T) {
			content, err := os.ReadFile(testFile)
			be.Err(t, err, nil)

			testCases, err := sexy.ExtractTestCases(string(content))
			be.Err(t, err, nil)

			for _, tc := range testCases {
				t.Run(tc.Name, func(t *testing.T) {
					runSexyTestCase(t, tc)
				})
			}
		})
	}
}

func runSexyTestCase(t *testing.T, tc sexy.TestCase) {
	for _, assertion := range tc.Assertions {
		switch assertion.Type {
		case sexy.AssertionTypeAST:
			assertSexyAST(t, tc, assertion.ParsedSexy)
		case sexy.AssertionTypeCompileError:
			_, err := Compile([]byte(tc.Input))
			be.True(t, err != nil)
			var cerr *CompileError
			be.True(t, errors.As(err, &cerr))
			assertMessage(t, cerr.Short(), assertion.Content)
		}
	}

	var run *sexyRun
	for _, assertion := range tc.Assertions {
		switch assertion.Type {
		case sexy.AssertionTypeExecute, sexy.AssertionTypePort, sexy.AssertionTypeExitCode, sexy.AssertionTypeFault:
		default:
			continue
		}
		if run == nil {
			run = executeSexyTestCase(t, tc)
		}
		switch assertion.Type {
		case sexy.AssertionTypeExecute:
			be.Equal(t, strings.TrimRight(string(run.res.Stdout), "\n"), assertion.Content)
		case sexy.AssertionTypePort:
			be.Equal(t, strings.TrimRight(string(run.res.Port), "\n"), assertion.Content)
		case sexy.AssertionTypeExitCode:
			be.Equal(t, strconv.Itoa(run.res.ExitCode), strings.TrimSpace(assertion.Content))
		case sexy.AssertionTypeFault:
			var fault *Fault
			be.True(t, errors.As(run.err, &fault))
			be.Equal(t, fault.Signal(), strings.TrimSpace(assertion.Content))
		}
	}
	if run != nil && run.err != nil && !hasAssertion(tc, sexy.AssertionTypeFault) {
		t.Fatalf("unexpected execution error: %v", run.err)
	}
}

func hasAssertion(tc sexy.TestCase, typ sexy.AssertionType) bool {
	for _, a := range tc.Assertions {
		if a.Type == typ {
			return true
		}
	}
	return false
}

// assertMessage compares a diagnostic with an expectation. A trailing "..."
// in the expectation matches any remaining text.
func assertMessage(t *testing.T, got, want string) {
	t.Helper()
	if prefix, ok := strings.CutSuffix(want, "..."); ok {
		if !strings.HasPrefix(got, prefix) {
			t.Errorf("error %q does not start with %q", got, prefix)
		}
		return
	}
	be.Equal(t, got, want)
}

func assertSexyAST(t *testing.T, tc sexy.TestCase, pattern *sexy.Node) {
	t.Helper()
	l := NewLexer([]byte(tc.Input))
	l.NextToken()
	var node *ASTNode
	switch tc.InputType {
	case sexy.InputTypeSweetExpr:
		node = ParseExpression(l)
	case sexy.InputTypeSweetProgram:
		node = ParseProgram(l)
	default:
		t.Fatalf("unknown input type: %s", tc.InputType)
	}
	be.Equal(t, l.Errors.String(), "")

	actual, err := sexy.Parse(ToSExpr(node))
	be.Err(t, err, nil)
	if err := sexy.Match(pattern, actual); err != nil {
		t.Errorf("%v\nfull AST: %s", err, actual)
	}
}

// sexyRun is the outcome of executing a test program. Output is compared
// without trailing newlines, since fences cannot express them.
type sexyRun struct {
	res *Result
	err error
}

func executeSexyTestCase(t *testing.T, tc sexy.TestCase) *sexyRun {
	t.Helper()
	prog, err := Compile([]byte(tc.Input))
	be.Err(t, err, nil)

	cfg := DefaultConfig()
	if tc.Mode != "" {
		mode, err := ParseMode(tc.Mode)
		be.Err(t, err, nil)
		cfg.Mode = mode
	}
	var stdout bytes.Buffer
	m := NewMachine(cfg)
	m.Stdout = &stdout
	m.Stdin = strings.NewReader(tc.InputData)
	res, err := m.Run(prog)
	be.True(t, res != nil)
	res.Stdout = stdout.Bytes()
	return &sexyRun{res: res, err: err}
}
