package main

import (
	"fmt"
	"strings"
)

// ErrorKind classifies compile-time errors.
type ErrorKind string

const (
	ErrLex            ErrorKind = "LexError"
	ErrParse          ErrorKind = "ParseError"
	ErrSymbol         ErrorKind = "SymbolError"
	ErrType           ErrorKind = "TypeError"
	ErrPointerType    ErrorKind = "PointerTypeError"
	ErrAddressability ErrorKind = "AddressabilityError"
	ErrAssemblyParse  ErrorKind = "AssemblyParseError"
	ErrABIMismatch    ErrorKind = "ABIMismatchError"
)

// CompileError is a single diagnostic. Any CompileError halts compilation.
type CompileError struct {
	Kind    ErrorKind
	Line    int
	Column  int
	Message string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%d:%d: %s: %s", e.Line, e.Column, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Short renders the error without its position.
func (e *CompileError) Short() string {
	return string(e.Kind) + ": " + e.Message
}

// ErrorCollection accumulates errors for one compilation stage.
type ErrorCollection struct {
	Errors []*CompileError
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (ec *ErrorCollection) Add(kind ErrorKind, line, column int, format string, args ...any) {
	ec.Errors = append(ec.Errors, &CompileError{
		Kind:    kind,
		Line:    line,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	})
}

// AddAt records an error positioned at node.
func (ec *ErrorCollection) AddAt(kind ErrorKind, node *ASTNode, format string, args ...any) {
	line, col := 0, 0
	if node != nil {
		line, col = node.Line, node.Column
	}
	ec.Add(kind, line, col, format, args...)
}

func (ec *ErrorCollection) HasErrors() bool {
	return ec != nil && len(ec.Errors) > 0
}

// First returns the first recorded error, or nil.
func (ec *ErrorCollection) First() *CompileError {
	if !ec.HasErrors() {
		return nil
	}
	return ec.Errors[0]
}

func (ec *ErrorCollection) String() string {
	var lines []string
	for _, err := range ec.Errors {
		lines = append(lines, err.Error())
	}
	return strings.Join(lines, "\n")
}

// Err returns the collection as an error, or nil if it is empty.
func (ec *ErrorCollection) Err() error {
	if !ec.HasErrors() {
		return nil
	}
	return ec
}

func (ec *ErrorCollection) Error() string {
	return ec.String()
}
