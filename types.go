package main

import "strings"

// TypeKind distinguishes builtin types from pointer types.
type TypeKind string

const (
	TypeBuiltin TypeKind = "TypeBuiltin"
	TypePointer TypeKind = "TypePointer"
)

// TypeNode is a type expression. A pointer type of depth d to base type T is
// d nested TypePointer nodes around a TypeBuiltin node.
type TypeNode struct {
	Kind TypeKind
	// TypeBuiltin:
	String string
	// TypePointer:
	Child *TypeNode
}

var (
	TypeU8     = &TypeNode{Kind: TypeBuiltin, String: "u8"}
	TypeU16    = &TypeNode{Kind: TypeBuiltin, String: "u16"}
	TypeU32    = &TypeNode{Kind: TypeBuiltin, String: "u32"}
	TypeU64    = &TypeNode{Kind: TypeBuiltin, String: "u64"}
	TypeI8     = &TypeNode{Kind: TypeBuiltin, String: "i8"}
	TypeI16    = &TypeNode{Kind: TypeBuiltin, String: "i16"}
	TypeI32    = &TypeNode{Kind: TypeBuiltin, String: "i32"}
	TypeI64    = &TypeNode{Kind: TypeBuiltin, String: "i64"}
	TypeUsize  = &TypeNode{Kind: TypeBuiltin, String: "usize"}
	TypeIsize  = &TypeNode{Kind: TypeBuiltin, String: "isize"}
	TypeInt    = &TypeNode{Kind: TypeBuiltin, String: "int"}
	TypeUint   = &TypeNode{Kind: TypeBuiltin, String: "uint"}
	TypeF32    = &TypeNode{Kind: TypeBuiltin, String: "f32"}
	TypeF64    = &TypeNode{Kind: TypeBuiltin, String: "f64"}
	TypeBool   = &TypeNode{Kind: TypeBuiltin, String: "bool"}
	TypeString = &TypeNode{Kind: TypeBuiltin, String: "string"}
	TypeVoid   = &TypeNode{Kind: TypeBuiltin, String: "void"}

	// Types of literals before they meet a declared type.
	TypeUntypedInt   = &TypeNode{Kind: TypeBuiltin, String: "untyped int"}
	TypeUntypedFloat = &TypeNode{Kind: TypeBuiltin, String: "untyped float"}
	TypeNull         = &TypeNode{Kind: TypeBuiltin, String: "null"}
)

var builtinTypes = map[string]*TypeNode{
	"u8": TypeU8, "u16": TypeU16, "u32": TypeU32, "u64": TypeU64,
	"i8": TypeI8, "i16": TypeI16, "i32": TypeI32, "i64": TypeI64,
	"usize": TypeUsize, "isize": TypeIsize, "int": TypeInt, "uint": TypeUint,
	"f32": TypeF32, "f64": TypeF64,
	"bool": TypeBool, "string": TypeString, "void": TypeVoid,
}

// LookupBuiltinType returns the builtin type with the given name, or nil.
func LookupBuiltinType(name string) *TypeNode {
	return builtinTypes[name]
}

func NewPointerType(child *TypeNode) *TypeNode {
	return &TypeNode{Kind: TypePointer, Child: child}
}

// NewPointerTypeDepth wraps base in depth pointer levels.
func NewPointerTypeDepth(base *TypeNode, depth int) *TypeNode {
	t := base
	for i := 0; i < depth; i++ {
		t = NewPointerType(t)
	}
	return t
}

// PointerDepth returns the number of indirections of t (0 for values).
func PointerDepth(t *TypeNode) int {
	depth := 0
	for t != nil && t.Kind == TypePointer {
		depth++
		t = t.Child
	}
	return depth
}

// BaseType strips every pointer level from t.
func BaseType(t *TypeNode) *TypeNode {
	for t != nil && t.Kind == TypePointer {
		t = t.Child
	}
	return t
}

// TypesEqual reports whether a and b have the same base type and depth.
func TypesEqual(a, b *TypeNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == TypePointer {
		return TypesEqual(a.Child, b.Child)
	}
	return canonicalName(a.String) == canonicalName(b.String)
}

// int and uint are spelled differently but are the pointer-width integers.
func canonicalName(name string) string {
	switch name {
	case "int":
		return "isize"
	case "uint":
		return "usize"
	}
	return name
}

func TypeToString(t *TypeNode) string {
	if t == nil {
		return "void"
	}
	depth := PointerDepth(t)
	return BaseType(t).String + strings.Repeat("*", depth)
}

// GetTypeSize returns the storage size of t in bytes.
func GetTypeSize(t *TypeNode) int {
	if t == nil {
		return 0
	}
	if t.Kind == TypePointer {
		return 8
	}
	switch t.String {
	case "u8", "i8", "bool":
		return 1
	case "u16", "i16":
		return 2
	case "u32", "i32", "f32":
		return 4
	case "void":
		return 0
	default:
		return 8
	}
}

func IsPointerType(t *TypeNode) bool {
	return t != nil && t.Kind == TypePointer
}

// IsAddressType reports whether values of t are machine addresses.
func IsAddressType(t *TypeNode) bool {
	return IsPointerType(t) || TypesEqual(t, TypeString) || t == TypeNull
}

func IsIntegerType(t *TypeNode) bool {
	if t == nil || t.Kind != TypeBuiltin {
		return false
	}
	switch t.String {
	case "u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64",
		"usize", "isize", "int", "uint", "untyped int":
		return true
	}
	return false
}

func IsSignedType(t *TypeNode) bool {
	if t == nil || t.Kind != TypeBuiltin {
		return false
	}
	switch t.String {
	case "i8", "i16", "i32", "i64", "isize", "int", "untyped int":
		return true
	}
	return false
}

func IsFloatType(t *TypeNode) bool {
	if t == nil || t.Kind != TypeBuiltin {
		return false
	}
	return t.String == "f32" || t.String == "f64" || t.String == "untyped float"
}

func IsUntyped(t *TypeNode) bool {
	return t == TypeUntypedInt || t == TypeUntypedFloat || t == TypeNull
}

// IntegerBits returns the width in bits of an integer type.
func IntegerBits(t *TypeNode) int {
	return GetTypeSize(t) * 8
}
