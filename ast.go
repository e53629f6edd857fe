package main

import (
	"strconv"
	"strings"
)

// NodeKind represents different types of AST nodes
type NodeKind string

const (
	NodeIdent   NodeKind = "NodeIdent"
	NodeString  NodeKind = "NodeString"
	NodeInteger NodeKind = "NodeInteger"
	NodeFloat   NodeKind = "NodeFloat"
	NodeChar    NodeKind = "NodeChar"
	NodeBoolean NodeKind = "NodeBoolean"
	NodeNull    NodeKind = "NodeNull"
	NodeBinary  NodeKind = "NodeBinary"
	NodeUnary   NodeKind = "NodeUnary"
	NodeCast    NodeKind = "NodeCast"
	NodeCall    NodeKind = "NodeCall"
	NodeVar     NodeKind = "NodeVar"
	NodeFunc    NodeKind = "NodeFunc"
	NodeExtern  NodeKind = "NodeExtern"
	NodeAsm     NodeKind = "NodeAsm"
	NodeReturn  NodeKind = "NodeReturn"
	NodeIf      NodeKind = "NodeIf"
	NodeWhile   NodeKind = "NodeWhile"
	NodeBlock   NodeKind = "NodeBlock"
)

// Parameter is a named function parameter.
type Parameter struct {
	Name   string
	Type   *TypeNode
	Symbol *SymbolInfo
}

// ASTNode represents a node in the Abstract Syntax Tree
type ASTNode struct {
	Kind NodeKind
	// NodeIdent, NodeString, NodeVar/NodeFunc/NodeExtern name:
	String string
	// NodeInteger, NodeChar (two's complement bits):
	Integer int64
	// NodeInteger: literal magnitude exceeded the int64 range.
	Unsigned bool
	// NodeFloat:
	Float float64
	// NodeBoolean:
	Boolean bool
	// NodeBinary, NodeUnary:
	Op       string
	Children []*ASTNode

	// NodeVar, NodeCast: declared type. NodeFunc, NodeExtern: return type.
	DeclType *TypeNode
	// NodeFunc: named parameters. NodeExtern: unnamed parameter types.
	Params   []Parameter
	Variadic bool
	Public   bool

	// NodeAsm: raw body text and its parsed form.
	AsmText string
	Asm     *AsmBlock

	// Filled in by BuildSymbolTable and CheckProgram.
	Symbol  *SymbolInfo
	TypeAST *TypeNode

	Line   int
	Column int
}

// ToSExpr converts an AST node to s-expression string representation
func ToSExpr(node *ASTNode) string {
	if node == nil {
		return "nil"
	}
	switch node.Kind {
	case NodeIdent:
		return "(ident " + quote(node.String) + ")"
	case NodeString:
		return "(string " + quote(node.String) + ")"
	case NodeInteger:
		if node.Unsigned {
			return strconv.FormatUint(uint64(node.Integer), 10)
		}
		return strconv.FormatInt(node.Integer, 10)
	case NodeFloat:
		return "(float " + quote(strconv.FormatFloat(node.Float, 'g', -1, 64)) + ")"
	case NodeChar:
		return "(char " + strconv.FormatInt(node.Integer, 10) + ")"
	case NodeBoolean:
		if node.Boolean {
			return "(boolean true)"
		}
		return "(boolean false)"
	case NodeNull:
		return "(null)"
	case NodeBinary:
		return "(binary " + quote(node.Op) + " " + ToSExpr(node.Children[0]) + " " + ToSExpr(node.Children[1]) + ")"
	case NodeUnary:
		return "(unary " + quote(node.Op) + " " + ToSExpr(node.Children[0]) + ")"
	case NodeCast:
		return "(cast " + ToSExpr(node.Children[0]) + " " + quote(TypeToString(node.DeclType)) + ")"
	case NodeCall:
		result := "(call " + ToSExpr(node.Children[0])
		for _, arg := range node.Children[1:] {
			result += " " + ToSExpr(arg)
		}
		return result + ")"
	case NodeVar:
		result := "(var " + quote(node.String) + " " + quote(TypeToString(node.DeclType))
		if len(node.Children) > 0 {
			result += " " + ToSExpr(node.Children[0])
		}
		return result + ")"
	case NodeFunc:
		var params []string
		for _, p := range node.Params {
			params = append(params, "("+quote(p.Name)+" "+quote(TypeToString(p.Type))+")")
		}
		return "(func " + quote(node.String) + " (" + strings.Join(params, " ") + ") " +
			quote(TypeToString(node.DeclType)) + " " + ToSExpr(node.Children[0]) + ")"
	case NodeExtern:
		var params []string
		for _, p := range node.Params {
			params = append(params, quote(TypeToString(p.Type)))
		}
		if node.Variadic {
			params = append(params, quote("..."))
		}
		return "(extern " + quote(node.String) + " (" + strings.Join(params, " ") + ") " +
			quote(TypeToString(node.DeclType)) + ")"
	case NodeAsm:
		var lines []string
		for _, line := range SplitAsmLines(node.AsmText, node.Line) {
			lines = append(lines, quote(line.Text))
		}
		return "(asm " + strings.Join(lines, " ") + ")"
	case NodeReturn:
		if len(node.Children) == 0 {
			return "(return)"
		}
		return "(return " + ToSExpr(node.Children[0]) + ")"
	case NodeIf:
		result := "(if " + ToSExpr(node.Children[0]) + " " + ToSExpr(node.Children[1])
		if len(node.Children) > 2 {
			result += " " + ToSExpr(node.Children[2])
		}
		return result + ")"
	case NodeWhile:
		return "(while " + ToSExpr(node.Children[0]) + " " + ToSExpr(node.Children[1]) + ")"
	case NodeBlock:
		result := "(block"
		for _, child := range node.Children {
			result += " " + ToSExpr(child)
		}
		return result + ")"
	default:
		return ""
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return "\"" + s + "\""
}
