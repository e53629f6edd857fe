package main

// SlotSize is the size of every frame slot. Values narrower than a slot are
// stored in its low bytes.
const SlotSize = 8

// LocalVarInfo represents information about a local variable
type LocalVarInfo struct {
	Name   string
	Type   string
	Offset int // rbp-relative offset of the slot
	Symbol *SymbolInfo
}

// Frame is the stack layout of one function activation.
type Frame struct {
	Func   *ASTNode
	Locals []LocalVarInfo
	// Size is the number of bytes reserved below rbp, a multiple of 16.
	Size    int
	offsets map[*SymbolInfo]int
}

// Offset returns the rbp-relative offset of symbol's slot.
func (f *Frame) Offset(symbol *SymbolInfo) (int, bool) {
	off, ok := f.offsets[symbol]
	return off, ok
}

// LayoutFrame gives every parameter and local of fn its own slot. Slots are
// never reused, so each variable keeps one address for the whole activation.
func LayoutFrame(fn *ASTNode) *Frame {
	frame := &Frame{Func: fn, offsets: make(map[*SymbolInfo]int)}
	for _, p := range fn.Params {
		frame.add(p.Name, TypeToString(p.Type), p.Symbol)
	}
	for _, local := range collectLocalVariables(fn.Children[0]) {
		frame.add(local.Name, local.Type, local.Symbol)
	}
	frame.Size = (len(frame.Locals)*SlotSize + 15) &^ 15
	return frame
}

func (f *Frame) add(name, typeName string, symbol *SymbolInfo) {
	off := -(len(f.Locals) + 1) * SlotSize
	f.Locals = append(f.Locals, LocalVarInfo{Name: name, Type: typeName, Offset: off, Symbol: symbol})
	if symbol != nil {
		f.offsets[symbol] = off
	}
}

// collectLocalVariables traverses AST to find all var declarations
func collectLocalVariables(node *ASTNode) []LocalVarInfo {
	var locals []LocalVarInfo
	collectLocalsRecursive(node, &locals)
	return locals
}

func collectLocalsRecursive(node *ASTNode, locals *[]LocalVarInfo) {
	if node == nil {
		return
	}

	switch node.Kind {
	case NodeVar:
		*locals = append(*locals, LocalVarInfo{
			Name:   node.String,
			Type:   TypeToString(node.DeclType),
			Symbol: node.Symbol,
		})

	case NodeBlock, NodeIf, NodeWhile:
		// Recursively process child statements
		for _, child := range node.Children {
			collectLocalsRecursive(child, locals)
		}
	}
}
