package bf

import (
	"fmt"
	"io"
)

// Instruction is one of the six executable operations. Loop brackets are not
// instructions; they become Blocks.
type Instruction uint8

const (
	IncrementPointer Instruction = iota
	DecrementPointer
	IncrementCell
	DecrementCell
	Output
	Input
)

var instructionNames = [...]string{
	IncrementPointer: "increment-pointer",
	DecrementPointer: "decrement-pointer",
	IncrementCell:    "increment-cell",
	DecrementCell:    "decrement-cell",
	Output:           "output",
	Input:            "input",
}

// String returns the tag name used by the serialized tree format.
func (i Instruction) String() string {
	if int(i) < len(instructionNames) {
		return instructionNames[i]
	}
	return fmt.Sprintf("instruction(%d)", uint8(i))
}

// Token returns the source character of the instruction.
func (i Instruction) Token() Token {
	switch i {
	case IncrementPointer:
		return MovePtrRight
	case DecrementPointer:
		return MovePtrLeft
	case IncrementCell:
		return CellIncrement
	case DecrementCell:
		return CellDecrement
	case Output:
		return ByteOutput
	default:
		return ByteInput
	}
}

func ParseInstruction(name string) (Instruction, error) {
	for i, n := range instructionNames {
		if n == name {
			return Instruction(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownInstruction, name)
}

// Tree is either a Leaf or a Block. Trees are not modified once built.
type Tree interface {
	isTree()
}

// Leaf is a single executable operation.
type Leaf Instruction

// Block is the body of one loop, in source order.
type Block []Tree

func (Leaf) isTree()  {}
func (Block) isTree() {}

func (l Leaf) String() string {
	return Instruction(l).String()
}

// Parse groups a flat token sequence into a program.
//
// A LoopEnd without an open loop is dropped. A LoopStart that is never closed
// takes everything up to the end of the input as its body. Open loops are kept
// on an explicit stack so nesting depth is bounded by memory only.
func Parse(tokens []Token) []Tree {
	// stack[0] is the top level; each open loop pushes a body.
	stack := [][]Tree{{}}
	for _, t := range tokens {
		top := len(stack) - 1
		switch t {
		case LoopStart:
			stack = append(stack, Block{})
		case LoopEnd:
			if top == 0 {
				continue
			}
			body := Block(stack[top])
			stack = stack[:top]
			stack[top-1] = append(stack[top-1], body)
		default:
			inst, ok := t.Instruction()
			if !ok {
				continue
			}
			stack[top] = append(stack[top], Leaf(inst))
		}
	}
	// close loops left open at end of input, innermost first
	for top := len(stack) - 1; top > 0; top-- {
		stack[top-1] = append(stack[top-1], Block(stack[top]))
	}
	return stack[0]
}

// ParseSource tokenizes r and parses the result.
func ParseSource(r io.Reader) ([]Tree, error) {
	tokens, err := Tokenize(r)
	if err != nil {
		return nil, err
	}
	return Parse(tokens), nil
}

// Flatten lists the leaves of a program in source order.
func Flatten(program []Tree) []Instruction {
	out := []Instruction{}
	var walk func([]Tree)
	walk = func(nodes []Tree) {
		for _, n := range nodes {
			switch n := n.(type) {
			case Leaf:
				out = append(out, Instruction(n))
			case Block:
				walk(n)
			}
		}
	}
	walk(program)
	return out
}

// Source renders a program back to operator characters.
func Source(program []Tree) string {
	var buf []byte
	var walk func([]Tree)
	walk = func(nodes []Tree) {
		for _, n := range nodes {
			switch n := n.(type) {
			case Leaf:
				buf = append(buf, byte(Instruction(n).Token()))
			case Block:
				buf = append(buf, byte(LoopStart))
				walk(n)
				buf = append(buf, byte(LoopEnd))
			}
		}
	}
	walk(program)
	return string(buf)
}

// Depth reports how deeply blocks nest in program. A flat program has depth 0.
func Depth(program []Tree) int {
	deepest := 0
	stack := []frame{{body: program}}
	for len(stack) > 0 {
		top := len(stack) - 1
		f := &stack[top]
		if f.pc == len(f.body) {
			stack = stack[:top]
			continue
		}
		node := f.body[f.pc]
		f.pc++
		if b, ok := node.(Block); ok {
			stack = append(stack, frame{body: b})
			if len(stack)-1 > deepest {
				deepest = len(stack) - 1
			}
		}
	}
	return deepest
}
