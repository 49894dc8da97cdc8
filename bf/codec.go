package bf

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// The serialized tree is untagged: a leaf is its instruction name, a block
// is a list. A program is the list of its top-level nodes.
//
//	["increment-cell", ["decrement-cell", "output"]]

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return FormatJSON, fmt.Errorf("invalid tree format %q (want json or yaml)", s)
}

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

func (l Leaf) MarshalJSON() ([]byte, error) {
	if int(l) >= len(instructionNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstruction, uint8(l))
	}
	return json.Marshal(Instruction(l).String())
}

func (b Block) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, b, false); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (l Leaf) MarshalYAML() (interface{}, error) {
	if int(l) >= len(instructionNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstruction, uint8(l))
	}
	return Instruction(l).String(), nil
}

func (b Block) MarshalYAML() (interface{}, error) {
	if b == nil {
		return []Tree{}, nil
	}
	return []Tree(b), nil
}

func Encode(w io.Writer, program []Tree, format Format) error {
	if format == FormatYAML {
		return EncodeYAML(w, program)
	}
	return EncodeJSON(w, program, true)
}

func Decode(r io.Reader, format Format) ([]Tree, error) {
	if format == FormatYAML {
		return DecodeYAML(r)
	}
	return DecodeJSON(r)
}

// EncodeJSON writes the program followed by a newline. With indent set the
// layout matches json.Encoder.SetIndent("", "  "). Nesting depth is not
// limited.
func EncodeJSON(w io.Writer, program []Tree, indent bool) error {
	bw := bufio.NewWriter(w)
	newline := func(depth int) {
		if indent {
			bw.WriteByte('\n')
			for range depth {
				bw.WriteString("  ")
			}
		}
	}

	if len(program) == 0 {
		bw.WriteString("[]")
	} else {
		bw.WriteByte('[')
	}
	stack := []frame{{body: program}}
	for len(stack) > 0 {
		top := len(stack) - 1
		f := &stack[top]
		if f.pc == len(f.body) {
			stack = stack[:top]
			if len(f.body) > 0 {
				newline(top)
				bw.WriteByte(']')
			}
			continue
		}
		if f.pc > 0 {
			bw.WriteByte(',')
		}
		newline(top + 1)
		node := f.body[f.pc]
		f.pc++

		switch n := node.(type) {
		case Leaf:
			if int(n) >= len(instructionNames) {
				return fmt.Errorf("%w: %d", ErrUnknownInstruction, uint8(n))
			}
			// names are plain lowercase ascii and need no escaping
			bw.WriteByte('"')
			bw.WriteString(Instruction(n).String())
			bw.WriteByte('"')
		case Block:
			if len(n) == 0 {
				bw.WriteString("[]")
			} else {
				bw.WriteByte('[')
				stack = append(stack, frame{body: n})
			}
		default:
			return fmt.Errorf("unexpected tree node %T", node)
		}
	}
	bw.WriteByte('\n')

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	return nil
}

// DecodeJSON reads exactly one program. Anything but whitespace after it is
// an error. Nesting depth is not limited.
func DecodeJSON(r io.Reader) ([]Tree, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrDecode)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if tok != json.Delim('[') {
		return nil, fmt.Errorf("%w: program must be a list, got %v", ErrDecode, tok)
	}

	var program []Tree
	stack := [][]Tree{{}}
	for len(stack) > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		top := len(stack) - 1

		switch t := tok.(type) {
		case string:
			inst, err := ParseInstruction(t)
			if err != nil {
				return nil, fmt.Errorf("%w: offset %d: %w", ErrDecode, dec.InputOffset(), err)
			}
			stack[top] = append(stack[top], Leaf(inst))
		case json.Delim:
			switch t {
			case '[':
				stack = append(stack, []Tree{})
			case ']':
				body := stack[top]
				stack = stack[:top]
				if top == 0 {
					program = body
				} else {
					stack[top-1] = append(stack[top-1], Block(body))
				}
			default:
				return nil, fmt.Errorf("%w: offset %d: node must be a string or a list", ErrDecode, dec.InputOffset())
			}
		default:
			return nil, fmt.Errorf("%w: offset %d: node must be a string or a list, got %v", ErrDecode, dec.InputOffset(), t)
		}
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: offset %d: unexpected data after program", ErrDecode, dec.InputOffset())
	}
	return program, nil
}

// MaxYAMLDepth is the deepest block nesting the YAML codec handles. The YAML
// decoder refuses documents nested more than 10000 levels, and the program
// list itself takes one of them.
const MaxYAMLDepth = 9999

// EncodeYAML fails with ErrTreeTooDeep for programs deeper than MaxYAMLDepth.
func EncodeYAML(w io.Writer, program []Tree) error {
	if d := Depth(program); d > MaxYAMLDepth {
		return fmt.Errorf("%w: depth %d, yaml allows %d", ErrTreeTooDeep, d, MaxYAMLDepth)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Block(program)); err != nil {
		return err
	}
	return enc.Close()
}

// DecodeYAML reads a single-document program. Trees deeper than
// MaxYAMLDepth fail with both ErrDecode and ErrTreeTooDeep.
func DecodeYAML(r io.Reader) ([]Tree, error) {
	dec := yaml.NewDecoder(r)
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrDecode)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after program", ErrDecode)
	}

	node := &doc
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: program must be a list (line %d)", ErrDecode, node.Line)
	}
	return decodeYAMLSequence(node, 0)
}

func decodeYAMLSequence(node *yaml.Node, depth int) ([]Tree, error) {
	if depth > MaxYAMLDepth {
		return nil, fmt.Errorf("%w: %w: line %d", ErrDecode, ErrTreeTooDeep, node.Line)
	}
	out := make([]Tree, 0, len(node.Content))
	for _, child := range node.Content {
		switch child.Kind {
		case yaml.ScalarNode:
			inst, err := ParseInstruction(child.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrDecode, child.Line, err)
			}
			out = append(out, Leaf(inst))
		case yaml.SequenceNode:
			body, err := decodeYAMLSequence(child, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, Block(body))
		default:
			return nil, fmt.Errorf("%w: line %d: node must be a string or a list", ErrDecode, child.Line)
		}
	}
	return out, nil
}
