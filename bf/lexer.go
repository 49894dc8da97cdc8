package bf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Token is a single recognised operator character of the source.
type Token rune

const (
	MovePtrRight  Token = '>'
	MovePtrLeft   Token = '<'
	CellIncrement Token = '+'
	CellDecrement Token = '-'
	ByteOutput    Token = '.'
	ByteInput     Token = ','
	LoopStart     Token = '['
	LoopEnd       Token = ']'
)

// Recognise a source byte. Anything that is not an operator is a comment.
func recognise(c byte) (Token, bool) {
	switch c {
	case '>':
		return MovePtrRight, true
	case '<':
		return MovePtrLeft, true
	case '+':
		return CellIncrement, true
	case '-':
		return CellDecrement, true
	case '.':
		return ByteOutput, true
	case ',':
		return ByteInput, true
	case '[':
		return LoopStart, true
	case ']':
		return LoopEnd, true
	default:
		return 0, false
	}
}

func (t Token) String() string {
	return string(rune(t))
}

// Instruction returns the executable instruction for t. Loop brackets have
// none; they only shape the tree.
func (t Token) Instruction() (Instruction, bool) {
	switch t {
	case MovePtrRight:
		return IncrementPointer, true
	case MovePtrLeft:
		return DecrementPointer, true
	case CellIncrement:
		return IncrementCell, true
	case CellDecrement:
		return DecrementCell, true
	case ByteOutput:
		return Output, true
	case ByteInput:
		return Input, true
	default:
		return 0, false
	}
}

// PreLex strips everything but operator characters from the input.
func PreLex(input string) string {
	var sb strings.Builder
	for i := 0; i < len(input); i++ {
		if _, ok := recognise(input[i]); ok {
			sb.WriteByte(input[i])
		}
	}
	return sb.String()
}

type Lexer struct {
	r *bufio.Reader
}

func NewLexer(r io.Reader) *Lexer {
	return &Lexer{
		r: bufio.NewReader(r),
	}
}

// Lex reads the source to exhaustion. On a read failure no tokens are
// returned, only the error.
func (l *Lexer) Lex() ([]Token, error) {
	tokens := []Token{}
	for {
		c, err := l.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return tokens, nil
			}
			return nil, fmt.Errorf("%w: %w", ErrSourceRead, err)
		}
		if t, ok := recognise(c); ok {
			tokens = append(tokens, t)
		}
	}
}

// Tokenize lexes the whole byte source.
func Tokenize(r io.Reader) ([]Token, error) {
	return NewLexer(r).Lex()
}

// Lex tokenizes an in-memory source. It cannot fail.
func Lex(input string) []Token {
	tokens, _ := Tokenize(strings.NewReader(input))
	return tokens
}
