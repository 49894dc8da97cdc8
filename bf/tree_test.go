package bf_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/runbf/bf"
	"github.com/MarcinKonowalczyk/runbf/utils"
)

func parse(source string) []bf.Tree {
	return bf.Parse(bf.Lex(source))
}

func TestParse_Empty(t *testing.T) {
	utils.AssertEqual(t, len(bf.Parse(nil)), 0)
	utils.AssertEqual(t, len(parse("no operators here")), 0)
}

func TestParse_Flat(t *testing.T) {
	expected := []bf.Tree{
		bf.Leaf(bf.IncrementPointer),
		bf.Leaf(bf.DecrementPointer),
		bf.Leaf(bf.IncrementCell),
		bf.Leaf(bf.DecrementCell),
		bf.Leaf(bf.Output),
		bf.Leaf(bf.Input),
	}
	utils.AssertDeepEqual(t, expected, parse("><+-.,"))
}

func TestParse_Loop(t *testing.T) {
	// +++[->+<]
	expected := []bf.Tree{
		bf.Leaf(bf.IncrementCell),
		bf.Leaf(bf.IncrementCell),
		bf.Leaf(bf.IncrementCell),
		bf.Block{
			bf.Leaf(bf.DecrementCell),
			bf.Leaf(bf.IncrementPointer),
			bf.Leaf(bf.IncrementCell),
			bf.Leaf(bf.DecrementPointer),
		},
	}
	utils.AssertDeepEqual(t, expected, parse("+++[->+<]"))
}

func TestParse_NestedOnlyLoops(t *testing.T) {
	expected := []bf.Tree{
		bf.Block{bf.Block{}, bf.Block{bf.Block{}}},
	}
	utils.AssertDeepEqual(t, expected, parse("[[][[]]]"))
}

func TestParse_EmptyBlockIsNotNil(t *testing.T) {
	program := parse("[]")
	utils.AssertEqual(t, len(program), 1)
	block, ok := program[0].(bf.Block)
	utils.Assert(t, ok, "expected a block")
	utils.Assert(t, block != nil, "expected a non-nil empty block")
}

func TestParse_UnmatchedLoopEndIsDropped(t *testing.T) {
	expected := []bf.Tree{
		bf.Leaf(bf.IncrementCell),
		bf.Block{bf.Leaf(bf.Output)},
		bf.Leaf(bf.DecrementCell),
	}
	utils.AssertDeepEqual(t, expected, parse("]+][.]]-]"))
}

func TestParse_UnmatchedLoopStartRunsToEnd(t *testing.T) {
	expected := []bf.Tree{
		bf.Leaf(bf.IncrementCell),
		bf.Block{
			bf.Leaf(bf.Output),
			bf.Block{bf.Leaf(bf.DecrementCell)},
			bf.Block{
				bf.Leaf(bf.Input),
			},
		},
	}
	utils.AssertDeepEqual(t, expected, parse("+[.[-][,"))
}

func TestParse_DeepNesting(t *testing.T) {
	const depth = 100_000
	program := parse(strings.Repeat("[", depth) + "+" + strings.Repeat("]", depth))
	utils.AssertEqual(t, len(program), 1)

	node := program[0]
	for i := 0; i < depth; i++ {
		block, ok := node.(bf.Block)
		if !ok || len(block) != 1 {
			t.Fatalf("level %d: expected a block with a single child, got %#v", i, node)
		}
		node = block[0]
	}
	utils.AssertEqual(t, node, bf.Tree(bf.Leaf(bf.IncrementCell)))
}

func TestFlatten_PreservesInstructionOrder(t *testing.T) {
	sources := []string{
		"",
		"+-<>.,",
		"+++[->+<]",
		"++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.",
		"[[[,]].[-[+]]>]<",
	}
	for _, source := range sources {
		var expected []bf.Instruction
		for _, tok := range bf.Lex(source) {
			if inst, ok := tok.Instruction(); ok {
				expected = append(expected, inst)
			}
		}
		result := bf.Flatten(parse(source))
		utils.AssertEqual(t, len(result), len(expected))
		utils.AssertEqualArrays(t, expected, result)
	}
}

func TestSource_RoundTrip(t *testing.T) {
	source := "++[>+<-]>[[-]<.>,]"
	utils.AssertEqual(t, bf.Source(parse(source)), source)
	// comments and stray brackets are normalised away
	utils.AssertEqual(t, bf.Source(parse("] a + b [ .")), "+[.]")
}

func TestParseSource(t *testing.T) {
	program, err := bf.ParseSource(strings.NewReader("+[-]"))
	utils.AssertNoError(t, err)
	utils.AssertDeepEqual(t, []bf.Tree{bf.Leaf(bf.IncrementCell), bf.Block{bf.Leaf(bf.DecrementCell)}}, program)

	boom := errors.New("boom")
	_, err = bf.ParseSource(&failingReader{data: []byte("+"), err: boom})
	utils.AssertErrorIs(t, err, bf.ErrSourceRead)
}

func TestParseInstruction(t *testing.T) {
	for _, inst := range []bf.Instruction{bf.IncrementPointer, bf.DecrementPointer, bf.IncrementCell, bf.DecrementCell, bf.Output, bf.Input} {
		parsed, err := bf.ParseInstruction(inst.String())
		utils.AssertNoError(t, err)
		utils.AssertEqual(t, parsed, inst)
	}
	_, err := bf.ParseInstruction("loop")
	utils.AssertErrorIs(t, err, bf.ErrUnknownInstruction)
}

func TestDepth(t *testing.T) {
	tests := []struct {
		source string
		depth  int
	}{
		{"", 0},
		{"+-.", 0},
		{"[]", 1},
		{"[][[]]", 2},
		{"+[-[>[.]<]]", 3},
		{"]]][", 1},
	}
	for _, tt := range tests {
		utils.AssertEqual(t, bf.Depth(parse(tt.source)), tt.depth)
	}
}
