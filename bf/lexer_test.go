package bf_test

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MarcinKonowalczyk/runbf/bf"
	"github.com/MarcinKonowalczyk/runbf/utils"
)

func TestPreLex(t *testing.T) {
	input := "++\n\n--<    >.,[hello sailor]"
	expected := "++--<>.,[]"
	result := bf.PreLex(input)
	utils.AssertEqual(t, result, expected)
}

func TestLex(t *testing.T) {
	input := "><+-.,[]"
	expected := []bf.Token{
		bf.MovePtrRight,
		bf.MovePtrLeft,
		bf.CellIncrement,
		bf.CellDecrement,
		bf.ByteOutput,
		bf.ByteInput,
		bf.LoopStart,
		bf.LoopEnd,
	}
	result := bf.Lex(input)
	utils.AssertEqualArrays(t, expected, result)
}

func TestTokenize_CommentsOnly(t *testing.T) {
	for _, input := range []string{"", "hello world 123\n\t", "\x00\xff\x80"} {
		tokens, err := bf.Tokenize(strings.NewReader(input))
		utils.AssertNoError(t, err)
		utils.AssertEqual(t, len(tokens), 0)
		utils.AssertEqual(t, len(bf.Parse(tokens)), 0)
	}
}

func TestTokenize_SmallReads(t *testing.T) {
	// one byte per Read must give the same result as a single read
	source := strings.Repeat("+[>.<-] comment ", 500)
	tokens, err := bf.Tokenize(iotest.OneByteReader(strings.NewReader(source)))
	utils.AssertNoError(t, err)
	utils.AssertEqualArrays(t, tokens, bf.Lex(source))
	utils.AssertEqual(t, len(tokens), 7*500)
}

func TestTokenize_ReadFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	tokens, err := bf.Tokenize(iotest.ErrReader(boom))
	utils.AssertErrorIs(t, err, bf.ErrSourceRead)
	utils.AssertErrorIs(t, err, boom)
	utils.Assert(t, tokens == nil, "expected no tokens on a failed read")
}

func TestTokenize_FailureAfterData(t *testing.T) {
	boom := errors.New("connection reset")
	r := &failingReader{data: []byte("+++>"), err: boom}
	tokens, err := bf.Tokenize(r)
	utils.AssertErrorIs(t, err, bf.ErrSourceRead)
	utils.Assert(t, tokens == nil, "expected no partial tokens")
}

func TestToken_Instruction(t *testing.T) {
	_, ok := bf.LoopStart.Instruction()
	utils.Assert(t, !ok, "LoopStart is not an instruction")
	_, ok = bf.LoopEnd.Instruction()
	utils.Assert(t, !ok, "LoopEnd is not an instruction")

	inst, ok := bf.ByteOutput.Instruction()
	utils.Assert(t, ok, "ByteOutput is an instruction")
	utils.AssertEqual(t, inst, bf.Output)
	utils.AssertEqual(t, inst.Token(), bf.ByteOutput)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
