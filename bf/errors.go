package bf

import "errors"

var (
	// ErrSourceRead is returned when the program source cannot be read.
	ErrSourceRead = errors.New("reading program source")
	// ErrDecode is returned for a malformed serialized tree.
	ErrDecode = errors.New("decoding program tree")
	// ErrTreeTooDeep is returned when a tree nests deeper than a codec allows.
	ErrTreeTooDeep = errors.New("tree nested too deeply")
	// ErrUnknownInstruction is returned for a tag name that names no instruction.
	ErrUnknownInstruction = errors.New("unknown instruction")
	// ErrOutputWrite aborts execution when a byte cannot be written or flushed.
	ErrOutputWrite = errors.New("writing output")
	// ErrInputRead aborts execution on a failing input stream. Plain
	// end-of-input is not an error unless EOFError is in effect.
	ErrInputRead = errors.New("reading input")
	// ErrInputExhausted is returned under EOFError when input runs out.
	ErrInputExhausted = errors.New("input exhausted")
	// ErrStepLimit is returned once a run exceeds its step budget.
	ErrStepLimit = errors.New("step limit exceeded")
)
