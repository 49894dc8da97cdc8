package bf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/log"
)

// EOFPolicy decides what an input instruction does once input runs out.
type EOFPolicy int

const (
	// EOFKeep leaves the current cell unchanged.
	EOFKeep EOFPolicy = iota
	// EOFZero stores 0 in the current cell.
	EOFZero
	// EOFError stops the run with ErrInputExhausted.
	EOFError
)

func (p EOFPolicy) String() string {
	switch p {
	case EOFKeep:
		return "keep"
	case EOFZero:
		return "zero"
	case EOFError:
		return "error"
	default:
		return fmt.Sprintf("eof(%d)", int(p))
	}
}

func ParseEOFPolicy(s string) (EOFPolicy, error) {
	switch strings.ToLower(s) {
	case "", "keep":
		return EOFKeep, nil
	case "zero":
		return EOFZero, nil
	case "error":
		return EOFError, nil
	}
	return EOFKeep, fmt.Errorf("invalid eof policy %q (want keep, zero or error)", s)
}

type options struct {
	eof      EOFPolicy
	maxSteps uint64
	crlf     bool
}

type Option func(*options)

func WithEOFPolicy(p EOFPolicy) Option {
	return func(o *options) { o.eof = p }
}

// WithMaxSteps caps a run at n steps. A step is one executed leaf or one loop
// condition check. Zero means no limit.
func WithMaxSteps(n uint64) Option {
	return func(o *options) { o.maxSteps = n }
}

// WithNewlineTranslation writes every '\n' as "\r\n". Terminals attached
// through docker need it.
func WithNewlineTranslation(on bool) Option {
	return func(o *options) { o.crlf = on }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// flusher is satisfied by buffered sinks such as *bufio.Writer.
type flusher interface {
	Flush() error
}

type frame struct {
	body []Tree
	pc   int
}

// machine holds the state of a single run.
type machine struct {
	in    io.Reader
	out   io.Writer
	mem   Memory
	ptr   *int64
	opts  options
	steps uint64
	buf   [1]byte
}

func (m *machine) run(ctx context.Context, program []Tree) error {
	log.G(ctx).WithField("nodes", len(program)).WithField("pointer", *m.ptr).Debug("executing program")

	stack := []frame{{body: program}}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		top := len(stack) - 1
		f := &stack[top]
		if f.pc == len(f.body) {
			if top == 0 {
				log.G(ctx).WithField("steps", m.steps).Debug("program finished")
				return nil
			}
			// one full pass over a loop body is done; check the cell again
			if err := m.step(); err != nil {
				return err
			}
			if m.mem.Get(*m.ptr) != 0 {
				f.pc = 0
			} else {
				stack = stack[:top]
			}
			continue
		}

		node := f.body[f.pc]
		f.pc++
		if err := m.step(); err != nil {
			return err
		}
		switch n := node.(type) {
		case Leaf:
			if err := m.exec(Instruction(n)); err != nil {
				return err
			}
		case Block:
			if m.mem.Get(*m.ptr) != 0 {
				stack = append(stack, frame{body: n})
			}
		default:
			return fmt.Errorf("unexpected tree node %T", node)
		}
	}
}

func (m *machine) step() error {
	m.steps++
	if m.opts.maxSteps > 0 && m.steps > m.opts.maxSteps {
		return fmt.Errorf("%w: %d", ErrStepLimit, m.opts.maxSteps)
	}
	return nil
}

func (m *machine) exec(inst Instruction) error {
	switch inst {
	case IncrementPointer:
		*m.ptr++
	case DecrementPointer:
		*m.ptr--
	case IncrementCell:
		m.mem[*m.ptr]++
	case DecrementCell:
		m.mem[*m.ptr]--
	case Output:
		return m.write(m.mem.Load(*m.ptr))
	case Input:
		return m.read()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, inst)
	}
	return nil
}

var crlf = []byte("\r\n")

func (m *machine) write(b byte) error {
	if m.out == nil {
		return nil
	}
	p := m.buf[:]
	if b == '\n' && m.opts.crlf {
		p = crlf
	} else {
		p[0] = b
	}
	if _, err := m.out.Write(p); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	if f, ok := m.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: %w", ErrOutputWrite, err)
		}
	}
	return nil
}

func (m *machine) read() error {
	if m.in == nil {
		return m.exhausted()
	}
	if _, err := io.ReadFull(m.in, m.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return m.exhausted()
		}
		return fmt.Errorf("%w: %w", ErrInputRead, err)
	}
	m.mem.Set(*m.ptr, m.buf[0])
	return nil
}

func (m *machine) exhausted() error {
	switch m.opts.eof {
	case EOFZero:
		m.mem.Set(*m.ptr, 0)
	case EOFError:
		return ErrInputExhausted
	}
	return nil
}

// Execute runs program against the given memory and cursor, mutating both.
// It returns nil once the program runs off its end. A nil mem or cursor
// gets a private one that is dropped when the run ends.
func Execute(ctx context.Context, program []Tree, input io.Reader, output io.Writer, mem Memory, cursor *int64, opts ...Option) error {
	if mem == nil {
		mem = NewMemory()
	}
	if cursor == nil {
		cursor = new(int64)
	}
	m := &machine{
		in:   input,
		out:  output,
		mem:  mem,
		ptr:  cursor,
		opts: buildOptions(opts),
	}
	return m.run(ctx, program)
}

// Run executes program on fresh memory with the cursor at 0.
func Run(ctx context.Context, program []Tree, input io.Reader, output io.Writer, opts ...Option) error {
	var cursor int64
	return Execute(ctx, program, input, output, NewMemory(), &cursor, opts...)
}

type Interpreter struct {
	Program []Tree
	Input   io.Reader
	Output  io.Writer
	mem     Memory
	ptr     int64
	steps   uint64
	opts    options
}

func NewInterpreter(program []Tree, input io.Reader, output io.Writer, opts ...Option) *Interpreter {
	return &Interpreter{
		Program: program,
		Input:   input,
		Output:  output,
		mem:     NewMemory(),
		opts:    buildOptions(opts),
	}
}

func (i *Interpreter) Reset() {
	i.mem = NewMemory()
	i.ptr = 0
	i.steps = 0
}

// Index the memory
func (i *Interpreter) At(addr int64) uint8 {
	return i.mem.Get(addr)
}

func (i *Interpreter) Pointer() int64 {
	return i.ptr
}

func (i *Interpreter) Memory() Memory {
	return i.mem
}

// Steps reports how many steps have run since the last Reset.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

// Run the program until it finishes, fails or ctx is cancelled
func (i *Interpreter) RunContext(ctx context.Context) error {
	if i.mem == nil {
		i.mem = NewMemory()
	}
	m := &machine{
		in:   i.Input,
		out:  i.Output,
		mem:  i.mem,
		ptr:  &i.ptr,
		opts: i.opts,
	}
	err := m.run(ctx, i.Program)
	i.steps += m.steps
	return err
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}
