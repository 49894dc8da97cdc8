package bf

import (
	"context"
	"io"

	"github.com/containerd/log"
)

// RunSource lexes, parses and runs a program. Nothing is executed if the
// source cannot be read in full.
func RunSource(ctx context.Context, source io.Reader, input io.Reader, output io.Writer, opts ...Option) error {
	tokens, err := Tokenize(source)
	if err != nil {
		return err
	}
	program := Parse(tokens)
	log.G(ctx).WithField("tokens", len(tokens)).WithField("nodes", len(program)).Debug("parsed program")

	return Run(ctx, program, input, output, opts...)
}

// RunString is RunSource for an in-memory program.
func RunString(ctx context.Context, source string, input io.Reader, output io.Writer, opts ...Option) error {
	return Run(ctx, Parse(Lex(source)), input, output, opts...)
}
