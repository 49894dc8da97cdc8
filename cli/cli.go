package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/MarcinKonowalczyk/runbf/bf"
	"github.com/MarcinKonowalczyk/runbf/config"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/runbf/cli.debug=true'"`
var debug string

type flags struct {
	tree     bool
	ast      bool
	format   string
	eof      string
	maxSteps uint64
	timeout  string
	crlf     bool
	cfgFile  string
	verbose  bool
}

// NewCommand builds the interpreter command. Program input is read from in
// and program output goes to out.
func NewCommand(in io.Reader, out io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "runbf [flags] <file>",
		Short: "Brainfuck tree interpreter",
		Long: `runbf parses a brainfuck program into a tree of loops and runs it.

Any byte that is not one of ><+-.,[] is a comment. With --tree the parsed
tree is printed instead of run; with --ast the file is read as a previously
printed tree.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], &f, in, out)
		},
	}

	fs := cmd.Flags()
	fs.BoolVarP(&f.tree, "tree", "t", false, "emit the syntax tree instead of running the program")
	fs.BoolVarP(&f.ast, "ast", "a", false, "run a serialized tree instead of brainfuck source")
	fs.StringVar(&f.format, "format", "", "tree format: json or yaml (default from config, or by file extension with --ast)")
	fs.StringVar(&f.eof, "eof", "", "behaviour of ',' at end of input: keep, zero or error")
	fs.Uint64Var(&f.maxSteps, "max-steps", 0, "abort after this many steps (0 means no limit)")
	fs.StringVar(&f.timeout, "timeout", "", "abort after this long, e.g. 30s")
	fs.BoolVar(&f.crlf, "crlf", false, "write newlines as \\r\\n")
	fs.StringVar(&f.cfgFile, "config", "", "config file (default: $RUNBF_CONFIG or ./runbf.toml)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.cfgFile != "" {
		cfg, err = config.Load(f.cfgFile)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	// explicit flags win over the file
	fs := cmd.Flags()
	if fs.Changed("eof") {
		cfg.Interpreter.EOF = f.eof
	}
	if fs.Changed("max-steps") {
		cfg.Interpreter.MaxSteps = f.maxSteps
	}
	if fs.Changed("timeout") {
		if err := cfg.Interpreter.Timeout.UnmarshalText([]byte(f.timeout)); err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
	}
	if fs.Changed("crlf") {
		cfg.Interpreter.CRLF = f.crlf
	}
	if fs.Changed("format") {
		cfg.Tree.Format = f.format
	}
	if f.verbose || debug != "" {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, path string, f *flags, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Interpreter.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Interpreter.Timeout.Duration)
		defer cancel()
	}
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("file", path))

	program, err := load(ctx, path, f, cmd.Flags().Changed("format"), cfg)
	if err != nil {
		return err
	}

	if f.tree {
		format, _ := bf.ParseFormat(cfg.Tree.Format)
		if err := bf.Encode(out, program, format); err != nil {
			return fmt.Errorf("emitting tree: %w", err)
		}
		if f, ok := out.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				return fmt.Errorf("emitting tree: %w: %w", bf.ErrOutputWrite, err)
			}
		}
		return nil
	}

	opts, err := cfg.Options()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := bf.Run(ctx, program, in, out, opts...); err != nil {
		return fmt.Errorf("running %s: %w", path, err)
	}
	return nil
}

func load(ctx context.Context, path string, f *flags, formatSet bool, cfg *config.Config) ([]bf.Tree, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening program: %w", err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	if f.ast {
		format := bf.FormatFromPath(path)
		if formatSet {
			format, _ = bf.ParseFormat(cfg.Tree.Format)
		}
		log.G(ctx).WithField("format", format).Debug("loading tree")
		program, err := bf.Decode(r, format)
		if err != nil {
			return nil, fmt.Errorf("loading tree %s: %w", path, err)
		}
		return program, nil
	}

	program, err := bf.ParseSource(r)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	return program, nil
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, bf.ErrStepLimit):
		return 124
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

// Execute runs the command against the process stdio and returns the exit
// status. Output is buffered and flushed after every byte by the interpreter.
func Execute(ctx context.Context, args []string) int {
	out := bufio.NewWriter(os.Stdout)

	cmd := NewCommand(os.Stdin, out)
	cmd.SetArgs(args)
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	err := cmd.ExecuteContext(ctx)
	if ferr := out.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("%w: %w", bf.ErrOutputWrite, ferr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}
