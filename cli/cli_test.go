package cli_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/runbf/bf"
	"github.com/MarcinKonowalczyk/runbf/cli"
	"github.com/MarcinKonowalczyk/runbf/utils"
)

const hello = "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++."

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	// keep tests independent of any config in the environment
	t.Setenv("RUNBF_CONFIG", writeFile(t, "runbf.toml", ""))

	var out bytes.Buffer
	cmd := cli.NewCommand(strings.NewReader(input), &out)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_Source(t *testing.T) {
	path := writeFile(t, "hello.bf", "hello world program\n"+hello+"\n")
	out, err := execute(t, "", path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, out, "Hello")
}

func TestRun_Echo(t *testing.T) {
	path := writeFile(t, "echo.bf", ",.")
	out, err := execute(t, "A", path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, out, "A")
}

func TestRun_EmitTree(t *testing.T) {
	path := writeFile(t, "loop.bf", "+[-.]")
	out, err := execute(t, "", "--tree", path)
	utils.AssertNoError(t, err)

	program, err := bf.DecodeJSON(strings.NewReader(out))
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, bf.Source(program), "+[-.]")
}

func TestRun_EmitTreeYAML(t *testing.T) {
	path := writeFile(t, "loop.bf", "+[-.]")
	out, err := execute(t, "", "-t", "--format", "yaml", path)
	utils.AssertNoError(t, err)

	program, err := bf.DecodeYAML(strings.NewReader(out))
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, bf.Source(program), "+[-.]")
}

func TestRun_LoadTree(t *testing.T) {
	src := writeFile(t, "hello.bf", hello)
	tree, err := execute(t, "", "-t", src)
	utils.AssertNoError(t, err)

	path := writeFile(t, "hello.json", tree)
	out, err := execute(t, "", "--ast", path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, out, "Hello")
}

func TestRun_LoadYAMLTreeByExtension(t *testing.T) {
	path := writeFile(t, "inc.yaml", "- increment-cell\n- - decrement-cell\n")
	out, err := execute(t, "", "-a", "-t", path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, strings.TrimSpace(out), `[
  "increment-cell",
  [
    "decrement-cell"
  ]
]`)
}

func TestRun_MalformedTree(t *testing.T) {
	path := writeFile(t, "bad.json", `["increment-cell", 42]`)
	_, err := execute(t, "", "--ast", path)
	utils.AssertErrorIs(t, err, bf.ErrDecode)
	utils.AssertEqual(t, cli.ExitCode(err), 1)
}

func TestRun_StepLimit(t *testing.T) {
	path := writeFile(t, "forever.bf", "+[]")
	_, err := execute(t, "", "--max-steps", "1000", path)
	utils.AssertErrorIs(t, err, bf.ErrStepLimit)
	utils.AssertEqual(t, cli.ExitCode(err), 124)
}

func TestRun_Timeout(t *testing.T) {
	path := writeFile(t, "forever.bf", "+[]")
	_, err := execute(t, "", "--timeout", "10ms", path)
	utils.AssertErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_EOFFlag(t *testing.T) {
	path := writeFile(t, "read.bf", ",")
	_, err := execute(t, "", "--eof", "error", path)
	utils.AssertErrorIs(t, err, bf.ErrInputExhausted)

	_, err = execute(t, "", "--eof", "sometimes", path)
	utils.AssertError(t, err)
}

func TestRun_ConfigFile(t *testing.T) {
	cfg := writeFile(t, "custom.toml", "[interpreter]\nmax_steps = 50\n")
	path := writeFile(t, "forever.bf", "+[]")
	_, err := execute(t, "", "--config", cfg, path)
	utils.AssertErrorIs(t, err, bf.ErrStepLimit)
}

func TestRun_ArgumentErrors(t *testing.T) {
	_, err := execute(t, "")
	utils.AssertError(t, err)

	_, err = execute(t, "", "a.bf", "b.bf")
	utils.AssertError(t, err)

	_, err = execute(t, "", filepath.Join(t.TempDir(), "missing.bf"))
	utils.AssertError(t, err)
	utils.AssertEqual(t, cli.ExitCode(err), 1)
}

func TestExitCode(t *testing.T) {
	utils.AssertEqual(t, cli.ExitCode(nil), 0)
	utils.AssertEqual(t, cli.ExitCode(context.Canceled), 130)
}

type closedPipe struct{}

func (closedPipe) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestRun_EmitTreeWriteFailure(t *testing.T) {
	t.Setenv("RUNBF_CONFIG", writeFile(t, "runbf.toml", ""))
	path := writeFile(t, "hello.bf", hello)

	// the tree fits in the buffer, so only the final flush reaches the pipe
	out := bufio.NewWriter(closedPipe{})
	cmd := cli.NewCommand(strings.NewReader(""), out)
	cmd.SetArgs([]string{"--tree", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	utils.AssertErrorIs(t, err, bf.ErrOutputWrite)
	utils.AssertEqual(t, cli.ExitCode(err), 1)
}
