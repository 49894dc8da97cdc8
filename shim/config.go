package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/runbf/bf"
)

const configFilename = "config.json"

// Subset of the OCI runtime spec the shim cares about
type root struct {
	// Path is the path to the rootfs
	Path string `json:"path"`
}

type process struct {
	// Args is the command to run
	Args []string `json:"args"`
	// Env is the environment variables to set
	Env []string `json:"env"`
}

type spec struct {
	Root    root    `json:"root"`
	Process process `json:"process"`
}

var (
	sourceExtensions = []string{".bf", ".b", ".brainfuck"}
	treeExtensions   = []string{".json", ".yaml", ".yml"}
)

// Environment variables of the container process forwarded to the interpreter
const (
	envEOF      = "RUNBF_EOF"
	envMaxSteps = "RUNBF_MAX_STEPS"
)

type Config struct {
	Root       string
	Entrypoint string

	// Tree is set when the entrypoint is a serialized tree rather than source
	Tree     bool
	Path     []string
	EOF      string
	MaxSteps string
}

// ReadConfig reads the OCI config of the bundle at path.
func ReadConfig(path string) (*Config, error) {
	filePath := filepath.Join(path, configFilename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}
	var s spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}

	if s.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}
	if len(s.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d: %w", len(s.Process.Args), errdefs.ErrInvalidArgument)
	}

	arg0 := s.Process.Args[0]
	ext := strings.ToLower(filepath.Ext(arg0))
	isSource := slices.Contains(sourceExtensions, ext)
	isTree := slices.Contains(treeExtensions, ext)
	if !isSource && !isTree {
		return nil, fmt.Errorf("entry point (%s) is neither a brainfuck source nor a tree file: %w", arg0, errdefs.ErrInvalidArgument)
	}

	script := filepath.Join(s.Root.Path, arg0)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", arg0, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("checking script %s: %w", arg0, err)
	}

	c := &Config{
		Root:       s.Root.Path,
		Entrypoint: arg0,
		Tree:       isTree,
		Path:       []string{},
	}
	for _, env := range s.Process.Env {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		switch key {
		case "PATH":
			c.Path = strings.Split(value, ":")
		case envEOF:
			if _, err := bf.ParseEOFPolicy(value); err != nil {
				return nil, fmt.Errorf("%s: %w: %w", envEOF, err, errdefs.ErrInvalidArgument)
			}
			c.EOF = value
		case envMaxSteps:
			if _, err := strconv.ParseUint(value, 10, 64); err != nil {
				return nil, fmt.Errorf("%s: %w: %w", envMaxSteps, err, errdefs.ErrInvalidArgument)
			}
			c.MaxSteps = value
		}
	}
	return c, nil
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

// Args is the argument list of the interpreter subcommand for this task.
func (c *Config) Args() []string {
	args := []string{"brainfuck"}
	if c.Tree {
		args = append(args, "--ast")
	}
	if c.EOF != "" {
		args = append(args, "--eof", c.EOF)
	}
	if c.MaxSteps != "" {
		args = append(args, "--max-steps", c.MaxSteps)
	}
	// docker attaches a terminal that expects \r\n
	args = append(args, "--crlf")
	return append(args, c.FullPath())
}
