package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
)

// RuntimeName is the containerd runtime name the shim registers under.
const RuntimeName = "io.containerd.bf.v1"

const runtimeVersion = "v2.0.0"

// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128
const initPidFile = "bf.pid"

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/runbf/shim.debug=true'"`
var debug string

type bfManager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return bfManager{name: name}
}

var (
	_ = shim.Manager(&bfManager{})
)

func (m bfManager) Name() string {
	return m.name
}

// Start re-executes the shim binary as a daemon serving the task API over
// ttrpc and hands its socket address back to containerd.
func (m bfManager) Start(ctx context.Context, id string, opts shim.StartOpts) (params shim.BootstrapParams, retErr error) {
	log.G(ctx).WithField("id", id).Debug("start (manager)")

	self, err := os.Executable()
	if err != nil {
		return params, fmt.Errorf("getting executable of current process: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return params, fmt.Errorf("getting current working directory: %w", err)
	}

	var args []string
	if opts.Debug || debug != "" {
		args = append(args, "-debug")
	}

	cmd, err := shim.Command(ctx, &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	})
	if err != nil {
		return params, fmt.Errorf("creating shim command: %w", err)
	}

	sockAddr, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return params, fmt.Errorf("getting a socket address: %w", err)
	}
	socket, err := shim.NewSocket(sockAddr)
	if err != nil {
		return params, fmt.Errorf("creating socket: %w", err)
	}
	sockF, err := socket.File()
	if err != nil {
		return params, fmt.Errorf("getting shim socket file descriptor: %w", err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, sockF)

	if err := startLocked(cmd); err != nil {
		sockF.Close()
		return params, err
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				log.G(ctx).WithError(err).Errorf("failed to wait for shim process %d", cmd.Process.Pid)
			}
		}
	}()

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		return params, fmt.Errorf("adjusting shim process OOM score: %w", err)
	}

	return shim.BootstrapParams{
		Version:  2,
		Address:  sockAddr,
		Protocol: "ttrpc",
	}, nil
}

// The child must not inherit a thread that is about to change namespaces
func startLocked(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting shim command: %w", err)
	}
	return nil
}

func (m bfManager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop (manager)")

	cwd, err := os.Getwd()
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("getting current working directory: %w", err)
	}
	pid, err := readPidFile(bundleDir(cwd, id))
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}

	if pid > 0 {
		p, _ := os.FindProcess(pid)
		// The POSIX standard specifies that a null-signal can be sent to check
		// whether a PID is valid.
		if err := p.Signal(syscall.Signal(0)); err == nil {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
				log.G(ctx).WithError(err).Warnf("failed to send kill syscall to init process %d", pid)
			}
		}
	}

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: int(exitCodeSignal + syscall.SIGKILL),
	}, nil
}

func (m bfManager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	log.G(ctx).Debug("info (manager)")
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: runtimeVersion,
		},
	}, nil
}

// Bundles of one namespace are siblings of the shim's working directory
func bundleDir(cwd, id string) string {
	return filepath.Join(filepath.Dir(cwd), id)
}

func readPidFile(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, initPidFile))
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// If containerd needs to resort to calling the shim's "stop" command to
// clean things up, having the process' pid readable from a file is the
// only way for it to know what init process is associated with the task.
func writePidFile(dir string, pid int) error {
	path := filepath.Join(dir, initPidFile)
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file of init process: %w", err)
	}
	// rw-r--r--
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	return nil
}
