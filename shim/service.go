package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// The interpreter starts stopped so that containerd can attach to its stdio
// before any output is produced. Start sends SIGCONT.
const startStoppedScript = `
#!/bin/sh
kill -STOP $$
exec "$@"
`

const commandWaitDelay = 100 * time.Millisecond

type proc struct {
	pid int

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdout string
	stdin  string
}

func (p *proc) String() string {
	if p.done.Err() != nil {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", p.pid, p.exitTime.Format(time.RFC3339), p.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", p.pid)
}

type bfTaskService struct {
	mu       sync.RWMutex
	procs    map[string]*proc
	shutdown shutdown.Service
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &bfTaskService{
		procs:    make(map[string]*proc, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&bfTaskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *bfTaskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

func (s *bfTaskService) lookup(id string) (*proc, error) {
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return p, nil
}

func (s *bfTaskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.done, nil
}

// reap waits for the interpreter process, records its exit status and shuts
// the shim down once every task has exited.
func (s *bfTaskService) reap(ctx context.Context, id string, cmd *exec.Cmd, markDone func()) {
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", pid)
		}
	}
	log.G(ctx).Debugf("init process %d exited", pid)

	exitStatus := 255
	if cmd.ProcessState != nil {
		switch ws := cmd.ProcessState.Sys().(syscall.WaitStatus); {
		case cmd.ProcessState.Exited():
			exitStatus = cmd.ProcessState.ExitCode()
		case ws.Signaled():
			exitStatus = exitCodeSignal + int(ws.Signal())
		}
	} else {
		log.G(ctx).Warn("init process wait returned without setting process state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of done init process: task %s was removed", id)
		markDone()
		return
	}
	p.exitStatus = exitStatus
	p.exitTime = time.Now()
	markDone()

	for _, other := range s.procs {
		if other.done.Err() == nil {
			return
		}
	}
	log.G(ctx).Debug("all procs exited. shutting down the shim")
	s.shutdown.Shutdown()
}

// Copy a child output stream into a containerd fifo. The returned file is
// the child's end of the pipe. Closing stop ends the copy.
func connectOutput(ctx context.Context, path string) (child *os.File, stop io.Closer, err error) {
	if err := checkFifo(path); err != nil {
		return nil, nil, err
	}
	fw, err := fifo.OpenFifo(ctx, path, syscall.O_WRONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening write only fifo %s: %w", path, err)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		fw.Close()
		return nil, nil, fmt.Errorf("creating output pipe: %w", err)
	}
	go func() {
		defer fw.Close()
		defer pr.Close()
		if _, err := io.Copy(fw, pr); err != nil && !errors.Is(err, os.ErrClosed) {
			log.G(ctx).WithError(err).Errorf("failed to copy output pipe to fifo %s", path)
		}
	}()
	return pw, pr, nil
}

// Copy a containerd fifo into the child's stdin. The returned file is the
// child's end of the pipe. Closing stop ends the copy.
func connectInput(ctx context.Context, path string) (child *os.File, stop io.Closer, err error) {
	if err := checkFifo(path); err != nil {
		return nil, nil, err
	}
	fr, err := fifo.OpenFifo(ctx, path, syscall.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening read only fifo %s: %w", path, err)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		fr.Close()
		return nil, nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	go func() {
		// closing stdin is how the interpreter sees end of input
		defer pw.Close()
		defer fr.Close()
		if _, err := io.Copy(pw, fr); err != nil && !errors.Is(err, os.ErrClosed) {
			log.G(ctx).WithError(err).Errorf("failed to copy fifo %s to stdin pipe", path)
		}
	}()
	return pr, fr, nil
}

// stdio tracks the pipes set up for one child until it has started.
type stdio struct {
	child []*os.File
	stops []io.Closer
}

func (s *stdio) add(child *os.File, stop io.Closer) *os.File {
	s.child = append(s.child, child)
	s.stops = append(s.stops, stop)
	return child
}

// started drops the parent's copies of the child ends. The copies keep
// running until the child closes its side.
func (s *stdio) started() {
	for _, f := range s.child {
		f.Close()
	}
}

// abort releases everything when the child never started.
func (s *stdio) abort() {
	for _, c := range s.stops {
		c.Close()
	}
	s.started()
}

func checkFifo(path string) error {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("file %s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}
	return nil
}

// Create a new container
func (s *bfTaskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	config, err := ReadConfig(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	scriptPath := filepath.Join(r.Bundle, "start-stopped.sh")
	if err := os.WriteFile(scriptPath, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing start-stopped.sh: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	args := append([]string{scriptPath, self}, config.Args()...)
	// not tied to ctx: the task outlives the create request
	cmd := exec.Command("/bin/sh", args...)
	cmd.WaitDelay = commandWaitDelay
	log.G(ctx).Debugf("interpreter command: %v", cmd.Args)

	var pipes stdio
	if r.Stdout != "" {
		child, stop, err := connectOutput(ctx, r.Stdout)
		if err != nil {
			pipes.abort()
			return nil, err
		}
		cmd.Stdout = pipes.add(child, stop)
	}
	switch {
	case r.Stderr == "" || r.Stderr == r.Stdout:
		// stderr shares the stdout fifo
		if cmd.Stdout != nil {
			cmd.Stderr = cmd.Stdout
		}
	default:
		child, stop, err := connectOutput(ctx, r.Stderr)
		if err != nil {
			pipes.abort()
			return nil, err
		}
		cmd.Stderr = pipes.add(child, stop)
	}
	if r.Stdin != "" {
		child, stop, err := connectInput(ctx, r.Stdin)
		if err != nil {
			pipes.abort()
			return nil, err
		}
		cmd.Stdin = pipes.add(child, stop)
	}

	// the process starts in a suspended state
	if err := cmd.Start(); err != nil {
		pipes.abort()
		return nil, fmt.Errorf("running init command: %w", err)
	}
	pipes.started()
	pid := cmd.Process.Pid

	doneCtx, markDone := context.WithCancel(context.Background())
	go s.reap(ctx, r.ID, cmd, markDone)

	if err := writePidFile(r.Bundle, pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	s.procs[r.ID] = &proc{
		pid:    pid,
		done:   doneCtx,
		stdout: r.Stdout,
		stdin:  r.Stdin,
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// Start the primary user process inside the container
func (s *bfTaskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	if err := syscall.Kill(p.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("resuming init process %d: %w", p.pid, err)
	}

	return &taskAPI.StartResponse{
		Pid: uint32(p.pid),
	}, nil
}

// Delete a process or container
func (s *bfTaskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}
	if p.done.Err() == nil {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", p.pid))
	}
	delete(s.procs, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(p.pid),
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *bfTaskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *bfTaskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *bfTaskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_RUNNING
	if p.done.Err() != nil {
		status = tasktypes.Status_STOPPED
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(p.pid),
		Status:     status,
		Stdout:     p.stdout,
		Stdin:      p.stdin,
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

// Pause the container
func (s *bfTaskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *bfTaskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// signalFor picks the signal of a kill request; a zero signal means SIGKILL.
func signalFor(r *taskAPI.KillRequest) syscall.Signal {
	if r.Signal == 0 {
		return syscall.SIGKILL
	}
	return syscall.Signal(r.Signal)
}

// Kill a process
func (s *bfTaskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debug("kill (service)")

	alreadyExited, err := func() (bool, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		p, err := s.lookup(r.ID)
		if err != nil {
			return false, err
		}
		if p.done.Err() != nil {
			return true, nil
		}

		if p.pid > 0 {
			sig := signalFor(r)
			log.G(ctx).Debugf("kill id:%s execid:%s pid:%d sig:%d", r.ID, r.ExecID, p.pid, sig)
			// The POSIX standard specifies that a null-signal can be sent to check
			// whether a PID is valid.
			if err := syscall.Kill(p.pid, syscall.Signal(0)); err == nil {
				if err := syscall.Kill(p.pid, sig); err != nil {
					return false, fmt.Errorf("sending %s to init process: %w", sig, err)
				}
				// a stopped interpreter never sees anything but SIGKILL
				if sig != syscall.SIGKILL {
					_ = syscall.Kill(p.pid, syscall.SIGCONT)
				}
			}
		}
		return false, nil
	}()
	if err != nil {
		log.G(ctx).WithError(err).Errorf("failed to send kill syscall to init process %s", r.ID)
		return nil, err
	}

	if alreadyExited {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}
	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *bfTaskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.PidsResponse{
		Processes: []*tasktypes.ProcessInfo{{Pid: uint32(p.pid)}},
	}, nil
}

// CloseIO of a process
func (s *bfTaskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *bfTaskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *bfTaskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(p.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *bfTaskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns container level system stats for a container and its processes
func (s *bfTaskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *bfTaskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *bfTaskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[r.ID]
	if !ok {
		return nil, fmt.Errorf("task was removed: %w", errdefs.ErrNotFound)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}
