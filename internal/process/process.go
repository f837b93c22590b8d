package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/hlsrelay/internal/logging"
)

const (
	defaultKillTimeout = 5 * time.Second
	maxLineLength      = 1 << 20
)

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// OutputHandlerFunc adapts a function to OutputHandler.
type OutputHandlerFunc func(source, line string)

// HandleLine calls f(source, line).
func (f OutputHandlerFunc) HandleLine(source, line string) { f(source, line) }

// LogParser extracts a log level and message from one output line.
type LogParser func(line string) (level, msg string)

// Spec describes a subprocess to launch.
type Spec struct {
	ID     string
	Path   string
	Args   []string
	Dir    string
	Output OutputHandler
	// Parser and OutputLogger control how output lines are logged.
	// Without a parser every line is logged at info.
	Parser       LogParser
	OutputLogger logging.Logger
}

// String renders the command line for logs.
func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// ExitStatus describes how a subprocess terminated.
type ExitStatus struct {
	Code   int    // exit code, -1 when terminated by a signal
	Signal string // terminating signal name, empty for a normal exit
	Err    error  // error returned by Wait, nil for exit code 0
}

// Signaled reports whether the process was terminated by a signal.
func (s ExitStatus) Signaled() bool { return s.Signal != "" }

func (s ExitStatus) String() string {
	if s.Signaled() {
		return "terminated by signal " + s.Signal
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Handle controls one running subprocess.
type Handle interface {
	PID() int
	Signal(sig os.Signal) error
	// Stop requests a graceful shutdown and returns immediately. The process
	// group is killed if it is still alive after grace.
	Stop(grace time.Duration)
	Done() <-chan struct{}
	// ExitStatus is valid once Done is closed.
	ExitStatus() ExitStatus
}

// Launcher starts subprocesses.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// ExecLauncher launches real processes with os/exec.
type ExecLauncher struct {
	logger      logging.Logger
	killTimeout time.Duration
}

// NewExecLauncher creates a launcher logging lifecycle events to logger.
func NewExecLauncher(logger logging.Logger) *ExecLauncher {
	return &ExecLauncher{logger: logger, killTimeout: defaultKillTimeout}
}

// Launch starts spec and returns once the process is running. ctx only bounds
// the start itself; the process outlives it.
func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Path == "" {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	p := &Process{
		id:          spec.ID,
		cmd:         cmd,
		spec:        spec,
		logger:      l.logger,
		killTimeout: l.killTimeout,
		done:        make(chan struct{}),
	}
	l.logger.Info("Process started", "id", spec.ID, "pid", cmd.Process.Pid, "command", spec.String())

	var output sync.WaitGroup
	output.Add(2)
	go func() {
		defer output.Done()
		p.streamOutput(stdout, "stdout")
	}()
	go func() {
		defer output.Done()
		p.streamOutput(stderr, "stderr")
	}()

	go func() {
		// Wait must not run before the pipes are drained.
		output.Wait()
		p.exit = exitStatusFromError(cmd.Wait())
		l.logger.Info("Process exited", "id", spec.ID, "pid", cmd.Process.Pid, "status", p.exit.String())
		close(p.done)
	}()

	return p, nil
}

// Process is a Handle backed by an *exec.Cmd.
type Process struct {
	id          string
	cmd         *exec.Cmd
	spec        Spec
	logger      logging.Logger
	killTimeout time.Duration
	done        chan struct{}
	exit        ExitStatus
	stopOnce    sync.Once
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Stop sends SIGINT and arms a force kill after grace. Later calls are no-ops.
func (p *Process) Stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.logger.Info("Sending SIGINT to process", "id", p.id, "pid", p.PID())
		if err := p.Signal(syscall.SIGINT); err != nil {
			p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
		}

		go p.killAfter(grace)
	})
}

func (p *Process) killAfter(grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return
	case <-timer.C:
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", grace)
	// Negative pid targets the whole process group created by Setpgid.
	if err := syscall.Kill(-p.PID(), syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}

	kill := time.NewTimer(p.killTimeout)
	defer kill.Stop()
	select {
	case <-p.done:
	case <-kill.C:
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus reports how the process terminated. Valid after Done is closed.
func (p *Process) ExitStatus() ExitStatus {
	<-p.done
	return p.exit
}

func exitStatusFromError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signal: ws.Signal().String(), Err: err}
		}
		return ExitStatus{Code: exitErr.ExitCode(), Err: err}
	}
	return ExitStatus{Code: 1, Err: err}
}

func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	logger := p.spec.OutputLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if p.spec.Output != nil {
			p.spec.Output.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.spec.Parser != nil {
			level, msg = p.spec.Parser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "debug", "trace":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, reader)
	}
}
