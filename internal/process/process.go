// Package process runs the external programs the backend orchestrates
// (acquisition engine, timestamp capture, post-processing, calibration) behind
// a four-operation interface: start, read a line of output, wait with a
// timeout, kill.
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
	"time"
)

// ErrTimeout is returned by Wait when the process is still running after
// the timeout. The process is left running; call Kill to stop it.
var ErrTimeout = errors.New("process: wait timed out")

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code int
}

// Success reports whether the process exited with status zero.
func (s ExitStatus) Success() bool { return s.Code == 0 }

// Process is a started external program.
type Process interface {
	// ReadLine returns the next line of standard output without its line
	// terminator, or io.EOF once the output is closed.
	ReadLine() (string, error)
	// Wait blocks until the process exits or the timeout elapses. A zero or
	// negative timeout waits indefinitely.
	Wait(timeout time.Duration) (ExitStatus, error)
	// Kill stops the process.
	Kill() error
}

// Runner starts processes.
type Runner interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Start launches name with args in its own process group. Standard output
// is captured line by line in the background so a process whose output
// nobody reads never blocks on a full pipe.
func (ExecRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	ownGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	go p.pump(stdout)
	return p, nil
}

type execProcess struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	cond   *sync.Cond
	lines  []string
	closed bool

	done   chan struct{}
	status ExitStatus
	err    error
}

func (p *execProcess) pump(r io.Reader) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)
	for scan.Scan() {
		p.mu.Lock()
		p.lines = append(p.lines, scan.Text())
		p.cond.Broadcast()
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	// Wait must only be called once all reads from the pipe are complete.
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		p.status = ExitStatus{Code: exitErr.ExitCode()}
	default:
		p.status = ExitStatus{Code: -1}
		p.err = err
	}
	close(p.done)
}

func (p *execProcess) ReadLine() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.lines) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *execProcess) Wait(timeout time.Duration) (ExitStatus, error) {
	if timeout <= 0 {
		<-p.done
		return p.status, p.err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return p.status, p.err
	case <-t.C:
		return ExitStatus{}, ErrTimeout
	}
}

// Kill stops the process and everything else in its process group.
func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := killGroup(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Output runs a process to completion, collecting its standard output. If
// the process does not finish within timeout it is killed and ErrTimeout is
// returned together with whatever output was read.
func Output(ctx context.Context, r Runner, timeout time.Duration, name string, args ...string) ([]string, ExitStatus, error) {
	p, err := r.Start(ctx, name, args...)
	if err != nil {
		return nil, ExitStatus{}, err
	}

	var (
		lines []string
		read  = make(chan struct{})
	)
	go func() {
		defer close(read)
		for {
			line, err := p.ReadLine()
			if err != nil {
				return
			}
			lines = append(lines, line)
		}
	}()

	status, err := p.Wait(timeout)
	if errors.Is(err, ErrTimeout) {
		p.Kill()
		<-read
		return lines, status, fmt.Errorf("%s: %w", commandLine(name, args), ErrTimeout)
	}
	<-read
	if err != nil {
		return lines, status, fmt.Errorf("%s: %w", commandLine(name, args), err)
	}
	return lines, status, nil
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
