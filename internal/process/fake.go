package process

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Script describes how a FakeRunner process behaves.
type Script struct {
	// Lines is the standard output, returned one per ReadLine.
	Lines []string
	// Exit is the exit code reported by Wait.
	Exit int
	// Hang makes Wait time out and ReadLine block after the scripted lines
	// until the process is killed.
	Hang bool
	// StartErr fails Start.
	StartErr error
	// OnStart runs when the process starts, with the full argument list.
	OnStart func(args []string)
}

// Call records one Start on a FakeRunner.
type Call struct {
	Name string
	Args []string
}

// String returns the command line.
func (c Call) String() string {
	return commandLine(c.Name, c.Args)
}

// FakeRunner is a Runner for tests. Commands without a script exit with
// status zero and no output.
type FakeRunner struct {
	mu        sync.Mutex
	scripts   map[string]Script
	handlers  map[string]func(args []string) Script
	calls     []Call
	processes []*FakeProcess
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		scripts:  make(map[string]Script),
		handlers: make(map[string]func(args []string) Script),
	}
}

// Script sets the behaviour for every later start of name.
func (f *FakeRunner) Script(name string, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = s
}

// Handle sets a function that builds the script for each later start of
// name from its arguments. It takes precedence over Script.
func (f *FakeRunner) Handle(name string, h func(args []string) Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Start records the call and returns a scripted process.
func (f *FakeRunner) Start(_ context.Context, name string, args ...string) (Process, error) {
	f.mu.Lock()
	s := f.scripts[name]
	h := f.handlers[name]
	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	if h != nil {
		s = h(args)
	}

	if s.StartErr != nil {
		return nil, fmt.Errorf("start %s: %w", name, s.StartErr)
	}
	if s.OnStart != nil {
		s.OnStart(args)
	}

	p := &FakeProcess{
		lines:  append([]string(nil), s.Lines...),
		exit:   s.Exit,
		hang:   s.Hang,
		killed: make(chan struct{}),
	}
	f.mu.Lock()
	f.processes = append(f.processes, p)
	f.mu.Unlock()
	return p, nil
}

// Calls returns every recorded start.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded starts of name.
func (f *FakeRunner) CallsTo(name string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Processes returns every started process in order.
func (f *FakeRunner) Processes() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeProcess(nil), f.processes...)
}

// CommandLines returns each call as a single string, useful for asserting
// on order.
func (f *FakeRunner) CommandLines() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.String())
	}
	return out
}

// FakeProcess is a scripted Process.
type FakeProcess struct {
	mu       sync.Mutex
	lines    []string
	exit     int
	hang     bool
	killOnce sync.Once
	killed   chan struct{}
}

func (p *FakeProcess) ReadLine() (string, error) {
	p.mu.Lock()
	if len(p.lines) > 0 {
		line := p.lines[0]
		p.lines = p.lines[1:]
		p.mu.Unlock()
		return line, nil
	}
	hang := p.hang
	p.mu.Unlock()

	if hang {
		<-p.killed
	}
	return "", io.EOF
}

func (p *FakeProcess) Wait(timeout time.Duration) (ExitStatus, error) {
	if p.hang {
		select {
		case <-p.killed:
			return ExitStatus{Code: -1}, nil
		default:
		}
		if timeout <= 0 {
			<-p.killed
			return ExitStatus{Code: -1}, nil
		}
		return ExitStatus{}, ErrTimeout
	}
	return ExitStatus{Code: p.exit}, nil
}

func (p *FakeProcess) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

// HasArg reports whether the call carries arg.
func (c Call) HasArg(arg string) bool {
	for _, a := range c.Args {
		if a == arg || strings.HasPrefix(a, arg+"=") {
			return true
		}
	}
	return false
}
