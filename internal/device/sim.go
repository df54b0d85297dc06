package device

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zeus2/zeus2be/internal/process"
)

// SimMotorBox is an in-process motor box. It implements Link, keeps the
// state of every addressed motor, and answers queries the way the real
// controllers do. Moves complete after a single moving-status poll.
type SimMotorBox struct {
	mu     sync.Mutex
	motors map[int]*simMotor
}

type simMotor struct {
	index     int
	target    int
	steps     int
	dir       int
	absolute  bool
	moving    int
	enabled   bool
	atLimit   bool
	failures  int
	maxSpeed  int
	baseSpeed int
	accel     int
	stops     int
	moves     []int
	commands  []string
}

// NewSimMotorBox creates a motor box whose motors start at index zero with
// the hard limit engaged.
func NewSimMotorBox() *SimMotorBox {
	return &SimMotorBox{motors: make(map[int]*simMotor)}
}

func (s *SimMotorBox) motor(n int) *simMotor {
	m, ok := s.motors[n]
	if !ok {
		m = &simMotor{dir: 1, atLimit: true}
		s.motors[n] = m
	}
	return m
}

// Send applies a command.
func (s *SimMotorBox) Send(msg string) error {
	_, err := s.apply(msg)
	return err
}

// Exchange applies a command and returns the reply.
func (s *SimMotorBox) Exchange(msg string) (string, error) {
	reply, err := s.apply(msg)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", ErrNoReply
	}
	return reply, nil
}

func (s *SimMotorBox) apply(msg string) (string, error) {
	if len(msg) < 4 || msg[0] != '@' || !strings.HasSuffix(msg, "\r") {
		return "", fmt.Errorf("sim motor box: malformed message %q", msg)
	}
	n, err := strconv.Atoi(msg[1:2])
	if err != nil {
		return "", fmt.Errorf("sim motor box: bad address in %q", msg)
	}
	cmd := strings.TrimSuffix(msg[2:], "\r")

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.motor(n)
	m.commands = append(m.commands, cmd)

	switch cmd {
	case "VZ":
		return strconv.Itoa(m.index), nil
	case "VF":
		if m.moving > 0 {
			m.moving--
			return "1", nil
		}
		return "0", nil
	case "!":
		if m.failures > 0 {
			m.failures--
			return "8192", nil
		}
		return "0", nil
	case "L0":
		if m.atLimit {
			return "0", nil
		}
		return "3", nil
	case "G":
		if m.absolute {
			m.index = m.target
		} else {
			m.index += m.dir * m.steps
		}
		m.moving = 1
		m.atLimit = m.index == 0
		m.moves = append(m.moves, m.index)
		return "", nil
	case "S", "H0":
		m.index = 0
		m.atLimit = true
		m.moving = 1
		return "", nil
	case "Z0":
		m.index = 0
		return "", nil
	case ".":
		m.moving = 0
		m.stops++
		return "", nil
	case "O0":
		m.enabled = true
		return "", nil
	case "O1":
		m.enabled = false
		return "", nil
	case "+":
		m.dir = 1
		return "", nil
	case "-":
		m.dir = -1
		return "", nil
	}

	v, err := strconv.Atoi(cmd[1:])
	if err != nil {
		return "", fmt.Errorf("sim motor box: unknown command %q", cmd)
	}
	switch cmd[0] {
	case 'P':
		m.target, m.absolute = v, true
	case 'N':
		m.steps, m.absolute = v, false
	case 'M':
		m.maxSpeed = v
	case 'B':
		m.baseSpeed = v
	case 'A':
		m.accel = v
	default:
		return "", fmt.Errorf("sim motor box: unknown command %q", cmd)
	}
	return "", nil
}

// SimMotorState is a snapshot of one simulated motor.
type SimMotorState struct {
	Index     int
	Enabled   bool
	MaxSpeed  int
	BaseSpeed int
	Accel     int
	Stops     int
	// Moves lists the position after every go command.
	Moves    []int
	Commands []string
}

// State returns a snapshot of motor n.
func (s *SimMotorBox) State(n int) SimMotorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.motor(n)
	return SimMotorState{
		Index:     m.index,
		Enabled:   m.enabled,
		MaxSpeed:  m.maxSpeed,
		BaseSpeed: m.baseSpeed,
		Accel:     m.accel,
		Stops:     m.stops,
		Moves:     append([]int(nil), m.moves...),
		Commands:  append([]string(nil), m.commands...),
	}
}

// SetIndex places motor n at index without a move.
func (s *SimMotorBox) SetIndex(n, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.motor(n)
	m.index = index
	m.atLimit = index == 0
}

// FailChecks makes the next count error queries on motor n report an error.
func (s *SimMotorBox) FailChecks(n, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motor(n).failures = count
}

// ResetHistory clears recorded moves and commands.
func (s *SimMotorBox) ResetHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.motors {
		m.moves = nil
		m.commands = nil
		m.stops = 0
	}
}

// SimSwitchBox is an in-process switch box implementing Link.
type SimSwitchBox struct {
	mu       sync.Mutex
	position string
}

// NewSimSwitchBox starts in the sky position.
func NewSimSwitchBox() *SimSwitchBox {
	return &SimSwitchBox{position: "B"}
}

func (s *SimSwitchBox) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg {
	case "\x01":
		s.position = "A"
	case "\x02":
		s.position = "B"
	}
	return nil
}

func (s *SimSwitchBox) Exchange(msg string) (string, error) {
	s.Send(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "\x10" {
		return s.position, nil
	}
	return "", ErrNoReply
}

// Position returns "A" or "B".
func (s *SimSwitchBox) Position() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// SimReadout scripts a FakeRunner to answer readout register commands from
// an in-memory register file.
type SimReadout struct {
	mu        sync.Mutex
	registers map[string]int
}

// NewSimReadout installs a readout simulator for command on runner. The
// clock card starts with the ZEUS-2 geometry.
func NewSimReadout(runner *process.FakeRunner, command string, g Geometry) *SimReadout {
	r := &SimReadout{registers: map[string]int{
		"cc row_len":   g.RowLen,
		"cc num_rows":  g.NumRows,
		"cc data_rate": g.DataRate,
	}}
	runner.Handle(command, r.handle)
	return r
}

func (r *SimReadout) handle(args []string) process.Script {
	// -x wb|rb <card> <param> <value>
	if len(args) < 5 {
		return process.Script{Lines: []string{"usage error"}, Exit: 1}
	}
	key := args[2] + " " + args[3]

	r.mu.Lock()
	defer r.mu.Unlock()
	switch args[1] {
	case "wb":
		v, err := strconv.Atoi(args[4])
		if err != nil {
			return process.Script{Lines: []string{"bad value"}, Exit: 1}
		}
		r.registers[key] = v
		return process.Script{Lines: []string{"ok"}}
	case "rb":
		return process.Script{Lines: []string{strconv.Itoa(r.registers[key])}}
	}
	return process.Script{Lines: []string{"unknown operation"}, Exit: 1}
}

// Register returns the value of "card param".
func (r *SimReadout) Register(card, param string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registers[card+" "+param]
}
